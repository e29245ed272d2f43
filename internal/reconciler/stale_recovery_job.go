package reconciler

import (
	"context"
	"time"
)

// StaleRecoverer resolves sagas stuck mid-submission against the ledger.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, olderThan time.Duration, limit int) error
}

// StaleRecoveryJob picks up sagas that stopped moving mid-submission, most
// often because a process died between signing and recording the outcome.
type StaleRecoveryJob struct {
	sagas      StaleRecoverer
	staleAfter time.Duration
	batch      int
}

func NewStaleRecoveryJob(sagas StaleRecoverer, staleAfter time.Duration, batch int) *StaleRecoveryJob {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &StaleRecoveryJob{sagas: sagas, staleAfter: staleAfter, batch: batch}
}

func (j *StaleRecoveryJob) Name() string {
	return "stale-recovery"
}

func (j *StaleRecoveryJob) Run(ctx context.Context) error {
	return j.sagas.RecoverStale(ctx, j.staleAfter, j.batch)
}
