package reconciler

import (
	"context"

	"go.uber.org/multierr"

	"github.com/danielvey/a2ubridge/pkg/db/models"
	"github.com/danielvey/a2ubridge/pkg/enums"
)

// PendingLister returns sagas awaiting reconciliation.
type PendingLister interface {
	ListInStates(ctx context.Context, states []enums.SagaState, limit int) ([]models.SagaRecord, error)
}

// SagaReconciler retries the terminal step of one parked saga.
type SagaReconciler interface {
	Reconcile(ctx context.Context, record *models.SagaRecord) error
}

// CompletionRetryJob re-drives sagas parked in reconciliation_pending:
// settled transactions get their platform completion retried, dead ones get
// their intent cancelled.
type CompletionRetryJob struct {
	repo  PendingLister
	sagas SagaReconciler
	batch int
}

func NewCompletionRetryJob(repo PendingLister, sagas SagaReconciler, batch int) *CompletionRetryJob {
	if batch <= 0 {
		batch = 50
	}
	return &CompletionRetryJob{repo: repo, sagas: sagas, batch: batch}
}

func (j *CompletionRetryJob) Name() string {
	return "completion-retry"
}

func (j *CompletionRetryJob) Run(ctx context.Context) error {
	rows, err := j.repo.ListInStates(ctx, []enums.SagaState{enums.SagaStateReconciliationPending}, j.batch)
	if err != nil {
		return err
	}
	var errs error
	for i := range rows {
		errs = multierr.Append(errs, j.sagas.Reconcile(ctx, &rows[i]))
	}
	return errs
}
