package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danielvey/a2ubridge/pkg/db/models"
	"github.com/danielvey/a2ubridge/pkg/enums"
	"github.com/danielvey/a2ubridge/pkg/logger"
)

type stubLock struct {
	locked   bool
	acquires int
	releases int
}

func (l *stubLock) Acquire(context.Context) (bool, error) {
	l.acquires++
	return !l.locked, nil
}

func (l *stubLock) Release(context.Context) error {
	l.releases++
	return nil
}

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test"})
}

func TestRunCycleExecutesAllJobs(t *testing.T) {
	lock := &stubLock{}
	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	after := &countingJob{name: "after"}

	svc, err := NewService(ServiceParams{
		Logger:   newTestLogger(),
		Registry: NewRegistry(ok, failing, after),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if ok.runs != 1 || failing.runs != 1 || after.runs != 1 {
		t.Fatalf("all jobs must run despite failures: %d %d %d", ok.runs, failing.runs, after.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("lock must be released, got %d releases", lock.releases)
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	lock := &stubLock{locked: true}
	job := &countingJob{name: "job"}

	svc, err := NewService(ServiceParams{
		Logger:   newTestLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("jobs must not run when another instance holds the lock")
	}
	if lock.releases != 0 {
		t.Fatalf("a lock we never took must not be released")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:   newTestLogger(),
		Lock:     &stubLock{},
		Interval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

type stubPending struct {
	rows []models.SagaRecord
	err  error
}

func (s *stubPending) ListInStates(_ context.Context, states []enums.SagaState, _ int) ([]models.SagaRecord, error) {
	if len(states) != 1 || states[0] != enums.SagaStateReconciliationPending {
		return nil, errors.New("unexpected state filter")
	}
	return s.rows, s.err
}

type stubSagaReconciler struct {
	seen []string
	fail map[string]error
}

func (s *stubSagaReconciler) Reconcile(_ context.Context, record *models.SagaRecord) error {
	s.seen = append(s.seen, record.IdempotencyKey)
	return s.fail[record.IdempotencyKey]
}

func TestCompletionRetryJobProcessesEveryRow(t *testing.T) {
	pending := &stubPending{rows: []models.SagaRecord{
		{IdempotencyKey: "a"},
		{IdempotencyKey: "b"},
		{IdempotencyKey: "c"},
	}}
	sagas := &stubSagaReconciler{fail: map[string]error{"b": errors.New("still failing")}}

	job := NewCompletionRetryJob(pending, sagas, 10)
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error from failing row")
	}
	if len(sagas.seen) != 3 {
		t.Fatalf("one failing row must not stop the sweep: saw %v", sagas.seen)
	}
}

type stubRecoverer struct {
	olderThan time.Duration
	calls     int
}

func (s *stubRecoverer) RecoverStale(_ context.Context, olderThan time.Duration, _ int) error {
	s.calls++
	s.olderThan = olderThan
	return nil
}

func TestStaleRecoveryJobDelegates(t *testing.T) {
	recoverer := &stubRecoverer{}
	job := NewStaleRecoveryJob(recoverer, 7*time.Minute, 25)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if recoverer.calls != 1 || recoverer.olderThan != 7*time.Minute {
		t.Fatalf("unexpected delegation: %+v", recoverer)
	}
}
