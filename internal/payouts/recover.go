package payouts

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/danielvey/a2ubridge/internal/assembler"
	"github.com/danielvey/a2ubridge/pkg/db/models"
	"github.com/danielvey/a2ubridge/pkg/enums"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
	"github.com/danielvey/a2ubridge/pkg/outbox"
)

// abandonedGrace keeps the startup sweep away from sagas a sibling instance
// may still be driving: only pre-submit rows older than this are rolled back
// at boot. Fresher crash leftovers are picked up by the periodic stale sweep.
const abandonedGrace = 5 * time.Minute

// Recover resumes sagas that were interrupted before reaching a terminal
// state: anything parked in tx_submitted, account_resolved rows that already
// persisted a hash (the process died inside the submit window), and pre-submit
// rows that have been sitting past the grace window. The ledger is the source
// of truth for hash-bearing sagas: a found transaction settles forward, a
// missing one rolls the intent back. Hashless sagas never reached the ledger,
// so their intent is cancelled outright.
func (o *Orchestrator) Recover(ctx context.Context, limit int) error {
	var errs error

	submitted, err := o.repo.ListInStates(ctx, []enums.SagaState{enums.SagaStateTxSubmitted}, limit)
	if err != nil {
		return err
	}
	for i := range submitted {
		errs = multierr.Append(errs, o.recoverOne(ctx, &submitted[i]))
	}

	interrupted, err := o.repo.ListStale(ctx, enums.SagaStateAccountResolved, time.Now(), limit)
	if err != nil {
		return multierr.Append(errs, err)
	}
	for i := range interrupted {
		errs = multierr.Append(errs, o.recoverOne(ctx, &interrupted[i]))
	}

	abandoned, err := o.repo.ListAbandoned(ctx, time.Now().Add(-abandonedGrace), limit)
	if err != nil {
		return multierr.Append(errs, err)
	}
	for i := range abandoned {
		errs = multierr.Append(errs, o.recoverOne(ctx, &abandoned[i]))
	}
	return errs
}

// RecoverStale is the sweep variant of Recover: it only touches sagas that
// have not moved for olderThan, leaving in-flight requests alone. It covers
// every non-terminal state, so a saga that died right after CreatePayment gets
// its dangling intent cancelled instead of wedging the idempotency key.
func (o *Orchestrator) RecoverStale(ctx context.Context, olderThan time.Duration, limit int) error {
	cutoff := time.Now().Add(-olderThan)
	var errs error
	for _, state := range []enums.SagaState{enums.SagaStateTxSubmitted, enums.SagaStateAccountResolved} {
		rows, err := o.repo.ListStale(ctx, state, cutoff, limit)
		if err != nil {
			return multierr.Append(errs, err)
		}
		for i := range rows {
			errs = multierr.Append(errs, o.recoverOne(ctx, &rows[i]))
		}
	}

	abandoned, err := o.repo.ListAbandoned(ctx, cutoff, limit)
	if err != nil {
		return multierr.Append(errs, err)
	}
	for i := range abandoned {
		errs = multierr.Append(errs, o.recoverOne(ctx, &abandoned[i]))
	}
	return errs
}

func (o *Orchestrator) recoverOne(ctx context.Context, record *models.SagaRecord) error {
	ctx = o.withSagaFields(ctx, record)
	hash := derefString(record.TxHash)
	paymentID := derefString(record.PaymentID)

	if hash == "" {
		// Died before any submit attempt; safe to roll back.
		return ignoreConflict(o.rollback(ctx, record, record.State, paymentID,
			pkgerrors.New(pkgerrors.CodeInternal, "saga interrupted before submission")))
	}

	tx, err := o.ledger.GetTransaction(ctx, hash)
	if err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			// Never accepted; the intent can still be cancelled.
			return ignoreConflict(o.rollback(ctx, record, record.State, paymentID,
				pkgerrors.New(pkgerrors.CodeLedger, "submitted transaction not found on ledger")))
		}
		return err
	}
	if tx == nil {
		return nil
	}
	if tx.Memo != "" && paymentID != "" && !assembler.MemoMatchesPayment(tx.Memo, paymentID) && o.logger != nil {
		o.logger.Warn(ctx, "ledger transaction memo does not correlate with the payment intent")
	}

	if record.State == enums.SagaStateAccountResolved {
		err := o.repo.Transition(ctx, record.ID, enums.SagaStateAccountResolved, enums.SagaStateTxSubmitted, map[string]any{
			"tx_hash": hash,
		})
		if err != nil {
			return ignoreConflict(err)
		}
		record.State = enums.SagaStateTxSubmitted
	}

	_, err = o.complete(ctx, record, paymentID, hash)
	return err
}

// Reconcile retries the terminal step of a saga parked in
// reconciliation_pending. A saga whose transaction settled gets its platform
// completion retried; one that never reached the ledger gets its intent
// cancellation retried. Settlement on the ledger is never reversed.
func (o *Orchestrator) Reconcile(ctx context.Context, record *models.SagaRecord) error {
	if record.State != enums.SagaStateReconciliationPending {
		return nil
	}
	ctx = o.withSagaFields(ctx, record)
	hash := derefString(record.TxHash)
	paymentID := derefString(record.PaymentID)

	settledOnLedger := false
	if hash != "" {
		tx, err := o.ledger.GetTransaction(ctx, hash)
		if err != nil {
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
				return err
			}
		} else if tx != nil {
			settledOnLedger = true
		}
	}

	if settledOnLedger {
		if !o.opts.SkipCompletion && !o.intentCompleted(ctx, paymentID) {
			if err := o.platform.CompletePayment(ctx, paymentID, hash); err != nil {
				_ = o.repo.RecordAttempt(ctx, record.ID, err)
				return err
			}
		}
		return o.transitionReconciled(ctx, record, enums.SagaStateSettled, enums.EventPayoutReconciled)
	}

	if paymentID != "" && !o.intentCancelled(ctx, paymentID) {
		if err := o.platform.CancelPayment(ctx, paymentID); err != nil {
			_ = o.repo.RecordAttempt(ctx, record.ID, err)
			return err
		}
	}
	return o.transitionReconciled(ctx, record, enums.SagaStateCancelled, enums.EventPayoutCancelled)
}

// intentCompleted consults the platform record so a completion that landed on
// an earlier attempt is not repeated. A lookup failure falls through to the
// normal retry path.
func (o *Orchestrator) intentCompleted(ctx context.Context, paymentID string) bool {
	if paymentID == "" {
		return false
	}
	payment, err := o.platform.GetPayment(ctx, paymentID)
	if err != nil || payment == nil {
		return false
	}
	return payment.Status.Completed()
}

// intentCancelled mirrors intentCompleted for the cancellation side.
func (o *Orchestrator) intentCancelled(ctx context.Context, paymentID string) bool {
	payment, err := o.platform.GetPayment(ctx, paymentID)
	if err != nil || payment == nil {
		return false
	}
	return payment.Status.IsCancelled()
}

func (o *Orchestrator) transitionReconciled(ctx context.Context, record *models.SagaRecord, to enums.SagaState, event enums.OutboxEventType) error {
	err := o.db.Transaction(func(tx *gorm.DB) error {
		if err := o.repo.TransitionTx(tx, record.ID, enums.SagaStateReconciliationPending, to, nil); err != nil {
			return err
		}
		return o.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     event,
			AggregateType: enums.AggregatePayoutSaga,
			AggregateID:   record.ID,
			Version:       1,
			Data:          o.eventData(record, to, nil),
		})
	})
	if err != nil {
		return ignoreConflict(err)
	}
	record.State = to
	if o.logger != nil {
		o.logger.Info(o.logger.WithSagaState(ctx, to.String()), "payout reconciled")
	}
	return nil
}

// ignoreConflict swallows lost transition races: another worker already moved
// the saga, which is a success from the sweep's point of view.
func ignoreConflict(err error) error {
	typed := pkgerrors.As(err)
	if typed != nil && typed.Code() == pkgerrors.CodeConflict {
		return nil
	}
	return err
}
