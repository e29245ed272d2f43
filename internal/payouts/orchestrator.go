// Package payouts runs the app-to-user payout saga: platform intent, ledger
// submission, and platform completion, with compensation for everything that
// fails before a transaction hash exists.
package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/danielvey/a2ubridge/internal/assembler"
	"github.com/danielvey/a2ubridge/internal/resolver"
	"github.com/danielvey/a2ubridge/pkg/db/models"
	"github.com/danielvey/a2ubridge/pkg/enums"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
	"github.com/danielvey/a2ubridge/pkg/ledger"
	"github.com/danielvey/a2ubridge/pkg/logger"
	"github.com/danielvey/a2ubridge/pkg/metrics"
	"github.com/danielvey/a2ubridge/pkg/outbox"
	"github.com/danielvey/a2ubridge/pkg/platform"
	"github.com/danielvey/a2ubridge/pkg/retry"
)

// PlatformGateway is the slice of the platform client the saga drives.
type PlatformGateway interface {
	CreatePayment(ctx context.Context, input platform.CreatePaymentInput) (*platform.Payment, error)
	CompletePayment(ctx context.Context, paymentID, txID string) error
	CancelPayment(ctx context.Context, paymentID string) error
	GetPayment(ctx context.Context, paymentID string) (*platform.Payment, error)
}

// LedgerGateway is the slice of the ledger client the saga drives.
type LedgerGateway interface {
	LoadAccount(ctx context.Context, publicKey string) (*ledger.Account, error)
	BaseFee(ctx context.Context) (int64, error)
	SubmitTransaction(ctx context.Context, envelope string) (*ledger.SubmitResult, error)
	GetTransaction(ctx context.Context, hash string) (*ledger.Transaction, error)
}

// RecipientResolver pins whether the payout pays or creates the recipient.
type RecipientResolver interface {
	Resolve(ctx context.Context, address string, amount decimal.Decimal) (*resolver.Resolution, error)
}

// Signer assembles and signs transactions for the source account.
type Signer interface {
	SourceAddress() string
	BuildAndSign(currentSequence, baseFee int64, kind enums.OperationKind, destination string, amount decimal.Decimal, memo string) (*assembler.SignedTransaction, error)
}

// Request is one payout to execute. The idempotency key must already be
// derived by the caller.
type Request struct {
	IdempotencyKey string
	UID            string
	Amount         decimal.Decimal
	Memo           string
	Metadata       map[string]any
}

// Result is the caller-visible outcome of a saga run or replay.
type Result struct {
	SagaID                string          `json:"saga_id"`
	PaymentID             string          `json:"payment_id"`
	TxHash                string          `json:"tx_hash,omitempty"`
	State                 enums.SagaState `json:"state"`
	ReconciliationPending bool            `json:"reconciliation_pending"`
}

// Options carries the saga policy knobs.
type Options struct {
	// SkipCompletion settles without calling the platform complete endpoint.
	SkipCompletion bool
	// CompleteRetries bounds completion attempts before the saga parks in
	// reconciliation_pending.
	CompleteRetries int
	// ReplayWait bounds how long a duplicate request waits for the original
	// run to reach a terminal state before giving up with a conflict.
	ReplayWait time.Duration
}

const replayPollInterval = 50 * time.Millisecond

type Orchestrator struct {
	repo     *Repository
	db       *gorm.DB
	platform PlatformGateway
	ledger   LedgerGateway
	resolver RecipientResolver
	signer   Signer
	locks    *AccountLocks
	events   *outbox.Service
	metrics  *metrics.PayoutMetrics
	logger   *logger.Logger

	completeRetry retry.Policy
	opts          Options
}

func NewOrchestrator(
	repo *Repository,
	db *gorm.DB,
	platformGW PlatformGateway,
	ledgerGW LedgerGateway,
	recipientResolver RecipientResolver,
	signer Signer,
	events *outbox.Service,
	payoutMetrics *metrics.PayoutMetrics,
	logg *logger.Logger,
	opts Options,
) (*Orchestrator, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	if platformGW == nil {
		return nil, fmt.Errorf("platform gateway is required")
	}
	if ledgerGW == nil {
		return nil, fmt.Errorf("ledger gateway is required")
	}
	if recipientResolver == nil {
		return nil, fmt.Errorf("recipient resolver is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox service is required")
	}
	if opts.CompleteRetries <= 0 {
		opts.CompleteRetries = 5
	}
	if opts.ReplayWait <= 0 {
		opts.ReplayWait = 10 * time.Second
	}

	return &Orchestrator{
		repo:     repo,
		db:       db,
		platform: platformGW,
		ledger:   ledgerGW,
		resolver: recipientResolver,
		signer:   signer,
		locks:    NewAccountLocks(),
		events:   events,
		metrics:  payoutMetrics,
		logger:   logg,
		completeRetry: retry.DefaultPolicy().
			WithMaxAttempts(opts.CompleteRetries).
			WithRetryable(platform.IsRetryable),
		opts: opts,
	}, nil
}

// Execute runs one payout saga end to end. A request whose idempotency key
// already has a record never starts a second saga: it waits for the first run
// and returns its recorded outcome.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	if req.IdempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if req.UID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient uid is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if err := assembler.ValidateCallerMemo(req.Memo); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid memo")
	}

	record := &models.SagaRecord{
		IdempotencyKey: req.IdempotencyKey,
		State:          enums.SagaStateInit,
		RecipientUID:   req.UID,
		Amount:         req.Amount,
		Memo:           req.Memo,
	}
	created, existing, err := o.repo.CreateIfAbsent(ctx, record)
	if err != nil {
		return nil, err
	}
	if !created {
		return o.replay(ctx, existing)
	}

	ctx = o.withSagaFields(ctx, record)
	result, err := o.run(ctx, record, req.Metadata)
	if o.metrics != nil {
		state := ""
		if result != nil {
			state = result.State.String()
		} else if latest, readErr := o.repo.GetByID(ctx, record.ID); readErr == nil {
			state = latest.State.String()
		}
		o.metrics.ObserveOutcome(state, time.Since(started))
	}
	return result, err
}

// replay returns the recorded outcome of a finished saga. While the original
// run is still in flight it polls the record until a terminal state appears,
// so every duplicate of the same key reports the winner's payment and hash.
// Only a run that outlives the wait budget yields a conflict.
func (o *Orchestrator) replay(ctx context.Context, record *models.SagaRecord) (*Result, error) {
	deadline := time.NewTimer(o.opts.ReplayWait)
	defer deadline.Stop()
	ticker := time.NewTicker(replayPollInterval)
	defer ticker.Stop()

	for {
		if record.State.IsTerminal() {
			return o.replayTerminal(record)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payout with this idempotency key is in progress").
				WithDetails(record.State.String())
		case <-ticker.C:
		}
		latest, err := o.repo.GetByIdempotencyKey(ctx, record.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		record = latest
	}
}

func (o *Orchestrator) replayTerminal(record *models.SagaRecord) (*Result, error) {
	if record.State == enums.SagaStateCancelled {
		detail := ""
		if record.LastError != nil {
			detail = *record.LastError
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payout with this idempotency key was cancelled").
			WithDetails(detail)
	}
	return resultFrom(record), nil
}

func (o *Orchestrator) run(ctx context.Context, record *models.SagaRecord, metadata map[string]any) (*Result, error) {
	payment, err := o.createIntent(ctx, record, metadata)
	if err != nil {
		return nil, err
	}

	resolution, err := o.resolveRecipient(ctx, record, payment)
	if err != nil {
		return nil, err
	}

	hash, err := o.submit(ctx, record, payment, resolution)
	if err != nil {
		return nil, err
	}

	return o.complete(ctx, record, payment.Identifier, hash)
}

// createIntent registers the platform intent. There is nothing to compensate
// before the intent exists, so failure closes the saga directly.
func (o *Orchestrator) createIntent(ctx context.Context, record *models.SagaRecord, metadata map[string]any) (*platform.Payment, error) {
	payment, err := o.platform.CreatePayment(ctx, platform.CreatePaymentInput{
		UID:            record.RecipientUID,
		Amount:         record.Amount.String(),
		Memo:           record.Memo,
		Metadata:       metadata,
		IdempotencyKey: record.IdempotencyKey,
	})
	if err != nil {
		closeErr := o.close(ctx, record, enums.SagaStateInit, enums.SagaStateCancelled, nil, err)
		if closeErr != nil {
			return nil, closeErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePlatform, err, "creating payment intent")
	}

	err = o.repo.Transition(ctx, record.ID, enums.SagaStateInit, enums.SagaStateIntentCreated, map[string]any{
		"payment_id":        payment.Identifier,
		"recipient_address": payment.Recipient,
	})
	if err != nil {
		return nil, err
	}
	record.State = enums.SagaStateIntentCreated
	record.PaymentID = &payment.Identifier
	record.RecipientAddress = &payment.Recipient
	return payment, nil
}

// resolveRecipient pins the operation kind exactly once. A saga that already
// carries the decision keeps it, regardless of what the ledger says now.
func (o *Orchestrator) resolveRecipient(ctx context.Context, record *models.SagaRecord, payment *platform.Payment) (*resolver.Resolution, error) {
	if record.RecipientExists != nil && record.OperationKind != nil {
		return &resolver.Resolution{
			Address: payment.Recipient,
			Exists:  *record.RecipientExists,
			Kind:    *record.OperationKind,
		}, nil
	}

	resolution, err := o.resolver.Resolve(ctx, payment.Recipient, record.Amount)
	if err != nil {
		return nil, o.compensate(ctx, record, enums.SagaStateIntentCreated, payment.Identifier, err)
	}

	err = o.repo.Transition(ctx, record.ID, enums.SagaStateIntentCreated, enums.SagaStateAccountResolved, map[string]any{
		"recipient_exists": resolution.Exists,
		"operation_kind":   resolution.Kind,
	})
	if err != nil {
		return nil, err
	}
	record.State = enums.SagaStateAccountResolved
	record.RecipientExists = &resolution.Exists
	record.OperationKind = &resolution.Kind
	return resolution, nil
}

// submit builds, signs, and submits the ledger transaction under the source
// account lock. The lock spans sequence fetch through submission so
// concurrent sagas consume consecutive sequence numbers.
func (o *Orchestrator) submit(ctx context.Context, record *models.SagaRecord, payment *platform.Payment, resolution *resolver.Resolution) (string, error) {
	txMemo, err := assembler.EncodeMemo(payment.Identifier)
	if err != nil {
		return "", o.compensate(ctx, record, record.State, payment.Identifier, err)
	}

	release, err := o.locks.Acquire(ctx, o.signer.SourceAddress())
	if err != nil {
		return "", o.compensate(ctx, record, record.State, payment.Identifier, err)
	}

	hash, submitErr := o.submitOnce(ctx, record, resolution, txMemo)
	if submitErr != nil && pkgerrors.As(submitErr) != nil && pkgerrors.As(submitErr).Code() == pkgerrors.CodeBadSequence {
		// One refresh-and-retry; a second bad sequence means something else
		// is submitting for this account and we stop.
		o.metrics.IncSequenceRetry()
		_ = o.repo.RecordAttempt(ctx, record.ID, submitErr)
		hash, submitErr = o.submitOnce(ctx, record, resolution, txMemo)
	}
	release()

	if submitErr != nil {
		if ambiguous, found := o.resolveAmbiguous(ctx, record, submitErr); ambiguous {
			if !found {
				return "", o.compensate(ctx, record, record.State, payment.Identifier, submitErr)
			}
			// The transaction made it to the ledger despite the transport
			// failure; fall through as submitted.
			hash = derefString(record.TxHash)
		} else {
			return "", o.compensate(ctx, record, record.State, payment.Identifier, submitErr)
		}
	}

	err = o.repo.Transition(ctx, record.ID, enums.SagaStateAccountResolved, enums.SagaStateTxSubmitted, map[string]any{
		"tx_hash": hash,
	})
	if err != nil {
		return "", err
	}
	record.State = enums.SagaStateTxSubmitted
	record.TxHash = &hash
	return hash, nil
}

// submitOnce performs one sequence-fetch/sign/submit round. The hash is
// persisted before the wire call so a crash mid-submit leaves enough state
// to resolve the outcome by lookup.
func (o *Orchestrator) submitOnce(ctx context.Context, record *models.SagaRecord, resolution *resolver.Resolution, txMemo string) (string, error) {
	account, err := o.ledger.LoadAccount(ctx, o.signer.SourceAddress())
	if err != nil {
		return "", err
	}
	if !account.Exists {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "source account does not exist on the ledger")
	}

	fee, err := o.ledger.BaseFee(ctx)
	if err != nil {
		return "", err
	}

	signed, err := o.signer.BuildAndSign(account.Sequence, fee, resolution.Kind, resolution.Address, record.Amount, txMemo)
	if err != nil {
		return "", err
	}

	if err := o.repo.SetTxHash(ctx, record.ID, signed.Hash); err != nil {
		return "", err
	}
	record.TxHash = &signed.Hash

	result, err := o.ledger.SubmitTransaction(ctx, signed.Envelope)
	if err != nil {
		return "", err
	}
	if result.Hash != "" && result.Hash != signed.Hash {
		// The ledger is authoritative on the accepted hash.
		if err := o.repo.SetTxHash(ctx, record.ID, result.Hash); err != nil {
			return "", err
		}
		record.TxHash = &result.Hash
		return result.Hash, nil
	}
	return signed.Hash, nil
}

// resolveAmbiguous checks whether an ambiguous submit actually landed.
// Returns (ambiguous, found). A lookup failure counts as found so the saga
// parks in completion/reconciliation instead of cancelling a possibly
// settled payment.
func (o *Orchestrator) resolveAmbiguous(ctx context.Context, record *models.SagaRecord, submitErr error) (bool, bool) {
	if !ledger.IsAmbiguousSubmit(submitErr) {
		return false, false
	}
	hash := derefString(record.TxHash)
	if hash == "" {
		return true, false
	}

	tx, err := o.ledger.GetTransaction(ctx, hash)
	if err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return true, false
		}
		return true, true
	}
	return true, tx != nil
}

// complete reports the hash back to the platform. From here the money has
// moved: failure parks the saga for reconciliation, never cancellation.
func (o *Orchestrator) complete(ctx context.Context, record *models.SagaRecord, paymentID, hash string) (*Result, error) {
	ctx = o.withSagaFields(ctx, record)

	if o.opts.SkipCompletion {
		if err := o.close(ctx, record, record.State, enums.SagaStateSettled, map[string]any{"tx_hash": hash}, nil); err != nil {
			return nil, err
		}
		return resultFrom(record), nil
	}

	err := o.completeRetry.Do(ctx, func() error {
		return o.platform.CompletePayment(ctx, paymentID, hash)
	})
	if err != nil {
		_ = o.repo.RecordAttempt(ctx, record.ID, err)
		if closeErr := o.close(ctx, record, record.State, enums.SagaStateReconciliationPending, nil, err); closeErr != nil {
			return nil, closeErr
		}
		if o.logger != nil {
			o.logger.Warn(ctx, "completion exhausted; payout parked for reconciliation")
		}
		return resultFrom(record), nil
	}

	if err := o.close(ctx, record, record.State, enums.SagaStateSettled, nil, nil); err != nil {
		return nil, err
	}
	return resultFrom(record), nil
}

// compensate cancels the platform intent for a saga that failed before a
// transaction reached the ledger. If even the cancel fails, the saga parks in
// reconciliation_pending rather than being left dangling. The original cause
// is always what the caller gets back.
func (o *Orchestrator) compensate(ctx context.Context, record *models.SagaRecord, from enums.SagaState, paymentID string, cause error) error {
	if err := o.rollback(ctx, record, from, paymentID, cause); err != nil {
		return err
	}
	if record.State == enums.SagaStateReconciliationPending {
		return pkgerrors.Wrap(pkgerrors.CodeReconciliation, cause, "payout failed and intent cancellation also failed")
	}
	return cause
}

// rollback closes a pre-settlement saga: cancelled when the intent could be
// voided, reconciliation_pending when it could not. Returns an error only
// when closing the record itself failed.
func (o *Orchestrator) rollback(ctx context.Context, record *models.SagaRecord, from enums.SagaState, paymentID string, cause error) error {
	ctx = o.withSagaFields(ctx, record)
	if o.logger != nil {
		o.logger.Warn(ctx, fmt.Sprintf("payout failed in %s; cancelling intent: %v", from, cause))
	}

	if paymentID != "" {
		if cancelErr := o.platform.CancelPayment(ctx, paymentID); cancelErr != nil {
			return o.close(ctx, record, from, enums.SagaStateReconciliationPending, nil, cause)
		}
	}
	return o.close(ctx, record, from, enums.SagaStateCancelled, nil, cause)
}

// close moves a saga into a terminal state and queues the matching lifecycle
// event in the same transaction.
func (o *Orchestrator) close(ctx context.Context, record *models.SagaRecord, from, to enums.SagaState, updates map[string]any, cause error) error {
	values := map[string]any{}
	for k, v := range updates {
		values[k] = v
	}
	if cause != nil {
		values["last_error"] = cause.Error()
	}

	err := o.db.Transaction(func(tx *gorm.DB) error {
		if err := o.repo.TransitionTx(tx, record.ID, from, to, values); err != nil {
			return err
		}
		return o.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     eventTypeFor(to),
			AggregateType: enums.AggregatePayoutSaga,
			AggregateID:   record.ID,
			Version:       1,
			Data:          o.eventData(record, to, cause),
		})
	})
	if err != nil {
		return err
	}
	record.State = to
	return nil
}

func (o *Orchestrator) eventData(record *models.SagaRecord, state enums.SagaState, cause error) outbox.PayoutEventData {
	data := outbox.PayoutEventData{
		SagaID:         record.ID.String(),
		PaymentID:      derefString(record.PaymentID),
		IdempotencyKey: record.IdempotencyKey,
		RecipientUID:   record.RecipientUID,
		Amount:         record.Amount.String(),
		TxHash:         derefString(record.TxHash),
		State:          state,
	}
	if cause != nil {
		data.Reason = cause.Error()
	}
	return data
}

func (o *Orchestrator) withSagaFields(ctx context.Context, record *models.SagaRecord) context.Context {
	if o.logger == nil {
		return ctx
	}
	ctx = o.logger.WithIdempotencyKey(ctx, record.IdempotencyKey)
	if record.PaymentID != nil {
		ctx = o.logger.WithPaymentID(ctx, *record.PaymentID)
	}
	if record.TxHash != nil {
		ctx = o.logger.WithTxHash(ctx, *record.TxHash)
	}
	return ctx
}

func eventTypeFor(state enums.SagaState) enums.OutboxEventType {
	switch state {
	case enums.SagaStateSettled:
		return enums.EventPayoutSettled
	case enums.SagaStateCancelled:
		return enums.EventPayoutCancelled
	default:
		return enums.EventPayoutReconciliationPending
	}
}

func resultFrom(record *models.SagaRecord) *Result {
	return &Result{
		SagaID:                record.ID.String(),
		PaymentID:             derefString(record.PaymentID),
		TxHash:                derefString(record.TxHash),
		State:                 record.State,
		ReconciliationPending: record.State == enums.SagaStateReconciliationPending,
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
