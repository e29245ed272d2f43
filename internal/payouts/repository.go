package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/danielvey/a2ubridge/pkg/db"
	"github.com/danielvey/a2ubridge/pkg/db/models"
	"github.com/danielvey/a2ubridge/pkg/enums"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
)

const idempotencyConstraint = "ux_saga_records_idempotency_key"

// Repository persists saga records. Records are append-then-advance: rows are
// created once per idempotency key and only ever move forward through the
// state machine.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateIfAbsent inserts the record, or loads the existing row when the
// idempotency key is already taken. The unique index is the arbiter, so
// exactly one of any set of concurrent callers observes created=true.
func (r *Repository) CreateIfAbsent(ctx context.Context, record *models.SagaRecord) (bool, *models.SagaRecord, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return true, record, nil
	}
	if !dbpkg.IsUniqueViolation(err, idempotencyConstraint) && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil, fmt.Errorf("creating saga record: %w", err)
	}

	existing, err := r.GetByIdempotencyKey(ctx, record.IdempotencyKey)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.SagaRecord, error) {
	var record models.SagaRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (*models.SagaRecord, error) {
	var record models.SagaRecord
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *Repository) GetByPaymentID(ctx context.Context, paymentID string) (*models.SagaRecord, error) {
	var record models.SagaRecord
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Transition advances a saga from one state to the next with a guarded
// update. A zero row count means another worker already moved the record, so
// the caller must re-read instead of overwriting.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.SagaState, updates map[string]any) error {
	return r.TransitionTx(r.db.WithContext(ctx), id, from, to, updates)
}

func (r *Repository) TransitionTx(tx *gorm.DB, id uuid.UUID, from, to enums.SagaState, updates map[string]any) error {
	if !to.IsValid() {
		return fmt.Errorf("invalid target state %q", to)
	}
	values := map[string]any{"state": to, "updated_at": time.Now()}
	for k, v := range updates {
		values[k] = v
	}
	result := tx.Model(&models.SagaRecord{}).
		Where("id = ? AND state = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("saga %s is no longer in state %s", id, from))
	}
	return nil
}

// SetTxHash records the locally computed hash before submission so an
// interrupted saga can be resolved by ledger lookup.
func (r *Repository) SetTxHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).Model(&models.SagaRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"tx_hash": hash, "updated_at": time.Now()}).Error
}

// RecordAttempt bumps the attempt counter and stores the latest error text.
func (r *Repository) RecordAttempt(ctx context.Context, id uuid.UUID, cause error) error {
	values := map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"updated_at": time.Now(),
	}
	if cause != nil {
		values["last_error"] = cause.Error()
	}
	return r.db.WithContext(ctx).Model(&models.SagaRecord{}).
		Where("id = ?", id).
		Updates(values).Error
}

// ListInStates returns sagas currently in any of the given states, oldest
// first, for sweep processing.
func (r *Repository) ListInStates(ctx context.Context, states []enums.SagaState, limit int) ([]models.SagaRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.SagaRecord
	err := r.db.WithContext(ctx).
		Where("state IN ?", states).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListStale returns sagas stuck in a state since before the cutoff. Sagas in
// account_resolved only count when a hash was persisted, meaning submission
// was at least attempted.
func (r *Repository) ListStale(ctx context.Context, state enums.SagaState, cutoff time.Time, limit int) ([]models.SagaRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).
		Where("state = ? AND updated_at < ?", state, cutoff)
	if state == enums.SagaStateAccountResolved {
		query = query.Where("tx_hash IS NOT NULL")
	}
	var rows []models.SagaRecord
	err := query.Order("updated_at ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ListAbandoned returns sagas that stalled before any submit attempt was
/// recorded: init and intent_created rows, plus account_resolved rows with no
// persisted hash, untouched since the cutoff. These carry at most a dangling
// platform intent and are safe to roll back.
func (r *Repository) ListAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]models.SagaRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.SagaRecord
	err := r.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Where(
			r.db.Where("state IN ?", []enums.SagaState{enums.SagaStateInit, enums.SagaStateIntentCreated}).
				Or("state = ? AND tx_hash IS NULL", enums.SagaStateAccountResolved),
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
