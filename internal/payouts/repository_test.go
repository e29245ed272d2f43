package payouts

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielvey/a2ubridge/pkg/db/models"
	"github.com/danielvey/a2ubridge/pkg/enums"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
)

func newSagaRecord(key string) *models.SagaRecord {
	return &models.SagaRecord{
		IdempotencyKey: key,
		State:          enums.SagaStateInit,
		RecipientUID:   "user-1",
		Amount:         decimal.RequireFromString("1.5"),
		Memo:           "memo",
	}
}

func TestCreateIfAbsent(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	created, first, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-1"))
	require.NoError(t, err)
	assert.True(t, created)

	createdAgain, second, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-1"))
	require.NoError(t, err)
	assert.False(t, createdAgain)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.SagaRecord{}).Where("idempotency_key = ?", "repo-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTransitionGuardsOnCurrentState(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	_, record, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-2"))
	require.NoError(t, err)

	err = repo.Transition(ctx, record.ID, enums.SagaStateInit, enums.SagaStateIntentCreated, map[string]any{
		"payment_id": "pay-9",
	})
	require.NoError(t, err)

	// Stale transition: the record is no longer in init.
	err = repo.Transition(ctx, record.ID, enums.SagaStateInit, enums.SagaStateCancelled, nil)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	loaded, err := repo.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SagaStateIntentCreated, loaded.State)
	require.NotNil(t, loaded.PaymentID)
	assert.Equal(t, "pay-9", *loaded.PaymentID)
}

func TestGetByPaymentID(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	_, record, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-3"))
	require.NoError(t, err)
	require.NoError(t, repo.Transition(ctx, record.ID, enums.SagaStateInit, enums.SagaStateIntentCreated, map[string]any{
		"payment_id": "pay-77",
	}))

	loaded, err := repo.GetByPaymentID(ctx, "pay-77")
	require.NoError(t, err)
	assert.Equal(t, record.ID, loaded.ID)

	_, err = repo.GetByPaymentID(ctx, "missing")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestListStaleRequiresHashForResolvedSagas(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	_, withHash, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-4"))
	require.NoError(t, err)
	_, withoutHash, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-5"))
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.SagaRecord{}).Where("id = ?", withHash.ID).
		Updates(map[string]any{"state": enums.SagaStateAccountResolved, "tx_hash": "abc"}).Error)
	require.NoError(t, db.Model(&models.SagaRecord{}).Where("id = ?", withoutHash.ID).
		Update("state", enums.SagaStateAccountResolved).Error)

	rows, err := repo.ListStale(ctx, enums.SagaStateAccountResolved, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, withHash.ID, rows[0].ID)
}

func TestListAbandonedSelectsPreSubmissionStates(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	_, initRec, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-6"))
	require.NoError(t, err)
	_, intentRec, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-7"))
	require.NoError(t, err)
	_, hashless, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-8"))
	require.NoError(t, err)
	_, submitted, err := repo.CreateIfAbsent(ctx, newSagaRecord("repo-9"))
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.SagaRecord{}).Where("id = ?", intentRec.ID).
		Update("state", enums.SagaStateIntentCreated).Error)
	require.NoError(t, db.Model(&models.SagaRecord{}).Where("id = ?", hashless.ID).
		Update("state", enums.SagaStateAccountResolved).Error)
	require.NoError(t, db.Model(&models.SagaRecord{}).Where("id = ?", submitted.ID).
		Updates(map[string]any{"state": enums.SagaStateTxSubmitted, "tx_hash": "def"}).Error)

	rows, err := repo.ListAbandoned(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	ids := map[string]bool{}
	for _, row := range rows {
		ids[row.ID.String()] = true
	}
	assert.True(t, ids[initRec.ID.String()])
	assert.True(t, ids[intentRec.ID.String()])
	assert.True(t, ids[hashless.ID.String()])
}
