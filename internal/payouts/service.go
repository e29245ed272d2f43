package payouts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/danielvey/a2ubridge/pkg/enums"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
	"github.com/danielvey/a2ubridge/pkg/logger"
	"github.com/danielvey/a2ubridge/pkg/platform"
)

// IdentityGateway resolves an access token into the platform user it belongs
// to, for callers that address the recipient by token instead of uid.
type IdentityGateway interface {
	Me(ctx context.Context, accessToken string) (*platform.User, error)
}

// CreatePayoutInput is the service-level payout request.
type CreatePayoutInput struct {
	UID            string
	AccessToken    string
	Amount         string
	Memo           string
	Metadata       map[string]any
	IdempotencyKey string
}

// PayoutStatus is the read-model view of a saga.
type PayoutStatus struct {
	SagaID                string          `json:"saga_id"`
	PaymentID             string          `json:"payment_id,omitempty"`
	State                 enums.SagaState `json:"state"`
	RecipientUID          string          `json:"recipient_uid"`
	Amount                string          `json:"amount"`
	TxHash                string          `json:"tx_hash,omitempty"`
	ReconciliationPending bool            `json:"reconciliation_pending"`
	LastError             string          `json:"last_error,omitempty"`
	Attempts              int             `json:"attempts"`
}

// Service fronts the orchestrator with input normalization: identity
// exchange, amount parsing, and idempotency key derivation.
type Service struct {
	orchestrator *Orchestrator
	repo         *Repository
	identity     IdentityGateway
	logger       *logger.Logger
}

func NewService(orchestrator *Orchestrator, repo *Repository, identity IdentityGateway, logg *logger.Logger) (*Service, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if identity == nil {
		return nil, fmt.Errorf("identity gateway is required")
	}
	return &Service{orchestrator: orchestrator, repo: repo, identity: identity, logger: logg}, nil
}

// CreatePayout validates and normalizes the request, then hands it to the
// orchestrator. Requests without an explicit idempotency key get one derived
// from (uid, amount, memo), so the same logical payout cannot double-spend.
func (s *Service) CreatePayout(ctx context.Context, input CreatePayoutInput) (*Result, error) {
	uid := strings.TrimSpace(input.UID)
	if uid == "" {
		token := strings.TrimSpace(input.AccessToken)
		if token == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "either uid or access_token is required")
		}
		user, err := s.identity.Me(ctx, token)
		if err != nil {
			return nil, err
		}
		uid = user.UID
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(input.Amount))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid amount %q", input.Amount))
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = DeriveIdempotencyKey(uid, amount, input.Memo)
	}

	return s.orchestrator.Execute(ctx, Request{
		IdempotencyKey: key,
		UID:            uid,
		Amount:         amount,
		Memo:           input.Memo,
		Metadata:       input.Metadata,
	})
}

// GetPayout returns the saga state for a platform payment id.
func (s *Service) GetPayout(ctx context.Context, paymentID string) (*PayoutStatus, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	record, err := s.repo.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &PayoutStatus{
		SagaID:                record.ID.String(),
		PaymentID:             derefString(record.PaymentID),
		State:                 record.State,
		RecipientUID:          record.RecipientUID,
		Amount:                record.Amount.String(),
		TxHash:                derefString(record.TxHash),
		ReconciliationPending: record.State == enums.SagaStateReconciliationPending,
		LastError:             derefString(record.LastError),
		Attempts:              record.Attempts,
	}, nil
}

// DeriveIdempotencyKey fingerprints the logical payout when the caller does
// not supply a key of their own.
func DeriveIdempotencyKey(uid string, amount decimal.Decimal, memo string) string {
	sum := sha256.Sum256([]byte(uid + "|" + amount.String() + "|" + memo))
	return hex.EncodeToString(sum[:])
}
