package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/danielvey/a2ubridge/api/responses"
	"github.com/danielvey/a2ubridge/api/validators"
	"github.com/danielvey/a2ubridge/internal/payouts"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
	"github.com/danielvey/a2ubridge/pkg/logger"
)

type createPayoutRequest struct {
	UID         string         `json:"uid,omitempty"`
	AccessToken string         `json:"access_token,omitempty"`
	Amount      string         `json:"amount" validate:"required"`
	Memo        string         `json:"memo,omitempty" validate:"max=28"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreatePayout drives one app-to-user payout saga to a terminal state and
// returns the outcome. Sagas that settle on the ledger but cannot confirm
// with the platform still return 201 with reconciliation_pending set.
func CreatePayout(service *payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPayoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := service.CreatePayout(r.Context(), payouts.CreatePayoutInput{
			UID:            req.UID,
			AccessToken:    req.AccessToken,
			Amount:         strings.TrimSpace(req.Amount),
			Memo:           validators.SanitizeString(req.Memo, 0),
			Metadata:       req.Metadata,
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// GetPayout returns the saga state for a platform payment id.
func GetPayout(service *payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID := strings.TrimSpace(chi.URLParam(r, "paymentId"))
		if paymentID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required"))
			return
		}

		status, err := service.GetPayout(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
