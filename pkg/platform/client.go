// Package platform is the typed client for the payment platform's intent
// lifecycle (create / complete / cancel), mirroring its /v2/payments API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"

	"github.com/danielvey/a2ubridge/pkg/config"
	"github.com/danielvey/a2ubridge/pkg/logger"
	"github.com/danielvey/a2ubridge/pkg/retry"
)

var (
	errAPIKeyRequired  = errors.New("platform api key is required")
	errBaseURLRequired = errors.New("platform base url is required")
)

// Client exposes platform primitives with centralized auth, logging, retry,
// and error mapping.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Policy
	logger  *logger.Logger
}

// NewClient initializes the platform wrapper and validates the credentials.
func NewClient(cfg config.PlatformConfig, logg *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	policy := retry.DefaultPolicy().
		WithMaxAttempts(cfg.MaxRetries).
		WithRetryable(IsRetryable)

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		retry:   policy,
		logger:  logg,
	}, nil
}

// CreatePaymentInput is the payload for a new A2U payment intent.
type CreatePaymentInput struct {
	UID            string         `json:"uid"`
	Amount         string         `json:"amount"`
	Memo           string         `json:"memo"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"-"`
}

// Payment is the platform's record of an intended transfer.
type Payment struct {
	Identifier string `json:"identifier"`
	Recipient  string `json:"recipient"`
	Status     Status `json:"status"`
}

// Status is the platform-side lifecycle snapshot of a payment.
type Status struct {
	DeveloperCompleted bool `json:"developer_completed"`
	Cancelled          bool `json:"cancelled"`
}

// Completed reports whether the platform recorded the settlement hash.
func (s Status) Completed() bool { return s.DeveloperCompleted }

// IsCancelled reports whether the intent was cancelled platform-side.
func (s Status) IsCancelled() bool { return s.Cancelled }

// User is the identity resolved from an access token.
type User struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

// CreatePayment registers a payment intent and returns the platform identifier
// plus the recipient's ledger address. The call is retried only when the
// caller supplies an idempotency key the platform can dedupe on.
func (c *Client) CreatePayment(ctx context.Context, input CreatePaymentInput) (*Payment, error) {
	headers := map[string]string{}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		headers["Idempotency-Key"] = key
	}

	var payment Payment
	call := func() error {
		return c.doJSON(ctx, http.MethodPost, "/v2/payments", input, headers, &payment)
	}

	var err error
	if len(headers) > 0 {
		err = c.retry.Do(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	if payment.Identifier == "" {
		return nil, pkgerrors.New(pkgerrors.CodePlatform, "platform returned payment without identifier")
	}
	c.log(ctx, "create_payment", map[string]any{"payment_id": payment.Identifier})
	return &payment, nil
}

// GetPayment fetches the current platform record for an intent.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	var payment Payment
	err := c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(paymentID), nil, nil, &payment)
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// CompletePayment reports the settlement transaction hash back to the platform.
func (c *Client) CompletePayment(ctx context.Context, paymentID, txID string) error {
	if strings.TrimSpace(paymentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if strings.TrimSpace(txID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	body := map[string]string{"txid": txID}
	return c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, "/v2/payments/"+url.PathEscape(paymentID)+"/complete", body, nil, nil)
	})
}

// ApprovePayment acknowledges a user-initiated payment so the platform
// releases it for submission. App-to-user payouts skip this step; the method
// rounds out the /v2/payments surface for mixed deployments.
func (c *Client) ApprovePayment(ctx context.Context, paymentID string) error {
	if strings.TrimSpace(paymentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	return c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, "/v2/payments/"+url.PathEscape(paymentID)+"/approve", nil, nil, nil)
	})
}

// CancelPayment voids an intent that never reached the ledger.
func (c *Client) CancelPayment(ctx context.Context, paymentID string) error {
	if strings.TrimSpace(paymentID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	return c.retry.Do(ctx, func() error {
		return c.doJSON(ctx, http.MethodPost, "/v2/payments/"+url.PathEscape(paymentID)+"/cancel", nil, nil, nil)
	})
}

// Me resolves the caller identity behind an access token.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "access token is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/me", nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePlatform, err, "resolve identity")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "access token rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapStatus(resp.StatusCode, readErrorBody(resp.Body), "resolve identity")
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePlatform, err, "decode identity")
	}
	if user.UID == "" {
		return nil, pkgerrors.New(pkgerrors.CodePlatform, "identity response missing uid")
	}
	return &user, nil
}

// IsRetryable classifies gateway errors per the shared retry policy: 5xx,
// rate limits, and transport faults retry; other 4xx do not.
func IsRetryable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true // transport-level error without classification
	}
	switch typed.Code() {
	case pkgerrors.CodePlatform, pkgerrors.CodeDependency, pkgerrors.CodeRateLimit:
		return true
	default:
		return false
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePlatform, err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapStatus(resp.StatusCode, readErrorBody(resp.Body), fmt.Sprintf("%s %s", method, path))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePlatform, err, "decode response")
	}
	return nil
}

func mapStatus(status int, detail, op string) error {
	msg := fmt.Sprintf("platform %s: status %d", op, status)
	switch {
	case status == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, msg).WithDetails(detail)
	case status == http.StatusTooManyRequests:
		return pkgerrors.New(pkgerrors.CodeRateLimit, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, msg)
	case status >= 500:
		return pkgerrors.New(pkgerrors.CodePlatform, msg).WithDetails(detail)
	default:
		return pkgerrors.New(pkgerrors.CodeConflict, msg).WithDetails(detail)
	}
}

func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) log(ctx context.Context, op string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	fields["op"] = op
	c.logger.Info(c.logger.WithFields(ctx, fields), "platform call")
}
