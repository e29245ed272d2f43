// Package ledger is the typed client for the settlement network's
// Horizon-style REST API: load account, fee stats, transaction submission
// and lookup.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/danielvey/a2ubridge/pkg/config"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
	"github.com/danielvey/a2ubridge/pkg/logger"
	"github.com/danielvey/a2ubridge/pkg/retry"
)

var errHorizonURLRequired = errors.New("ledger horizon url is required")

// Account is a ledger account snapshot as observed at resolution time.
type Account struct {
	PublicKey string
	Exists    bool
	Sequence  int64
}

// SubmitResult carries the ledger's acknowledgement of an accepted transaction.
type SubmitResult struct {
	Hash   string `json:"hash"`
	Ledger int64  `json:"ledger"`
}

// Transaction is a settled (or pending) ledger transaction looked up by hash.
type Transaction struct {
	Hash       string `json:"hash"`
	Successful bool   `json:"successful"`
	Memo       string `json:"memo"`
}

// Client wraps the Horizon-style endpoint with auth-free typed calls.
type Client struct {
	horizonURL string
	passphrase string
	http       *http.Client
	retry      retry.Policy
	logger     *logger.Logger
}

// NewClient validates the endpoint configuration and builds the client.
func NewClient(cfg config.LedgerConfig, logg *logger.Logger) (*Client, error) {
	horizonURL := strings.TrimRight(strings.TrimSpace(cfg.HorizonURL), "/")
	if horizonURL == "" {
		return nil, errHorizonURLRequired
	}

	policy := retry.DefaultPolicy().
		WithMaxAttempts(cfg.MaxRetries).
		WithRetryable(pkgerrors.IsRetryable)

	return &Client{
		horizonURL: horizonURL,
		passphrase: cfg.NetworkPassphrase,
		http:       &http.Client{Timeout: cfg.RequestTimeout},
		retry:      policy,
		logger:     logg,
	}, nil
}

// NetworkPassphrase returns the passphrase transactions must be signed for.
func (c *Client) NetworkPassphrase() string {
	if c == nil {
		return ""
	}
	return c.passphrase
}

type accountResponse struct {
	AccountID string `json:"account_id"`
	Sequence  string `json:"sequence"`
}

// LoadAccount fetches an account snapshot. A 404 is a normal outcome and
// yields Exists=false rather than an error.
func (c *Client) LoadAccount(ctx context.Context, publicKey string) (*Account, error) {
	if strings.TrimSpace(publicKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "public key is required")
	}

	var account *Account
	err := c.retry.Do(ctx, func() error {
		resp, err := c.get(ctx, "/accounts/"+url.PathEscape(publicKey))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			account = &Account{PublicKey: publicKey, Exists: false}
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return mapHorizonStatus(resp, "load account")
		}

		var decoded accountResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedger, err, "decode account")
		}
		seq, err := strconv.ParseInt(decoded.Sequence, 10, 64)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedger, err, "parse account sequence")
		}
		account = &Account{PublicKey: publicKey, Exists: true, Sequence: seq}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

type feeStatsResponse struct {
	LastLedgerBaseFee string `json:"last_ledger_base_fee"`
}

// BaseFee returns the current network base fee in stroop-equivalent units.
func (c *Client) BaseFee(ctx context.Context) (int64, error) {
	var fee int64
	err := c.retry.Do(ctx, func() error {
		resp, err := c.get(ctx, "/fee_stats")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return mapHorizonStatus(resp, "fee stats")
		}
		var decoded feeStatsResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedger, err, "decode fee stats")
		}
		parsed, err := strconv.ParseInt(decoded.LastLedgerBaseFee, 10, 64)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedger, err, "parse base fee")
		}
		fee = parsed
		return nil
	})
	if err != nil {
		return 0, err
	}
	return fee, nil
}

// SubmitTransaction posts a signed envelope. The call is deliberately made
// exactly once: any transport-level failure is ambiguous (the transaction may
// have been accepted) and the caller must disambiguate via GetTransaction
// before retrying. Bad sequence surfaces as its own code since it signals a
// serialization fault, not a network one.
func (c *Client) SubmitTransaction(ctx context.Context, envelope string) (*SubmitResult, error) {
	if strings.TrimSpace(envelope) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction envelope is required")
	}

	form := url.Values{"tx": []string{envelope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.horizonURL+"/transactions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeLedger, err, "submit timed out").WithDetails("ambiguous")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedger, err, "submit transaction")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapSubmitFailure(resp)
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedger, err, "decode submit result")
	}
	c.log(ctx, "submit_transaction", map[string]any{"tx_hash": result.Hash, "ledger": result.Ledger})
	return &result, nil
}

// GetTransaction looks up a transaction by hash; 404 maps to NOT_FOUND.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	if strings.TrimSpace(hash) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction hash is required")
	}

	var tx *Transaction
	err := c.retry.Do(ctx, func() error {
		resp, err := c.get(ctx, "/transactions/"+url.PathEscape(hash))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		if resp.StatusCode != http.StatusOK {
			return mapHorizonStatus(resp, "get transaction")
		}
		var decoded Transaction
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeLedger, err, "decode transaction")
		}
		tx = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// IsAmbiguousSubmit reports whether a submit error leaves the outcome unknown.
func IsAmbiguousSubmit(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	if typed.Code() != pkgerrors.CodeLedger {
		return false
	}
	detail, ok := typed.Details().(string)
	if ok && detail == "ambiguous" {
		return true
	}
	// 5xx from Horizon: the transaction may still have made it into a ledger.
	return ok && strings.HasPrefix(detail, "status 5")
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.horizonURL+path, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedger, err, "ledger request")
	}
	return resp, nil
}

type horizonProblem struct {
	Extras struct {
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
	} `json:"extras"`
}

func mapSubmitFailure(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var problem horizonProblem
	_ = json.Unmarshal(raw, &problem)
	txCode := problem.Extras.ResultCodes.Transaction

	switch txCode {
	case "tx_bad_seq":
		return pkgerrors.New(pkgerrors.CodeBadSequence, "transaction rejected: bad sequence")
	case "tx_insufficient_balance", "tx_insufficient_fee":
		return pkgerrors.New(pkgerrors.CodeInsufficient, "transaction rejected: "+txCode)
	}
	for _, op := range problem.Extras.ResultCodes.Operations {
		if op == "op_underfunded" {
			return pkgerrors.New(pkgerrors.CodeInsufficient, "transaction rejected: op_underfunded")
		}
	}

	if resp.StatusCode >= 500 {
		return pkgerrors.New(pkgerrors.CodeLedger, fmt.Sprintf("submit failed: status %d", resp.StatusCode)).
			WithDetails(fmt.Sprintf("status %d", resp.StatusCode))
	}
	return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("transaction rejected: status %d", resp.StatusCode)).
		WithDetails(strings.TrimSpace(string(raw)))
}

func mapHorizonStatus(resp *http.Response, op string) error {
	msg := fmt.Sprintf("ledger %s: status %d", op, resp.StatusCode)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return pkgerrors.New(pkgerrors.CodeRateLimit, msg)
	case resp.StatusCode >= 500:
		return pkgerrors.New(pkgerrors.CodeLedger, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeConflict, msg)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) log(ctx context.Context, op string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	fields["op"] = op
	c.logger.Info(c.logger.WithFields(ctx, fields), "ledger call")
}
