package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielvey/a2ubridge/pkg/config"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(config.LedgerConfig{
		HorizonURL:        server.URL,
		NetworkPassphrase: "Test Network ; 2026",
		RequestTimeout:    2 * time.Second,
		MaxRetries:        3,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestLoadAccountParsesSequence(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/GABC" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"account_id":"GABC","sequence":"4294967299"}`))
	}))

	account, err := client.LoadAccount(context.Background(), "GABC")
	if err != nil {
		t.Fatalf("LoadAccount: %v", err)
	}
	if !account.Exists {
		t.Fatal("expected account to exist")
	}
	if account.Sequence != 4294967299 {
		t.Fatalf("unexpected sequence %d", account.Sequence)
	}
}

func TestLoadAccountNotFoundIsNotAnError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	account, err := client.LoadAccount(context.Background(), "GNEW")
	if err != nil {
		t.Fatalf("404 must not surface as an error, got %v", err)
	}
	if account.Exists {
		t.Fatal("expected Exists=false for a missing account")
	}
}

func TestLoadAccountRetriesServerErrors(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"account_id":"GABC","sequence":"7"}`))
	}))

	account, err := client.LoadAccount(context.Background(), "GABC")
	if err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if account.Sequence != 7 {
		t.Fatalf("unexpected sequence %d", account.Sequence)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestBaseFee(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fee_stats" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"last_ledger_base_fee":"100"}`))
	}))

	fee, err := client.BaseFee(context.Background())
	if err != nil {
		t.Fatalf("BaseFee: %v", err)
	}
	if fee != 100 {
		t.Fatalf("unexpected fee %d", fee)
	}
}

func TestSubmitTransactionSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transactions" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("tx") != "AAAA" {
			t.Fatalf("unexpected envelope %q", r.PostForm.Get("tx"))
		}
		w.Write([]byte(`{"hash":"deadbeef","ledger":42}`))
	}))

	result, err := client.SubmitTransaction(context.Background(), "AAAA")
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if result.Hash != "deadbeef" || result.Ledger != 42 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSubmitTransactionBadSequence(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"extras":{"result_codes":{"transaction":"tx_bad_seq"}}}`))
	}))

	_, err := client.SubmitTransaction(context.Background(), "AAAA")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeBadSequence {
		t.Fatalf("expected BAD_SEQUENCE, got %v", err)
	}
}

func TestSubmitTransactionUnderfunded(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"extras":{"result_codes":{"transaction":"tx_failed","operations":["op_underfunded"]}}}`))
	}))

	_, err := client.SubmitTransaction(context.Background(), "AAAA")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficient {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
}

func TestSubmitTransactionIsNeverRetriedInternally(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.SubmitTransaction(context.Background(), "AAAA")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("submit must be attempted exactly once, got %d calls", calls)
	}
	if !IsAmbiguousSubmit(err) {
		t.Fatalf("5xx submit failures are ambiguous, got %v", err)
	}
}

func TestGetTransaction(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/deadbeef" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"hash":"deadbeef","successful":true,"memo":"pay-1"}`))
	}))

	tx, err := client.GetTransaction(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !tx.Successful || tx.Memo != "pay-1" {
		t.Fatalf("unexpected tx %+v", tx)
	}

	_, err = client.GetTransaction(context.Background(), "missing")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestIsAmbiguousSubmitIgnoresPlainErrors(t *testing.T) {
	if IsAmbiguousSubmit(pkgerrors.New(pkgerrors.CodeBadSequence, "bad seq")) {
		t.Fatal("bad sequence is a definitive rejection")
	}
	if IsAmbiguousSubmit(nil) {
		t.Fatal("nil is not ambiguous")
	}
}
