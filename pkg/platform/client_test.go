package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielvey/a2ubridge/pkg/config"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(config.PlatformConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		RequestTimeout: 2 * time.Second,
		MaxRetries:     3,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestCreatePaymentSendsAuthAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/payments" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Key test-key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "idem-1" {
			t.Fatalf("unexpected idempotency header %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["uid"] != "u1" || body["amount"] != "5" {
			t.Fatalf("unexpected body %v", body)
		}
		_ = json.NewEncoder(w).Encode(Payment{Identifier: "pay-1", Recipient: "GABC"})
	}))
	defer srv.Close()

	payment, err := testClient(t, srv).CreatePayment(context.Background(), CreatePaymentInput{
		UID:            "u1",
		Amount:         "5",
		Memo:           "m",
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if payment.Identifier != "pay-1" || payment.Recipient != "GABC" {
		t.Fatalf("unexpected payment %+v", payment)
	}
}

func TestCreatePaymentWithoutKeyIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).CreatePayment(context.Background(), CreatePaymentInput{UID: "u1", Amount: "1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("create without idempotency key must not retry, got %d calls", got)
	}
}

func TestCompletePaymentRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := testClient(t, srv).CompletePayment(context.Background(), "pay-1", "hash-1"); err != nil {
		t.Fatalf("CompletePayment: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestCompletePaymentDoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := testClient(t, srv).CompletePayment(context.Background(), "pay-1", "hash-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("4xx must not retry, got %d calls", got)
	}
}

func TestApprovePaymentPostsToApproveEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/payments/pay-9/approve" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Key test-key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := testClient(t, srv).ApprovePayment(context.Background(), "pay-9"); err != nil {
		t.Fatalf("ApprovePayment: %v", err)
	}
}

func TestApprovePaymentRequiresID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty payment id")
	}))
	defer srv.Close()

	err := testClient(t, srv).ApprovePayment(context.Background(), "  ")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestMeMapsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Fatalf("unexpected auth header %q", got)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).Me(context.Background(), "token-1")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

func TestMeReturnsIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(User{UID: "u1", Username: "pioneer"})
	}))
	defer srv.Close()

	user, err := testClient(t, srv).Me(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.UID != "u1" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).GetPayment(context.Background(), "missing")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(config.PlatformConfig{BaseURL: "http://x"}, nil); err == nil {
		t.Fatal("expected error without api key")
	}
	if _, err := NewClient(config.PlatformConfig{APIKey: "k"}, nil); err == nil {
		t.Fatal("expected error without base url")
	}
}
