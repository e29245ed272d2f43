package resolver

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/danielvey/a2ubridge/internal/assembler"
	"github.com/danielvey/a2ubridge/pkg/enums"
	pkgerrors "github.com/danielvey/a2ubridge/pkg/errors"
	"github.com/danielvey/a2ubridge/pkg/ledger"
)

type stubLoader struct {
	account *ledger.Account
	err     error
	calls   int
}

func (s *stubLoader) LoadAccount(_ context.Context, publicKey string) (*ledger.Account, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	account := *s.account
	account.PublicKey = publicKey
	return &account, nil
}

func testAddress(fill byte) string {
	var raw [32]byte
	for i := range raw {
		raw[i] = fill
	}
	key := ed25519.NewKeyFromSeed(raw[:])
	var pub [32]byte
	copy(pub[:], key.Public().(ed25519.PublicKey))
	return assembler.EncodePublicKey(pub)
}

func TestResolveExistingAccountSelectsPayment(t *testing.T) {
	loader := &stubLoader{account: &ledger.Account{Exists: true, Sequence: 9}}
	r, err := New(loader, "1", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resolution, err := r.Resolve(context.Background(), testAddress(1), decimal.RequireFromString("0.25"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolution.Kind != enums.OperationPayment {
		t.Fatalf("expected payment, got %s", resolution.Kind)
	}
	if !resolution.Exists {
		t.Fatal("expected Exists=true")
	}
}

func TestResolveMissingAccountSelectsCreateAccount(t *testing.T) {
	loader := &stubLoader{account: &ledger.Account{Exists: false}}
	r, _ := New(loader, "1", nil)

	resolution, err := r.Resolve(context.Background(), testAddress(2), decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolution.Kind != enums.OperationCreateAccount {
		t.Fatalf("expected create_account, got %s", resolution.Kind)
	}
}

func TestResolveRejectsBelowReserveForNewAccount(t *testing.T) {
	loader := &stubLoader{account: &ledger.Account{Exists: false}}
	r, _ := New(loader, "1", nil)

	_, err := r.Resolve(context.Background(), testAddress(3), decimal.RequireFromString("0.5"))
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficient {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
}

func TestResolveRejectsMalformedAddressWithoutLedgerCall(t *testing.T) {
	loader := &stubLoader{account: &ledger.Account{Exists: true}}
	r, _ := New(loader, "1", nil)

	_, err := r.Resolve(context.Background(), "not-an-address", decimal.NewFromInt(1))
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if loader.calls != 0 {
		t.Fatalf("ledger must not be called for a malformed address, got %d calls", loader.calls)
	}
}

func TestResolvePropagatesLedgerErrors(t *testing.T) {
	loader := &stubLoader{err: errors.New("horizon down")}
	r, _ := New(loader, "1", nil)

	if _, err := r.Resolve(context.Background(), testAddress(4), decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected error propagation")
	}
}

func TestNewRejectsBadReserve(t *testing.T) {
	if _, err := New(&stubLoader{}, "not-a-number", nil); err == nil {
		t.Fatal("expected parse failure")
	}
	if _, err := New(nil, "1", nil); err == nil {
		t.Fatal("expected loader requirement")
	}
}
