package assembler

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/danielvey/a2ubridge/pkg/enums"
)

func testSeed(fill byte) string {
	var raw [32]byte
	for i := range raw {
		raw[i] = fill
	}
	return EncodeSeed(raw)
}

func testAddress(fill byte) string {
	var raw [32]byte
	for i := range raw {
		raw[i] = fill
	}
	seed := ed25519.NewKeyFromSeed(raw[:])
	var pub [32]byte
	copy(pub[:], seed.Public().(ed25519.PublicKey))
	return EncodePublicKey(pub)
}

func TestStrkeyRoundTrip(t *testing.T) {
	var raw [32]byte
	for i := range raw {
		raw[i] = byte(i * 7)
	}

	seed := EncodeSeed(raw)
	if !strings.HasPrefix(seed, "S") {
		t.Fatalf("seed should start with S, got %q", seed)
	}
	decoded, err := DecodeSeed(seed)
	if err != nil {
		t.Fatalf("DecodeSeed: %v", err)
	}
	if decoded != raw {
		t.Fatal("seed round trip mismatch")
	}

	pub := EncodePublicKey(raw)
	if !strings.HasPrefix(pub, "G") {
		t.Fatalf("public key should start with G, got %q", pub)
	}
	if _, err := DecodePublicKey(pub); err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
}

func TestStrkeyRejectsCorruption(t *testing.T) {
	var raw [32]byte
	encoded := EncodeSeed(raw)

	corrupted := []byte(encoded)
	if corrupted[10] == 'A' {
		corrupted[10] = 'B'
	} else {
		corrupted[10] = 'A'
	}
	if _, err := DecodeSeed(string(corrupted)); err == nil {
		t.Fatal("expected checksum or decode failure for corrupted key")
	}

	if _, err := DecodePublicKey(encoded); err == nil {
		t.Fatal("seed must not decode as a public key")
	}
}

func TestEncodeMemoRoundTrip(t *testing.T) {
	paymentID := "pay_0123456789abcdef01234"
	memo, err := EncodeMemo(paymentID)
	if err != nil {
		t.Fatalf("EncodeMemo: %v", err)
	}
	if memo != paymentID {
		t.Fatalf("memo must carry the payment id verbatim, got %q", memo)
	}
	if len(memo) > MaxMemoBytes {
		t.Fatalf("memo exceeds capacity: %d bytes", len(memo))
	}
}

func TestEncodeMemoDigestsLongIdentifiers(t *testing.T) {
	longID := strings.Repeat("x", MaxMemoBytes+20)
	memo, err := EncodeMemo(longID)
	if err != nil {
		t.Fatalf("EncodeMemo: %v", err)
	}
	if len(memo) != MaxMemoBytes {
		t.Fatalf("digest memo must fill the capacity, got %d bytes", len(memo))
	}

	again, err := EncodeMemo(longID)
	if err != nil {
		t.Fatalf("EncodeMemo: %v", err)
	}
	if memo != again {
		t.Fatal("digest memo must be deterministic")
	}

	other, err := EncodeMemo(longID + "y")
	if err != nil {
		t.Fatalf("EncodeMemo: %v", err)
	}
	if memo == other {
		t.Fatal("distinct payment ids must not share a memo")
	}

	if _, err := EncodeMemo("   "); err == nil {
		t.Fatal("expected empty payment id rejection")
	}
}

func TestMemoMatchesPayment(t *testing.T) {
	short := "pay-short"
	long := strings.Repeat("p", MaxMemoBytes+5)

	shortMemo, err := EncodeMemo(short)
	if err != nil {
		t.Fatalf("EncodeMemo: %v", err)
	}
	longMemo, err := EncodeMemo(long)
	if err != nil {
		t.Fatalf("EncodeMemo: %v", err)
	}

	if !MemoMatchesPayment(shortMemo, short) {
		t.Fatal("verbatim memo must match its payment id")
	}
	if !MemoMatchesPayment(longMemo, long) {
		t.Fatal("digest memo must match its payment id")
	}
	if MemoMatchesPayment(longMemo, long+"x") {
		t.Fatal("digest memo must not match a different payment id")
	}
	if MemoMatchesPayment("", short) {
		t.Fatal("empty memo matches nothing")
	}
}

func TestBuildAndSignProducesVerifiableSignature(t *testing.T) {
	a, err := New(testSeed(1), "Test Network ; 2026", 3*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	dest := testAddress(2)
	signed, err := a.BuildAndSign(41, 100, enums.OperationPayment, dest, decimal.RequireFromString("2.5"), "pay-1")
	if err != nil {
		t.Fatalf("BuildAndSign: %v", err)
	}

	if signed.Tx.Sequence != 42 {
		t.Fatalf("expected next sequence 42, got %d", signed.Tx.Sequence)
	}
	if signed.Tx.MaxTime-signed.Tx.MinTime != 180 {
		t.Fatalf("unexpected validity window %d", signed.Tx.MaxTime-signed.Tx.MinTime)
	}

	payload, err := a.signingPayload(signed.Tx)
	if err != nil {
		t.Fatalf("signingPayload: %v", err)
	}
	hash := sha256.Sum256(payload)
	if hex.EncodeToString(hash[:]) != signed.Hash {
		t.Fatal("hash must match the signing payload digest")
	}

	pub := a.signer.Public().(ed25519.PublicKey)
	if !ed25519.Verify(pub, hash[:], signed.Signature) {
		t.Fatal("signature must verify against the source public key")
	}
}

func TestBuildAndSignBindsNetworkPassphrase(t *testing.T) {
	seed := testSeed(3)
	first, err := New(seed, "network one", time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := New(seed, "network two", time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fixed := func() time.Time { return time.Unix(1_700_000_000, 0) }
	first.now, second.now = fixed, fixed

	dest := testAddress(4)
	amount := decimal.NewFromInt(1)
	one, err := first.BuildAndSign(5, 100, enums.OperationCreateAccount, dest, amount, "m")
	if err != nil {
		t.Fatalf("BuildAndSign: %v", err)
	}
	two, err := second.BuildAndSign(5, 100, enums.OperationCreateAccount, dest, amount, "m")
	if err != nil {
		t.Fatalf("BuildAndSign: %v", err)
	}

	if one.Hash == two.Hash {
		t.Fatal("different passphrases must yield different hashes")
	}
}

func TestBuildAndSignValidation(t *testing.T) {
	a, err := New(testSeed(5), "net", time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dest := testAddress(6)

	if _, err := a.BuildAndSign(1, 100, "teleport", dest, decimal.NewFromInt(1), "m"); err == nil {
		t.Fatal("expected invalid operation kind rejection")
	}
	if _, err := a.BuildAndSign(1, 100, enums.OperationPayment, "not-a-key", decimal.NewFromInt(1), "m"); err == nil {
		t.Fatal("expected destination rejection")
	}
	if _, err := a.BuildAndSign(1, 100, enums.OperationPayment, dest, decimal.Zero, "m"); err == nil {
		t.Fatal("expected non-positive amount rejection")
	}
	if _, err := a.BuildAndSign(1, 0, enums.OperationPayment, dest, decimal.NewFromInt(1), "m"); err == nil {
		t.Fatal("expected non-positive fee rejection")
	}
}
