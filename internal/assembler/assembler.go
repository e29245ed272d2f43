// Package assembler builds, signs, and hashes single-operation payout
// transactions for the ledger network.
package assembler

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/danielvey/a2ubridge/pkg/enums"
)

var (
	errSeedRequired       = errors.New("assembler: source secret seed is required")
	errPassphraseRequired = errors.New("assembler: network passphrase is required")
)

// Operation is the single payment or create-account op a transaction carries.
type Operation struct {
	Kind        enums.OperationKind `json:"kind"`
	Destination string              `json:"destination"`
	Amount      string              `json:"amount"`
}

// Transaction is the canonical envelope body that gets signed. Field order is
// fixed by the struct, so its JSON rendering is the signing payload.
type Transaction struct {
	Source    string    `json:"source"`
	Sequence  int64     `json:"sequence"`
	Fee       int64     `json:"fee"`
	Memo      string    `json:"memo"`
	MinTime   int64     `json:"min_time"`
	MaxTime   int64     `json:"max_time"`
	Operation Operation `json:"operation"`
}

// SignedTransaction pairs the envelope with its signature and local hash.
// Hash is computed before submission so an ambiguous submit can be resolved
// by lookup.
type SignedTransaction struct {
	Tx        Transaction
	Hash      string
	Signature []byte
	Envelope  string
}

// Assembler signs transactions for one configured source account.
type Assembler struct {
	signer        ed25519.PrivateKey
	sourceAddress string
	passphrase    string
	validity      time.Duration
	now           func() time.Time
}

// New derives the source keypair from the configured secret seed.
func New(secretSeed, networkPassphrase string, validity time.Duration) (*Assembler, error) {
	if secretSeed == "" {
		return nil, errSeedRequired
	}
	if networkPassphrase == "" {
		return nil, errPassphraseRequired
	}
	if validity <= 0 {
		validity = 3 * time.Minute
	}

	seed, err := DecodeSeed(secretSeed)
	if err != nil {
		return nil, fmt.Errorf("assembler: decode seed: %w", err)
	}

	signer := ed25519.NewKeyFromSeed(seed[:])
	var pub [32]byte
	copy(pub[:], signer.Public().(ed25519.PublicKey))

	return &Assembler{
		signer:        signer,
		sourceAddress: EncodePublicKey(pub),
		passphrase:    networkPassphrase,
		validity:      validity,
		now:           time.Now,
	}, nil
}

// SourceAddress returns the G... address the assembler signs for.
func (a *Assembler) SourceAddress() string {
	return a.sourceAddress
}

// BuildAndSign assembles a one-operation transaction at the next sequence
// number and signs it for the configured network.
func (a *Assembler) BuildAndSign(currentSequence, baseFee int64, kind enums.OperationKind, destination string, amount decimal.Decimal, memo string) (*SignedTransaction, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("assembler: invalid operation kind %q", kind)
	}
	if _, err := DecodePublicKey(destination); err != nil {
		return nil, fmt.Errorf("assembler: destination: %w", err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("assembler: amount must be positive, got %s", amount)
	}
	if err := ValidateCallerMemo(memo); err != nil {
		return nil, fmt.Errorf("assembler: %w", err)
	}
	if baseFee <= 0 {
		return nil, fmt.Errorf("assembler: base fee must be positive, got %d", baseFee)
	}

	now := a.now().Unix()
	tx := Transaction{
		Source:   a.sourceAddress,
		Sequence: currentSequence + 1,
		Fee:      baseFee,
		Memo:     memo,
		MinTime:  now,
		MaxTime:  now + int64(a.validity.Seconds()),
		Operation: Operation{
			Kind:        kind,
			Destination: destination,
			Amount:      amount.String(),
		},
	}

	payload, err := a.signingPayload(tx)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(payload)
	signature := ed25519.Sign(a.signer, hash[:])

	envelope, err := encodeEnvelope(tx, signature)
	if err != nil {
		return nil, err
	}

	return &SignedTransaction{
		Tx:        tx,
		Hash:      hex.EncodeToString(hash[:]),
		Signature: signature,
		Envelope:  envelope,
	}, nil
}

// signingPayload is sha256(network passphrase) prepended to the canonical tx
// body, so signatures for one network never verify on another.
func (a *Assembler) signingPayload(tx Transaction) ([]byte, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("assembler: marshal transaction: %w", err)
	}
	networkID := sha256.Sum256([]byte(a.passphrase))
	payload := make([]byte, 0, len(networkID)+len(body))
	payload = append(payload, networkID[:]...)
	payload = append(payload, body...)
	return payload, nil
}

type envelopeBody struct {
	Tx        Transaction `json:"tx"`
	Signature string      `json:"signature"`
}

func encodeEnvelope(tx Transaction, signature []byte) (string, error) {
	raw, err := json.Marshal(envelopeBody{
		Tx:        tx,
		Signature: base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		return "", fmt.Errorf("assembler: marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
