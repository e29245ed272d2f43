package assembler

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMemoBytes is the text memo capacity on the ledger.
const MaxMemoBytes = 28

var memoDigestEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeMemo turns a platform payment identifier into the transaction memo.
// Identifiers at or under the capacity are carried verbatim so the memo stays
// derivable back to the payment; longer ones map to a fixed-length digest of
// the identifier. The digest is deterministic, so a ledger memo still
// correlates with exactly one payment id via MemoMatchesPayment.
func EncodeMemo(paymentID string) (string, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return "", fmt.Errorf("memo: payment id is required")
	}
	if !utf8.ValidString(id) {
		return "", fmt.Errorf("memo: payment id is not valid utf-8")
	}
	if len(id) <= MaxMemoBytes {
		return id, nil
	}
	return digestMemo(id), nil
}

func digestMemo(id string) string {
	sum := sha256.Sum256([]byte(id))
	return memoDigestEncoding.EncodeToString(sum[:])[:MaxMemoBytes]
}

// MemoMatchesPayment reports whether a ledger memo belongs to the given
// payment identifier, in either the verbatim or the digest form.
func MemoMatchesPayment(memo, paymentID string) bool {
	id := strings.TrimSpace(paymentID)
	if memo == "" || id == "" {
		return false
	}
	return memo == id || memo == digestMemo(id)
}

// ValidateCallerMemo checks a caller-supplied memo before any external call.
func ValidateCallerMemo(memo string) error {
	if len(memo) > MaxMemoBytes {
		return fmt.Errorf("memo exceeds %d bytes", MaxMemoBytes)
	}
	if !utf8.ValidString(memo) {
		return fmt.Errorf("memo is not valid utf-8")
	}
	return nil
}
