package enums

import "fmt"

// OperationKind selects the ledger operation used to pay the recipient.
// The choice is pinned per saga once the recipient account is resolved.
type OperationKind string

const (
	OperationPayment       OperationKind = "payment"
	OperationCreateAccount OperationKind = "create_account"
)

var validOperationKinds = []OperationKind{
	OperationPayment,
	OperationCreateAccount,
}

// String implements fmt.Stringer.
func (o OperationKind) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OperationKind.
func (o OperationKind) IsValid() bool {
	for _, candidate := range validOperationKinds {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOperationKind converts raw input into an OperationKind.
func ParseOperationKind(value string) (OperationKind, error) {
	for _, candidate := range validOperationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operation kind %q", value)
}
