package enums

import "fmt"

// SagaState tracks the payout saga through its state machine.
type SagaState string

const (
	SagaStateInit                  SagaState = "init"
	SagaStateIntentCreated         SagaState = "intent_created"
	SagaStateAccountResolved       SagaState = "account_resolved"
	SagaStateTxSubmitted           SagaState = "tx_submitted"
	SagaStateSettled               SagaState = "settled"
	SagaStateCancelled             SagaState = "cancelled"
	SagaStateReconciliationPending SagaState = "reconciliation_pending"
)

var validSagaStates = []SagaState{
	SagaStateInit,
	SagaStateIntentCreated,
	SagaStateAccountResolved,
	SagaStateTxSubmitted,
	SagaStateSettled,
	SagaStateCancelled,
	SagaStateReconciliationPending,
}

// String implements fmt.Stringer.
func (s SagaState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SagaState.
func (s SagaState) IsValid() bool {
	for _, candidate := range validSagaStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the saga reached a state the orchestrator never
// leaves on its own. ReconciliationPending is terminal for the caller; only
// the background sweep moves it forward.
func (s SagaState) IsTerminal() bool {
	switch s {
	case SagaStateSettled, SagaStateCancelled, SagaStateReconciliationPending:
		return true
	default:
		return false
	}
}

// ParseSagaState converts raw input into a SagaState.
func ParseSagaState(value string) (SagaState, error) {
	for _, candidate := range validSagaStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid saga state %q", value)
}
