package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePayoutSaga OutboxAggregateType = "payout_saga"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayoutSaga,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPayoutSettled               OutboxEventType = "payout_settled"
	EventPayoutCancelled             OutboxEventType = "payout_cancelled"
	EventPayoutReconciliationPending OutboxEventType = "payout_reconciliation_pending"
	EventPayoutReconciled            OutboxEventType = "payout_reconciled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPayoutSettled,
	EventPayoutCancelled,
	EventPayoutReconciliationPending,
	EventPayoutReconciled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
