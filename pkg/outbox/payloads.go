package outbox

import "github.com/danielvey/a2ubridge/pkg/enums"

// PayoutEventData is the payload carried by every payout lifecycle event.
type PayoutEventData struct {
	SagaID         string          `json:"sagaId"`
	PaymentID      string          `json:"paymentId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	RecipientUID   string          `json:"recipientUid"`
	Amount         string          `json:"amount"`
	TxHash         string          `json:"txHash,omitempty"`
	State          enums.SagaState `json:"state"`
	Reason         string          `json:"reason,omitempty"`
}
