package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/danielvey/a2ubridge/pkg/enums"
)

// SagaRecord is the durable state of one payout saga. One row exists per
// distinct idempotency key; rows are never deleted.
type SagaRecord struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdempotencyKey string          `gorm:"column:idempotency_key;not null;uniqueIndex:ux_saga_records_idempotency_key"`
	State          enums.SagaState `gorm:"column:state;not null;default:'init'"`
	RecipientUID   string          `gorm:"column:recipient_uid;not null"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(20,7);not null"`
	Memo           string          `gorm:"column:memo;not null"`

	// Populated as the saga advances; each is immutable once set.
	PaymentID        *string              `gorm:"column:payment_id"`
	RecipientAddress *string              `gorm:"column:recipient_address"`
	RecipientExists  *bool                `gorm:"column:recipient_exists"`
	OperationKind    *enums.OperationKind `gorm:"column:operation_kind"`
	TxHash           *string              `gorm:"column:tx_hash"`

	Attempts  int       `gorm:"column:attempts;not null;default:0"`
	LastError *string   `gorm:"column:last_error"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName fixes the table name regardless of gorm pluralization settings.
func (SagaRecord) TableName() string {
	return "saga_records"
}
