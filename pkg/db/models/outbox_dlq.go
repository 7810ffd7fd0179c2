package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
)

// OutboxDLQ captures terminal outbox failures for auditing and remediation.
type OutboxDLQ struct {
	ID           uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	OutboxID     uuid.UUID                  `gorm:"column:outbox_id;type:uuid;not null"`
	EventID      string                     `gorm:"column:event_id;not null"`
	EventType    enums.PaymentEventType     `gorm:"column:event_type;not null"`
	OrderID      string                     `gorm:"column:order_id;not null"`
	Payload      json.RawMessage            `gorm:"column:payload;type:jsonb;not null"`
	ErrorReason  enums.OutboxDLQErrorReason `gorm:"column:error_reason;not null"`
	ErrorMessage *string                    `gorm:"column:error_message"`
	AttemptCount int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt     time.Time                  `gorm:"column:failed_at;not null"`
	CreatedAt    time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "payment_outbox_dlq" }
