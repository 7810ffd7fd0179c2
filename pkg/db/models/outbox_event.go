package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
)

// OutboxEvent is a payment event written next to the session state it
// describes and relayed to the broker afterwards.
type OutboxEvent struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	EventID      string                 `gorm:"column:event_id;not null;uniqueIndex"`
	EventType    enums.PaymentEventType `gorm:"column:event_type;not null"`
	OrderID      string                 `gorm:"column:order_id;not null"`
	Payload      json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
	PublishedAt  *time.Time             `gorm:"column:published_at"`
	AttemptCount int                    `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string                `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string { return "payment_outbox_events" }
