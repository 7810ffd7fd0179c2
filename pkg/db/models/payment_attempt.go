package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
)

// PaymentAttempt records one provider order created for a storefront order.
type PaymentAttempt struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           string             `gorm:"column:order_id;not null"`
	SessionID         string             `gorm:"column:session_id;not null"`
	ProviderOrderCode int64              `gorm:"column:provider_order_code;not null;uniqueIndex"`
	Amount            int64              `gorm:"column:amount;not null"`
	PaymentLink       string             `gorm:"column:payment_link"`
	Outcome           enums.PaymentPhase `gorm:"column:outcome;not null;default:'OPEN'"`
	TransactionID     *string            `gorm:"column:transaction_id"`
	ErrorMessage      *string            `gorm:"column:error_message"`
	OpenedAt          time.Time          `gorm:"column:opened_at;not null"`
	FinishedAt        *time.Time         `gorm:"column:finished_at"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
