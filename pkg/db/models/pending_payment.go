package models

import "time"

// PendingPayment keeps an unpaid order whose payment window ran out so the
// customer can retry later.
type PendingPayment struct {
	OrderID           string    `gorm:"column:order_id;primaryKey"`
	ProviderOrderCode int64     `gorm:"column:provider_order_code;not null"`
	Amount            int64     `gorm:"column:amount;not null"`
	PaymentLink       string    `gorm:"column:payment_link"`
	QRPayload         string    `gorm:"column:qr_payload"`
	CustomerName      string    `gorm:"column:customer_name"`
	CustomerEmail     string    `gorm:"column:customer_email"`
	CustomerPhone     string    `gorm:"column:customer_phone"`
	ExpiredAt         time.Time `gorm:"column:expired_at;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
