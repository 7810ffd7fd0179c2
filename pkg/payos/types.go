package payos

import (
	"strings"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
)

// CustomerContact is forwarded to the provider when a payment is created.
type CustomerContact struct {
	Name  string `json:"customer_name" validate:"required,max=255"`
	Email string `json:"customer_email" validate:"required,email"`
	Phone string `json:"customer_phone" validate:"required,max=32"`
}

// PaymentIntent is the provider-issued record for one payment attempt.
// PaymentLink and QRPayload are opaque and only used for display.
type PaymentIntent struct {
	OrderID           string    `json:"order_id"`
	ProviderOrderCode int64     `json:"provider_order_code"`
	Amount            int64     `json:"amount"`
	PaymentLink       string    `json:"payment_link"`
	QRPayload         string    `json:"qr_payload"`
	CreatedAt         time.Time `json:"created_at"`
}

// PaymentStatus is a polled snapshot of the provider's view of an order.
type PaymentStatus struct {
	Status         enums.PaymentStatus `json:"status"`
	ProviderStatus string              `json:"provider_status,omitempty"`
	TransactionID  string              `json:"transaction_id,omitempty"`
	Amount         int64               `json:"amount"`
	OrderID        string              `json:"order_id"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	Info           *PaymentInfo        `json:"payment_info,omitempty"`
}

// PaymentInfo carries the provider-native reconciliation payload.
type PaymentInfo struct {
	OrderCode          int64         `json:"orderCode"`
	AmountPaid         int64         `json:"amountPaid"`
	AmountRemaining    int64         `json:"amountRemaining"`
	Status             string        `json:"status"`
	Transactions       []Transaction `json:"transactions"`
	CancellationReason *string       `json:"cancellationReason,omitempty"`
}

// Transaction is one bank transfer matched against the order.
type Transaction struct {
	Reference           string `json:"reference"`
	Amount              int64  `json:"amount"`
	AccountNumber       string `json:"accountNumber"`
	Description         string `json:"description"`
	TransactionDateTime string `json:"transactionDateTime"`
}

// IsTerminal reports whether the snapshot ends polling.
func (s *PaymentStatus) IsTerminal() bool {
	if s == nil {
		return false
	}
	if s.Status == enums.PaymentStatusPaid {
		return s.IsSettled()
	}
	return s.Status.IsTerminal()
}

// IsSettled reports a PAID status the provider agrees is fully paid.
func (s *PaymentStatus) IsSettled() bool {
	if s == nil || s.Status != enums.PaymentStatusPaid {
		return false
	}
	if s.ProviderStatus != "" && !strings.EqualFold(s.ProviderStatus, string(enums.PaymentStatusPaid)) {
		return false
	}
	if s.Info != nil && s.Info.AmountRemaining > 0 {
		return false
	}
	return true
}

// CancellationReasonText returns the provider cancellation reason, if any.
func (s *PaymentStatus) CancellationReasonText() string {
	if s == nil || s.Info == nil || s.Info.CancellationReason == nil {
		return ""
	}
	return *s.Info.CancellationReason
}
