package enums

import "fmt"

// PaymentEventType names events published when a session changes phase.
type PaymentEventType string

const (
	PaymentEventSessionOpened    PaymentEventType = "payment.session_opened"
	PaymentEventConfirmed        PaymentEventType = "payment.confirmed"
	PaymentEventCancelled        PaymentEventType = "payment.cancelled"
	PaymentEventFailed           PaymentEventType = "payment.failed"
	PaymentEventExpired          PaymentEventType = "payment.expired"
	PaymentEventPendingAbandoned PaymentEventType = "payment.pending_abandoned"
)

var validPaymentEventTypes = []PaymentEventType{
	PaymentEventSessionOpened,
	PaymentEventConfirmed,
	PaymentEventCancelled,
	PaymentEventFailed,
	PaymentEventExpired,
	PaymentEventPendingAbandoned,
}

// String implements fmt.Stringer.
func (p PaymentEventType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentEventType.
func (p PaymentEventType) IsValid() bool {
	for _, candidate := range validPaymentEventTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentEventType converts raw input into a PaymentEventType.
func ParsePaymentEventType(value string) (PaymentEventType, error) {
	for _, candidate := range validPaymentEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment event type %q", value)
}
