package enums

import "fmt"

// PaymentPhase is the lifecycle position of a payment session.
type PaymentPhase string

const (
	PaymentPhaseIdle      PaymentPhase = "IDLE"
	PaymentPhaseOpen      PaymentPhase = "OPEN"
	PaymentPhasePolling   PaymentPhase = "POLLING"
	PaymentPhaseConfirmed PaymentPhase = "CONFIRMED"
	PaymentPhaseCancelled PaymentPhase = "CANCELLED"
	PaymentPhaseFailed    PaymentPhase = "FAILED"
	PaymentPhaseExpired   PaymentPhase = "EXPIRED"
	PaymentPhaseClosed    PaymentPhase = "CLOSED"
)

var validPaymentPhases = []PaymentPhase{
	PaymentPhaseIdle,
	PaymentPhaseOpen,
	PaymentPhasePolling,
	PaymentPhaseConfirmed,
	PaymentPhaseCancelled,
	PaymentPhaseFailed,
	PaymentPhaseExpired,
	PaymentPhaseClosed,
}

// String implements fmt.Stringer.
func (p PaymentPhase) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentPhase.
func (p PaymentPhase) IsValid() bool {
	for _, candidate := range validPaymentPhases {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsActive reports whether timers may be running in this phase.
func (p PaymentPhase) IsActive() bool {
	return p == PaymentPhaseOpen || p == PaymentPhasePolling
}

// IsTerminal reports whether the session reached an outcome.
func (p PaymentPhase) IsTerminal() bool {
	switch p {
	case PaymentPhaseConfirmed, PaymentPhaseCancelled, PaymentPhaseFailed, PaymentPhaseExpired:
		return true
	}
	return false
}

// ParsePaymentPhase converts raw input into a PaymentPhase.
func ParsePaymentPhase(value string) (PaymentPhase, error) {
	for _, candidate := range validPaymentPhases {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment phase %q", value)
}
