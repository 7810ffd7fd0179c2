package enums

import "testing"

func TestParsePaymentStatusNormalizes(t *testing.T) {
	tests := []struct {
		in   string
		want PaymentStatus
	}{
		{in: "PAID", want: PaymentStatusPaid},
		{in: "paid", want: PaymentStatusPaid},
		{in: " Pending ", want: PaymentStatusPending},
		{in: "canceled", want: PaymentStatusCancelled},
		{in: "EXPIRED", want: PaymentStatusExpired},
	}
	for _, tt := range tests {
		got, err := ParsePaymentStatus(tt.in)
		if err != nil {
			t.Fatalf("ParsePaymentStatus(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParsePaymentStatus(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParsePaymentStatus("REFUNDED"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	for _, s := range []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []PaymentStatus{PaymentStatusPaid, PaymentStatusCancelled, PaymentStatusExpired, PaymentStatusFailed} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestPaymentPhaseClassification(t *testing.T) {
	if !PaymentPhasePolling.IsActive() || !PaymentPhaseOpen.IsActive() {
		t.Fatalf("open and polling must be active")
	}
	if PaymentPhaseClosed.IsActive() || PaymentPhaseClosed.IsTerminal() {
		t.Fatalf("closed is neither active nor terminal")
	}
	if !PaymentPhaseExpired.IsTerminal() {
		t.Fatalf("expired must be terminal")
	}
	if _, err := ParsePaymentPhase("polling"); err == nil {
		t.Fatalf("phase parsing is exact")
	}
}
