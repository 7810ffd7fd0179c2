package events

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
)

func TestEncodeProducesEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.FixedZone("ICT", 7*3600))
	event := New(enums.PaymentEventConfirmed, SessionPayload{
		OrderID:           "ord-1",
		ProviderOrderCode: 987654,
		Phase:             enums.PaymentPhaseConfirmed,
	}, at)

	raw, err := Encode(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, payload, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Version != 1 || env.EventID != event.ID || env.Type != enums.PaymentEventConfirmed {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.OccurredAt.Location() != time.UTC || !env.OccurredAt.Equal(at) {
		t.Fatalf("occurredAt must be UTC, got %v", env.OccurredAt)
	}
	if payload.OrderID != "ord-1" || payload.ProviderOrderCode != 987654 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !strings.Contains(string(raw), `"eventId"`) || !strings.Contains(string(raw), `"occurredAt"`) {
		t.Fatalf("unexpected wire format %s", raw)
	}
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	if _, err := Encode(Event{ID: "x", Type: "payment.unknown"}); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := Encode(Event{Type: enums.PaymentEventFailed}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestAttributes(t *testing.T) {
	event := New(enums.PaymentEventExpired, SessionPayload{OrderID: "ord-2"}, time.Unix(0, 0))
	attrs := Attributes(event)
	if attrs["event_type"] != "payment.expired" || attrs["order_id"] != "ord-2" || attrs["event_id"] != event.ID {
		t.Fatalf("unexpected attributes %+v", attrs)
	}
}

func TestLogPublisherLogsEvent(t *testing.T) {
	buf := &bytes.Buffer{}
	pub := NewLogPublisher(logger.New(logger.Options{ServiceName: "test", Output: buf}))
	event := New(enums.PaymentEventCancelled, SessionPayload{OrderID: "ord-3", Phase: enums.PaymentPhaseCancelled}, time.Now())

	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "payment.cancelled") || !strings.Contains(out, "ord-3") {
		t.Fatalf("expected event fields in log, got %s", out)
	}
}
