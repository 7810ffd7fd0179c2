package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/events"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishKeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	pub := &EventPublisher{writer: w}
	event := events.New(enums.PaymentEventExpired, events.SessionPayload{OrderID: "ord-7", Phase: enums.PaymentPhaseExpired}, time.Now())

	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "ord-7" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	if len(msg.Headers) != 4 || msg.Headers[1].Key != "event_type" || string(msg.Headers[1].Value) != "payment.expired" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
	env, _, err := events.Decode(msg.Value)
	if err != nil || env.EventID != event.ID {
		t.Fatalf("unexpected value: %v %+v", err, env)
	}

	if err := pub.Close(); err != nil || !w.closed {
		t.Fatalf("close must close the writer")
	}
}

func TestPublishWrapsWriteError(t *testing.T) {
	pub := &EventPublisher{writer: &fakeWriter{err: errors.New("leader not available")}}
	event := events.New(enums.PaymentEventFailed, events.SessionPayload{OrderID: "ord-1"}, time.Now())
	if err := pub.Publish(context.Background(), event); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewEventPublisherValidates(t *testing.T) {
	if _, err := NewEventPublisher(context.Background(), config.KafkaConfig{Brokers: []string{" "}}, "payments", nil); err == nil {
		t.Fatal("expected brokers error")
	}
	if _, err := NewEventPublisher(context.Background(), config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "", nil); err == nil {
		t.Fatal("expected topic error")
	}
	pub, err := NewEventPublisher(context.Background(), config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "payments", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = pub.Close()
}
