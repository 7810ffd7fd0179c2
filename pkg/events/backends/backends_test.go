package backends

import (
	"context"
	"testing"

	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/events"
	"github.com/angelmondragon/storefront-payments/pkg/kafka"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNewSelectsBackend(t *testing.T) {
	cfg := &config.Config{}
	pub, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("none backend: %v", err)
	}
	if _, ok := pub.(*events.LogPublisher); !ok {
		t.Fatalf("expected log publisher, got %T", pub)
	}

	cfg.Events.Backend = "KAFKA"
	cfg.Events.Topic = "payment.state.changed"
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	pub, err = New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("kafka backend: %v", err)
	}
	if _, ok := pub.(*kafka.EventPublisher); !ok {
		t.Fatalf("expected kafka publisher, got %T", pub)
	}
	_ = pub.Close()

	cfg.Events.Backend = "nats"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}

func TestNewProducerPrefersOutbox(t *testing.T) {
	cfg := &config.Config{}
	cfg.Outbox.Enabled = true
	if _, err := NewProducer(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error without database")
	}

	db, err := gorm.Open(sqlite.Open("file:producer?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	pub, err := NewProducer(context.Background(), cfg, nil, db)
	if err != nil {
		t.Fatalf("outbox producer: %v", err)
	}
	if _, ok := pub.(*outbox.Writer); !ok {
		t.Fatalf("expected outbox writer, got %T", pub)
	}

	cfg.Outbox.Enabled = false
	pub, err = NewProducer(context.Background(), cfg, nil, db)
	if err != nil {
		t.Fatalf("direct producer: %v", err)
	}
	if _, ok := pub.(*events.LogPublisher); !ok {
		t.Fatalf("expected log publisher, got %T", pub)
	}
}
