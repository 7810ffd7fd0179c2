// Package kafka publishes payment events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/events"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher writes one message per event, keyed by order id.
type EventPublisher struct {
	writer messageWriter
}

// NewEventPublisher builds a writer for topic on the configured brokers.
func NewEventPublisher(ctx context.Context, cfg config.KafkaConfig, topic string, logg *logger.Logger) (*EventPublisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka topic is required")
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"topic": topic, "brokers": strings.Join(brokers, ",")}), "kafka writer initialized")
	}
	return &EventPublisher{writer: w}, nil
}

func (p *EventPublisher) Publish(ctx context.Context, event events.Event) error {
	value, err := events.Encode(event)
	if err != nil {
		return err
	}
	attrs := events.Attributes(event)
	headers := make([]kafka.Header, 0, len(attrs))
	for _, key := range []string{"event_id", "event_type", "order_id", "occurred_at"} {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(attrs[key])})
	}
	msg := kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   value,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", event.Type, err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
