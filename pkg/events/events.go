// Package events publishes payment session outcomes to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/google/uuid"
)

const envelopeVersion = 1

// Publisher delivers events to a broker. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Event is a payment session event before encoding.
type Event struct {
	ID         string
	Type       enums.PaymentEventType
	OrderID    string
	OccurredAt time.Time
	Data       SessionPayload
}

// SessionPayload is the data section of every payment event.
type SessionPayload struct {
	OrderID           string             `json:"orderId"`
	SessionID         string             `json:"sessionId,omitempty"`
	ProviderOrderCode int64              `json:"providerOrderCode,omitempty"`
	Amount            int64              `json:"amount,omitempty"`
	Phase             enums.PaymentPhase `json:"phase,omitempty"`
	Attempt           int                `json:"attempt,omitempty"`
	TransactionID     string             `json:"transactionId,omitempty"`
	Message           string             `json:"message,omitempty"`
}

// Envelope is the wire format shared by every backend.
type Envelope struct {
	Version    int                    `json:"version"`
	EventID    string                 `json:"eventId"`
	Type       enums.PaymentEventType `json:"type"`
	OccurredAt time.Time              `json:"occurredAt"`
	Data       json.RawMessage        `json:"data"`
}

// New stamps an event with a fresh id.
func New(eventType enums.PaymentEventType, data SessionPayload, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OrderID:    data.OrderID,
		OccurredAt: at.UTC(),
		Data:       data,
	}
}

// Encode renders the event envelope as JSON.
func Encode(event Event) ([]byte, error) {
	if !event.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
	if event.ID == "" {
		return nil, errors.New("event id is required")
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return json.Marshal(Envelope{
		Version:    envelopeVersion,
		EventID:    event.ID,
		Type:       event.Type,
		OccurredAt: event.OccurredAt,
		Data:       data,
	})
}

// Decode parses an envelope and its session payload.
func Decode(raw []byte) (Envelope, SessionPayload, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, SessionPayload{}, fmt.Errorf("decode envelope: %w", err)
	}
	var payload SessionPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return env, SessionPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	return env, payload, nil
}

// Attributes are the message headers every backend attaches.
func Attributes(event Event) map[string]string {
	return map[string]string{
		"event_id":    event.ID,
		"event_type":  event.Type.String(),
		"order_id":    event.OrderID,
		"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
	}
}

// LogPublisher only logs events. It backs the "none" events backend.
type LogPublisher struct {
	logg *logger.Logger
}

func NewLogPublisher(logg *logger.Logger) *LogPublisher {
	return &LogPublisher{logg: logg}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	if _, err := Encode(event); err != nil {
		return err
	}
	if p.logg == nil {
		return nil
	}
	ctx = p.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type.String(),
		"order_id":   event.OrderID,
		"phase":      event.Data.Phase.String(),
	})
	p.logg.Info(ctx, "payment event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
