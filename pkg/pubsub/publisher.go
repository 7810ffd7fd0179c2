package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/storefront-payments/pkg/events"
)

const defaultPublishTimeout = 10 * time.Second

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

// EventPublisher sends payment events to a Pub/Sub topic.
type EventPublisher struct {
	pub     topicPublisher
	client  *Client
	timeout time.Duration
}

// NewEventPublisher wraps the client's payments topic publisher.
func NewEventPublisher(c *Client) (*EventPublisher, error) {
	p := c.PaymentsPublisher()
	if p == nil {
		return nil, errNoTopic
	}
	p.EnableMessageOrdering = true
	return &EventPublisher{pub: &gcpPublisher{Publisher: p}, client: c, timeout: defaultPublishTimeout}, nil
}

// Publish blocks until the server acknowledges the message.
func (p *EventPublisher) Publish(ctx context.Context, event events.Event) error {
	data, err := events.Encode(event)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data:        data,
		Attributes:  events.Attributes(event),
		OrderingKey: event.OrderID,
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	result := p.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *EventPublisher) Close() error {
	p.pub.Stop()
	return p.client.Close()
}

type gcpPublisher struct {
	*pubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*pubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
