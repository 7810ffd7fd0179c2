// Package backends selects the payment event publisher from configuration.
package backends

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/events"
	"github.com/angelmondragon/storefront-payments/pkg/kafka"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
	"github.com/angelmondragon/storefront-payments/pkg/pubsub"
)

// NewProducer returns the publisher used by services that produce payment
// events. With the outbox enabled events are queued in db and the relay
// delivers them to the broker.
func NewProducer(ctx context.Context, cfg *config.Config, logg *logger.Logger, db *gorm.DB) (events.Publisher, error) {
	if cfg.Outbox.Enabled {
		if db == nil {
			return nil, fmt.Errorf("outbox requires a database")
		}
		return outbox.NewWriter(outbox.NewRepository(db), logg), nil
	}
	return New(ctx, cfg, logg)
}

// New returns the publisher for cfg.Events.Backend.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger) (events.Publisher, error) {
	switch backend := cfg.Events.Normalized(); backend {
	case config.EventsBackendNone:
		return events.NewLogPublisher(logg), nil
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		pub, err := pubsub.NewEventPublisher(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return pub, nil
	case config.EventsBackendKafka:
		return kafka.NewEventPublisher(ctx, cfg.Kafka, cfg.Events.Topic, logg)
	default:
		return nil, fmt.Errorf("unsupported events backend %q", backend)
	}
}
