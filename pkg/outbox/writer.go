package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/storefront-payments/pkg/db"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/events"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
)

type inserter interface {
	Insert(ctx context.Context, tx *gorm.DB, row *models.OutboxEvent) error
}

// Writer is an events.Publisher that queues events in the outbox table.
type Writer struct {
	repo inserter
	logg *logger.Logger
}

func NewWriter(repo inserter, logg *logger.Logger) *Writer {
	return &Writer{repo: repo, logg: logg}
}

func (w *Writer) Publish(ctx context.Context, event events.Event) error {
	return w.EmitTx(ctx, nil, event)
}

// EmitTx queues event inside tx so it commits with the caller's writes.
func (w *Writer) EmitTx(ctx context.Context, tx *gorm.DB, event events.Event) error {
	payload, err := events.Encode(event)
	if err != nil {
		return fmt.Errorf("encode outbox event: %w", err)
	}
	row := &models.OutboxEvent{
		EventID:   event.ID,
		EventType: event.Type,
		OrderID:   event.OrderID,
		Payload:   json.RawMessage(payload),
	}
	if err := w.repo.Insert(ctx, tx, row); err != nil {
		if isDuplicateEvent(err) {
			return nil
		}
		return fmt.Errorf("insert outbox event %s: %w", event.ID, err)
	}
	if w.logg != nil {
		w.logg.Info(w.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type.String(),
			"order_id":   event.OrderID,
		}), "outbox event queued")
	}
	return nil
}

func (w *Writer) Close() error { return nil }

// isDuplicateEvent reports an event id that is already queued.
func isDuplicateEvent(err error) bool {
	return dbpkg.IsUniqueViolation(err, "payment_outbox_events_event_id_key") ||
		dbpkg.IsUniqueViolation(err, "payment_outbox_events.event_id")
}
