package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
)

type dlqAdmin interface {
	List(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID string) (*models.OutboxDLQ, error)
}

// adminCommand is a one-shot operation selected by flags instead of running
// the relay loop.
type adminCommand struct {
	ListDLQ bool
	Limit   int
	Requeue string
}

func (c adminCommand) requested() bool {
	return c.ListDLQ || strings.TrimSpace(c.Requeue) != ""
}

type dlqLine struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	OrderID      string    `json:"order_id"`
	Reason       string    `json:"reason"`
	Error        string    `json:"error,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	FailedAt     time.Time `json:"failed_at"`
}

func runAdmin(ctx context.Context, cmd adminCommand, dlq dlqAdmin, out io.Writer, logg *logger.Logger) error {
	if id := strings.TrimSpace(cmd.Requeue); id != "" {
		entry, err := dlq.Requeue(ctx, id)
		if err != nil {
			return err
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"event_id":   entry.EventID,
			"event_type": entry.EventType,
			"order_id":   entry.OrderID,
		}), "outbox.dlq.requeued")
		return nil
	}

	rows, err := dlq.List(ctx, cmd.Limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, row := range rows {
		line := dlqLine{
			EventID:      row.EventID,
			EventType:    string(row.EventType),
			OrderID:      row.OrderID,
			Reason:       row.ErrorReason.String(),
			AttemptCount: row.AttemptCount,
			FailedAt:     row.FailedAt,
		}
		if row.ErrorMessage != nil {
			line.Error = *row.ErrorMessage
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}
