package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/pagination"
)

// AttemptPage is one page of an order's payment attempts, newest first.
type AttemptPage struct {
	Attempts   []models.PaymentAttempt
	NextCursor string
}

// History pages through the payment attempts of an order.
type History interface {
	ListAttemptPage(ctx context.Context, orderID string, params pagination.Params) (AttemptPage, error)
}

type history struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) History {
	return &history{db: db}
}

func (h *history) ListAttemptPage(ctx context.Context, orderID string, params pagination.Params) (AttemptPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return AttemptPage{}, err
	}

	query := h.db.WithContext(ctx).Where("order_id = ?", orderID)
	if cursor != nil {
		query = query.Where("((opened_at < ?) OR (opened_at = ? AND id < ?))", cursor.At, cursor.At, cursor.ID)
	}

	var rows []models.PaymentAttempt
	err = query.
		Order("opened_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return AttemptPage{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment attempts")
	}

	attempts, next := pagination.Trim(rows, params.Limit, attemptCursor)
	return AttemptPage{Attempts: attempts, NextCursor: next}, nil
}

func attemptCursor(a models.PaymentAttempt) pagination.Cursor {
	return pagination.Cursor{At: a.OpenedAt, ID: a.ID}
}
