package orders

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) RecordAttempt(ctx context.Context, attempt *models.PaymentAttempt) (*models.PaymentAttempt, error) {
	if attempt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment attempt is required")
	}
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.Outcome == "" {
		attempt.Outcome = enums.PaymentPhaseOpen
	}
	if err := r.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment attempt")
	}
	return attempt, nil
}

func (r *repository) FinishAttempt(ctx context.Context, providerOrderCode int64, outcome enums.PaymentPhase, errMsg *string, finishedAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("provider_order_code = ?", providerOrderCode).
		Updates(map[string]any{
			"outcome":       outcome,
			"error_message": errMsg,
			"finished_at":   finishedAt,
		}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finish payment attempt")
	}
	return nil
}

func (r *repository) ListAttempts(ctx context.Context, orderID string) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("opened_at ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment attempts")
	}
	return attempts, nil
}

// MarkPaid settles the attempt and drops any pending hand-off for the order.
func (r *repository) MarkPaid(ctx context.Context, orderID string, providerOrderCode int64, transactionID *string, paidAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentAttempt{}).
			Where("provider_order_code = ?", providerOrderCode).
			Updates(map[string]any{
				"outcome":        enums.PaymentPhaseConfirmed,
				"transaction_id": transactionID,
				"error_message":  nil,
				"finished_at":    paidAt,
			})
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark attempt paid")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found").
				WithDetails(map[string]any{"provider_order_code": providerOrderCode})
		}
		if err := tx.Where("order_id = ?", orderID).Delete(&models.PendingPayment{}).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear pending payment")
		}
		return nil
	})
}

// SavePending upserts the pending hand-off for an order.
func (r *repository) SavePending(ctx context.Context, pending *models.PendingPayment) error {
	if pending == nil || pending.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "pending payment requires an order id")
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"provider_order_code", "amount", "payment_link", "qr_payload",
				"customer_name", "customer_email", "customer_phone", "expired_at", "updated_at",
			}),
		}).
		Create(pending).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save pending payment")
	}
	return nil
}

func (r *repository) FindPending(ctx context.Context, orderID string) (*models.PendingPayment, error) {
	var pending models.PendingPayment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&pending).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pending payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find pending payment")
	}
	return &pending, nil
}

// ListPendingBefore returns the oldest pending payments that expired before
// cutoff.
func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PendingPayment, error) {
	var pending []models.PendingPayment
	q := r.db.WithContext(ctx).
		Where("expired_at < ?", cutoff).
		Order("expired_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&pending).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payments")
	}
	return pending, nil
}

func (r *repository) DeletePending(ctx context.Context, orderID string) error {
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&models.PendingPayment{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete pending payment")
	}
	return nil
}
