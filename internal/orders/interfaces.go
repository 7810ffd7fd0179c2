package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"gorm.io/gorm"
)

// Repository persists payment attempts and the orders handed back to the
// storefront when their payment window closes unpaid.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	RecordAttempt(ctx context.Context, attempt *models.PaymentAttempt) (*models.PaymentAttempt, error)
	FinishAttempt(ctx context.Context, providerOrderCode int64, outcome enums.PaymentPhase, errMsg *string, finishedAt time.Time) error
	ListAttempts(ctx context.Context, orderID string) ([]models.PaymentAttempt, error)
	MarkPaid(ctx context.Context, orderID string, providerOrderCode int64, transactionID *string, paidAt time.Time) error
	SavePending(ctx context.Context, pending *models.PendingPayment) error
	FindPending(ctx context.Context, orderID string) (*models.PendingPayment, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PendingPayment, error)
	DeletePending(ctx context.Context, orderID string) error
}
