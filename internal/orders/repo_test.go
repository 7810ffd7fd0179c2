package orders

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	attempts := `
CREATE TABLE IF NOT EXISTS payment_attempts (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  session_id TEXT NOT NULL,
  provider_order_code INTEGER NOT NULL UNIQUE,
  amount INTEGER NOT NULL,
  payment_link TEXT,
  outcome TEXT NOT NULL DEFAULT 'OPEN',
  transaction_id TEXT,
  error_message TEXT,
  opened_at DATETIME NOT NULL,
  finished_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	pending := `
CREATE TABLE IF NOT EXISTS pending_payments (
  order_id TEXT PRIMARY KEY,
  provider_order_code INTEGER NOT NULL,
  amount INTEGER NOT NULL,
  payment_link TEXT,
  qr_payload TEXT,
  customer_name TEXT,
  customer_email TEXT,
  customer_phone TEXT,
  expired_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(attempts).Error)
	require.NoError(t, db.Exec(pending).Error)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newAttempt(orderID string, code int64, openedAt time.Time) *models.PaymentAttempt {
	return &models.PaymentAttempt{
		OrderID:           orderID,
		SessionID:         fmt.Sprintf("sess-%d", code),
		ProviderOrderCode: code,
		Amount:            150000,
		PaymentLink:       fmt.Sprintf("https://pay.test/%d", code),
		OpenedAt:          openedAt,
	}
}

func TestRecordAttemptAssignsDefaults(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	ctx := context.Background()
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	attempt, err := repo.RecordAttempt(ctx, newAttempt("ord-1", 100, opened))
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", attempt.ID.String())
	assert.Equal(t, enums.PaymentPhaseOpen, attempt.Outcome)

	_, err = repo.RecordAttempt(ctx, newAttempt("ord-1", 100, opened))
	require.Error(t, err, "provider order codes are unique")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestFinishAttemptAndList(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	ctx := context.Background()
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.RecordAttempt(ctx, newAttempt("ord-1", 100, opened))
	require.NoError(t, err)
	_, err = repo.RecordAttempt(ctx, newAttempt("ord-1", 101, opened.Add(20*time.Minute)))
	require.NoError(t, err)

	msg := "Payment failed. Please retry or return to your order."
	require.NoError(t, repo.FinishAttempt(ctx, 100, enums.PaymentPhaseFailed, &msg, opened.Add(time.Minute)))

	attempts, err := repo.ListAttempts(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, int64(100), attempts[0].ProviderOrderCode)
	assert.Equal(t, enums.PaymentPhaseFailed, attempts[0].Outcome)
	require.NotNil(t, attempts[0].ErrorMessage)
	assert.Equal(t, msg, *attempts[0].ErrorMessage)
	require.NotNil(t, attempts[0].FinishedAt)
	assert.Equal(t, enums.PaymentPhaseOpen, attempts[1].Outcome)
}

func TestMarkPaidClearsPending(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	ctx := context.Background()
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.RecordAttempt(ctx, newAttempt("ord-1", 200, opened))
	require.NoError(t, err)
	require.NoError(t, repo.SavePending(ctx, &models.PendingPayment{
		OrderID:           "ord-1",
		ProviderOrderCode: 199,
		Amount:            150000,
		ExpiredAt:         opened.Add(-time.Hour),
	}))

	tx := "tx-1"
	require.NoError(t, repo.MarkPaid(ctx, "ord-1", 200, &tx, opened.Add(2*time.Minute)))

	attempts, err := repo.ListAttempts(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, enums.PaymentPhaseConfirmed, attempts[0].Outcome)
	require.NotNil(t, attempts[0].TransactionID)
	assert.Equal(t, "tx-1", *attempts[0].TransactionID)

	_, err = repo.FindPending(ctx, "ord-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMarkPaidUnknownAttempt(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	err := repo.MarkPaid(context.Background(), "ord-1", 999, nil, time.Now().UTC())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSavePendingUpserts(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	ctx := context.Background()
	expired := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	require.NoError(t, repo.SavePending(ctx, &models.PendingPayment{
		OrderID: "ord-1", ProviderOrderCode: 1, Amount: 5, CustomerEmail: "an@example.com", ExpiredAt: expired,
	}))
	require.NoError(t, repo.SavePending(ctx, &models.PendingPayment{
		OrderID: "ord-1", ProviderOrderCode: 2, Amount: 5, CustomerEmail: "an@example.com", ExpiredAt: expired.Add(time.Hour),
	}))

	pending, err := repo.FindPending(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending.ProviderOrderCode)
	assert.True(t, pending.ExpiredAt.Equal(expired.Add(time.Hour)))

	err = repo.SavePending(ctx, &models.PendingPayment{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestListPendingBeforeAndDelete(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"ord-c", "ord-a", "ord-b", "ord-new"} {
		offset := time.Duration(i) * time.Hour
		if id == "ord-new" {
			offset = 48 * time.Hour
		}
		require.NoError(t, repo.SavePending(ctx, &models.PendingPayment{
			OrderID: id, ProviderOrderCode: int64(i + 1), Amount: 1, ExpiredAt: base.Add(offset),
		}))
	}

	stale, err := repo.ListPendingBefore(ctx, base.Add(24*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "ord-c", stale[0].OrderID)
	assert.Equal(t, "ord-a", stale[1].OrderID)

	require.NoError(t, repo.DeletePending(ctx, "ord-c"))
	stale, err = repo.ListPendingBefore(ctx, base.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "ord-a", stale[0].OrderID)
	assert.Equal(t, "ord-b", stale[1].OrderID)
}

func TestWithTxRollsBack(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := repo.WithTx(tx).RecordAttempt(ctx, newAttempt("ord-1", 300, time.Now().UTC())); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	attempts, err := repo.ListAttempts(ctx, "ord-1")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}
