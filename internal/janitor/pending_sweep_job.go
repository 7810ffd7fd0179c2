package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-payments/internal/clock"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/events"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
	"go.uber.org/multierr"
)

const (
	pendingSweepJobName   = "pending_payment_sweep"
	defaultPendingTTL     = 24 * time.Hour
	defaultSweepBatchSize = 100
	abandonReason         = "Payment abandoned"
)

type pendingRepository interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PendingPayment, error)
	DeletePending(ctx context.Context, orderID string) error
}

type orderCanceller interface {
	CancelPayment(ctx context.Context, orderCode int64, reason string) error
}

// PendingSweepJobParams configures the stale pending payment sweep.
type PendingSweepJobParams struct {
	Logger       *logger.Logger
	Repo         pendingRepository
	Gateway      orderCanceller
	Publisher    events.Publisher
	Metrics      *metrics.JobMetrics
	Clock        clock.Clock
	PendingTTL   time.Duration
	BatchSize    int
	CancelReason string
}

// NewPendingSweepJob abandons pending payments whose window closed more than
// PendingTTL ago: the provider order is cancelled when possible, the record is
// deleted and payment.pending_abandoned is published.
func NewPendingSweepJob(params PendingSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("pending payment repository required")
	}
	if params.Publisher == nil {
		params.Publisher = events.NewLogPublisher(params.Logger)
	}
	if params.Clock == nil {
		params.Clock = clock.Real()
	}
	if params.PendingTTL <= 0 {
		params.PendingTTL = defaultPendingTTL
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultSweepBatchSize
	}
	if params.CancelReason == "" {
		params.CancelReason = abandonReason
	}
	return &pendingSweepJob{
		logg:      params.Logger,
		repo:      params.Repo,
		gateway:   params.Gateway,
		publisher: params.Publisher,
		metrics:   params.Metrics,
		clock:     params.Clock,
		ttl:       params.PendingTTL,
		batchSize: params.BatchSize,
		reason:    params.CancelReason,
	}, nil
}

type pendingSweepJob struct {
	logg      *logger.Logger
	repo      pendingRepository
	gateway   orderCanceller
	publisher events.Publisher
	metrics   *metrics.JobMetrics
	clock     clock.Clock
	ttl       time.Duration
	batchSize int
	reason    string
}

func (j *pendingSweepJob) Name() string { return pendingSweepJobName }

func (j *pendingSweepJob) Run(ctx context.Context) error {
	cutoff := j.clock.Now().UTC().Add(-j.ttl)
	stale, err := j.repo.ListPendingBefore(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale pending payments: %w", err)
	}

	var errs error
	abandoned, cancelFailed := 0, 0
	for _, pending := range stale {
		if !j.cancelAtProvider(ctx, pending) {
			cancelFailed++
		}
		if err := j.repo.DeletePending(ctx, pending.OrderID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete pending %s: %w", pending.OrderID, err))
			continue
		}
		j.publish(ctx, pending)
		abandoned++
	}

	j.metrics.AddProcessed(pendingSweepJobName, "abandoned", abandoned)
	j.metrics.AddProcessed(pendingSweepJobName, "cancel_failed", cancelFailed)
	j.metrics.AddProcessed(pendingSweepJobName, "failed", len(multierr.Errors(errs)))

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":        cutoff,
		"found":         len(stale),
		"abandoned":     abandoned,
		"cancel_failed": cancelFailed,
	})
	j.logg.Info(logCtx, "pending payment sweep complete")
	return errs
}

// cancelAtProvider is best effort; the order may already be gone upstream.
func (j *pendingSweepJob) cancelAtProvider(ctx context.Context, pending models.PendingPayment) bool {
	if j.gateway == nil || pending.ProviderOrderCode == 0 {
		return true
	}
	if err := j.gateway.CancelPayment(ctx, pending.ProviderOrderCode, j.reason); err != nil {
		logCtx := j.logg.WithOrderCode(j.logg.WithOrderID(ctx, pending.OrderID), pending.ProviderOrderCode)
		j.logg.Warn(j.logg.WithField(logCtx, "error", err.Error()), "cancel of abandoned payment failed")
		return false
	}
	return true
}

func (j *pendingSweepJob) publish(ctx context.Context, pending models.PendingPayment) {
	event := events.New(enums.PaymentEventPendingAbandoned, events.SessionPayload{
		OrderID:           pending.OrderID,
		ProviderOrderCode: pending.ProviderOrderCode,
		Amount:            pending.Amount,
		Phase:             enums.PaymentPhaseExpired,
		Message:           j.reason,
	}, j.clock.Now())
	if err := j.publisher.Publish(ctx, event); err != nil {
		j.logg.Error(j.logg.WithOrderID(ctx, pending.OrderID), "publish pending abandoned event", err)
	}
}
