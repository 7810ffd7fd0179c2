// Package polling runs the fixed-cadence verify loop for one provider order.
package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/storefront-payments/internal/clock"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
	"github.com/angelmondragon/storefront-payments/pkg/payos"
)

const DefaultInterval = 3 * time.Second

// Verifier is the read-only slice of the payment status client used here.
type Verifier interface {
	VerifyPayment(ctx context.Context, orderCode int64) (*payos.PaymentStatus, error)
}

// Update is delivered once per successful tick. Err is set only for
// non-transient failures, which also end the loop.
type Update struct {
	OrderCode int64
	Tick      int
	Status    *payos.PaymentStatus
	Err       error
}

type Params struct {
	Verifier Verifier
	Interval time.Duration
	Clock    clock.Clock
	Logger   *logger.Logger
	Metrics  *metrics.PaymentSessionMetrics
}

type Controller struct {
	verifier Verifier
	interval time.Duration
	clock    clock.Clock
	logg     *logger.Logger
	metrics  *metrics.PaymentSessionMetrics
}

func NewController(p Params) (*Controller, error) {
	if p.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if p.Interval < 0 {
		return nil, errors.New("interval must be positive")
	}
	if p.Interval == 0 {
		p.Interval = DefaultInterval
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	return &Controller{
		verifier: p.Verifier,
		interval: p.Interval,
		clock:    p.Clock,
		logg:     p.Logger,
		metrics:  p.Metrics,
	}, nil
}

// Handle controls one running loop. Stop is idempotent and safe to call from
// inside onUpdate.
type Handle struct {
	stopped atomic.Bool
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
	ticker  clock.Ticker
}

func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.stopped.Store(true)
		close(h.stop)
		h.ticker.Stop()
	})
}

// Stopped reports whether Stop was called or the loop ended on its own.
func (h *Handle) Stopped() bool {
	return h == nil || h.stopped.Load()
}

// Done is closed once the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start begins polling orderCode. The first verify is issued one interval
// after Start. ctx bounds in-flight requests; stopping the handle does not
// cancel a request already in progress, it only discards its result.
func (c *Controller) Start(ctx context.Context, orderCode int64, onUpdate func(Update)) *Handle {
	h := &Handle{
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		ticker: c.clock.NewTicker(c.interval),
	}
	go c.run(ctx, h, orderCode, onUpdate)
	return h
}

// Stop is equivalent to h.Stop.
func (c *Controller) Stop(h *Handle) {
	h.Stop()
}

func (c *Controller) run(ctx context.Context, h *Handle, orderCode int64, onUpdate func(Update)) {
	defer close(h.done)
	defer h.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		case <-h.ticker.C():
		}
		if h.Stopped() {
			return
		}

		started := c.clock.Now()
		status, err := c.verifier.VerifyPayment(ctx, orderCode)
		latency := c.clock.Now().Sub(started)

		if h.Stopped() {
			c.metrics.ObservePoll(metrics.PollOutcomeDiscarded, latency)
			return
		}

		if err != nil {
			if pkgerrors.IsTransient(err) {
				c.metrics.ObservePoll(metrics.PollOutcomeTransient, latency)
				c.warn(ctx, orderCode, tick, err)
				continue
			}
			c.metrics.ObservePoll(metrics.PollOutcomeError, latency)
			onUpdate(Update{OrderCode: orderCode, Tick: tick, Err: err})
			return
		}

		if status == nil {
			c.metrics.ObservePoll(metrics.PollOutcomeTransient, latency)
			continue
		}
		c.metrics.ObservePoll(metrics.PollOutcomeStatus, latency)
		onUpdate(Update{OrderCode: orderCode, Tick: tick, Status: status})
		if status.IsTerminal() {
			return
		}
	}
}

func (c *Controller) warn(ctx context.Context, orderCode int64, tick int, err error) {
	if c.logg == nil {
		return
	}
	ctx = c.logg.WithFields(ctx, map[string]any{
		"order_code": orderCode,
		"tick":       tick,
		"error":      err.Error(),
	})
	c.logg.Warn(ctx, "payment verify failed transiently; skipping tick")
}
