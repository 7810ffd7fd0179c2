// Package session drives one order's payment attempts through the
// IDLE → OPEN → POLLING → outcome → CLOSED lifecycle.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-payments/internal/clock"
	"github.com/angelmondragon/storefront-payments/internal/countdown"
	"github.com/angelmondragon/storefront-payments/internal/polling"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
	"github.com/angelmondragon/storefront-payments/pkg/payos"
	"github.com/angelmondragon/storefront-payments/pkg/qrcode"
	"github.com/google/uuid"
)

const (
	DefaultSuccessDelay = 1500 * time.Millisecond
	DefaultCancelReason = "User cancelled payment"
)

// Gateway is the payment status client surface used by a session.
type Gateway interface {
	CreatePayment(ctx context.Context, orderID string, contact payos.CustomerContact) (*payos.PaymentIntent, error)
	VerifyPayment(ctx context.Context, orderCode int64) (*payos.PaymentStatus, error)
	CancelPayment(ctx context.Context, orderCode int64, reason string) error
}

// Callbacks are invoked outside the controller lock, one at a time, in the
// order the transitions happened. Any of them may be nil.
type Callbacks struct {
	OnSuccess   func(orderCode int64)
	OnTimeout   func(intent payos.PaymentIntent)
	OnCancelled func()
	OnError     func(message string)
	OnPhase     func(snapshot Snapshot)
}

type Options struct {
	PollInterval  time.Duration
	WindowSeconds int
	SuccessDelay  time.Duration
	// ExpiryGrace bounds the last verify issued when the countdown hits
	// zero. Zero expires without a final check.
	ExpiryGrace  time.Duration
	CancelReason string
	QRSize       int
}

type Params struct {
	Gateway   Gateway
	Clock     clock.Clock
	Logger    *logger.Logger
	Metrics   *metrics.PaymentSessionMetrics
	Options   Options
	Callbacks Callbacks
	NewID     func() string
}

// Snapshot is a read-only copy of the session for callers and the API.
type Snapshot struct {
	SessionID        string               `json:"session_id,omitempty"`
	OrderID          string               `json:"order_id"`
	Attempt          int                  `json:"attempt"`
	Phase            enums.PaymentPhase   `json:"phase"`
	Intent           *payos.PaymentIntent `json:"intent,omitempty"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	LastStatus       *payos.PaymentStatus `json:"last_status,omitempty"`
	Error            string               `json:"error,omitempty"`
	QRCodePNG        []byte               `json:"-"`
	QRAvailable      bool                 `json:"qr_available"`
	QRError          string               `json:"qr_error,omitempty"`
}

type Controller struct {
	gateway   Gateway
	poller    *polling.Controller
	governor  *countdown.Governor
	clock     clock.Clock
	logg      *logger.Logger
	metrics   *metrics.PaymentSessionMetrics
	opts      Options
	callbacks Callbacks
	newID     func() string
	notify    notifier

	mu           sync.Mutex
	state        State
	orderID      string
	contact      payos.CustomerContact
	attempt      int
	confirmed    bool
	creating     bool
	abandoned    bool
	baseCtx      context.Context
	qrPNG        []byte
	qrErr        error
	inbox        *inbox
	poll         *polling.Handle
	countdown    *countdown.Handle
	successTimer clock.Timer
}

func NewController(p Params) (*Controller, error) {
	if p.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	if p.NewID == nil {
		p.NewID = uuid.NewString
	}
	opts := p.Options
	if opts.WindowSeconds <= 0 {
		opts.WindowSeconds = countdown.DefaultWindowSeconds
	}
	if opts.SuccessDelay < 0 {
		opts.SuccessDelay = 0
	}
	if opts.CancelReason == "" {
		opts.CancelReason = DefaultCancelReason
	}
	if opts.QRSize <= 0 {
		opts.QRSize = qrcode.DefaultSize
	}

	poller, err := polling.NewController(polling.Params{
		Verifier: p.Gateway,
		Interval: opts.PollInterval,
		Clock:    p.Clock,
		Logger:   p.Logger,
		Metrics:  p.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Controller{
		gateway:   p.Gateway,
		poller:    poller,
		governor:  countdown.NewGovernor(p.Clock),
		clock:     p.Clock,
		logg:      p.Logger,
		metrics:   p.Metrics,
		opts:      opts,
		callbacks: p.Callbacks,
		newID:     p.NewID,
		state:     State{Phase: enums.PaymentPhaseIdle},
		baseCtx:   context.Background(),
	}, nil
}

// Start creates a provider payment for orderID and opens a session on it.
// A ProviderError from creation is returned and leaves the controller IDLE.
func (c *Controller) Start(ctx context.Context, orderID string, contact payos.CustomerContact) (Snapshot, error) {
	c.mu.Lock()
	if err := c.checkCanCreateLocked(); err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	if c.state.Phase.IsTerminal() {
		c.mu.Unlock()
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeStateConflict, "close the current payment session before starting another")
	}
	c.orderID = orderID
	c.contact = contact
	c.creating = true
	c.mu.Unlock()

	return c.createAndOpen(ctx)
}

// Retry closes a finished session and opens a new one on a freshly created
// provider order. It is refused while a session is open or once paid.
func (c *Controller) Retry(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if err := c.checkRetryLocked(); err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	c.creating = true
	if c.state.Phase.IsTerminal() {
		c.applyLocked(EventClose{Session: c.state.SessionID})
	}
	c.mu.Unlock()
	c.notify.drain()

	return c.createAndOpen(ctx)
}

// CheckRetry reports whether Retry would currently be refused, without
// touching the session.
func (c *Controller) CheckRetry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkRetryLocked()
}

// Busy reports whether a session is open or a provider payment is being
// created for one.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creating || c.state.Phase.IsActive()
}

func (c *Controller) checkRetryLocked() error {
	if err := c.checkCanCreateLocked(); err != nil {
		return err
	}
	if c.orderID == "" {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no payment attempt to retry")
	}
	return nil
}

func (c *Controller) checkCanCreateLocked() error {
	switch {
	case c.creating:
		return pkgerrors.New(pkgerrors.CodeConflict, "payment creation already in progress")
	case c.confirmed:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already confirmed")
	case c.state.Phase.IsActive():
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment session already open").
			WithDetails(map[string]any{"phase": c.state.Phase})
	}
	return nil
}

// createAndOpen runs with creating already set by the caller, in the same
// critical section that checked it.
func (c *Controller) createAndOpen(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	orderID, contact := c.orderID, c.contact
	c.mu.Unlock()

	intent, err := c.gateway.CreatePayment(ctx, orderID, contact)
	if err != nil {
		c.mu.Lock()
		c.creating = false
		c.abandoned = false
		c.state.Err = err
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.logError(ctx, "payment creation failed", err)
		return snap, err
	}

	snap, err := c.open(ctx, *intent, true)
	if err != nil {
		// The provider order exists but no session owns it.
		c.remoteCancel(context.WithoutCancel(ctx), intent.ProviderOrderCode)
	}
	return snap, err
}

// Open starts a session for an already created intent: polling and the
// countdown begin immediately. Cancellation of ctx does not end the session.
func (c *Controller) Open(ctx context.Context, intent payos.PaymentIntent) (Snapshot, error) {
	return c.open(ctx, intent, false)
}

func (c *Controller) open(ctx context.Context, intent payos.PaymentIntent, created bool) (Snapshot, error) {
	png, qrErr := qrcode.RenderPNG(intent.QRPayload, c.opts.QRSize)

	c.mu.Lock()
	if created {
		c.creating = false
		if c.abandoned {
			c.abandoned = false
			c.mu.Unlock()
			return Snapshot{}, pkgerrors.New(pkgerrors.CodeStateConflict, "payment session closed while the payment was being created")
		}
	} else if c.creating {
		c.mu.Unlock()
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeConflict, "payment creation already in progress")
	}
	prev := c.state
	next, effects, err := Reduce(c.state, EventOpen{
		Session:       c.newID(),
		Intent:        intent,
		WindowSeconds: c.opts.WindowSeconds,
		At:            c.clock.Now(),
	})
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}

	if intent.OrderID != "" {
		c.orderID = intent.OrderID
	}
	c.attempt++
	c.baseCtx = context.WithoutCancel(ctx)
	c.qrPNG, c.qrErr = png, qrErr
	c.inbox = newInbox()
	go c.loop(c.inbox)
	c.metrics.SessionOpened()

	if qrErr != nil {
		c.warn(ctx, "qr render failed; falling back to payment link", qrErr)
	}

	c.commitLocked(prev, next, effects)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify.drain()
	return snap, nil
}

// Cancel moves an open session to CANCELLED and asks the provider to cancel
// the order. A failed remote cancel is logged, never returned.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.applyLocked(EventCancel{Session: c.state.SessionID})
	c.mu.Unlock()
	c.notify.drain()
}

// Close tears the session down. A success still waiting for its display
// delay is delivered immediately. Callbacks queued by Close run in order,
// either before Close returns or, when Close is called from inside a
// callback, on the goroutine already delivering them once that callback
// returns. No callback is queued for the session after Close.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.creating {
		c.abandoned = true
	}
	c.applyLocked(EventClose{Session: c.state.SessionID})
	c.mu.Unlock()
	c.notify.drain()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// QRCode returns the rendered QR PNG of the current intent.
func (c *Controller) QRCode() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Intent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment intent")
	}
	if c.qrErr != nil {
		return nil, c.qrErr
	}
	return c.qrPNG, nil
}

func (c *Controller) loop(box *inbox) {
	for {
		select {
		case <-box.quit:
			return
		case <-box.signal:
		}
		events := box.drain()
		if len(events) == 0 {
			continue
		}

		c.mu.Lock()
		if c.inbox != box {
			c.mu.Unlock()
			return
		}
		prev := c.state
		next, effects := ReduceBatch(c.state, events)
		c.commitLocked(prev, next, effects)
		c.mu.Unlock()
		c.notify.drain()
	}
}

func (c *Controller) applyLocked(ev Event) {
	prev := c.state
	next, effects, err := Reduce(c.state, ev)
	if err != nil {
		return
	}
	c.commitLocked(prev, next, effects)
}

func (c *Controller) commitLocked(prev, next State, effects []Effect) {
	c.state = next
	if prev.Phase != next.Phase {
		c.observeTransitionLocked(prev, next)
	}
	for _, eff := range effects {
		c.executeLocked(eff)
	}
	if c.state.Finished() && c.inbox != nil {
		c.inbox.close()
	}
}

func (c *Controller) observeTransitionLocked(prev, next State) {
	c.metrics.ObserveTransition(next.Phase.String())
	if prev.Phase.IsActive() && !next.Phase.IsActive() {
		c.metrics.SessionFinished(next.Phase.String(), c.clock.Now().Sub(next.OpenedAt))
	}
	if next.Phase == enums.PaymentPhaseConfirmed {
		c.confirmed = true
	}
	if c.logg == nil {
		return
	}
	ctx := c.logg.WithFields(c.baseCtx, map[string]any{
		"session_id": next.SessionID,
		"order_id":   c.orderID,
		"order_code": orderCodeOf(next.Intent),
		"from_phase": prev.Phase.String(),
		"to_phase":   next.Phase.String(),
	})
	c.logg.Info(ctx, "payment session transition")
}

func (c *Controller) executeLocked(eff Effect) {
	sid := c.state.SessionID
	box := c.inbox

	switch e := eff.(type) {
	case EffectStartTimers:
		c.poll = c.poller.Start(c.baseCtx, e.OrderCode, func(u polling.Update) {
			if u.Err != nil {
				box.post(EventPollError{Session: sid, Err: u.Err})
				return
			}
			box.post(EventStatus{Session: sid, Status: u.Status})
		})
		c.countdown = c.governor.Start(e.WindowSeconds,
			func(remaining int) { box.post(EventTick{Session: sid, Remaining: remaining}) },
			func() { box.post(EventDeadline{Session: sid}) },
		)
		c.applyLocked(EventStarted{Session: sid})

	case EffectStopTimers:
		c.poll.Stop()
		c.countdown.Stop()
		if c.successTimer != nil {
			c.successTimer.Stop()
			c.successTimer = nil
		}

	case EffectScheduleSuccess:
		if c.opts.SuccessDelay == 0 {
			box.post(EventSuccessDue{Session: sid})
			return
		}
		c.successTimer = c.clock.AfterFunc(c.opts.SuccessDelay, func() {
			box.post(EventSuccessDue{Session: sid})
		})

	case EffectFinalCheck:
		if c.opts.ExpiryGrace <= 0 {
			box.post(EventExpire{Session: sid})
			return
		}
		go c.finalCheck(c.baseCtx, box, sid, e.OrderCode)

	case EffectRemoteCancel:
		ctx := c.baseCtx
		c.notify.enqueue(func() { c.remoteCancel(ctx, e.OrderCode) })

	case EffectNotifySuccess:
		if fn := c.callbacks.OnSuccess; fn != nil {
			c.notify.enqueue(func() { fn(e.OrderCode) })
		}

	case EffectNotifyTimeout:
		if fn := c.callbacks.OnTimeout; fn != nil {
			c.notify.enqueue(func() { fn(e.Intent) })
		}

	case EffectNotifyCancelled:
		if fn := c.callbacks.OnCancelled; fn != nil {
			c.notify.enqueue(fn)
		}

	case EffectNotifyError:
		if fn := c.callbacks.OnError; fn != nil {
			c.notify.enqueue(func() { fn(e.Message) })
		}

	case EffectNotifyPhase:
		if fn := c.callbacks.OnPhase; fn != nil {
			snap := c.snapshotLocked()
			snap.Phase = e.Phase
			c.notify.enqueue(func() { fn(snap) })
		}
	}
}

// finalCheck gives a payment made in the last seconds one more chance to be
// observed before the session expires. The status, if terminal, is posted
// ahead of the expiry so it is applied first.
func (c *Controller) finalCheck(ctx context.Context, box *inbox, sid string, orderCode int64) {
	checkCtx, cancel := context.WithTimeout(ctx, c.opts.ExpiryGrace)
	defer cancel()

	status, err := c.gateway.VerifyPayment(checkCtx, orderCode)
	switch {
	case err != nil:
		c.warn(ctx, "final payment check failed before expiry", err)
	case status.IsTerminal():
		box.post(EventStatus{Session: sid, Status: status})
	}
	box.post(EventExpire{Session: sid})
}

func (c *Controller) remoteCancel(ctx context.Context, orderCode int64) {
	err := c.gateway.CancelPayment(ctx, orderCode, c.opts.CancelReason)
	c.metrics.ObserveRemoteCancel(err == nil)
	if err == nil {
		return
	}
	cancelErr := pkgerrors.Wrap(pkgerrors.CodeCancellation, err, "remote payment cancel failed")
	if c.logg != nil {
		ctx = c.logg.WithOrderCode(ctx, orderCode)
	}
	c.logError(ctx, "best-effort payment cancel failed", cancelErr)
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:        c.state.SessionID,
		OrderID:          c.orderID,
		Attempt:          c.attempt,
		Phase:            c.state.Phase,
		RemainingSeconds: c.state.RemainingSeconds,
		LastStatus:       c.state.LastStatus,
		QRCodePNG:        c.qrPNG,
		QRAvailable:      c.state.Intent != nil && c.qrErr == nil,
	}
	if c.state.Intent != nil {
		intent := *c.state.Intent
		snap.Intent = &intent
	}
	if c.state.Err != nil {
		snap.Error = publicMessage(c.state.Err)
	}
	if c.qrErr != nil {
		snap.QRError = publicMessage(c.qrErr)
	}
	return snap
}

func (c *Controller) warn(ctx context.Context, msg string, err error) {
	if c.logg == nil {
		return
	}
	ctx = c.logg.WithField(ctx, "error", err.Error())
	c.logg.Warn(ctx, msg)
}

func (c *Controller) logError(ctx context.Context, msg string, err error) {
	if c.logg == nil {
		return
	}
	c.logg.Error(ctx, msg, err)
}

func publicMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}

func orderCodeOf(intent *payos.PaymentIntent) int64 {
	if intent == nil {
		return 0
	}
	return intent.ProviderOrderCode
}
