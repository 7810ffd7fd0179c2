package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-payments/internal/clock"
	"github.com/angelmondragon/storefront-payments/internal/orders"
	"github.com/angelmondragon/storefront-payments/internal/session"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/events"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
	"github.com/angelmondragon/storefront-payments/pkg/payos"
	"go.uber.org/multierr"
)

const defaultPersistTimeout = 5 * time.Second

// Locker guards one order's payment session across instances.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// LockFactory returns the lock for an order.
type LockFactory func(orderID string) (Locker, error)

// Service hosts the payment sessions of this instance, one per order.
type Service interface {
	StartPayment(ctx context.Context, orderID string, contact payos.CustomerContact) (session.Snapshot, error)
	Session(orderID string) (session.Snapshot, error)
	QRCode(orderID string) ([]byte, error)
	Cancel(ctx context.Context, orderID string) (session.Snapshot, error)
	Retry(ctx context.Context, orderID string) (session.Snapshot, error)
	Close(ctx context.Context, orderID string) error
	Shutdown(ctx context.Context) error
}

type ServiceParams struct {
	Gateway        session.Gateway
	Repo           orders.Repository
	Publisher      events.Publisher
	Locks          LockFactory
	Clock          clock.Clock
	Logger         *logger.Logger
	Metrics        *metrics.PaymentSessionMetrics
	Options        session.Options
	MaxSessions    int
	PersistTimeout time.Duration
}

type service struct {
	gateway        session.Gateway
	repo           orders.Repository
	publisher      events.Publisher
	locks          LockFactory
	clock          clock.Clock
	logg           *logger.Logger
	metrics        *metrics.PaymentSessionMetrics
	opts           session.Options
	maxSessions    int
	persistTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	orderID string
	ctrl    *session.Controller
	lock    Locker
	paid    bool
	// lockFor is the session the held lock belongs to. Empty while the lock
	// is free or claimed for a session that has not opened yet.
	lockFor string
}

// NewService builds the checkout payment service.
func NewService(p ServiceParams) (Service, error) {
	if p.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Publisher == nil {
		p.Publisher = events.NewLogPublisher(p.Logger)
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	if p.PersistTimeout <= 0 {
		p.PersistTimeout = defaultPersistTimeout
	}
	return &service{
		gateway:        p.Gateway,
		repo:           p.Repo,
		publisher:      p.Publisher,
		locks:          p.Locks,
		clock:          p.Clock,
		logg:           p.Logger,
		metrics:        p.Metrics,
		opts:           p.Options,
		maxSessions:    p.MaxSessions,
		persistTimeout: p.PersistTimeout,
		sessions:       make(map[string]*entry),
	}, nil
}

// StartPayment opens a payment session for orderID. When contact is empty
// the contact stored with a pending payment for the order is reused.
func (s *service) StartPayment(ctx context.Context, orderID string, contact payos.CustomerContact) (session.Snapshot, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return session.Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	s.mu.Lock()
	if existing, ok := s.sessions[orderID]; ok {
		if err := s.checkReplaceableLocked(existing); err != nil {
			s.mu.Unlock()
			return session.Snapshot{}, err
		}
		delete(s.sessions, orderID)
		s.mu.Unlock()
		s.teardown(ctx, existing)
		s.mu.Lock()
	}
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return session.Snapshot{}, pkgerrors.New(pkgerrors.CodeRateLimit, "too many open payment sessions")
	}
	e := &entry{orderID: orderID}
	s.sessions[orderID] = e
	s.mu.Unlock()

	snap, err := s.start(ctx, e, contact)
	if err != nil {
		s.mu.Lock()
		if s.sessions[orderID] == e {
			delete(s.sessions, orderID)
		}
		s.mu.Unlock()
		s.teardown(ctx, e)
		return snap, err
	}
	return snap, nil
}

func (s *service) checkReplaceableLocked(e *entry) error {
	if e.paid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
	}
	if e.ctrl == nil {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment session is starting")
	}
	if phase := e.ctrl.Snapshot().Phase; phase.IsActive() || phase == enums.PaymentPhaseConfirmed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment session already open").
			WithDetails(map[string]any{"phase": phase})
	}
	return nil
}

func (s *service) start(ctx context.Context, e *entry, contact payos.CustomerContact) (session.Snapshot, error) {
	if contact == (payos.CustomerContact{}) {
		if pending, err := s.repo.FindPending(ctx, e.orderID); err == nil {
			contact = payos.CustomerContact{
				Name:  pending.CustomerName,
				Email: pending.CustomerEmail,
				Phone: pending.CustomerPhone,
			}
		}
	}

	if err := s.acquire(ctx, e); err != nil {
		return session.Snapshot{}, err
	}

	ctrl, err := session.NewController(session.Params{
		Gateway:   s.gateway,
		Clock:     s.clock,
		Logger:    s.logg,
		Metrics:   s.metrics,
		Options:   s.opts,
		Callbacks: s.callbacks(e, contact),
	})
	if err != nil {
		return session.Snapshot{}, err
	}
	s.mu.Lock()
	e.ctrl = ctrl
	s.mu.Unlock()

	return ctrl.Start(ctx, e.orderID, contact)
}

func (s *service) acquire(ctx context.Context, e *entry) error {
	if s.locks == nil {
		return nil
	}
	if e.lock == nil {
		lock, err := s.locks(e.orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build payment session lock")
		}
		e.lock = lock
	}
	ok, err := e.lock.Acquire(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire payment session lock")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment session for this order is active elsewhere")
	}
	s.mu.Lock()
	e.lockFor = ""
	s.mu.Unlock()
	return e.lock.Refresh(ctx)
}

func (s *service) release(ctx context.Context, e *entry) error {
	if e.lock == nil {
		return nil
	}
	s.mu.Lock()
	e.lockFor = ""
	s.mu.Unlock()
	return e.lock.Release(ctx)
}

// bindLock hands the held lock to the session that just opened.
func (s *service) bindLock(e *entry, sessionID string) {
	s.mu.Lock()
	e.lockFor = sessionID
	s.mu.Unlock()
}

// releaseFor frees the lock only while it still belongs to sessionID, so a
// late callback from a finished session cannot drop the lock a retry holds.
func (s *service) releaseFor(ctx context.Context, e *entry, sessionID string) error {
	if e.lock == nil || sessionID == "" {
		return nil
	}
	s.mu.Lock()
	owned := e.lockFor == sessionID
	s.mu.Unlock()
	if !owned {
		return nil
	}
	return s.release(ctx, e)
}

func (s *service) Session(orderID string) (session.Snapshot, error) {
	e, err := s.lookup(orderID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return e.ctrl.Snapshot(), nil
}

func (s *service) QRCode(orderID string) ([]byte, error) {
	e, err := s.lookup(orderID)
	if err != nil {
		return nil, err
	}
	return e.ctrl.QRCode()
}

func (s *service) Cancel(ctx context.Context, orderID string) (session.Snapshot, error) {
	e, err := s.lookup(orderID)
	if err != nil {
		return session.Snapshot{}, err
	}
	if phase := e.ctrl.Snapshot().Phase; !phase.IsActive() {
		return session.Snapshot{}, pkgerrors.New(pkgerrors.CodeStateConflict, "payment session is not open").
			WithDetails(map[string]any{"phase": phase})
	}
	e.ctrl.Cancel()
	return e.ctrl.Snapshot(), nil
}

// Retry opens a new attempt for orderID. An order unknown to this instance
// is resumed from its pending payment record.
func (s *service) Retry(ctx context.Context, orderID string) (session.Snapshot, error) {
	e, err := s.lookup(orderID)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		if _, findErr := s.repo.FindPending(ctx, orderID); findErr != nil {
			return session.Snapshot{}, findErr
		}
		return s.StartPayment(ctx, orderID, payos.CustomerContact{})
	}
	if err != nil {
		return session.Snapshot{}, err
	}
	s.mu.Lock()
	paid := e.paid
	s.mu.Unlock()
	if paid {
		return session.Snapshot{}, pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
	}

	// A refused retry must not touch the lock the open session holds.
	if err := e.ctrl.CheckRetry(); err != nil {
		return session.Snapshot{}, err
	}
	if err := s.acquire(ctx, e); err != nil {
		return session.Snapshot{}, err
	}
	snap, err := e.ctrl.Retry(ctx)
	if err != nil && !e.ctrl.Busy() {
		if relErr := s.release(ctx, e); relErr != nil {
			s.logError(ctx, orderID, "release payment session lock", relErr)
		}
	}
	return snap, err
}

func (s *service) Close(ctx context.Context, orderID string) error {
	s.mu.Lock()
	e, ok := s.sessions[orderID]
	if ok && e.ctrl != nil {
		delete(s.sessions, orderID)
	}
	s.mu.Unlock()
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
	}
	if e.ctrl == nil {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment session is starting")
	}
	return s.teardown(ctx, e)
}

// Shutdown closes every session hosted here and releases their locks.
func (s *service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	all := make([]*entry, 0, len(s.sessions))
	for id, e := range s.sessions {
		all = append(all, e)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	var errs error
	for _, e := range all {
		errs = multierr.Append(errs, s.teardown(ctx, e))
	}
	return errs
}

func (s *service) teardown(ctx context.Context, e *entry) error {
	if e.ctrl != nil {
		e.ctrl.Close()
	}
	if err := s.release(ctx, e); err != nil {
		return fmt.Errorf("order %s: %w", e.orderID, err)
	}
	return nil
}

func (s *service) lookup(orderID string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[orderID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
	}
	if e.ctrl == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment session is starting")
	}
	return e, nil
}

func (s *service) logError(ctx context.Context, orderID, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithOrderID(ctx, orderID), msg, err)
}
