package checkout

import (
	"context"

	"github.com/angelmondragon/storefront-payments/internal/session"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/events"
	"github.com/angelmondragon/storefront-payments/pkg/payos"
)

// callbacks hands session outcomes to the order store and the event stream.
// Persistence and publishing failures are logged; they never change the
// session.
func (s *service) callbacks(e *entry, contact payos.CustomerContact) session.Callbacks {
	return session.Callbacks{
		OnPhase:     func(snap session.Snapshot) { s.onPhase(e, snap) },
		OnSuccess:   func(orderCode int64) { s.onSuccess(e, orderCode) },
		OnTimeout:   func(intent payos.PaymentIntent) { s.onTimeout(e, intent, contact) },
		OnCancelled: func() { s.onCancelled(e) },
		OnError:     func(message string) { s.onError(e, message) },
	}
}

func (s *service) onPhase(e *entry, snap session.Snapshot) {
	ctx, cancel := s.persistCtx()
	defer cancel()

	switch snap.Phase {
	case enums.PaymentPhaseOpen:
		s.bindLock(e, snap.SessionID)
		if snap.Intent == nil {
			return
		}
		_, err := s.repo.RecordAttempt(ctx, &models.PaymentAttempt{
			OrderID:           e.orderID,
			SessionID:         snap.SessionID,
			ProviderOrderCode: snap.Intent.ProviderOrderCode,
			Amount:            snap.Intent.Amount,
			PaymentLink:       snap.Intent.PaymentLink,
			OpenedAt:          s.clock.Now().UTC(),
		})
		if err != nil {
			s.logError(ctx, e.orderID, "record payment attempt", err)
		}
		s.publish(ctx, enums.PaymentEventSessionOpened, payload(e.orderID, snap, ""))

	case enums.PaymentPhaseCancelled, enums.PaymentPhaseFailed, enums.PaymentPhaseExpired:
		var errMsg *string
		if snap.Error != "" {
			msg := snap.Error
			errMsg = &msg
		}
		if err := s.repo.FinishAttempt(ctx, orderCode(snap), snap.Phase, errMsg, s.clock.Now().UTC()); err != nil {
			s.logError(ctx, e.orderID, "finish payment attempt", err)
		}
		s.releaseLogged(ctx, e, snap.SessionID)

	case enums.PaymentPhaseClosed:
		s.releaseLogged(ctx, e, snap.SessionID)
	}
}

func (s *service) onSuccess(e *entry, code int64) {
	ctx, cancel := s.persistCtx()
	defer cancel()

	snap := e.ctrl.Snapshot()
	var txID *string
	if snap.LastStatus != nil && snap.LastStatus.TransactionID != "" {
		id := snap.LastStatus.TransactionID
		txID = &id
	}
	if err := s.repo.MarkPaid(ctx, e.orderID, code, txID, s.clock.Now().UTC()); err != nil {
		s.logError(ctx, e.orderID, "mark order paid", err)
	}

	s.mu.Lock()
	e.paid = true
	s.mu.Unlock()

	data := payload(e.orderID, snap, "")
	data.ProviderOrderCode = code
	data.Phase = enums.PaymentPhaseConfirmed
	if txID != nil {
		data.TransactionID = *txID
	}
	s.publish(ctx, enums.PaymentEventConfirmed, data)
	s.releaseLogged(ctx, e, snap.SessionID)
}

func (s *service) onTimeout(e *entry, intent payos.PaymentIntent, contact payos.CustomerContact) {
	ctx, cancel := s.persistCtx()
	defer cancel()

	err := s.repo.SavePending(ctx, &models.PendingPayment{
		OrderID:           e.orderID,
		ProviderOrderCode: intent.ProviderOrderCode,
		Amount:            intent.Amount,
		PaymentLink:       intent.PaymentLink,
		QRPayload:         intent.QRPayload,
		CustomerName:      contact.Name,
		CustomerEmail:     contact.Email,
		CustomerPhone:     contact.Phone,
		ExpiredAt:         s.clock.Now().UTC(),
	})
	if err != nil {
		s.logError(ctx, e.orderID, "save pending payment", err)
	}

	data := payload(e.orderID, e.ctrl.Snapshot(), "")
	data.ProviderOrderCode = intent.ProviderOrderCode
	data.Amount = intent.Amount
	data.Phase = enums.PaymentPhaseExpired
	s.publish(ctx, enums.PaymentEventExpired, data)
}

func (s *service) onCancelled(e *entry) {
	ctx, cancel := s.persistCtx()
	defer cancel()
	data := payload(e.orderID, e.ctrl.Snapshot(), "")
	data.Phase = enums.PaymentPhaseCancelled
	s.publish(ctx, enums.PaymentEventCancelled, data)
}

func (s *service) onError(e *entry, message string) {
	ctx, cancel := s.persistCtx()
	defer cancel()
	s.publish(ctx, enums.PaymentEventFailed, payload(e.orderID, e.ctrl.Snapshot(), message))
}

func (s *service) publish(ctx context.Context, eventType enums.PaymentEventType, data events.SessionPayload) {
	if err := s.publisher.Publish(ctx, events.New(eventType, data, s.clock.Now())); err != nil {
		s.logError(ctx, data.OrderID, "publish payment event", err)
	}
}

func (s *service) releaseLogged(ctx context.Context, e *entry, sessionID string) {
	if err := s.releaseFor(ctx, e, sessionID); err != nil {
		s.logError(ctx, e.orderID, "release payment session lock", err)
	}
}

func (s *service) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.persistTimeout)
}

func payload(orderID string, snap session.Snapshot, message string) events.SessionPayload {
	data := events.SessionPayload{
		OrderID:   orderID,
		SessionID: snap.SessionID,
		Phase:     snap.Phase,
		Attempt:   snap.Attempt,
		Message:   message,
	}
	if snap.Intent != nil {
		data.ProviderOrderCode = snap.Intent.ProviderOrderCode
		data.Amount = snap.Intent.Amount
	}
	return data
}

func orderCode(snap session.Snapshot) int64 {
	if snap.Intent == nil {
		return 0
	}
	return snap.Intent.ProviderOrderCode
}
