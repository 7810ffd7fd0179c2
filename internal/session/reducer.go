package session

import (
	"sort"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/payos"
)

const (
	msgProviderCancelled = "Payment was cancelled by the payment provider. Please retry or return to your order."
	msgProviderFailed    = "Payment failed. Please retry or return to your order."
	msgVerifyFailed      = "We could not confirm your payment. Please retry or return to your order."
)

// State is the session value owned by a Controller. It is only changed by
// Reduce.
type State struct {
	SessionID        string
	Phase            enums.PaymentPhase
	Intent           *payos.PaymentIntent
	RemainingSeconds int
	LastStatus       *payos.PaymentStatus
	Err              error
	OpenedAt         time.Time

	// SuccessPending is set between CONFIRMED and the delayed success callback.
	SuccessPending bool
	// FinalCheck is set once the countdown hit zero and a last verify is out.
	FinalCheck bool
}

// Finished reports whether the session needs no further timer events.
func (s State) Finished() bool {
	if s.Phase == enums.PaymentPhaseClosed {
		return true
	}
	return s.Phase.IsTerminal() && !s.SuccessPending
}

// Event is an input to Reduce. Every event names the session it belongs to;
// events for any other session are ignored.
type Event interface {
	session() string
}

type (
	EventOpen struct {
		Session       string
		Intent        payos.PaymentIntent
		WindowSeconds int
		At            time.Time
	}
	EventStarted struct {
		Session string
	}
	EventStatus struct {
		Session string
		Status  *payos.PaymentStatus
	}
	EventPollError struct {
		Session string
		Err     error
	}
	EventTick struct {
		Session   string
		Remaining int
	}
	// EventDeadline is raised when the countdown reaches zero.
	EventDeadline struct {
		Session string
	}
	// EventExpire follows EventDeadline once the final verify has resolved.
	EventExpire struct {
		Session string
	}
	EventCancel struct {
		Session string
	}
	EventSuccessDue struct {
		Session string
	}
	EventClose struct {
		Session string
	}
)

func (e EventOpen) session() string { return e.Session }
func (e EventStarted) session() string { return e.Session }
func (e EventStatus) session() string { return e.Session }
func (e EventPollError) session() string { return e.Session }
func (e EventTick) session() string { return e.Session }
func (e EventDeadline) session() string { return e.Session }
func (e EventExpire) session() string { return e.Session }
func (e EventCancel) session() string { return e.Session }
func (e EventSuccessDue) session() string { return e.Session }
func (e EventClose) session() string { return e.Session }

// Effect is an instruction Reduce hands back to the runtime.
type Effect interface {
	effect()
}

type (
	EffectStartTimers struct {
		OrderCode     int64
		WindowSeconds int
	}
	EffectStopTimers struct{}
	EffectScheduleSuccess struct {
		OrderCode int64
	}
	EffectFinalCheck struct {
		OrderCode int64
	}
	EffectRemoteCancel struct {
		OrderCode int64
	}
	EffectNotifySuccess struct {
		OrderCode int64
	}
	EffectNotifyTimeout struct {
		Intent payos.PaymentIntent
	}
	EffectNotifyCancelled struct{}
	EffectNotifyError     struct {
		Message string
		Err     error
	}
	EffectNotifyPhase struct {
		Phase enums.PaymentPhase
	}
)

func (EffectStartTimers) effect() {}
func (EffectStopTimers) effect() {}
func (EffectScheduleSuccess) effect() {}
func (EffectFinalCheck) effect() {}
func (EffectRemoteCancel) effect() {}
func (EffectNotifySuccess) effect() {}
func (EffectNotifyTimeout) effect() {}
func (EffectNotifyCancelled) effect() {}
func (EffectNotifyError) effect() {}
func (EffectNotifyPhase) effect() {}

// Reduce applies one event. It is pure: all side effects are returned as
// effects. An error is returned only for an Open that the current phase
// does not allow; every other out-of-phase event is ignored.
func Reduce(s State, ev Event) (State, []Effect, error) {
	if open, ok := ev.(EventOpen); ok {
		return reduceOpen(s, open)
	}
	if ev.session() != s.SessionID || s.SessionID == "" {
		return s, nil, nil
	}

	switch e := ev.(type) {
	case EventStarted:
		if s.Phase != enums.PaymentPhaseOpen {
			return s, nil, nil
		}
		s.Phase = enums.PaymentPhasePolling
		return s, []Effect{EffectNotifyPhase{Phase: s.Phase}}, nil

	case EventStatus:
		return reduceStatus(s, e.Status)

	case EventPollError:
		if !s.Phase.IsActive() {
			return s, nil, nil
		}
		s.Err = e.Err
		next, effects := terminate(s, enums.PaymentPhaseFailed, EffectNotifyError{Message: msgVerifyFailed, Err: e.Err})
		return next, effects, nil

	case EventTick:
		if !s.Phase.IsActive() {
			return s, nil, nil
		}
		if e.Remaining < s.RemainingSeconds {
			s.RemainingSeconds = max(e.Remaining, 0)
		}
		return s, nil, nil

	case EventDeadline:
		if !s.Phase.IsActive() || s.FinalCheck {
			return s, nil, nil
		}
		s.RemainingSeconds = 0
		s.FinalCheck = true
		return s, []Effect{EffectFinalCheck{OrderCode: s.Intent.ProviderOrderCode}}, nil

	case EventExpire:
		if !s.Phase.IsActive() {
			return s, nil, nil
		}
		s.RemainingSeconds = 0
		next, effects := terminate(s, enums.PaymentPhaseExpired, EffectNotifyTimeout{Intent: *s.Intent})
		return next, effects, nil

	case EventCancel:
		if !s.Phase.IsActive() {
			return s, nil, nil
		}
		s.Phase = enums.PaymentPhaseCancelled
		s.FinalCheck = false
		return s, []Effect{
			EffectStopTimers{},
			EffectNotifyPhase{Phase: s.Phase},
			EffectRemoteCancel{OrderCode: s.Intent.ProviderOrderCode},
			EffectNotifyCancelled{},
		}, nil

	case EventSuccessDue:
		if s.Phase != enums.PaymentPhaseConfirmed || !s.SuccessPending {
			return s, nil, nil
		}
		s.SuccessPending = false
		return s, []Effect{EffectNotifySuccess{OrderCode: s.Intent.ProviderOrderCode}}, nil

	case EventClose:
		return reduceClose(s)
	}
	return s, nil, nil
}

func reduceOpen(s State, e EventOpen) (State, []Effect, error) {
	if s.Phase != "" && s.Phase != enums.PaymentPhaseIdle && s.Phase != enums.PaymentPhaseClosed {
		return s, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment session already open").
			WithDetails(map[string]any{"phase": s.Phase})
	}
	if e.Session == "" || e.Intent.ProviderOrderCode == 0 {
		return s, nil, pkgerrors.New(pkgerrors.CodeValidation, "open requires a session id and provider order code")
	}
	intent := e.Intent
	next := State{
		SessionID:        e.Session,
		Phase:            enums.PaymentPhaseOpen,
		Intent:           &intent,
		RemainingSeconds: e.WindowSeconds,
		OpenedAt:         e.At,
	}
	return next, []Effect{
		EffectNotifyPhase{Phase: next.Phase},
		EffectStartTimers{OrderCode: intent.ProviderOrderCode, WindowSeconds: e.WindowSeconds},
	}, nil
}

func reduceStatus(s State, status *payos.PaymentStatus) (State, []Effect, error) {
	if !s.Phase.IsActive() || status == nil {
		return s, nil, nil
	}
	s.LastStatus = status

	var (
		next    State
		effects []Effect
	)
	switch {
	case status.IsSettled():
		s.SuccessPending = true
		next, effects = terminate(s, enums.PaymentPhaseConfirmed, EffectScheduleSuccess{OrderCode: s.Intent.ProviderOrderCode})
		return next, effects, nil

	case status.Status == enums.PaymentStatusCancelled:
		msg := msgProviderCancelled
		if reason := status.CancellationReasonText(); reason != "" {
			msg = msgProviderCancelled + " Reason: " + reason
		}
		s.Err = pkgerrors.New(pkgerrors.CodeProvider, "payment cancelled at provider")
		next, effects = terminate(s, enums.PaymentPhaseCancelled, EffectNotifyError{Message: msg, Err: s.Err})
		return next, effects, nil

	case status.Status == enums.PaymentStatusFailed:
		s.Err = pkgerrors.New(pkgerrors.CodeProvider, "payment failed at provider")
		next, effects = terminate(s, enums.PaymentPhaseFailed, EffectNotifyError{Message: msgProviderFailed, Err: s.Err})
		return next, effects, nil

	case status.Status == enums.PaymentStatusExpired:
		s.RemainingSeconds = 0
		next, effects = terminate(s, enums.PaymentPhaseExpired, EffectNotifyTimeout{Intent: *s.Intent})
		return next, effects, nil
	}

	s.Phase = enums.PaymentPhasePolling
	return s, []Effect{EffectNotifyPhase{Phase: s.Phase}}, nil
}

func reduceClose(s State) (State, []Effect, error) {
	switch {
	case s.Phase == enums.PaymentPhaseClosed:
		return s, nil, nil
	case s.Phase.IsTerminal():
		effects := []Effect{EffectStopTimers{}}
		if s.SuccessPending {
			s.SuccessPending = false
			effects = append(effects, EffectNotifySuccess{OrderCode: s.Intent.ProviderOrderCode})
		}
		s.Phase = enums.PaymentPhaseClosed
		return s, append(effects, EffectNotifyPhase{Phase: s.Phase}), nil
	default:
		s.Phase = enums.PaymentPhaseClosed
		s.FinalCheck = false
		return s, []Effect{EffectStopTimers{}, EffectNotifyPhase{Phase: s.Phase}}, nil
	}
}

// terminate moves an active session to phase, stopping its timers before
// the outcome is reported.
func terminate(s State, phase enums.PaymentPhase, outcome Effect) (State, []Effect) {
	s.Phase = phase
	s.FinalCheck = false
	return s, []Effect{EffectStopTimers{}, EffectNotifyPhase{Phase: phase}, outcome}
}

// ReduceBatch applies events delivered in the same scheduling window.
// Provider statuses are applied before poll errors, and both before
// countdown events, so a terminal status always beats expiry.
func ReduceBatch(s State, events []Event) (State, []Effect) {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return batchPriority(ordered[i]) < batchPriority(ordered[j])
	})

	var effects []Effect
	for _, ev := range ordered {
		var out []Effect
		s, out, _ = Reduce(s, ev)
		effects = append(effects, out...)
	}
	return s, effects
}

func batchPriority(ev Event) int {
	switch ev.(type) {
	case EventStatus:
		return 0
	case EventPollError:
		return 1
	case EventDeadline, EventExpire:
		return 3
	default:
		return 2
	}
}
