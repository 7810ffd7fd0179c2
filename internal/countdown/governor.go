// Package countdown enforces the fixed payment window of a session.
package countdown

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/storefront-payments/internal/clock"
)

const (
	DefaultWindowSeconds = 900
	tickInterval         = time.Second
)

type Governor struct {
	clock clock.Clock
}

func NewGovernor(c clock.Clock) *Governor {
	if c == nil {
		c = clock.Real()
	}
	return &Governor{clock: c}
}

// Handle controls one countdown. Stop never blocks, so it may be called from
// onTick or onExpire.
type Handle struct {
	stopped   atomic.Bool
	once      sync.Once
	stop      chan struct{}
	done      chan struct{}
	ticker    clock.Ticker
	remaining atomic.Int64
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

func (h *Handle) Stopped() bool {
	return h == nil || h.stopped.Load()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Remaining returns the last computed number of seconds left.
func (h *Handle) Remaining() int {
	if h == nil {
		return 0
	}
	return int(h.remaining.Load())
}

// Start counts durationSeconds down once per second. Remaining time is
// derived from the deadline, so a late tick never makes the countdown drift.
// onTick receives each new value, including the final zero; onExpire runs
// exactly once afterwards and the countdown then stops itself.
func (g *Governor) Start(durationSeconds int, onTick func(remaining int), onExpire func()) *Handle {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	h := &Handle{
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		ticker: g.clock.NewTicker(tickInterval),
	}
	h.remaining.Store(int64(durationSeconds))
	deadline := g.clock.Now().Add(time.Duration(durationSeconds) * time.Second)
	go g.run(h, deadline, onTick, onExpire)
	return h
}

// Stop is equivalent to h.Stop.
func (g *Governor) Stop(h *Handle) {
	h.Stop()
}

func (g *Governor) run(h *Handle, deadline time.Time, onTick func(int), onExpire func()) {
	defer close(h.done)
	defer h.Stop()

	if h.Remaining() == 0 {
		g.expire(h, onTick, onExpire)
		return
	}

	for {
		var now time.Time
		select {
		case <-h.stop:
			return
		case now = <-h.ticker.C():
		}
		if h.Stopped() {
			return
		}

		left := secondsUntil(deadline, now)
		if prev := h.Remaining(); left > prev {
			left = prev
		}
		if left == h.Remaining() && left > 0 {
			continue
		}
		h.remaining.Store(int64(left))

		if left > 0 {
			if onTick != nil {
				onTick(left)
			}
			continue
		}
		g.expire(h, onTick, onExpire)
		return
	}
}

func (g *Governor) expire(h *Handle, onTick func(int), onExpire func()) {
	if h.Stopped() {
		return
	}
	h.remaining.Store(0)
	if onTick != nil {
		onTick(0)
	}
	if h.Stopped() {
		return
	}
	h.stopped.Store(true)
	if onExpire != nil {
		onExpire()
	}
}

func secondsUntil(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}
