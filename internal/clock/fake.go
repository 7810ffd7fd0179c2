package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Ticks are delivered synchronously from
// Advance: each send blocks until the ticker's reader receives it or the
// ticker is stopped. Timer callbacks run on the Advance goroutine.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[*fakeTicker]struct{}
	timers  map[*fakeTimer]struct{}
}

func NewFake(start time.Time) *Fake {
	return &Fake{
		now:     start,
		tickers: map[*fakeTicker]struct{}{},
		timers:  map[*fakeTimer]struct{}{},
	}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		clock:   f,
		c:       make(chan time.Time),
		period:  d,
		next:    f.now.Add(d),
		stopped: make(chan struct{}),
	}
	f.tickers[t] = struct{}{}
	return t
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clock: f, at: f.now.Add(d), fn: fn}
	f.timers[t] = struct{}{}
	return t
}

// ActiveTickers reports how many tickers have not been stopped.
func (f *Fake) ActiveTickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

// PendingTimers reports how many timers are scheduled and not yet fired.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Advance moves the clock forward by d, firing every ticker period and timer
// deadline that falls inside the window in chronological order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		ticker, timer, at, ok := f.earliestLocked(target)
		if !ok {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = at
		if ticker != nil {
			ticker.next = at.Add(ticker.period)
		}
		if timer != nil {
			delete(f.timers, timer)
		}
		f.mu.Unlock()

		if ticker != nil {
			select {
			case ticker.c <- at:
			case <-ticker.stopped:
			}
		}
		if timer != nil {
			timer.fn()
		}
	}
}

func (f *Fake) earliestLocked(limit time.Time) (*fakeTicker, *fakeTimer, time.Time, bool) {
	var (
		bestTicker *fakeTicker
		bestTimer  *fakeTimer
		best       time.Time
		found      bool
	)
	for t := range f.tickers {
		if t.next.After(limit) {
			continue
		}
		if !found || t.next.Before(best) {
			bestTicker, bestTimer, best, found = t, nil, t.next, true
		}
	}
	for t := range f.timers {
		if t.at.After(limit) {
			continue
		}
		if !found || t.at.Before(best) {
			bestTicker, bestTimer, best, found = nil, t, t.at, true
		}
	}
	return bestTicker, bestTimer, best, found
}

type fakeTicker struct {
	clock   *Fake
	c       chan time.Time
	period  time.Duration
	next    time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.c
}

func (t *fakeTicker) Stop() {
	t.once.Do(func() {
		close(t.stopped)
		t.clock.mu.Lock()
		delete(t.clock.tickers, t)
		t.clock.mu.Unlock()
	})
}

type fakeTimer struct {
	clock *Fake
	at    time.Time
	fn    func()
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t]; !ok {
		return false
	}
	delete(t.clock.timers, t)
	return true
}
