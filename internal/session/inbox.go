package session

import "sync"

// inbox collects timer-sourced events for one session. Posting never blocks,
// so polling and countdown goroutines can post from their callbacks.
type inbox struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
	quit   chan struct{}
	once   sync.Once
}

func newInbox() *inbox {
	return &inbox{
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

// post queues ev. It reports false once the inbox is closed.
func (b *inbox) post(ev Event) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.events = append(b.events, ev)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	return true
}

func (b *inbox) drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.events
	b.events = nil
	return events
}

func (b *inbox) close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.events = nil
		b.mu.Unlock()
		close(b.quit)
	})
}

// notifier runs callbacks one at a time in the order they were queued. A
// callback that re-enters the controller only queues more work; the goroutine
// already draining picks it up.
type notifier struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

func (n *notifier) enqueue(fn func()) {
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
}

func (n *notifier) drain() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.queue) > 0 {
		fn := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()
		fn()
		n.mu.Lock()
	}
	n.draining = false
	n.mu.Unlock()
}
