package timeutil

import (
	"sync"
	"time"
)

// MockClock is a manually driven Clock. Time only moves on Advance or Set.
type MockClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	waiters []*mockWaiter
}

// NewMockClock returns a MockClock reading t.
func NewMockClock(t time.Time) *MockClock {
	c := &MockClock{now: t}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set jumps the clock to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *MockClock) NewTimer(d time.Duration) Timer {
	return mockTimer{c.register(d, 0)}
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	return mockTicker{c.register(d, d)}
}

func (c *MockClock) register(d, interval time.Duration) *mockWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &mockWaiter{
		clock:    c,
		ch:       make(chan time.Time, 1),
		deadline: c.now.Add(d),
		interval: interval,
	}
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
	return w
}

// Advance moves the clock forward by d and fires every timer and ticker whose
// deadline has been reached. A ticker fires at most once per Advance; sends
// never block, matching the drop-if-full behaviour of time.Ticker.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)

	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if w.deadline.After(c.now) {
			remaining = append(remaining, w)
			continue
		}
		select {
		case w.ch <- c.now:
		default:
		}
		if w.interval == 0 {
			w.stopped = true
			continue
		}
		for !w.deadline.After(c.now) {
			w.deadline = w.deadline.Add(w.interval)
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
	c.changed.Broadcast()
}

// WaitForTimers blocks until at least n timers or tickers are pending. Tests
// call it before Advance so a goroutine that has not yet created its timer
// does not miss the tick.
func (c *MockClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingTimers returns the number of live timers and tickers.
func (c *MockClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *MockClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// mockWaiter backs both MockClock timers (interval 0) and tickers.
type mockWaiter struct {
	clock    *MockClock
	ch       chan time.Time
	deadline time.Time
	interval time.Duration
	stopped  bool
}

func (w *mockWaiter) C() <-chan time.Time { return w.ch }

func (w *mockWaiter) stop() bool {
	c := w.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	active := !w.stopped
	w.stopped = true
	c.changed.Broadcast()
	return active
}

type mockTimer struct{ *mockWaiter }

func (t mockTimer) Stop() bool { return t.stop() }

type mockTicker struct{ *mockWaiter }

func (t mockTicker) Stop() { t.stop() }
