package timeutil

import (
	"sync"
	"time"
)

// Countdown publishes the time left until a deadline, once when started and
// then once per step. Ticks is closed when the countdown runs out or is
// cancelled; no zero value is ever sent.
type Countdown struct {
	ticks chan time.Duration
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// StartCountdown begins counting down total in increments of step.
func StartCountdown(clock Clock, total, step time.Duration) *Countdown {
	c := &Countdown{
		ticks: make(chan time.Duration, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if step <= 0 {
		step = time.Second
	}
	ticker := clock.NewTicker(step)
	go c.run(ticker, total, step)
	return c
}

func (c *Countdown) run(ticker Ticker, total, step time.Duration) {
	defer close(c.done)
	defer close(c.ticks)
	defer ticker.Stop()

	for remaining := total; remaining > 0; remaining -= step {
		select {
		case c.ticks <- remaining:
		case <-c.stop:
			return
		}
		select {
		case <-ticker.C():
		case <-c.stop:
			return
		}
	}
}

// Ticks returns the channel of remaining durations.
func (c *Countdown) Ticks() <-chan time.Duration { return c.ticks }

// Done is closed once the countdown goroutine has exited.
func (c *Countdown) Done() <-chan struct{} { return c.done }

// Cancel stops the countdown and waits for it to exit. Safe to call more
// than once and after the countdown has finished.
func (c *Countdown) Cancel() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
}
