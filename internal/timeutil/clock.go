// Package timeutil lets the scan, flush and poll loops run against either the
// wall clock or a manually advanced clock in tests.
package timeutil

import "time"

// Clock is the subset of the time package the scanning pipeline depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration

	// NewTimer returns a one-shot timer that fires after d.
	NewTimer(d time.Duration) Timer

	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Timer is a one-shot timer.
type Timer interface {
	C() <-chan time.Time
	// Stop reports whether the call prevented the timer from firing.
	Stop() bool
}

// Ticker delivers ticks at a fixed period. Missed ticks are dropped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock on top of the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
