package collector

import (
	"context"
	"time"

	"github.com/uva-nepa/nepa/internal/timeutil"
)

// DefaultPollInterval is how long the poller counts down between probes.
const DefaultPollInterval = 10 * time.Second

// StatusChecker probes collector liveness. *Client implements it.
type StatusChecker interface {
	CheckStatus(ctx context.Context) Status
}

// PollEventKind identifies a poller progress event.
type PollEventKind int

const (
	// PollChecking is emitted right before each probe.
	PollChecking PollEventKind = iota
	// PollUnreachable is emitted once per second while waiting to re-probe.
	PollUnreachable
	// PollAvailable is emitted once when a probe succeeds.
	PollAvailable
)

func (k PollEventKind) String() string {
	switch k {
	case PollChecking:
		return "checking"
	case PollUnreachable:
		return "unreachable"
	case PollAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// PollEvent reports poller progress. Remaining is the time left before the
// next probe and is only set on PollUnreachable; Err carries the last probe
// failure, if any.
type PollEvent struct {
	Kind      PollEventKind
	Remaining time.Duration
	Err       error
}

// Poller blocks until the collector answers its liveness probe.
type Poller struct {
	Checker  StatusChecker
	Clock    timeutil.Clock
	Interval time.Duration
	// OnEvent, if set, observes progress. It runs on the polling goroutine.
	OnEvent func(PollEvent)
}

// WaitUntilAvailable probes the collector until it reports available. After
// each failed probe it counts Interval down in one second steps, emitting a
// PollUnreachable event per step, then probes again. It returns nil once the
// collector is available or ctx.Err() if ctx ends first.
func (p *Poller) WaitUntilAvailable(ctx context.Context) error {
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.emit(PollEvent{Kind: PollChecking})
		status := p.Checker.CheckStatus(ctx)
		if status.Available {
			p.emit(PollEvent{Kind: PollAvailable})
			return nil
		}
		logf("collector unavailable, checking again in %v", interval)

		for remaining := interval; remaining > 0; remaining -= time.Second {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.emit(PollEvent{Kind: PollUnreachable, Remaining: remaining, Err: status.Err})
			if err := wait(ctx, clock, time.Second); err != nil {
				return err
			}
		}
	}
}

// wait blocks for d on clock or until ctx ends.
func wait(ctx context.Context, clock timeutil.Clock, d time.Duration) error {
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

func (p *Poller) emit(ev PollEvent) {
	if p.OnEvent != nil {
		p.OnEvent(ev)
	}
}
