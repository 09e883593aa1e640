// Package flush uploads live packet captures in periodic batches.
package flush

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/monitoring"
	"github.com/uva-nepa/nepa/internal/task"
	"github.com/uva-nepa/nepa/internal/timeutil"
)

// DefaultPeriod is how often live packets are sent to the collector.
const DefaultPeriod = 3 * time.Second

var logf = monitoring.Tagged("flush")

// Poster uploads a batch of raw packets.
type Poster interface {
	PostBatch(ctx context.Context, deviceID string, packets []beacon.Packet) bool
}

// Flush describes one drained batch after its upload settled.
type Flush struct {
	At       time.Time
	Packets  []beacon.Packet
	Uploaded bool
}

// Config configures a Scheduler.
type Config struct {
	// Buffer is drained on every tick.
	Buffer   *beacon.Buffer
	Poster   Poster
	DeviceID string
	// Period defaults to DefaultPeriod.
	Period time.Duration
	Clock  timeutil.Clock
	// OnFlush, if set, is called from the upload goroutine once each batch
	// upload has settled.
	OnFlush func(Flush)
}

// Scheduler drains a shared buffer on a fixed period and uploads each batch
// on its own goroutine. Uploads never block the next tick and are not
// retried; a failed batch is logged and dropped.
type Scheduler struct {
	cfg    Config
	clock  timeutil.Clock
	period time.Duration

	uploads task.Group

	mu       sync.Mutex
	started  bool
	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewScheduler(cfg Config) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	period := cfg.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{
		cfg:    cfg,
		clock:  clock,
		period: period,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run flushes every period until ctx is cancelled or Stop is called, then
// flushes whatever is left and waits for outstanding uploads. Returns nil on
// clean shutdown. A Scheduler runs once; later calls return nil at once.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.running = true
	s.mu.Unlock()

	defer func() {
		close(s.doneCh)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()
	logf("started: every %v for device %s", s.period, s.cfg.DeviceID)

	for {
		select {
		case <-ctx.Done():
			s.flushFinal()
			return nil
		case <-s.stopCh:
			s.flushFinal()
			return nil
		case <-ticker.C():
			s.FlushNow()
		}
	}
}

// Stop ends Run and waits for it to return. Called before Run, it makes
// Run flush once and return as soon as it starts. Safe to call more than
// once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.doneCh
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FlushNow drains the buffer and starts uploading the batch. It returns nil
// when the buffer was empty, in which case nothing is sent.
func (s *Scheduler) FlushNow() *task.Task[Flush] {
	packets := s.cfg.Buffer.Drain()
	if len(packets) == 0 {
		return nil
	}
	at := s.clock.Now()
	return task.Track(&s.uploads, func() Flush {
		ok := s.cfg.Poster.PostBatch(context.Background(), s.cfg.DeviceID, packets)
		if ok {
			logf("sent %s packets", humanize.Comma(int64(len(packets))))
		}
		f := Flush{At: at, Packets: packets, Uploaded: ok}
		if s.cfg.OnFlush != nil {
			s.cfg.OnFlush(f)
		}
		return f
	})
}

func (s *Scheduler) flushFinal() {
	s.FlushNow()
	s.uploads.Wait()
	logf("stopped")
}

// Wait blocks until every upload started so far has settled.
func (s *Scheduler) Wait() {
	s.uploads.Wait()
}
