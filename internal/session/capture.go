package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/monitoring"
	"github.com/uva-nepa/nepa/internal/timeutil"
)

// DefaultQueueSize bounds the channel between a scanning source and the
// consumer that appends to the sink.
const DefaultQueueSize = 256

var logf = monitoring.Tagged("session")

// Capture connects a running Source to a Sink through a bounded queue.
// Every packet the source delivers before Cancel is handed to the sink
// exactly once; packets delivered after Cancel has begun are discarded and
// counted as dropped.
type Capture struct {
	name  string
	clock timeutil.Clock
	sink  beacon.Sink

	packets      chan beacon.Packet
	stopping     chan struct{}
	consumerDone chan struct{}

	mu     sync.RWMutex
	closed bool

	handle    beacon.Handle
	startedAt time.Time
	once      sync.Once

	received atomic.Int64
	dropped  atomic.Int64
	errors   atomic.Int64
}

// CaptureStats is a snapshot of a capture's counters.
type CaptureStats struct {
	StartedAt time.Time
	Received  int64
	Dropped   int64
	Errors    int64
}

// StartCapture starts src and begins appending its packets to sink. Each
// packet is stamped with the capture clock on arrival.
func StartCapture(src beacon.Source, sink beacon.Sink, clock timeutil.Clock, queueSize int) (*Capture, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	c := &Capture{
		name:         fmt.Sprintf("%T", src),
		clock:        clock,
		sink:         sink,
		packets:      make(chan beacon.Packet, queueSize),
		stopping:     make(chan struct{}),
		consumerDone: make(chan struct{}),
		startedAt:    clock.Now(),
	}
	go c.consume()

	h, err := src.Start(c.deliver, c.fail)
	if err != nil {
		c.shutdown()
		return nil, &beacon.CaptureError{Source: c.name, Err: err}
	}
	c.handle = h
	return c, nil
}

func (c *Capture) consume() {
	defer close(c.consumerDone)
	for p := range c.packets {
		c.sink.Append(p)
	}
}

func (c *Capture) deliver(p beacon.Packet) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	p.ReceivedAt = c.clock.Now()
	select {
	case c.packets <- p:
		c.received.Add(1)
	case <-c.stopping:
		c.dropped.Add(1)
	}
}

func (c *Capture) fail(err error) {
	c.errors.Add(1)
	logf("%v", &beacon.CaptureError{Source: c.name, Err: err})
}

// Cancel stops the source and waits until every accepted packet has reached
// the sink. It is safe to call more than once and from several goroutines.
func (c *Capture) Cancel() {
	c.once.Do(func() {
		close(c.stopping)
		if c.handle != nil {
			c.handle.Stop()
		}
		c.shutdown()
	})
	<-c.consumerDone
}

func (c *Capture) shutdown() {
	c.mu.Lock()
	c.closed = true
	close(c.packets)
	c.mu.Unlock()
	<-c.consumerDone
}

// Done is closed once the capture has been cancelled and drained.
func (c *Capture) Done() <-chan struct{} { return c.consumerDone }

func (c *Capture) Stats() CaptureStats {
	return CaptureStats{
		StartedAt: c.startedAt,
		Received:  c.received.Load(),
		Dropped:   c.dropped.Load(),
		Errors:    c.errors.Load(),
	}
}
