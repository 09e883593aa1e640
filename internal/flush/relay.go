package flush

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/collector"
	"github.com/uva-nepa/nepa/internal/task"
	"github.com/uva-nepa/nepa/internal/timeutil"
)

// DataPointPoster uploads a single labelled packet.
type DataPointPoster interface {
	PostDataPoint(ctx context.Context, d collector.DataPoint) bool
}

// Relay is a beacon.Sink that forwards every packet to the collector as a
// data point while sending is enabled. Packets arriving while disabled are
// discarded.
type Relay struct {
	Poster   DataPointPoster
	DeviceID string
	Clock    timeutil.Clock

	enabled atomic.Bool
	mu      sync.RWMutex
	section string

	sent    atomic.Int64
	failed  atomic.Int64
	uploads task.Group
}

// SetSending turns forwarding on or off.
func (r *Relay) SetSending(on bool) { r.enabled.Store(on) }

func (r *Relay) Sending() bool { return r.enabled.Load() }

// SetSection labels subsequent data points. An empty section sends
// unlabelled points.
func (r *Relay) SetSection(section string) {
	r.mu.Lock()
	r.section = section
	r.mu.Unlock()
}

func (r *Relay) Section() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.section
}

func (r *Relay) Append(p beacon.Packet) {
	if !r.enabled.Load() {
		return
	}
	ts := p.ReceivedAt
	if ts.IsZero() {
		clock := r.Clock
		if clock == nil {
			clock = timeutil.RealClock{}
		}
		ts = clock.Now()
	}
	d := collector.DataPoint{
		DeviceID:  r.DeviceID,
		Timestamp: ts,
		Section:   r.Section(),
		Packet:    p,
	}
	task.Track(&r.uploads, func() bool {
		ok := r.Poster.PostDataPoint(context.Background(), d)
		if ok {
			r.sent.Add(1)
		} else {
			r.failed.Add(1)
		}
		return ok
	})
}

// Counts returns how many data points were accepted and rejected.
func (r *Relay) Counts() (sent, failed int64) {
	return r.sent.Load(), r.failed.Load()
}

// Wait blocks until every upload started so far has settled.
func (r *Relay) Wait() { r.uploads.Wait() }
