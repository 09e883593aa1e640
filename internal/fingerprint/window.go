package fingerprint

import (
	"time"

	"github.com/uva-nepa/nepa/internal/beacon"
)

// Layout describes how a recording is cut into windows.
type Layout struct {
	Location string
	Section  string
	// Width is the length of each window.
	Width time.Duration
	// Count caps the number of windows produced.
	Count int
}

// WindowCount returns how many windows Build produces for a recording of
// [start, end): one per started Width, capped at Count. The last window is
// shorter than Width when the recording does not divide evenly, and it still
// counts toward the cap.
func (l Layout) WindowCount(start, end time.Time) int {
	if l.Width <= 0 || l.Count <= 0 || !end.After(start) {
		return 0
	}
	span := end.Sub(start)
	n := int(span / l.Width)
	if span%l.Width != 0 {
		n++
	}
	return min(n, l.Count)
}

// Build cuts the packets received in [start, end) into consecutive half-open
// windows [w, min(w+Width, end)) and returns one fingerprint per window, in
// order. Each packet in range lands in exactly one window; windows with no
// packets yield fingerprints with empty Signals.
func Build(packets []beacon.Packet, start, end time.Time, layout Layout) []Fingerprint {
	n := layout.WindowCount(start, end)
	if n == 0 {
		return nil
	}

	buckets := make([][]beacon.Packet, n)
	for _, p := range packets {
		if !inWindow(p.ReceivedAt, start, end) {
			continue
		}
		i := int(p.ReceivedAt.Sub(start) / layout.Width)
		if i < n {
			buckets[i] = append(buckets[i], p)
		}
	}

	out := make([]Fingerprint, n)
	for i := range out {
		ws := start.Add(time.Duration(i) * layout.Width)
		we := ws.Add(layout.Width)
		if we.After(end) {
			we = end
		}
		out[i] = Fingerprint{
			Location:    layout.Location,
			Section:     layout.Section,
			WindowStart: ws,
			WindowEnd:   we,
			Signals:     Aggregate(buckets[i]),
			Packets:     buckets[i],
		}
	}
	return out
}
