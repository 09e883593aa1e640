// Package fingerprint turns captured beacon packets into per-location
// signal-strength fingerprints.
package fingerprint

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/uva-nepa/nepa/internal/beacon"
)

// Fingerprint is the mean signal strength of every beacon heard during
// [WindowStart, WindowEnd), labelled with where it was taken.
type Fingerprint struct {
	Location    string
	Section     string
	WindowStart time.Time
	WindowEnd   time.Time
	// Signals maps beacon id to mean RSSI. A beacon is present only if at
	// least one of its packets fell inside the window.
	Signals map[string]int
	// Packets are the packets the signals were computed from.
	Packets []beacon.Packet
}

// Empty reports whether no beacon was heard.
func (f Fingerprint) Empty() bool { return len(f.Signals) == 0 }

// BeaconIDs returns the beacons in f sorted by id.
func (f Fingerprint) BeaconIDs() []string {
	ids := make([]string, 0, len(f.Signals))
	for id := range f.Signals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Aggregate computes the per-beacon mean RSSI of packets. Means are rounded
// half away from zero, so -62.5 becomes -63.
func Aggregate(packets []beacon.Packet) map[string]int {
	byBeacon := make(map[string][]float64)
	for _, p := range packets {
		byBeacon[p.BeaconID] = append(byBeacon[p.BeaconID], float64(p.RSSI))
	}

	signals := make(map[string]int, len(byBeacon))
	for id, rssi := range byBeacon {
		signals[id] = int(math.Round(stat.Mean(rssi, nil)))
	}
	return signals
}

// Single builds one fingerprint over every packet received in [start, end).
func Single(packets []beacon.Packet, start, end time.Time, location, section string) Fingerprint {
	var selected []beacon.Packet
	for _, p := range packets {
		if inWindow(p.ReceivedAt, start, end) {
			selected = append(selected, p)
		}
	}
	return Fingerprint{
		Location:    location,
		Section:     section,
		WindowStart: start,
		WindowEnd:   end,
		Signals:     Aggregate(selected),
		Packets:     selected,
	}
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
