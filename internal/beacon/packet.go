// Package beacon defines the telemetry packets heard from proximity beacons,
// the sources that produce them and the buffer they accumulate in.
package beacon

import (
	"fmt"
	"time"
)

// Packet is one advertisement received from a beacon. Sources fill in
// everything except ReceivedAt, which the capture stamps on arrival.
type Packet struct {
	BeaconID        string    `json:"identifier"`
	RSSI            int       `json:"rssi"`
	Channel         int       `json:"channel"`
	MeasuredPower   int       `json:"measuredPower"`
	MACAddress      string    `json:"macAddress"`
	BeaconTimestamp int64     `json:"timestamp"`
	ReceivedAt      time.Time `json:"-"`
}

func (p Packet) String() string {
	return fmt.Sprintf("%s rssi=%d ch=%d tx=%d mac=%s", p.BeaconID, p.RSSI, p.Channel, p.MeasuredPower, p.MACAddress)
}

// CaptureError wraps a failure reported by a scanning source. It is logged
// and counted; capture keeps running.
type CaptureError struct {
	Source string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture error from %s: %v", e.Source, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
