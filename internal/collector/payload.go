package collector

import (
	"time"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/fingerprint"
)

// telemetry is the collector's per-packet object. beacon.Packet already uses
// the collector's field names, so it is embedded as is.
type telemetry = beacon.Packet

type packetPayload struct {
	DeviceID        string    `json:"deviceId"`
	DeviceTimeStamp int64     `json:"deviceTimeStamp"`
	Telemetry       telemetry `json:"estimoteTelemetryPacket"`
}

type batchPayload struct {
	Packets []packetPayload `json:"packets"`
}

type fingerprintPayload struct {
	Location string         `json:"location"`
	Section  string         `json:"section"`
	Signals  map[string]int `json:"signals"`
}

type windowedFingerprintPayload struct {
	Location    string         `json:"location"`
	Section     string         `json:"section"`
	WindowStart int64          `json:"windowStart"`
	WindowEnd   int64          `json:"windowEnd"`
	Signals     map[string]int `json:"signals"`
	Packets     []telemetry    `json:"packets"`
}

// DataPoint is a single packet reported as it is heard, optionally tagged
// with the section the device is in.
type DataPoint struct {
	DeviceID  string
	Timestamp time.Time
	Section   string
	Packet    beacon.Packet
}

type dataPointPayload struct {
	DeviceID        string    `json:"deviceId"`
	DeviceTimeStamp int64     `json:"deviceTimeStamp"`
	Section         string    `json:"section,omitempty"`
	Telemetry       telemetry `json:"estimoteTelemetryPacket"`
}

func newBatchPayload(deviceID string, packets []beacon.Packet) batchPayload {
	out := batchPayload{Packets: make([]packetPayload, len(packets))}
	for i, p := range packets {
		out.Packets[i] = packetPayload{
			DeviceID:        deviceID,
			DeviceTimeStamp: p.ReceivedAt.UnixMilli(),
			Telemetry:       p,
		}
	}
	return out
}

func newFingerprintPayload(f fingerprint.Fingerprint) fingerprintPayload {
	return fingerprintPayload{
		Location: f.Location,
		Section:  f.Section,
		Signals:  nonNil(f.Signals),
	}
}

func newWindowedPayload(f fingerprint.Fingerprint) windowedFingerprintPayload {
	packets := f.Packets
	if packets == nil {
		packets = []telemetry{}
	}
	return windowedFingerprintPayload{
		Location:    f.Location,
		Section:     f.Section,
		WindowStart: f.WindowStart.UnixMilli(),
		WindowEnd:   f.WindowEnd.UnixMilli(),
		Signals:     nonNil(f.Signals),
		Packets:     packets,
	}
}

func newDataPointPayload(d DataPoint) dataPointPayload {
	return dataPointPayload{
		DeviceID:        d.DeviceID,
		DeviceTimeStamp: d.Timestamp.UnixMilli(),
		Section:         d.Section,
		Telemetry:       d.Packet,
	}
}

func nonNil(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
