package beacon

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrEmptyLine = errors.New("empty line")

// ParseLine decodes one line of scanner output. Two forms are accepted: a
// JSON object using the collector's field names, or comma separated
//
//	identifier,rssi[,channel[,measuredPower[,macAddress[,timestamp]]]]
func ParseLine(line string) (Packet, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Packet{}, ErrEmptyLine
	}

	if strings.HasPrefix(line, "{") {
		var p Packet
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return Packet{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		if p.BeaconID == "" {
			return Packet{}, fmt.Errorf("missing identifier in %q", line)
		}
		return p, nil
	}

	segments := strings.Split(line, ",")
	if len(segments) < 2 || len(segments) > 6 {
		return Packet{}, fmt.Errorf("invalid payload format: %s, expected 2 to 6 segments", line)
	}
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
	}

	p := Packet{BeaconID: segments[0]}
	if p.BeaconID == "" {
		return Packet{}, fmt.Errorf("missing identifier in %q", line)
	}

	var err error
	if p.RSSI, err = strconv.Atoi(segments[1]); err != nil {
		return Packet{}, fmt.Errorf("failed to parse rssi: %w", err)
	}
	if len(segments) > 2 {
		if p.Channel, err = strconv.Atoi(segments[2]); err != nil {
			return Packet{}, fmt.Errorf("failed to parse channel: %w", err)
		}
	}
	if len(segments) > 3 {
		if p.MeasuredPower, err = strconv.Atoi(segments[3]); err != nil {
			return Packet{}, fmt.Errorf("failed to parse measured power: %w", err)
		}
	}
	if len(segments) > 4 {
		p.MACAddress = segments[4]
	}
	if len(segments) > 5 {
		if p.BeaconTimestamp, err = strconv.ParseInt(segments[5], 10, 64); err != nil {
			return Packet{}, fmt.Errorf("failed to parse timestamp: %w", err)
		}
	}
	return p, nil
}
