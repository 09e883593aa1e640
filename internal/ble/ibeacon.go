// Package ble scans for beacon advertisements with the host Bluetooth
// adapter.
package ble

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// AppleCompanyID prefixes iBeacon manufacturer data.
const AppleCompanyID = 0x004C

const (
	iBeaconType   = 0x02
	iBeaconLength = 0x15
	// type, length, uuid, major, minor, measured power
	iBeaconPayloadSize = 2 + 16 + 2 + 2 + 1
)

// IBeacon is a decoded iBeacon advertisement.
type IBeacon struct {
	UUID  uuid.UUID
	Major uint16
	Minor uint16
	// MeasuredPower is the calibrated RSSI at one metre.
	MeasuredPower int8
}

// ID identifies the beacon as uuid:major:minor.
func (b IBeacon) ID() string {
	return fmt.Sprintf("%s:%d:%d", b.UUID, b.Major, b.Minor)
}

// ParseIBeacon decodes manufacturer data published under companyID. It
// reports false for anything that is not an iBeacon frame.
func ParseIBeacon(companyID uint16, data []byte) (IBeacon, bool) {
	if companyID != AppleCompanyID || len(data) < iBeaconPayloadSize {
		return IBeacon{}, false
	}
	if data[0] != iBeaconType || data[1] != iBeaconLength {
		return IBeacon{}, false
	}
	id, err := uuid.FromBytes(data[2:18])
	if err != nil {
		return IBeacon{}, false
	}
	return IBeacon{
		UUID:          id,
		Major:         binary.BigEndian.Uint16(data[18:20]),
		Minor:         binary.BigEndian.Uint16(data[20:22]),
		MeasuredPower: int8(data[22]),
	}, true
}
