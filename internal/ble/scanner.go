package ble

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/uva-nepa/nepa/internal/beacon"
)

// Adapter is the part of *bluetooth.Adapter the scanner uses.
type Adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// Source scans for iBeacon advertisements. Advertisements from other
// devices are ignored unless UUIDPrefix is empty and AllDevices is set, in
// which case they are reported under their address.
type Source struct {
	Adapter Adapter
	// UUIDPrefix restricts results to beacons whose proximity UUID starts
	// with it, case-insensitively.
	UUIDPrefix string
	AllDevices bool

	enableOnce sync.Once
	enableErr  error
}

// NewSource scans with the system's default adapter.
func NewSource() *Source {
	return &Source{Adapter: bluetooth.DefaultAdapter}
}

var errScanStopped = errors.New("scan stopped")

func (s *Source) Start(onPacket func(beacon.Packet), onError func(error)) (beacon.Handle, error) {
	s.enableOnce.Do(func() { s.enableErr = s.Adapter.Enable() })
	if s.enableErr != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", s.enableErr)
	}

	var (
		mu      sync.Mutex
		stopped bool
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := s.Adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			mu.Lock()
			if stopped {
				mu.Unlock()
				return
			}
			mu.Unlock()
			if p, ok := s.packet(r.Address.String(), r.RSSI, r.ManufacturerData()); ok {
				onPacket(p)
			}
		})
		mu.Lock()
		wasStopped := stopped
		mu.Unlock()
		if err != nil && !wasStopped && onError != nil {
			onError(err)
		}
	}()

	var once sync.Once
	return beacon.HandleFunc(func() {
		once.Do(func() {
			mu.Lock()
			stopped = true
			mu.Unlock()
			if err := s.Adapter.StopScan(); err != nil && onError != nil {
				onError(fmt.Errorf("%w: %v", errScanStopped, err))
			}
			<-done
		})
	}), nil
}

func (s *Source) packet(addr string, rssi int16, mfr []bluetooth.ManufacturerDataElement) (beacon.Packet, bool) {
	for _, m := range mfr {
		b, ok := ParseIBeacon(m.CompanyID, m.Data)
		if !ok {
			continue
		}
		if s.UUIDPrefix != "" && !strings.HasPrefix(b.UUID.String(), strings.ToLower(s.UUIDPrefix)) {
			return beacon.Packet{}, false
		}
		return beacon.Packet{
			BeaconID:      b.ID(),
			RSSI:          int(rssi),
			MeasuredPower: int(b.MeasuredPower),
			MACAddress:    addr,
		}, true
	}
	if s.AllDevices && s.UUIDPrefix == "" {
		return beacon.Packet{BeaconID: addr, RSSI: int(rssi), MACAddress: addr}, true
	}
	return beacon.Packet{}, false
}
