package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/ble"
	"github.com/uva-nepa/nepa/internal/config"
	"github.com/uva-nepa/nepa/internal/serialmux"
)

// devLines stand in for a receiver in -dev mode.
var devLines = []string{
	"f7826da6-4fa2-4e98-8024-bc5b71e0893e:1:1,-61,37,-59,d1:7a:2c:00:10:01,1714557600000",
	"f7826da6-4fa2-4e98-8024-bc5b71e0893e:1:2,-74,38,-59,d1:7a:2c:00:10:02,1714557600050",
	"f7826da6-4fa2-4e98-8024-bc5b71e0893e:1:3,-82,39,-59,d1:7a:2c:00:10:03,1714557600100",
	"f7826da6-4fa2-4e98-8024-bc5b71e0893e:1:1,-63,38,-59,d1:7a:2c:00:10:01,1714557600150",
}

const devLineInterval = 100 * time.Millisecond

// scannerHandle is the configured beacon source plus whatever has to be
// torn down with it.
type scannerHandle struct {
	beacon.Source
	name   string
	mux    serialmux.SerialMuxInterface
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *scannerHandle) String() string { return s.name }

// AttachAdminRoutes mounts the serial debug pages. Scanners without a
// serial port serve them from a DisabledSerialMux.
func (s *scannerHandle) AttachAdminRoutes(mux *http.ServeMux) {
	s.mux.AttachAdminRoutes(mux)
}

func (s *scannerHandle) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if st := s.mux.Stats(); st.Lines > 0 {
		log.Printf("%s closed: %s", s.name, st)
	}
	if err := s.mux.Close(); err != nil {
		log.Printf("failed to close serial port: %v", err)
	}
	if s.done != nil {
		<-s.done
	}
}

// monitor runs the mux read loop until ctx ends or the port closes.
func (s *scannerHandle) monitor(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.mux.Monitor(ctx); err != nil && ctx.Err() == nil {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()
}

func openScanner(ctx context.Context, cfg *config.Config, dev bool) (*scannerHandle, error) {
	if dev && cfg.GetReplayFile() == "" {
		mux := serialmux.NewMockSerialMux(devLines, devLineInterval)
		h := &scannerHandle{Source: &serialmux.Source{Mux: mux}, name: "dev receiver", mux: mux}
		h.monitor(ctx)
		return h, nil
	}

	kind := cfg.GetScanner()
	if dev {
		kind = config.ScannerReplay
	}

	switch kind {
	case config.ScannerReplay:
		packets, err := beacon.LoadReplayFile(cfg.GetReplayFile())
		if err != nil {
			return nil, err
		}
		log.Printf("replaying %d packets from %s", len(packets), cfg.GetReplayFile())
		return &scannerHandle{
			Source: &beacon.ReplaySource{Packets: packets, Interval: cfg.GetReplayInterval(), Loop: true},
			name:   "replay " + cfg.GetReplayFile(),
			mux:    serialmux.NewDisabledSerialMux("scanner is replay"),
		}, nil

	case config.ScannerSerial:
		mux, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), cfg.GetSerialOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to create serial port: %w", err)
		}
		h := &scannerHandle{Source: &serialmux.Source{Mux: mux}, name: "serial " + cfg.GetSerialPort(), mux: mux}
		h.monitor(ctx)
		return h, nil

	case config.ScannerBLE:
		src := ble.NewSource()
		src.UUIDPrefix = cfg.GetBLEUUIDPrefix()
		return &scannerHandle{Source: src, name: "bluetooth", mux: serialmux.NewDisabledSerialMux("scanner is ble")}, nil

	default:
		return nil, fmt.Errorf("unknown scanner %q", kind)
	}
}
