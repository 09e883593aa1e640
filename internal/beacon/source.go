package beacon

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/uva-nepa/nepa/internal/timeutil"
)

// Source is a scanning capability. Start begins delivering packets to
// onPacket, possibly from several goroutines, and errors to onError until
// the returned Handle is stopped.
type Source interface {
	Start(onPacket func(Packet), onError func(error)) (Handle, error)
}

// Handle stops a running scan.
type Handle interface {
	Stop()
}

// HandleFunc adapts a plain function to Handle.
type HandleFunc func()

func (f HandleFunc) Stop() { f() }

// ReplaySource plays back recorded packets at a fixed interval. It stands in
// for real hardware in dev mode.
type ReplaySource struct {
	Packets  []Packet
	Interval time.Duration
	Clock    timeutil.Clock
	// Loop restarts from the first packet after the last one.
	Loop bool
}

func (s *ReplaySource) Start(onPacket func(Packet), onError func(error)) (Handle, error) {
	if len(s.Packets) == 0 {
		return nil, errors.New("replay source has no packets")
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := clock.NewTicker(interval)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C():
			}
			if i == len(s.Packets) {
				if !s.Loop {
					return
				}
				i = 0
			}
			onPacket(s.Packets[i])
		}
	}()

	var once sync.Once
	return HandleFunc(func() {
		once.Do(func() { close(stop) })
		<-done
	}), nil
}

// LoadReplayFile reads packets in the ParseLine format, one per line. Blank
// lines and lines starting with '#' are skipped.
func LoadReplayFile(path string) ([]Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	var packets []Packet
	scan := bufio.NewScanner(f)
	for n := 1; scan.Scan(); n++ {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		packets = append(packets, p)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	return packets, nil
}

// ManualSource is a Source driven by hand, for tests and for feeding packets
// from code that already owns a radio.
type ManualSource struct {
	// StartErr, when set, is returned by Start.
	StartErr error

	mu       sync.Mutex
	onPacket func(Packet)
	onError  func(error)
	running  bool
	starts   int
	stops    int
}

func (m *ManualSource) Start(onPacket func(Packet), onError func(error)) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return nil, m.StartErr
	}
	m.onPacket, m.onError = onPacket, onError
	m.running = true
	m.starts++
	return HandleFunc(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.running {
			m.running = false
			m.stops++
		}
	}), nil
}

// Emit delivers p if a scan is running and reports whether it did.
func (m *ManualSource) Emit(p Packet) bool {
	m.mu.Lock()
	fn, running := m.onPacket, m.running
	m.mu.Unlock()
	if !running {
		return false
	}
	fn(p)
	return true
}

// Fail reports err through the running scan's error callback.
func (m *ManualSource) Fail(err error) bool {
	m.mu.Lock()
	fn, running := m.onError, m.running
	m.mu.Unlock()
	if !running || fn == nil {
		return false
	}
	fn(err)
	return true
}

func (m *ManualSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Starts and Stops count scans begun and stopped.
func (m *ManualSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *ManualSource) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
