// Package serialmux shares one serial beacon receiver between several
// readers. Every line the receiver prints is copied to each subscriber, and
// commands from any of them are written back one at a time.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"tailscale.com/tsweb"

	"github.com/uva-nepa/nepa/internal/httputil"
)

// ErrWriteFailed reports a command that reached the port only in part.
var ErrWriteFailed = errors.New("short write to serial port")

// subscriberBuffer is how far a subscriber may lag before its lines are
// dropped.
const subscriberBuffer = 64

// SerialMuxInterface is what the rest of nepa needs from a receiver.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel of receiver lines. The channel
	// is closed by Unsubscribe(id) or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command.
	SendCommand(string) error
	// Monitor reads the port until ctx ends, the port hits EOF or a read
	// fails.
	Monitor(context.Context) error
	Stats() Stats
	Close() error

	// AttachAdminRoutes mounts the serial pages under /debug/, which tsweb
	// limits to loopback and tailnet callers.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats counts what Monitor has read since the mux was created.
type Stats struct {
	Lines       int64 `json:"lines"`
	Packets     int64 `json:"packets"`
	Status      int64 `json:"status"`
	Dropped     int64 `json:"dropped"`
	Subscribers int   `json:"subscribers"`
}

func (s Stats) String() string {
	return fmt.Sprintf("%s lines (%s packets, %s status), %s dropped",
		humanize.Comma(s.Lines), humanize.Comma(s.Packets), humanize.Comma(s.Status), humanize.Comma(s.Dropped))
}

// SerialMux multiplexes a single SerialPorter.
type SerialMux[T SerialPorter] struct {
	port    T
	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool

	lines, packets, status, dropped atomic.Int64
}

func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, subs: make(map[string]chan string)}
}

// randomID returns 16 hex characters.
func randomID() string {
	var b [8]byte
	crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subs[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *SerialMux[T]) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *SerialMux[T]) SendCommand(command string) error {
	line := strings.TrimRight(command, "\r\n") + "\n"

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(line))
	switch {
	case err != nil:
		return err
	case n < len(line):
		return fmt.Errorf("%w: %d of %d bytes", ErrWriteFailed, n, len(line))
	}
	return nil
}

// publish hands line to every subscriber without blocking. It reports false
// once the mux is closed.
func (s *SerialMux[T]) publish(line string) bool {
	line = strings.TrimRight(line, "\r")
	kind := ClassifyLine(line)
	if kind == LineEmpty {
		return true
	}
	s.lines.Add(1)
	if kind == LinePacket {
		s.packets.Add(1)
	} else {
		s.status.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
	return true
}

func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	// Scan blocks in Read, so it gets its own goroutine and the loop below
	// stays responsive to ctx.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.port)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return ctx.Err()
				}
			}
			if !s.publish(line) {
				return nil
			}
		}
	}
}

func (s *SerialMux[T]) Stats() Stats {
	return Stats{
		Lines:       s.lines.Load(),
		Packets:     s.packets.Load(),
		Status:      s.status.Load(),
		Dropped:     s.dropped.Load(),
		Subscribers: s.subscriberCount(),
	}
}

// Close ends every subscription and closes the port. Later calls are no-ops.
func (s *SerialMux[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("serial-command", s.handleCommand)
	debug.HandleSilentFunc("serial-tail", s.handleTail)
	debug.HandleSilentFunc("serial-stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, s.Stats())
	})
}

// handleCommand writes the "command" form value to the receiver.
func (s *SerialMux[T]) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.SendCommand(command); err != nil {
		http.Error(w, "Failed to write command: "+err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "Wrote command %q to serial port\n", command)
}

// handleTail streams receiver lines as server-sent events until the client
// goes away or the mux closes.
func (s *SerialMux[T]) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	rc := http.NewResponseController(w)
	fmt.Fprint(w, ": ping\n\n")
	rc.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			rc.Flush()
		}
	}
}
