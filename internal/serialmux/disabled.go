package serialmux

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// ErrDisabled is returned by DisabledSerialMux.SendCommand.
var ErrDisabled = errors.New("no serial scanner configured")

// DisabledSerialMux stands in for the serial mux when beacons come from BLE
// or a replay file. It never produces lines; subscriber channels close on
// Unsubscribe or Close so readers unblock at shutdown.
type DisabledSerialMux struct {
	// Reason is shown on the /debug/serial-* pages.
	Reason string

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool
}

func NewDisabledSerialMux(reason string) *DisabledSerialMux {
	return &DisabledSerialMux{Reason: reason, subs: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
		return id, ch
	}
	d.subs[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(ch)
	}
}

func (d *DisabledSerialMux) SendCommand(string) error { return ErrDisabled }

func (d *DisabledSerialMux) Stats() Stats { return Stats{} }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, ch := range d.subs {
		delete(d.subs, id)
		close(ch)
	}
	return nil
}

// AttachAdminRoutes registers the serial pages so the /debug/ index stays
// the same for every scanner; they answer 404 with the reason.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	msg := ErrDisabled.Error()
	if d.Reason != "" {
		msg += ": " + d.Reason
	}
	notFound := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, msg, http.StatusNotFound)
	}
	debug.HandleSilentFunc("serial-command", notFound)
	debug.HandleSilentFunc("serial-tail", notFound)
	debug.HandleSilentFunc("serial-stats", notFound)
}
