package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const eventKeepAlive = 15 * time.Second

type sessionEvent struct {
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id"`
	State     string          `json:"state"`
	Remaining float64         `json:"remaining_seconds,omitempty"`
	Result    *sessionSummary `json:"result,omitempty"`
}

// streamEvents relays controller events as Server-Sent Events until the
// client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, events := s.ctrl.Subscribe()
	defer s.ctrl.Unsubscribe(id)

	fmt.Fprintf(w, "event: state\ndata: %q\n\n", s.ctrl.State().String())
	flusher.Flush()

	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			out := sessionEvent{
				Kind:      ev.Kind.String(),
				SessionID: ev.SessionID,
				State:     ev.State.String(),
				Remaining: ev.Remaining.Seconds(),
			}
			if ev.Result != nil {
				out.Result = summarize(*ev.Result)
			}
			data, err := json.Marshal(out)
			if err != nil {
				logf("failed to encode session event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", out.Kind, data)
			flusher.Flush()
		}
	}
}
