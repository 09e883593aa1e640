// Package api serves the local control surface: session toggling, status
// and the journal of recorded fingerprints.
package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/uva-nepa/nepa/internal/collector"
	"github.com/uva-nepa/nepa/internal/db"
	"github.com/uva-nepa/nepa/internal/httputil"
	"github.com/uva-nepa/nepa/internal/monitoring"
	"github.com/uva-nepa/nepa/internal/session"
	"github.com/uva-nepa/nepa/internal/version"
)

var logf = monitoring.Tagged("api")

const (
	defaultFingerprintLimit = 50
	maxFingerprintLimit     = 1000
	statusProbeTimeout      = 2 * time.Second
)

type Server struct {
	ctrl    *session.Controller
	db      *db.DB
	checker collector.StatusChecker
	// defaults fill in toggle requests that omit timing fields.
	defaults session.Request
	// ChartAssetsHost is passed to the echarts debug pages.
	ChartAssetsHost string
}

// NewServer builds a server around a controller and journal. checker may
// be nil, in which case the status endpoint omits collector reachability.
func NewServer(ctrl *session.Controller, journal *db.DB, checker collector.StatusChecker, defaults session.Request) *Server {
	return &Server{
		ctrl:     ctrl,
		db:       journal,
		checker:  checker,
		defaults: defaults,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/session/toggle", s.toggleSession)
	mux.HandleFunc("/api/session/events", s.streamEvents)
	mux.HandleFunc("/api/fingerprints", s.listFingerprints)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/flushes", s.showFlushes)
	return mux
}

type collectorStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type sessionSummary struct {
	ID           string    `json:"id"`
	Mode         string    `json:"mode"`
	Location     string    `json:"location"`
	Section      string    `json:"section"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Interrupted  bool      `json:"interrupted"`
	Packets      int       `json:"packets"`
	Fingerprints int       `json:"fingerprints"`
	Uploaded     bool      `json:"uploaded"`
	Skipped      bool      `json:"skipped"`
}

func summarize(r session.Result) *sessionSummary {
	return &sessionSummary{
		ID:           r.ID,
		Mode:         r.Mode.String(),
		Location:     r.Location,
		Section:      r.Section,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		Interrupted:  r.Interrupted,
		Packets:      r.Packets,
		Fingerprints: len(r.Fingerprints),
		Uploaded:     r.Uploaded,
		Skipped:      r.Skipped,
	}
}

type statusResponse struct {
	State       string           `json:"state"`
	DeviceID    string           `json:"device_id,omitempty"`
	Version     string           `json:"version"`
	Collector   *collectorStatus `json:"collector,omitempty"`
	LastSession *sessionSummary  `json:"last_session,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := statusResponse{
		State:   s.ctrl.State().String(),
		Version: version.Version,
	}
	if s.db != nil {
		id, err := s.db.DeviceID(r.Context())
		if err != nil {
			logf("failed to read device id: %v", err)
		}
		resp.DeviceID = id
	}
	if s.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statusProbeTimeout)
		st := s.checker.CheckStatus(ctx)
		cancel()
		resp.Collector = &collectorStatus{Available: st.Available}
		if st.Err != nil {
			resp.Collector.Error = st.Err.Error()
		}
	}
	if last, ok := s.ctrl.Last(); ok {
		resp.LastSession = summarize(last)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type toggleResponse struct {
	Action string `json:"action"`
	State  string `json:"state"`
}

// parseDuration accepts Go durations ("1.5s") or plain seconds ("3").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs*float64(time.Second) >= math.MaxInt64 {
			return 0, fmt.Errorf("duration %q out of range", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func (s *Server) parseToggle(r *http.Request) (session.Request, error) {
	req := s.defaults
	req.Location = r.FormValue("location")
	req.Section = r.FormValue("section")

	if v := r.FormValue("mode"); v != "" {
		mode, err := session.ParseMode(v)
		if err != nil {
			return req, err
		}
		req.Mode = mode
	}
	if v := r.FormValue("width"); v != "" {
		d, err := parseDuration(v)
		if err != nil || d <= 0 {
			return req, &session.ValidationError{Field: "width", Reason: "must be a positive duration"}
		}
		req.Width = d
	}
	if v := r.FormValue("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return req, &session.ValidationError{Field: "count", Reason: "must be a positive integer"}
		}
		req.Count = n
	}
	if v := r.FormValue("duration"); v != "" {
		d, err := parseDuration(v)
		if err != nil || d <= 0 {
			return req, &session.ValidationError{Field: "duration", Reason: "must be a positive duration"}
		}
		req.Duration = d
	}
	return req, nil
}

// toggleSession is the one-button control: start when idle, stop when
// scanning, refuse while an upload is in flight.
func (s *Server) toggleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	req, err := s.parseToggle(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	action, err := s.ctrl.Toggle(req)
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.BadRequest(w, verr.Error())
		return
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return
	}

	resp := toggleResponse{Action: action.String(), State: s.ctrl.State().String()}
	if action == session.ActionIgnored {
		httputil.WriteJSON(w, http.StatusConflict, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultFingerprintLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxFingerprintLimit), nil
}

func (s *Server) listFingerprints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no journal configured")
		return
	}

	var (
		recs []db.FingerprintRecord
		err  error
	)
	if id := r.URL.Query().Get("session"); id != "" {
		recs, err = s.db.FingerprintsBySession(r.Context(), id)
	} else {
		limit, lerr := parseLimit(r)
		if lerr != nil {
			httputil.BadRequest(w, lerr.Error())
			return
		}
		recs, err = s.db.RecentFingerprints(r.Context(), limit)
	}
	if err != nil {
		logf("failed to list fingerprints: %v", err)
		httputil.InternalServerError(w, "failed to list fingerprints")
		return
	}
	if recs == nil {
		recs = []db.FingerprintRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, recs)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no journal configured")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	recs, err := s.db.RecentSessions(r.Context(), limit)
	if err != nil {
		logf("failed to list sessions: %v", err)
		httputil.InternalServerError(w, "failed to list sessions")
		return
	}
	if recs == nil {
		recs = []db.SessionRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, recs)
}

func (s *Server) showFlushes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no journal configured")
		return
	}
	stats, err := s.db.FlushStats(r.Context())
	if err != nil {
		logf("failed to read flush stats: %v", err)
		httputil.InternalServerError(w, "failed to read flush stats")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
