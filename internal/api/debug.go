package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/uva-nepa/nepa/internal/db"
	"github.com/uva-nepa/nepa/internal/fingerprint"
	"github.com/uva-nepa/nepa/internal/httputil"
	"github.com/uva-nepa/nepa/internal/report"
)

// AttachAdminRoutes adds the fingerprint chart pages to the /debug/ index.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("fingerprints-chart", "RSSI per beacon and window (?session=, ?limit=)", http.HandlerFunc(s.handleFingerprintChart))
	debug.Handle("fingerprints.png", "RSSI per beacon over time as PNG", http.HandlerFunc(s.handleFingerprintPlot))
}

func (s *Server) chartData(ctx context.Context, r *http.Request) ([]fingerprint.Fingerprint, string, error) {
	if s.db == nil {
		return nil, "", errors.New("no journal configured")
	}
	if id := r.URL.Query().Get("session"); id != "" {
		recs, err := s.db.FingerprintsBySession(ctx, id)
		return db.Fingerprints(recs), "Session " + id, err
	}
	limit, err := parseLimit(r)
	if err != nil {
		return nil, "", err
	}
	recs, err := s.db.RecentFingerprints(ctx, limit)
	return db.Fingerprints(recs), fmt.Sprintf("Last %d fingerprints", limit), err
}

func (s *Server) handleFingerprintChart(w http.ResponseWriter, r *http.Request) {
	fps, title, err := s.chartData(r.Context(), r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var buf bytes.Buffer
	err = report.RenderHTML(&buf, fps, report.Options{Title: title, AssetsHost: s.ChartAssetsHost})
	if errors.Is(err, report.ErrNoData) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleFingerprintPlot(w http.ResponseWriter, r *http.Request) {
	fps, title, err := s.chartData(r.Context(), r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var buf bytes.Buffer
	err = report.RenderPNG(&buf, fps, report.Options{Title: title})
	if errors.Is(err, report.ErrNoData) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
