package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/collector"
	"github.com/uva-nepa/nepa/internal/db"
	"github.com/uva-nepa/nepa/internal/fingerprint"
	"github.com/uva-nepa/nepa/internal/flush"
	"github.com/uva-nepa/nepa/internal/session"
	"github.com/uva-nepa/nepa/internal/testutil"
	"github.com/uva-nepa/nepa/internal/timeutil"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type gatedUploader struct {
	release chan struct{}

	mu    sync.Mutex
	posts int
}

func (u *gatedUploader) post() bool {
	if u.release != nil {
		<-u.release
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.posts++
	return true
}

func (u *gatedUploader) PostFingerprint(context.Context, fingerprint.Fingerprint) bool {
	return u.post()
}

func (u *gatedUploader) PostFingerprints(context.Context, []fingerprint.Fingerprint) bool {
	return u.post()
}

type staticChecker struct{ status collector.Status }

func (c staticChecker) CheckStatus(context.Context) collector.Status { return c.status }

type fixture struct {
	clock   *timeutil.MockClock
	src     *beacon.ManualSource
	up      *gatedUploader
	ctrl    *session.Controller
	journal *db.DB
	server  *Server
	mux     *http.ServeMux
}

func newFixture(t *testing.T, checker collector.StatusChecker) *fixture {
	t.Helper()
	f := &fixture{
		clock:   timeutil.NewMockClock(t0),
		src:     &beacon.ManualSource{},
		up:      &gatedUploader{},
		journal: cloneAPITestDB(t),
	}
	f.ctrl = session.NewController(session.Config{
		Source:   f.src,
		Uploader: f.up,
		Clock:    f.clock,
		Journal:  f.journal,
	})
	t.Cleanup(f.ctrl.Close)

	f.server = NewServer(f.ctrl, f.journal, checker, session.Request{Width: time.Second, Count: 3})
	f.mux = f.server.ServeMux()
	f.server.AttachAdminRoutes(f.mux)
	return f
}

func (f *fixture) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	return testutil.Serve(f.mux, method, target, form)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	return testutil.DecodeJSON[T](t, rec)
}

func TestToggle_FullCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.up.release = make(chan struct{})
	lab := url.Values{"location": {"lab"}, "section": {"s1"}}

	rec := f.do(http.MethodPost, "/api/session/toggle", lab)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, toggleResponse{Action: "started", State: "scanning"}, decode[toggleResponse](t, rec))

	f.src.Emit(beacon.Packet{BeaconID: "b1", RSSI: -60})
	f.src.Emit(beacon.Packet{BeaconID: "b1", RSSI: -61})
	f.clock.Advance(1500 * time.Millisecond)

	// a second press stops the scan; the upload is still held open
	rec = f.do(http.MethodPost, "/api/session/toggle", url.Values{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, toggleResponse{Action: "interrupted", State: "uploading"}, decode[toggleResponse](t, rec))

	rec = f.do(http.MethodPost, "/api/session/toggle", lab)
	testutil.AssertStatusCode(t, rec, http.StatusConflict)
	assert.Equal(t, "ignored", decode[toggleResponse](t, rec).Action)

	close(f.up.release)
	f.ctrl.Wait()
	assert.Equal(t, session.StateIdle, f.ctrl.State())

	rec = f.do(http.MethodGet, "/api/fingerprints?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fps := decode[[]db.FingerprintRecord](t, rec)
	require.Len(t, fps, 2)
	// newest window first
	assert.Empty(t, fps[0].Signals)
	assert.Equal(t, map[string]int{"b1": -61}, fps[1].Signals)
	assert.Equal(t, "lab", fps[1].Location)

	rec = f.do(http.MethodGet, "/api/fingerprints?session="+fps[0].SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]db.FingerprintRecord](t, rec), 2)

	rec = f.do(http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[[]db.SessionRecord](t, rec)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Interrupted)
	assert.True(t, sessions[0].Uploaded)
	assert.Equal(t, 2, sessions[0].PacketCount)
}

func TestToggle_Validation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"missing location", url.Values{"section": {"s1"}}, "location is required"},
		{"missing section", url.Values{"location": {"lab"}}, "section is required"},
		{"bad mode", url.Values{"location": {"lab"}, "section": {"s1"}, "mode": {"burst"}}, "mode must be windowed or single"},
		{"bad count", url.Values{"location": {"lab"}, "section": {"s1"}, "count": {"0"}}, "count must be a positive integer"},
		{"bad width", url.Values{"location": {"lab"}, "section": {"s1"}, "width": {"soon"}}, "width must be a positive duration"},
		{"overflowing length", url.Values{"location": {"lab"}, "section": {"s1"}, "width": {"1h"}, "count": {"10000000"}}, "count must be at most 86400"},
		{"too many windows", url.Values{"location": {"lab"}, "section": {"s1"}, "width": {"1ns"}, "count": {"1000000000"}}, "count must be at most 86400"},
		{"length over a day", url.Values{"location": {"lab"}, "section": {"s1"}, "width": {"3600"}, "count": {"25"}}, "width times count 25 must be at most 24h0m0s"},
		{"huge width", url.Values{"location": {"lab"}, "section": {"s1"}, "width": {"1e30"}}, "width must be a positive duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/session/toggle", tt.form)
			testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
			assert.Contains(t, decode[map[string]string](t, rec)["error"], tt.want)
			assert.Equal(t, session.StateIdle, f.ctrl.State())
		})
	}

	rec := f.do(http.MethodGet, "/api/session/toggle", nil)
	testutil.AssertStatusCode(t, rec, http.StatusMethodNotAllowed)
}

func TestParseDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"3":     3 * time.Second,
		"0.5":   500 * time.Millisecond,
		"1.5s":  1500 * time.Millisecond,
		"250ms": 250 * time.Millisecond,
	} {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseDuration("later")
	assert.Error(t, err)
}

func TestShowStatus(t *testing.T) {
	f := newFixture(t, staticChecker{collector.Status{Available: false, Err: errors.New("connection refused")}})

	rec := f.do(http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[statusResponse](t, rec)
	assert.Equal(t, "idle", st.State)
	assert.NotEmpty(t, st.DeviceID)
	require.NotNil(t, st.Collector)
	assert.False(t, st.Collector.Available)
	assert.Equal(t, "connection refused", st.Collector.Error)
	assert.Nil(t, st.LastSession)

	id, err := f.journal.DeviceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, st.DeviceID)

	rec = f.do(http.MethodPost, "/api/status", url.Values{})
	testutil.AssertStatusCode(t, rec, http.StatusMethodNotAllowed)
}

func TestShowStatus_LastSession(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.ctrl.Toggle(session.Request{Location: "hall", Section: "B", Mode: session.ModeSingle, Duration: 2 * time.Second})
	require.NoError(t, err)
	f.src.Emit(beacon.Packet{BeaconID: "b7", RSSI: -70})
	f.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		_, ok := f.ctrl.Last()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	st := decode[statusResponse](t, f.do(http.MethodGet, "/api/status", nil))
	assert.Nil(t, st.Collector)
	require.NotNil(t, st.LastSession)
	assert.Equal(t, "single", st.LastSession.Mode)
	assert.Equal(t, "hall", st.LastSession.Location)
	assert.Equal(t, 1, st.LastSession.Fingerprints)
	assert.False(t, st.LastSession.Interrupted)
	assert.True(t, st.LastSession.Uploaded)
}

func TestListFingerprints_BadLimit(t *testing.T) {
	f := newFixture(t, nil)

	for _, limit := range []string{"0", "-3", "many"} {
		rec := f.do(http.MethodGet, "/api/fingerprints?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}

	rec := f.do(http.MethodGet, "/api/fingerprints", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestShowFlushes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.journal.RecordFlush(ctx, flush.Flush{At: t0, Packets: make([]beacon.Packet, 5), Uploaded: true}))
	require.NoError(t, f.journal.RecordFlush(ctx, flush.Flush{At: t0.Add(3 * time.Second), Packets: make([]beacon.Packet, 2), Uploaded: false}))

	rec := f.do(http.MethodGet, "/api/flushes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[db.FlushStats](t, rec)
	assert.Equal(t, int64(2), stats.Batches)
	assert.Equal(t, int64(1), stats.Uploaded)
	assert.Equal(t, int64(7), stats.Packets)
}

func TestDebugCharts(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/debug/fingerprints-chart", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "empty journal has nothing to chart")

	_, err := f.ctrl.Toggle(session.Request{Location: "lab", Section: "s1", Width: time.Second, Count: 2})
	require.NoError(t, err)
	f.src.Emit(beacon.Packet{BeaconID: "b1", RSSI: -60})
	f.src.Emit(beacon.Packet{BeaconID: "b2", RSSI: -75})
	f.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		_, ok := f.ctrl.Last()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	rec = f.do(http.MethodGet, "/debug/fingerprints-chart", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "b2")

	rec = f.do(http.MethodGet, "/debug/fingerprints.png", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestStreamEvents(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/session/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	expect := func(prefix string) string {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream ended before %q", prefix)
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	// the initial state line is written after the handler subscribed
	assert.Equal(t, `data: "idle"`, expect("data: "))

	_, err = f.ctrl.Toggle(session.Request{Location: "lab", Section: "s1", Width: time.Second, Count: 2})
	require.NoError(t, err)
	expect("event: started")
	line := expect("data: ")
	assert.Contains(t, line, `"state":"scanning"`)
}

func TestLoggingMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})
	rec := httptest.NewRecorder()
	LoggingMiddleware(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	testutil.AssertStatusCode(t, rec, http.StatusTeapot)
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestColorStatus(t *testing.T) {
	for code, want := range map[int]string{
		200: ansiGreen + "200" + ansiReset,
		304: ansiAmber + "304" + ansiReset,
		409: ansiRed + "409" + ansiReset,
		500: ansiRed + "500" + ansiReset,
		100: "100",
	} {
		assert.Equal(t, want, colorStatus(code), code)
	}
}
