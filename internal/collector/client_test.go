package collector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/fingerprint"
	"github.com/uva-nepa/nepa/internal/httputil"
	"github.com/uva-nepa/nepa/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

var received = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type recordedRequest struct {
	method, path, contentType string
	body                      []byte
}

func newCollector(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{r.Method, r.URL.Path, r.Header.Get("Content-Type"), body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestClient_CheckStatus(t *testing.T) {
	srv, reqs := newCollector(t, http.StatusOK)
	c := NewClient(srv.URL+"/", nil)

	st := c.CheckStatus(context.Background())
	assert.True(t, st.Available)
	assert.NoError(t, st.Err)
	require.Len(t, reqs(), 1)
	assert.Equal(t, http.MethodGet, reqs()[0].method)
	assert.Equal(t, "/ping", reqs()[0].path)
}

func TestClient_CheckStatusNon2xx(t *testing.T) {
	srv, _ := newCollector(t, http.StatusServiceUnavailable)
	st := NewClient(srv.URL, nil).CheckStatus(context.Background())
	assert.False(t, st.Available)
	assert.NoError(t, st.Err, "a reachable but unhealthy collector is not a transport error")
}

func TestClient_CheckStatusTransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddErrorResponse(errors.New("connection refused"))
	st := NewClient("http://collector", mock).CheckStatus(context.Background())

	assert.False(t, st.Available)
	var nerr *NetworkError
	require.ErrorAs(t, st.Err, &nerr)
	assert.Equal(t, "ping", nerr.Op)
}

func TestClient_PostBatch(t *testing.T) {
	srv, reqs := newCollector(t, http.StatusCreated)
	c := NewClient(srv.URL, nil)

	packets := []beacon.Packet{
		{BeaconID: "b1", RSSI: -61, Channel: 37, MeasuredPower: -59, MACAddress: "AA", BeaconTimestamp: 7, ReceivedAt: received},
		{BeaconID: "b2", RSSI: -80, ReceivedAt: received.Add(time.Second)},
	}
	require.True(t, c.PostBatch(context.Background(), "device-1", packets))

	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, "/packets", got[0].path)
	assert.Contains(t, got[0].contentType, "application/json")

	var body struct {
		Packets []struct {
			DeviceID        string `json:"deviceId"`
			DeviceTimeStamp int64  `json:"deviceTimeStamp"`
			Telemetry       struct {
				Identifier    string `json:"identifier"`
				Channel       int    `json:"channel"`
				MeasuredPower int    `json:"measuredPower"`
				RSSI          int    `json:"rssi"`
				MACAddress    string `json:"macAddress"`
				Timestamp     int64  `json:"timestamp"`
			} `json:"estimoteTelemetryPacket"`
		} `json:"packets"`
	}
	require.NoError(t, json.Unmarshal(got[0].body, &body))
	require.Len(t, body.Packets, 2)
	first := body.Packets[0]
	assert.Equal(t, "device-1", first.DeviceID)
	assert.Equal(t, received.UnixMilli(), first.DeviceTimeStamp)
	assert.Equal(t, "b1", first.Telemetry.Identifier)
	assert.Equal(t, -61, first.Telemetry.RSSI)
	assert.Equal(t, 37, first.Telemetry.Channel)
	assert.Equal(t, -59, first.Telemetry.MeasuredPower)
	assert.Equal(t, "AA", first.Telemetry.MACAddress)
	assert.Equal(t, int64(7), first.Telemetry.Timestamp)
}

func TestClient_PostFingerprint(t *testing.T) {
	srv, reqs := newCollector(t, http.StatusOK)
	f := fingerprint.Fingerprint{Location: "lab", Section: "door", Signals: map[string]int{"A": -62, "B": -70}}
	require.True(t, NewClient(srv.URL, nil).PostFingerprint(context.Background(), f))

	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, "/fingerprint", got[0].path)
	assert.JSONEq(t, `{"location":"lab","section":"door","signals":{"A":-62,"B":-70}}`, string(got[0].body))
}

func TestClient_PostFingerprints(t *testing.T) {
	srv, reqs := newCollector(t, http.StatusOK)
	fps := []fingerprint.Fingerprint{
		{
			Location: "lab", Section: "s1",
			WindowStart: received, WindowEnd: received.Add(time.Second),
			Signals: map[string]int{"A": -60},
			Packets: []beacon.Packet{{BeaconID: "A", RSSI: -60, ReceivedAt: received}},
		},
		{Location: "lab", Section: "s1", WindowStart: received.Add(time.Second), WindowEnd: received.Add(1500 * time.Millisecond)},
	}
	require.True(t, NewClient(srv.URL, nil).PostFingerprints(context.Background(), fps))

	got := reqs()
	require.Len(t, got, 1, "windowed fingerprints go up in a single request")
	var body []map[string]any
	require.NoError(t, json.Unmarshal(got[0].body, &body))
	require.Len(t, body, 2)
	assert.Equal(t, float64(received.UnixMilli()), body[0]["windowStart"])
	assert.Equal(t, float64(received.Add(time.Second).UnixMilli()), body[0]["windowEnd"])
	assert.Len(t, body[0]["packets"], 1)
	assert.Equal(t, map[string]any{}, body[1]["signals"], "empty windows send an empty object, not null")
	assert.Equal(t, []any{}, body[1]["packets"])
}

func TestClient_PostDataPoint(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	c := NewClient("http://collector/api", mock)

	ok := c.PostDataPoint(context.Background(), DataPoint{
		DeviceID:  "device-1",
		Timestamp: received,
		Section:   "hall",
		Packet:    beacon.Packet{BeaconID: "b1", RSSI: -70},
	})
	require.True(t, ok)
	assert.Equal(t, "http://collector/api/datapoint", mock.Requests()[0].URL.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(mock.Bodies()[0]), &body))
	assert.Equal(t, "hall", body["section"])
	assert.Equal(t, "device-1", body["deviceId"])

	// section is omitted when not set
	c.PostDataPoint(context.Background(), DataPoint{DeviceID: "device-1", Timestamp: received})
	body = nil
	require.NoError(t, json.Unmarshal([]byte(mock.Bodies()[1]), &body))
	assert.NotContains(t, body, "section")
}

func TestClient_FailuresReturnFalse(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusInternalServerError, "boom").
		AddErrorResponse(errors.New("timeout")).
		AddResponse(http.StatusMovedPermanently, "")
	c := NewClient("http://collector", mock)
	ctx := context.Background()

	assert.False(t, c.PostBatch(ctx, "d", []beacon.Packet{{BeaconID: "b"}}))
	assert.False(t, c.PostFingerprint(ctx, fingerprint.Fingerprint{}))
	assert.False(t, c.PostDataPoint(ctx, DataPoint{}))
	// nothing is retried
	assert.Equal(t, 3, mock.RequestCount())
}

func TestNetworkError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &NetworkError{Op: "packets", URL: "http://c/packets", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "refused")

	status := &NetworkError{Op: "packets", URL: "http://c/packets", StatusCode: 502}
	assert.Contains(t, status.Error(), "502")
}
