// Package collector talks to the remote collector service: the liveness
// probe and the best-effort fingerprint and telemetry uploads.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/fingerprint"
	"github.com/uva-nepa/nepa/internal/httputil"
	"github.com/uva-nepa/nepa/internal/monitoring"
)

const (
	// DefaultBaseURL is the production collector.
	DefaultBaseURL = "http://nepa.1dev.nl/api"
	// DefaultTimeout bounds every collector request.
	DefaultTimeout = 10 * time.Second
)

var logf = monitoring.Tagged("collector")

// NetworkError describes a failed collector call: a transport error, or a
// response outside 2xx when Err is nil.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Status is the outcome of a liveness probe.
type Status struct {
	Available bool
	// Err is set when the probe failed at the transport level.
	Err error
}

// Client uploads to a collector. Every upload is attempted once; failures
// are logged and reported as false, and the payload is dropped.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient returns a Client for the collector at baseURL. A nil client uses
// NewHTTPClient(DefaultTimeout).
func NewClient(baseURL string, client httputil.HTTPClient) *Client {
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// NewHTTPClient returns an http.Client whose requests, including connection
// setup, give up after timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// BaseURL returns the collector root the client posts to.
func (c *Client) BaseURL() string { return c.baseURL }

// CheckStatus probes GET {base}/ping. Any 2xx response means available.
func (c *Client) CheckStatus(ctx context.Context) Status {
	url := c.baseURL + "/ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{Err: &NetworkError{Op: "ping", URL: url, Err: err}}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		nerr := &NetworkError{Op: "ping", URL: url, Err: err}
		logf("collector unreachable: %v", nerr)
		return Status{Err: nerr}
	}
	drain(resp)
	return Status{Available: success(resp.StatusCode)}
}

// PostFingerprint uploads a single fingerprint as {location, section, signals}.
func (c *Client) PostFingerprint(ctx context.Context, f fingerprint.Fingerprint) bool {
	return c.post(ctx, "fingerprint", "/fingerprint", newFingerprintPayload(f))
}

// PostFingerprints uploads windowed fingerprints as one JSON array, each
// element carrying its window bounds in epoch milliseconds and its packets.
func (c *Client) PostFingerprints(ctx context.Context, fps []fingerprint.Fingerprint) bool {
	body := make([]windowedFingerprintPayload, len(fps))
	for i, f := range fps {
		body[i] = newWindowedPayload(f)
	}
	return c.post(ctx, "fingerprints", "/fingerprint", body)
}

// PostBatch uploads a telemetry batch as {packets: [...]}.
func (c *Client) PostBatch(ctx context.Context, deviceID string, packets []beacon.Packet) bool {
	return c.post(ctx, "packets", "/packets", newBatchPayload(deviceID, packets))
}

// PostDataPoint uploads a single packet.
func (c *Client) PostDataPoint(ctx context.Context, d DataPoint) bool {
	return c.post(ctx, "datapoint", "/datapoint", newDataPointPayload(d))
}

func (c *Client) post(ctx context.Context, op, path string, payload any) bool {
	url := c.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		logf("failed to encode %s payload: %v", op, err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		logf("%v", &NetworkError{Op: op, URL: url, Err: err})
		return false
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logf("upload dropped: %v", &NetworkError{Op: op, URL: url, Err: err})
		return false
	}
	drain(resp)

	if !success(resp.StatusCode) {
		logf("upload dropped: %v", &NetworkError{Op: op, URL: url, StatusCode: resp.StatusCode})
		return false
	}
	logf("POST %s HTTP %d (%s in %v)", url, resp.StatusCode, humanize.Bytes(uint64(len(body))), time.Since(start).Round(time.Millisecond))
	return true
}

func success(code int) bool { return code >= 200 && code < 300 }

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
