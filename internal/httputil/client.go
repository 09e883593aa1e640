// Package httputil holds the HTTP client seam used by the collector client
// and the JSON response helpers used by the local API.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is the part of *http.Client the collector client uses.
// *http.Client satisfies it; tests use MockHTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MockHTTPClient replays canned responses and records every request along
// with its body. It is safe for concurrent use, which the live flush path
// needs since uploads overlap.
type MockHTTPClient struct {
	// DoFunc, when set, answers every request instead of the queue.
	DoFunc func(req *http.Request) (*http.Response, error)
	// DefaultError, when set, is returned once the queue is exhausted.
	DefaultError error

	mu        sync.Mutex
	requests  []*http.Request
	bodies    []string
	responses []MockResponse
	next      int
}

// MockResponse is one canned reply. A non-nil Error is returned in place of
// a response.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a reply with the given status and body.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{StatusCode: statusCode, Body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{Error: err})
	return m
}

// Do records req and answers it from DoFunc, the queue, DefaultError, or an
// empty 200 in that order.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, string(body))
	doFunc := m.DoFunc
	var resp *MockResponse
	if doFunc == nil && m.next < len(m.responses) {
		resp = &m.responses[m.next]
		m.next++
	}
	defaultErr := m.DefaultError
	m.mu.Unlock()

	switch {
	case doFunc != nil:
		return doFunc(req)
	case resp != nil && resp.Error != nil:
		return nil, resp.Error
	case resp != nil:
		return reply(req, resp.StatusCode, resp.Body), nil
	case defaultErr != nil:
		return nil, defaultErr
	default:
		return reply(req, http.StatusOK, ""), nil
	}
}

func reply(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
		Request:    req,
	}
}

// Requests returns the recorded requests in arrival order.
func (m *MockHTTPClient) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*http.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Bodies returns the recorded request bodies in arrival order.
func (m *MockHTTPClient) Bodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.bodies))
	copy(out, m.bodies)
	return out
}

// RequestCount returns the number of requests seen so far.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
