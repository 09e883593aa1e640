// Package testutil holds helpers shared by the HTTP handler tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// LoopbackAddr is the RemoteAddr given to test requests. The /debug/
// routes only answer loopback callers.
const LoopbackAddr = "127.0.0.1:12345"

// NewRequest builds a request from a loopback address. A non-nil form is
// sent as an urlencoded body.
func NewRequest(method, target string, form url.Values) *http.Request {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = LoopbackAddr
	return req
}

// Serve runs one request through h and returns the recorded response.
func Serve(h http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, NewRequest(method, target, form))
	return rec
}

// AssertStatusCode checks the response code and shows the body on mismatch.
func AssertStatusCode(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status code = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

// DecodeJSON unmarshals the response body into a T.
func DecodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}
