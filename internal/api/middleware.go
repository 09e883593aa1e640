package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// ANSI escapes for the request log.
const (
	ansiReset = "\033[0m"
	ansiCyan  = "\033[36m"
	ansiGreen = "\033[1;32m"
	ansiAmber = "\033[33m"
	ansiRed   = "\033[1;31m"
)

// statusRecorder remembers the status and body size a handler sent.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   uint64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.size += uint64(n)
	return n, err
}

// Flush lets the session event stream through.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// colorStatus tints a status code by class. Informational codes stay plain.
func colorStatus(code int) string {
	var color string
	switch code / 100 {
	case 2:
		color = ansiGreen
	case 3:
		color = ansiAmber
	case 4, 5:
		color = ansiRed
	default:
		return fmt.Sprint(code)
	}
	return fmt.Sprintf("%s%d%s", color, code, ansiReset)
}

// LoggingMiddleware writes one line per request once next returns.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		logf("[%s] %s %s%s%s %s in %s",
			colorStatus(sr.status), r.Method, ansiCyan, r.RequestURI, ansiReset,
			humanize.Bytes(sr.size), time.Since(start).Round(time.Microsecond))
	})
}
