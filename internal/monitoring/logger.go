// Package monitoring holds the process-wide diagnostic logger used by the
// capture, flush and upload paths.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// can be swapped with SetLogger, which is how tests silence the upload paths.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil logger discards everything.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Tagged returns a logger that prefixes every line with "[tag] " and resolves
// Logf at call time, so a later SetLogger still takes effect.
func Tagged(tag string) func(format string, v ...interface{}) {
	prefix := "[" + tag + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
