// Package monitoring holds the service-wide diagnostic logger shared by the
// camera pipelines and the notification worker.
package monitoring

import "log"

// Logf is the package-level diagnostic logger, defaulting to log.Printf.
// Replace it with SetLogger to redirect or mute pipeline diagnostics.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger,
// which keeps noisy per-frame diagnostics out of test output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
