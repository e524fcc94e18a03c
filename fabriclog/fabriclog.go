// Package fabriclog wraps gopkg.in/op/go-logging.v1 behind the small
// surface the messaging fabric actually needs: one process-wide backend,
// and one *Logger per component fetched by name.
package fabriclog

import (
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// Logger is an alias for the underlying library's logger type, so
// callers never need to import gopkg.in/op/go-logging.v1 directly.
type Logger = logging.Logger

var initialized bool

// Init installs the process-wide log backend: leveled, writing to
// stderr, formatted with timestamp, level, and module name. level is one
// of "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL" (case-insensitive);
// an unrecognized value defaults to INFO. Init is idempotent — later
// calls are ignored, matching the fabric's "guarded lazy singleton, no
// teardown" discipline for process-wide state.
func Init(level string) {
	if initialized {
		return
	}
	initialized = true

	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05.000} %{level:.4s} %{module}: %{message}`,
	))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(parseLevel(level), "")
	logging.SetBackend(leveled)
}

func parseLevel(level string) logging.Level {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return logging.INFO
	}
	return lvl
}

// GetLogger returns the named component logger. Safe to call before Init
// — until Init installs its backend, go-logging's own default backend
// handles the logger's records.
func GetLogger(name string) *Logger {
	return logging.MustGetLogger(name)
}
