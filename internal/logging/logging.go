// Package logging provides the small per-component logger wrapper used
// throughout rapidmember. The teacher repo logs directly through the
// standard library's "log" package with ad hoc prefixes; this package
// keeps that approach but fixes the prefix format so every component's
// log lines are attributable at a glance, and adds a process-wide level
// gate so internal/config's hot-reloadable log_level field has something
// real to drive.
package logging

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the process-wide verbosity gate. Every component shares one
// level: operators tune verbosity for the whole node, not per-package.
type Level int32

const (
	LevelDebug Level = -1
	LevelInfo  Level = 0
	LevelWarn  Level = 1
	LevelError Level = 2
)

// level defaults to LevelInfo (the zero value), matching
// internal/config.Defaults's "info".
var level atomic.Int32

// ParseLevel maps a config log_level string onto a Level. Unrecognized
// strings fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel installs the process-wide log level. Called at startup and
// again whenever internal/config.Watcher reloads a changed log_level.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// CurrentLevel returns the process-wide log level.
func CurrentLevel() Level {
	return Level(level.Load())
}

// Logger wraps log.Logger with a fixed component tag.
type Logger struct {
	*log.Logger
}

// New returns a Logger that prefixes every line with "[component] ".
func New(component string) *Logger {
	return &Logger{
		Logger: log.New(os.Stderr, "["+component+"] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// Debugf logs only when the process-wide level is LevelDebug or lower;
// everything else (Printf, Fatalf, ...) is inherited unconditionally from
// log.Logger, matching the teacher's always-print style for normal lines.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if CurrentLevel() <= LevelDebug {
		l.Printf(format, args...)
	}
}
