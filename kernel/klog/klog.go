// Package klog provides structured kernel logging on top of log/slog.
package klog

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Level represents a log level.
type Level int

const (
	// LevelDebug is for per-page merge decisions and allocator traces.
	LevelDebug Level = iota
	// LevelInfo is for per-sweep summaries and boot messages.
	LevelInfo
	// LevelWarn is for recoverable anomalies.
	LevelWarn
	// LevelError is for unrecoverable errors.
	LevelError
)

// Format represents a log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs logs in JSON format.
	FormatJSON
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Init configures the kernel logger. Until Init is called all log output is
// discarded.
func Init(level Level, format Format, w io.Writer) {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger.Store(slog.New(handler))
}

// Logger returns the active kernel logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// For returns a logger that tags every record with the supplied module name.
func For(module string) *slog.Logger {
	return Logger().With("module", module)
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a level name to a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// ParseFormat converts a format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format %q", name)
}
