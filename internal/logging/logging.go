// Package logging provides structured logging for the netweb server,
// router/executor layer, and protocol clients.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a new structured logger with the specified level and format.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func New(level, format string) *slog.Logger {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter creates a new structured logger with a custom writer.
func NewWithWriter(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop returns a logger that discards all output, for tests that want a
// non-nil logger without caring where it goes.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging across the server, router,
// executor, and client packages.
const (
	KeyComponent  = "component"
	KeySession    = "session"
	KeyConn       = "conn"
	KeyRemoteAddr = "remote_addr"
	KeyLocalAddr  = "local_addr"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyTLS        = "tls"
	KeyDuration   = "duration"
	KeyBytes      = "bytes"
	KeyError      = "error"
	KeyStrategy   = "strategy"
	KeyProtocol   = "protocol"
)
