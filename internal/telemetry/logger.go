// Package telemetry builds the structured logger and Prometheus registry
// the composition root wires into every component.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger, writing to stdout. format selects
// the handler: "text" for the development console, anything else for JSON.
func NewLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// ParseLevel maps a configured level string to a slog.Level. Unrecognized
// values fall back to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
