package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New constructs a logger for service from LOG_LEVEL and LOG_FORMAT.
func New(service string) *slog.Logger {
	return NewTo(os.Stdout, service)
}

// NewTo is New writing to w. The CLI logs to stderr so stdout carries only
// command output.
func NewTo(w io.Writer, service string) *slog.Logger {
	return build(w, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).With("service", service)
}

func build(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything; used where a caller passes
// no logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
