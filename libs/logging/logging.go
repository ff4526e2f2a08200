package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func NewLogger(level string, serviceName string, env string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, serviceName, env)
}

// NewWithWriter is NewLogger with an explicit sink; tests pass a buffer.
func NewWithWriter(w io.Writer, level string, serviceName string, env string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With(
		slog.String("service", serviceName),
		slog.String("env", env),
	)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
