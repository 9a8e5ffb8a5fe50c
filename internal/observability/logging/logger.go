// Package logging builds the process-wide slog logger. Pipeline code logs
// snake_case event names (grounding_aborted, retrieval_backend_degraded,
// document_reindexed) as the message and carries identifiers such as the
// query fingerprint as attributes, so JSON lines aggregate cleanly per
// event. Every line is tagged with the service name.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewJSONLogger returns a JSON logger writing to stdout at the given level.
// Unknown level strings fall back to info.
func NewJSONLogger(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

func parseLevel(level string) slog.Level {
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
