// Package logger provides structured logging setup for subctl.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/SubCtl/internal/config"
)

// New creates a *slog.Logger from the given Logging config. Output goes
// to stderr so the CLI's stdout stays clean for tables and JSON.
func New(cfg config.Logging) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler).With("service", cfg.Service)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
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
