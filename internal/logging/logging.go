// Package logging provides the structured-logging conventions for the updater.
//
// Loggers are dependency-injected, never global. Each component receives an
// optional *slog.Logger at construction, scopes it once with
// logger.With("component", ...), and falls back to a discard logger when none
// is provided. Output format, level, and destination are decided only in main.
//
// The update path logs at lifecycle boundaries (window computed, granules
// located, branch created, commit, merge), not inside per-chunk loops.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger. Standard
// pattern for optional logger parameters:
//
//	func NewLocator(logger *slog.Logger) *Locator {
//	    logger = logging.Default(logger)
//	    return &Locator{logger: logger.With("component", "locator")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a
// slog.Level. The comparison is case-insensitive.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %q", name)
}
