// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - Context-based request ID extraction for filtering
// - Dynamic filter-based logging via slog-logfilter library
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	logfilter "github.com/jmylchreest/slog-logfilter"
)

// registerContextExtractors registers the context extractors for filtering.
func registerContextExtractors() {
	logfilter.RegisterContextExtractor("request_id", func(ctx context.Context) (string, bool) {
		if ctx == nil {
			return "", false
		}
		if id := middleware.GetReqID(ctx); id != "" {
			return id, true
		}
		return "", false
	})
}

// New creates a new configured logger using slog-logfilter.
// Format is determined by:
// 1. LOG_FORMAT env var (text/json)
// 2. TTY detection (text for TTY, JSON otherwise)
// Level is determined by LOG_LEVEL env var (debug/info/warn/error, default: info)
func New() *slog.Logger {
	logFormat := os.Getenv("LOG_FORMAT")
	format := "json"
	if logFormat == "text" || (logFormat == "" && isatty(os.Stdout)) {
		format = "text"
	}

	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	registerContextExtractors()

	return logfilter.New(
		logfilter.WithLevel(level),
		logfilter.WithFormat(format),
		logfilter.WithOutput(os.Stdout),
		logfilter.WithSource(true),
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
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

// SetDefault creates a new logger and sets it as the default slog logger.
// Returns the created logger for additional use.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the global log level at runtime.
func SetLevel(level slog.Level) {
	logfilter.SetLevel(level)
}

// SetFilters replaces all log filters.
func SetFilters(filters []logfilter.LogFilter) {
	logfilter.SetFilters(filters)
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
