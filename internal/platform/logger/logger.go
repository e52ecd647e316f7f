// Package logger provides structured logging functionality for the application.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/korvane/vidsub-api/internal/config"
)

// parseLevel maps a configured level name to its slog level. The second
// return reports whether the name was recognized.
func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// Setup initializes the process logging system from server configuration.
// It builds a structured JSON logger at the configured level, attaches the
// service name to every record, and installs it as the slog default so the
// package-level slog functions work everywhere.
//
// At debug level the handler also records source locations; extraction jobs
// log from several layers and the callsite is what disambiguates them.
func Setup(cfg config.ServerConfig) (*slog.Logger, error) {
	level, ok := parseLevel(cfg.LogLevel)
	if !ok {
		bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
		bootstrap.Warn("invalid log level configured, using default level",
			"configured_level", cfg.LogLevel,
			"default_level", "info")
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler).With(slog.String("service", "vidsub-api"))

	slog.SetDefault(logger)

	return logger, nil
}
