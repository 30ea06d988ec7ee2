// Package logger builds the process-wide slog logger from config.
package logger

import (
	"log/slog"
	"os"

	"beltline/internal/config"
)

// Setup installs the root logger: JSON output in production, text
// elsewhere. The result is also set as slog's default so packages
// without an injected logger still log consistently.
func Setup(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithRequestID pins the request id on a child logger.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// WithError pins the failure on a child logger so every record on an
// error path carries it.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	return logger.With("error", err.Error())
}
