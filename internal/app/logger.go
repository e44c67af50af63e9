package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns the process logger. Authorization decisions are emitted at
// debug level, so LOG_LEVEL=debug is needed to see them.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	env := "development"
	var handler slog.Handler
	if cfg != nil {
		level, _ := parseLevel(cfg.LogLevel)
		opts.Level = level
		env = cfg.AppEnv
	}
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("app", "backoffice"), slog.String("env", env))
}
