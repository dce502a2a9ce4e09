package config

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// SetupLogger builds the service logger from LOG_LEVEL and LOG_FORMAT.
// An unknown level falls back to info.
func SetupLogger(cfg App) zerolog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg App, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("service", "boacid").
		Str("env", cfg.Env).
		Logger()
}
