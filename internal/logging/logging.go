// Package logging wraps zerolog setup, grounded on the teacher's
// logger.New but parsing an explicit level name instead of switching
// only on dev/prod, since Signal Hub's LogLevel is independently
// configurable.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/alfred-ai/signalhub/internal/config"
)

// New builds the root logger for a Config. JSON-RPC responses go to
// stdout, so logs always go to stderr to keep the wire clean.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out zerolog.ConsoleWriter
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Str("env", cfg.Env).Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("env", cfg.Env).Logger()
}
