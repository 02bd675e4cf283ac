package logging_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/alfred-ai/signalhub/internal/config"
	"github.com/alfred-ai/signalhub/internal/logging"
)

func TestNewParsesValidLevel(t *testing.T) {
	cfg := &config.Config{Env: "production", LogLevel: "warn"}
	logging.New(cfg)
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("expected global level warn, got %v", zerolog.GlobalLevel())
	}
}

func TestNewFallsBackToInfoOnInvalidLevel(t *testing.T) {
	cfg := &config.Config{Env: "production", LogLevel: "not-a-level"}
	logging.New(cfg)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected fallback to info level, got %v", zerolog.GlobalLevel())
	}
}

func TestNewReturnsUsableLoggerInDevAndProd(t *testing.T) {
	dev := logging.New(&config.Config{Env: "development", LogLevel: "info"})
	prod := logging.New(&config.Config{Env: "production", LogLevel: "info"})

	// Both must produce a logger that can emit events without panicking,
	// regardless of which writer (console or plain) backs it.
	dev.Info().Msg("dev logger smoke test")
	prod.Info().Msg("prod logger smoke test")
}
