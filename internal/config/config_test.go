package config_test

import (
	"os"
	"testing"

	"github.com/alfred-ai/signalhub/internal/config"
	"github.com/alfred-ai/signalhub/internal/tiers"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("SIGNAL_HUB_ENV")
	os.Unsetenv("SIGNAL_HUB_DEFAULT_TIER")

	cfg := config.Load()
	if cfg.Env != "development" {
		t.Fatalf("expected default env 'development', got %q", cfg.Env)
	}
	if cfg.DefaultTier != "medium" {
		t.Fatalf("expected default tier 'medium', got %q", cfg.DefaultTier)
	}
	if !cfg.IsDevelopment() || cfg.IsProduction() {
		t.Fatalf("expected IsDevelopment()=true for default env, got %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("SIGNAL_HUB_ENV", "production")
	os.Setenv("SIGNAL_HUB_RATE_LIMIT_RPM", "120")
	os.Setenv("SIGNAL_HUB_CACHE_SIMILARITY_THRESHOLD", "0.9")
	os.Setenv("SIGNAL_HUB_RATE_LIMIT_ENABLED", "false")
	defer func() {
		os.Unsetenv("SIGNAL_HUB_ENV")
		os.Unsetenv("SIGNAL_HUB_RATE_LIMIT_RPM")
		os.Unsetenv("SIGNAL_HUB_CACHE_SIMILARITY_THRESHOLD")
		os.Unsetenv("SIGNAL_HUB_RATE_LIMIT_ENABLED")
	}()

	cfg := config.Load()
	if cfg.Env != "production" || !cfg.IsProduction() {
		t.Fatalf("expected production env, got %+v", cfg)
	}
	if cfg.RateLimitRPM != 120 {
		t.Fatalf("expected RPM override 120, got %d", cfg.RateLimitRPM)
	}
	if cfg.SimilarityThreshold != 0.9 {
		t.Fatalf("expected similarity threshold override 0.9, got %v", cfg.SimilarityThreshold)
	}
	if cfg.RateLimitEnabled {
		t.Fatal("expected rate limiting disabled via env override")
	}
}

func TestLoadParsesRateLimitTierLimits(t *testing.T) {
	os.Setenv("SIGNAL_HUB_RATE_LIMIT_TIER_LIMITS", "small:200,large:10,bogus:5,malformed")
	defer os.Unsetenv("SIGNAL_HUB_RATE_LIMIT_TIER_LIMITS")

	cfg := config.Load()
	if cfg.RateLimitTierLimits[tiers.Small] != 200 {
		t.Fatalf("expected small tier limit 200, got %+v", cfg.RateLimitTierLimits)
	}
	if cfg.RateLimitTierLimits[tiers.Large] != 10 {
		t.Fatalf("expected large tier limit 10, got %+v", cfg.RateLimitTierLimits)
	}
	if len(cfg.RateLimitTierLimits) != 2 {
		t.Fatalf("expected malformed/unknown entries skipped, got %+v", cfg.RateLimitTierLimits)
	}
}

func TestLoadIgnoresInvalidIntOverride(t *testing.T) {
	os.Setenv("SIGNAL_HUB_RATE_LIMIT_RPM", "not-a-number")
	defer os.Unsetenv("SIGNAL_HUB_RATE_LIMIT_RPM")

	cfg := config.Load()
	if cfg.RateLimitRPM != 60 {
		t.Fatalf("expected fallback default 60 for invalid int env var, got %d", cfg.RateLimitRPM)
	}
}
