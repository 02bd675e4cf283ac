// Package config loads Signal Hub's configuration from environment
// variables (with an optional .env file) and a YAML rules file, and
// hot-reloads the rules file on change. Grounded on the teacher's
// config.Load (env-var-with-fallback helpers, godotenv) generalized to
// the SIGNAL_HUB_ prefix and extended with fsnotify-driven reload for
// the sections spec §4.A calls out as hot-reloadable.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Config holds Signal Hub's static (non-hot-reloadable) configuration.
type Config struct {
	Env   string
	LogLevel string

	RedisURL string

	RulesFilePath string

	DefaultTier string

	CacheMaxEntries int
	CacheTTL        time.Duration
	SimilarityThreshold float64

	RateLimitEnabled    bool
	RateLimitRPM        int
	RateLimitBurst      int
	RateLimitWindow     time.Duration
	RateLimitTierLimits map[tiers.Tier]int

	CostLedgerPath       string
	CostLedgerBufferSize int

	SessionOverrideDefault time.Duration

	GracefulShutdownTimeout time.Duration

	MetricsEnabled bool
}

// Load reads configuration from SIGNAL_HUB_-prefixed environment
// variables and an optional .env file, applying the same
// env-var-with-fallback pattern as the teacher's config.Load.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:      getEnv("SIGNAL_HUB_ENV", "development"),
		LogLevel: getEnv("SIGNAL_HUB_LOG_LEVEL", "info"),

		RedisURL: getEnv("SIGNAL_HUB_REDIS_URL", ""),

		RulesFilePath: getEnv("SIGNAL_HUB_RULES_FILE", "config/rules.yaml"),

		DefaultTier: getEnv("SIGNAL_HUB_DEFAULT_TIER", "medium"),

		CacheMaxEntries:     getEnvInt("SIGNAL_HUB_CACHE_MAX_ENTRIES", 10000),
		CacheTTL:            time.Duration(getEnvInt("SIGNAL_HUB_CACHE_TTL_SEC", 3600)) * time.Second,
		SimilarityThreshold: getEnvFloat("SIGNAL_HUB_CACHE_SIMILARITY_THRESHOLD", 0.85),

		RateLimitEnabled:    getEnvBool("SIGNAL_HUB_RATE_LIMIT_ENABLED", true),
		RateLimitRPM:        getEnvInt("SIGNAL_HUB_RATE_LIMIT_RPM", 60),
		RateLimitBurst:      getEnvInt("SIGNAL_HUB_RATE_LIMIT_BURST", 10),
		RateLimitWindow:     time.Duration(getEnvInt("SIGNAL_HUB_RATE_LIMIT_WINDOW_SEC", 60)) * time.Second,
		RateLimitTierLimits: getEnvTierLimits("SIGNAL_HUB_RATE_LIMIT_TIER_LIMITS"),

		CostLedgerPath:       getEnv("SIGNAL_HUB_COST_LEDGER_PATH", "data/cost_ledger.jsonl"),
		CostLedgerBufferSize: getEnvInt("SIGNAL_HUB_COST_LEDGER_BUFFER_SIZE", 10000),

		SessionOverrideDefault: time.Duration(getEnvInt("SIGNAL_HUB_SESSION_OVERRIDE_DEFAULT_SEC", 3600)) * time.Second,

		GracefulShutdownTimeout: time.Duration(getEnvInt("SIGNAL_HUB_SHUTDOWN_GRACE_SEC", 10)) * time.Second,

		MetricsEnabled: getEnvBool("SIGNAL_HUB_METRICS_ENABLED", true),
	}
}

// IsDevelopment reports whether Env is "development".
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction reports whether Env is "production".
func (c *Config) IsProduction() bool { return c.Env == "production" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvTierLimits parses a "tier:limit,tier:limit" value (spec §6
// rate_limit.tier_limits) into a per-tier override map, skipping
// malformed entries rather than failing startup.
func getEnvTierLimits(key string) map[tiers.Tier]int {
	out := make(map[tiers.Tier]int)
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return out
	}
	for _, pair := range strings.Split(v, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		tier, err := tiers.Parse(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		limit, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		out[tier] = limit
	}
	return out
}
