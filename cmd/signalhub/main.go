// Command signalhub is the Signal Hub gateway entry point: it wires
// config -> logger -> metrics -> rules -> escalation -> routing ->
// cache -> cost ledger -> rate limit -> backend -> coordinator ->
// middleware -> stdio transport, then serves JSON-RPC requests until a shutdown
// signal arrives. Grounded on the teacher's main.go wiring order and
// graceful shutdown handling, rebuilt around a stdio transport loop
// instead of an http.Server.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alfred-ai/signalhub/internal/backend"
	"github.com/alfred-ai/signalhub/internal/cache"
	"github.com/alfred-ai/signalhub/internal/config"
	"github.com/alfred-ai/signalhub/internal/coordinator"
	"github.com/alfred-ai/signalhub/internal/cost"
	"github.com/alfred-ai/signalhub/internal/escalation"
	"github.com/alfred-ai/signalhub/internal/fingerprint"
	"github.com/alfred-ai/signalhub/internal/logging"
	"github.com/alfred-ai/signalhub/internal/metrics"
	"github.com/alfred-ai/signalhub/internal/middleware"
	"github.com/alfred-ai/signalhub/internal/ratelimit"
	"github.com/alfred-ai/signalhub/internal/rules"
	"github.com/alfred-ai/signalhub/internal/routing"
	"github.com/alfred-ai/signalhub/internal/tiers"
	"github.com/alfred-ai/signalhub/internal/transport"
	"github.com/alfred-ai/signalhub/internal/vectorindex"
)

const (
	serverName    = "signal-hub"
	serverVersion = "0.1.0"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("signal hub starting")

	startTime := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.NewRegistry()
	registerMetrics(reg)

	tierRegistry := tiers.DefaultRegistry()

	ruleSet, err := config.LoadRules(cfg.RulesFilePath)
	if err != nil {
		log.Warn().Err(err).Msg("rules file load failed, falling back to default task-type mapping")
		fallback, ferr := rules.NewSet([]rules.Rule{
			{Name: "default-task-type-mapping", Enabled: true, Priority: 50, Kind: rules.NewTaskTypeMapping(rules.DefaultTaskMapping())},
		})
		if ferr != nil {
			log.Fatal().Err(ferr).Msg("failed to build fallback rule set")
		}
		ruleSet = fallback
	}
	ruleHandle := rules.NewHandle(ruleSet)

	overrideSet, err := config.LoadOverrides(cfg.RulesFilePath)
	if err != nil {
		log.Warn().Err(err).Msg("pattern overrides load failed, continuing with no overrides")
		overrideSet = escalation.NewOverrideSet(nil)
	}
	overrideHandle := escalation.NewOverrideHandle(overrideSet)

	ruleWatcher, err := config.NewRuleWatcher(cfg.RulesFilePath, ruleHandle, overrideHandle, log)
	if err != nil {
		log.Warn().Err(err).Msg("rules hot-reload watcher unavailable, continuing with static rules")
	}

	sessions := escalation.NewSessionTable()
	resolver := escalation.NewResolver(sessions, overrideHandle)

	defaultTier, err := tiers.Parse(cfg.DefaultTier)
	if err != nil {
		defaultTier = tiers.Medium
	}
	engine := routing.NewEngine(ruleHandle, resolver, defaultTier, reg, log)

	embedder := fingerprint.NewHashEmbedder()
	index := vectorindex.NewMemoryIndex()
	store := cache.NewStore(cfg.CacheMaxEntries, cfg.CacheTTL)
	semanticCache := cache.New(embedder, index, store, cfg.SimilarityThreshold, reg, log)

	calc := cost.NewCalculator(tierRegistry)
	ledgerStorage, err := cost.NewFileStorage(cfg.CostLedgerPath)
	if err != nil {
		log.Fatal().Err(err).Msg("cost ledger storage init failed")
	}
	ledger := cost.NewLedger(ctx, calc, ledgerStorage, cfg.CostLedgerBufferSize, log)

	var rlBackend ratelimit.Backend = ratelimit.NewMemoryBackend()
	limiter := ratelimit.NewLimiter(rlBackend, cfg.RateLimitRPM, cfg.RateLimitWindow,
		ratelimit.WithBurst(cfg.RateLimitBurst),
		ratelimit.WithTierLimits(cfg.RateLimitTierLimits),
	)

	be := backend.NewMock()
	coord := coordinator.New(engine, be, ledger, log)

	chain := middleware.Chain(coord.Handle,
		middleware.Logging(log),
		middleware.Metrics(reg),
		conditionalRateLimit(cfg.RateLimitEnabled, limiter),
		middleware.ResponseCache(semanticCache, func() string { return uuid.NewString() }),
	)

	toolRegistry := transport.NewRegistry()
	stdio := transport.NewStdio(os.Stdin, os.Stdout)

	diag := &transport.Diagnostics{
		Metrics: reg,
		ServerInfo: func() transport.ServerInfo {
			return transport.ServerInfo{Name: serverName, Version: serverVersion}
		},
		Health: func() transport.HealthReport {
			return transport.HealthReport{
				Status:    "ok",
				Ready:     true,
				Uptime:    time.Since(startTime),
				Timestamp: time.Now(),
				Version:   serverVersion,
				Checks: map[string]bool{
					"routing":   true,
					"cache":     true,
					"ledger":    ledger.Dropped() == 0,
					"ratelimit": true,
				},
			}
		},
		SystemInfo: func() transport.SystemInfo {
			return transport.SystemInfo{
				Version:     serverVersion,
				Env:         cfg.Env,
				DefaultTier: cfg.DefaultTier,
				Uptime:      time.Since(startTime),
				Components: map[string]bool{
					"rate_limit_enabled": cfg.RateLimitEnabled,
					"metrics_enabled":    cfg.MetricsEnabled,
				},
			}
		},
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	shutdownRequested := make(chan struct{})
	var shutdownOnce sync.Once
	requestShutdown := func() {
		shutdownOnce.Do(func() { close(shutdownRequested) })
	}

	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		serve(ctx, stdio, toolRegistry, diag, chain, log, requestShutdown)
	}()

	select {
	case <-done:
		log.Info().Msg("shutdown signal received")
	case <-shutdownRequested:
		log.Info().Msg("shutdown method received")
	case <-serveDone:
		log.Info().Msg("stdin closed, shutting down")
	}

	cancel()
	if ruleWatcher != nil {
		_ = ruleWatcher.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer shutdownCancel()

	closed := make(chan error, 1)
	go func() { closed <- ledger.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			log.Error().Err(err).Msg("cost ledger shutdown reported an error")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("cost ledger drain grace period exceeded, exiting anyway")
	}

	log.Info().Msg("signal hub stopped")
}

func conditionalRateLimit(enabled bool, limiter *ratelimit.Limiter) middleware.Middleware {
	if !enabled {
		return func(next middleware.Handler) middleware.Handler { return next }
	}
	return middleware.RateLimit(limiter)
}

func serve(ctx context.Context, stdio *transport.Stdio, tools *transport.Registry, diag *transport.Diagnostics, chain middleware.Handler, log zerolog.Logger, requestShutdown func()) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := stdio.Read()
		if err != nil {
			return
		}
		if len(line) == 0 {
			continue
		}

		go handleMessage(ctx, stdio, tools, diag, chain, log, line, requestShutdown)
	}
}

func handleMessage(ctx context.Context, stdio *transport.Stdio, tools *transport.Registry, diag *transport.Diagnostics, chain middleware.Handler, log zerolog.Logger, raw []byte, requestShutdown func()) {
	req, perr := transport.ParseRequest(raw)
	if perr != nil {
		_ = stdio.WriteResponse(transport.NewErrorResponse(nil, perr))
		return
	}

	switch req.Method {
	case transport.MethodInitialize:
		var params transport.InitializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				_ = stdio.WriteResponse(transport.NewErrorResponse(req.ID, transport.NewError(transport.ErrInvalidParams, err.Error())))
				return
			}
		}
		log.Info().Str("client_name", params.ClientInfo.Name).Str("client_version", params.ClientInfo.Version).Msg("client initialized")
		result := transport.InitializeResult{
			ServerInfo:   diag.ServerInfo(),
			Capabilities: transport.Capabilities{Tools: true},
		}
		_ = stdio.WriteResponse(transport.NewSuccessResponse(req.ID, result))
	case transport.MethodShutdown:
		requestShutdown()
		_ = stdio.WriteResponse(transport.NewSuccessResponse(req.ID, transport.ShutdownResult{Status: "shutting_down"}))
	case transport.MethodPing:
		_ = stdio.WriteResponse(transport.NewSuccessResponse(req.ID, map[string]string{"status": "pong"}))
	case transport.MethodListTools:
		_ = stdio.WriteResponse(transport.NewSuccessResponse(req.ID, tools.List()))
	case transport.MethodCallTool:
		var params transport.CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			_ = stdio.WriteResponse(transport.NewErrorResponse(req.ID, transport.NewError(transport.ErrInvalidParams, err.Error())))
			return
		}
		result, derr := transport.Dispatch(ctx, tools, diag, params, chain)
		if derr != nil {
			_ = stdio.WriteResponse(transport.NewErrorResponse(req.ID, derr))
			return
		}
		_ = stdio.WriteResponse(transport.NewSuccessResponse(req.ID, result))
	default:
		_ = stdio.WriteResponse(transport.NewErrorResponse(req.ID, transport.NewError(transport.ErrMethodNotFound, "unknown method: "+req.Method)))
	}
}

func registerMetrics(reg *metrics.Registry) {
	reg.RegisterCounter("signalhub_requests_total", "method")
	reg.RegisterCounter("signalhub_request_errors_total", "method")
	reg.RegisterHistogram("signalhub_request_latency_ms", metrics.LatencyBuckets, "method")
	reg.RegisterHistogram("signalhub_routing_latency_ms", metrics.LatencyBuckets)
	reg.RegisterCounter("signalhub_routing_decisions_total", "tier")
	reg.RegisterCounter("signalhub_routing_overrides_total", "source")
	reg.RegisterCounter("signalhub_routing_rule_hits_total", "rule")
	reg.RegisterCounter("signalhub_cache_lookups_total", "result")
	reg.RegisterGauge("signalhub_cache_size")
	reg.RegisterGauge("signalhub_cache_hit_rate")
}

