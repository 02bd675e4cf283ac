package middleware_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/alfred-ai/signalhub/internal/cache"
	"github.com/alfred-ai/signalhub/internal/fingerprint"
	"github.com/alfred-ai/signalhub/internal/metrics"
	"github.com/alfred-ai/signalhub/internal/middleware"
	"github.com/alfred-ai/signalhub/internal/ratelimit"
	"github.com/alfred-ai/signalhub/internal/tiers"
	"github.com/alfred-ai/signalhub/internal/vectorindex"
)

func TestChainWrapsInRegistrationOrder(t *testing.T) {
	var order []string
	record := func(name string) middleware.Middleware {
		return func(next middleware.Handler) middleware.Handler {
			return func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
				order = append(order, name+":before")
				resp, err := next(ctx, req)
				order = append(order, name+":after")
				return resp, err
			}
		}
	}
	terminal := func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		order = append(order, "terminal")
		return &middleware.Response{}, nil
	}

	h := middleware.Chain(terminal, record("outer"), record("inner"))
	_, _ = h(context.Background(), &middleware.Request{})

	want := []string{"outer:before", "inner:before", "terminal", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("unexpected call order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected call order: %v, want %v", order, want)
		}
	}
}

func TestMetricsMiddlewareRecordsErrorsAndLatency(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.RegisterCounter("signalhub_requests_total", "method")
	reg.RegisterCounter("signalhub_request_errors_total", "method")
	reg.RegisterHistogram("signalhub_request_latency_ms", metrics.LatencyBuckets, "method")

	failing := func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		return nil, errors.New("boom")
	}
	h := middleware.Chain(failing, middleware.Metrics(reg))

	_, err := h(context.Background(), &middleware.Request{Method: "tools/call"})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	out := reg.WritePrometheus()
	if !strings.Contains(out, `signalhub_request_errors_total{method="tools/call"} 1`) {
		t.Fatalf("expected one recorded error, got:\n%s", out)
	}
	if !strings.Contains(out, `signalhub_request_latency_ms_count{method="tools/call"} 1`) {
		t.Fatalf("expected one latency observation, got:\n%s", out)
	}
}

func TestRateLimitMiddlewareBlocksOverBudget(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryBackend(), 1, time.Minute)
	terminal := func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		return &middleware.Response{}, nil
	}
	h := middleware.Chain(terminal, middleware.RateLimit(limiter))

	if _, err := h(context.Background(), &middleware.Request{SessionID: "s1"}); err != nil {
		t.Fatalf("expected first request allowed: %v", err)
	}
	if _, err := h(context.Background(), &middleware.Request{SessionID: "s1"}); err == nil {
		t.Fatal("expected second request to be rate-limited")
	}
}

func TestResponseCacheMiddlewareStoresOnMissAndHitsOnRepeat(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.RegisterCounter("signalhub_cache_lookups_total", "result")
	reg.RegisterGauge("signalhub_cache_size")
	reg.RegisterGauge("signalhub_cache_hit_rate")
	c := cache.New(fingerprint.NewHashEmbedder(), vectorindex.NewMemoryIndex(), cache.NewStore(10, time.Hour), 0, reg, zerolog.Nop())

	calls := 0
	terminal := func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		calls++
		return &middleware.Response{Tier: tiers.Small, Body: "fresh response"}, nil
	}
	h := middleware.Chain(terminal, middleware.ResponseCache(c, func() string { return "fixed-id" }))

	resp1, err := h(context.Background(), &middleware.Request{QueryText: "explain the routing engine"})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if resp1.CacheHit {
		t.Fatal("expected first call to be a cache miss")
	}

	resp2, err := h(context.Background(), &middleware.Request{QueryText: "explain the routing engine"})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !resp2.CacheHit {
		t.Fatal("expected second identical call to be a cache hit")
	}
	if calls != 1 {
		t.Fatalf("expected terminal handler called once, got %d", calls)
	}
}
