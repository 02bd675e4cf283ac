// Package middleware composes the request pipeline of spec component H
// as a chain of handler-wrapping functions, grounded on the teacher's
// http.Handler-wrapping middleware (TimeoutMiddleware, RateLimiter,
// KeyedMutex) but generalized off net/http since Signal Hub's transport
// is JSON-RPC over stdio, not HTTP.
package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/alfred-ai/signalhub/internal/cache"
	"github.com/alfred-ai/signalhub/internal/metrics"
	"github.com/alfred-ai/signalhub/internal/ratelimit"
	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Request is the domain request a Handler processes — tool-call shaped,
// not HTTP-shaped.
type Request struct {
	Method        string
	QueryText     string
	ContextTokens int
	ToolName      string
	SessionID     string
	ClientID      string
	ContextKey    string
	RateLimitKey  string
	PreferredTier *tiers.Tier
}

// Response is a Handler's result.
type Response struct {
	Tier       tiers.Tier
	Body       interface{}
	CacheHit   bool
	Cancelled  bool
}

// Handler processes one Request. Implementations must be safe for
// concurrent invocation and must not retain req or its fields beyond
// their own call frame (spec §4.H).
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Middleware wraps a Handler with cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain composes middlewares in registration order: the first
// registered is outermost (LIFO wrapping — it sees the request first
// and the response last), matching the teacher's router.go composition
// order for its http.Handler chain.
func Chain(terminal Handler, mws ...Middleware) Handler {
	h := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logging logs one structured line per request with method, tier and latency.
func Logging(logger zerolog.Logger) Middleware {
	log := logger.With().Str("component", "middleware-logging").Logger()
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			ev := log.Info()
			if err != nil {
				ev = log.Error().Err(err)
			}
			ev.Str("method", req.Method).
				Str("tool", req.ToolName).
				Dur("latency", time.Since(start)).
				Msg("request handled")
			return resp, err
		}
	}
}

// Metrics records request counts, error counts and latency histograms.
func Metrics(reg *metrics.Registry) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			labels := map[string]string{"method": req.Method}
			reg.CounterInc("signalhub_requests_total", labels)
			if err != nil {
				reg.CounterInc("signalhub_request_errors_total", labels)
			}
			reg.HistogramObserve("signalhub_request_latency_ms", labels, float64(time.Since(start).Milliseconds()))
			return resp, err
		}
	}
}

// RateLimit rejects requests whose rate-limit key is over budget before
// they reach the routing/dispatch terminal handler. The key resolves
// explicit RateLimitKey, then ClientID, then falls back to a shared
// "anonymous" key (spec §4.I) — it is never skipped. The limiter
// resolves its effective limit against req.PreferredTier since this
// middleware runs before the routing tier is decided.
func RateLimit(limiter *ratelimit.Limiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			key := req.RateLimitKey
			if key == "" {
				key = req.ClientID
			}
			if key == "" {
				key = "anonymous"
			}
			if _, err := limiter.Allow(ctx, key, req.PreferredTier); err != nil {
				return nil, err
			}
			return next(ctx, req)
		}
	}
}

// ResponseCache short-circuits the chain on a semantic cache hit and
// stores fresh responses on a miss, grounded on spec §4.F's lookup/store
// contract. newID generates the cache entry id for a freshly stored
// response (typically google/uuid).
func ResponseCache(c *cache.Cache, newID func() string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			result, err := c.Lookup(ctx, req.QueryText, req.ContextKey)
			if err != nil {
				return nil, err
			}
			if result.Hit {
				tier, _ := tiers.Parse(result.Entry.Tier)
				return &Response{Tier: tier, Body: result.Entry.Response, CacheHit: true}, nil
			}

			resp, err := next(ctx, req)
			if err != nil || resp == nil || resp.Cancelled {
				return resp, err
			}
			_ = c.Store(ctx, newID(), req.QueryText, req.ContextKey, resp.Body, resp.Tier.String())
			return resp, nil
		}
	}
}
