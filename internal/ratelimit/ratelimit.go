// Package ratelimit implements the per-key sliding window limiter of
// spec component I, grounded on the teacher's middleware.RateLimiter
// (sliding window of request timestamps, periodic Cleanup) but
// generalized behind a pluggable Backend so the window can live in
// memory or in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Exceeded is returned by Limiter.Allow when a key is over budget.
type Exceeded struct {
	Key     string
	Limit   int
	Current int
	RetryAfter time.Duration
}

func (e *Exceeded) Error() string {
	return fmt.Sprintf("ratelimit: key %q exceeded limit of %d (current %d)", e.Key, e.Limit, e.Current)
}

// Usage is a point-in-time readout of a key's window.
type Usage struct {
	Count   int
	ResetAt time.Time
}

// Backend stores the sliding window state for rate-limited keys. A
// production deployment backs this with Redis for multi-instance
// consistency (see RedisBackend); single-instance deployments can use
// MemoryBackend.
type Backend interface {
	// Increment records one request for key at now and returns the
	// window's current count and its earliest-token expiry.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Usage, error)
	// GetUsage returns the current window usage without recording a request.
	GetUsage(ctx context.Context, key string, now time.Time, window time.Duration) (Usage, error)
	// Reset clears a key's window.
	Reset(ctx context.Context, key string) error
}

// MemoryBackend is an in-process Backend, grounded directly on the
// teacher's slidingWindow bookkeeping.
type MemoryBackend struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	tokens    []time.Time
	lastClean time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{windows: make(map[string]*window)}
}

func (b *MemoryBackend) Increment(ctx context.Context, key string, now time.Time, windowSize time.Duration) (Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := b.getOrCreateLocked(key, now)
	b.pruneLocked(w, now, windowSize)
	w.tokens = append(w.tokens, now)
	return usageFromLocked(w, windowSize), nil
}

func (b *MemoryBackend) GetUsage(ctx context.Context, key string, now time.Time, windowSize time.Duration) (Usage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[key]
	if !ok {
		return Usage{ResetAt: now.Add(windowSize)}, nil
	}
	b.pruneLocked(w, now, windowSize)
	return usageFromLocked(w, windowSize), nil
}

func (b *MemoryBackend) Reset(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.windows, key)
	return nil
}

func (b *MemoryBackend) getOrCreateLocked(key string, now time.Time) *window {
	w, ok := b.windows[key]
	if !ok {
		w = &window{lastClean: now}
		b.windows[key] = w
	}
	return w
}

func (b *MemoryBackend) pruneLocked(w *window, now time.Time, windowSize time.Duration) {
	cutoff := now.Add(-windowSize)
	valid := w.tokens[:0]
	for _, t := range w.tokens {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	w.tokens = valid
	w.lastClean = now
}

func usageFromLocked(w *window, windowSize time.Duration) Usage {
	resetAt := time.Time{}
	if len(w.tokens) > 0 {
		resetAt = w.tokens[0].Add(windowSize)
	}
	return Usage{Count: len(w.tokens), ResetAt: resetAt}
}

// Cleanup drops idle keys whose window has gone fully quiet, mirroring
// the teacher's periodic RateLimiter.Cleanup.
func (b *MemoryBackend) Cleanup(idleAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-idleAfter)
	for key, w := range b.windows {
		if len(w.tokens) == 0 || w.tokens[len(w.tokens)-1].Before(cutoff) {
			delete(b.windows, key)
		}
	}
}

// Limiter enforces a requests-per-window cap per key, with an optional
// token-bucket burst layer on top for smoothing short spikes. The
// effective limit for a key resolves per-key override, then per-tier
// limit, then the flat default, matching spec §4.I's three-level
// resolution and the rate_limit.tier_limits config option.
type Limiter struct {
	backend Backend
	limit   int
	window  time.Duration

	burstMu sync.Mutex
	burst   map[string]*rate.Limiter
	burstN  int

	tierLimits map[tiers.Tier]int

	keyMu     sync.RWMutex
	keyLimits map[string]int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithBurst enables a token-bucket burst allowance on top of the
// sliding window, sized burstN, refilling at limit/window rate.
func WithBurst(burstN int) Option {
	return func(l *Limiter) { l.burstN = burstN }
}

// WithTierLimits sets per-tier request limits, overriding the flat
// default limit for keys resolved against that tier (spec §6
// rate_limit.tier_limits). Per-key overrides set via SetKeyLimit still
// win over a tier limit.
func WithTierLimits(limits map[tiers.Tier]int) Option {
	return func(l *Limiter) {
		l.tierLimits = make(map[tiers.Tier]int, len(limits))
		for t, n := range limits {
			l.tierLimits[t] = n
		}
	}
}

// NewLimiter creates a sliding-window limiter of limit requests per window.
func NewLimiter(backend Backend, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		backend:   backend,
		limit:     limit,
		window:    window,
		burst:     make(map[string]*rate.Limiter),
		keyLimits: make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetKeyLimit installs a per-key override limit, taking precedence over
// any tier limit or the default for that key.
func (l *Limiter) SetKeyLimit(key string, limit int) {
	l.keyMu.Lock()
	defer l.keyMu.Unlock()
	l.keyLimits[key] = limit
}

// ClearKeyLimit removes a key's override limit, falling back to the
// tier limit or the default.
func (l *Limiter) ClearKeyLimit(key string) {
	l.keyMu.Lock()
	defer l.keyMu.Unlock()
	delete(l.keyLimits, key)
}

// resolveLimit applies per-key override → per-tier limit → default
// limit, in that order.
func (l *Limiter) resolveLimit(key string, tier *tiers.Tier) int {
	l.keyMu.RLock()
	override, ok := l.keyLimits[key]
	l.keyMu.RUnlock()
	if ok {
		return override
	}
	if tier != nil {
		if n, ok := l.tierLimits[*tier]; ok {
			return n
		}
	}
	return l.limit
}

// Allow records one request for key and returns the remaining quota, or
// an *Exceeded error if the key is over budget. tier, when non-nil, is
// consulted for a per-tier limit if no per-key override exists. Burst
// tokens (if configured) are checked first since they are cheaper to
// deny on.
func (l *Limiter) Allow(ctx context.Context, key string, tier *tiers.Tier) (remaining int, err error) {
	limit := l.resolveLimit(key, tier)

	if l.burstN > 0 && !l.burstLimiterFor(key, limit).Allow() {
		return 0, &Exceeded{Key: key, Limit: limit, Current: limit, RetryAfter: l.window}
	}

	usage, err := l.backend.Increment(ctx, key, time.Now(), l.window)
	if err != nil {
		return 0, err
	}
	if usage.Count > limit {
		retryAfter := time.Until(usage.ResetAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return 0, &Exceeded{Key: key, Limit: limit, Current: usage.Count, RetryAfter: retryAfter}
	}
	return limit - usage.Count, nil
}

func (l *Limiter) burstLimiterFor(key string, limit int) *rate.Limiter {
	l.burstMu.Lock()
	defer l.burstMu.Unlock()
	lim, ok := l.burst[key]
	if !ok {
		perSecond := rate.Limit(float64(limit) / l.window.Seconds())
		lim = rate.NewLimiter(perSecond, l.burstN)
		l.burst[key] = lim
	}
	return lim
}

// Usage reports a key's current usage without consuming quota.
func (l *Limiter) Usage(ctx context.Context, key string) (Usage, error) {
	return l.backend.GetUsage(ctx, key, time.Now(), l.window)
}

// Reset clears a key's quota.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.backend.Reset(ctx, key)
}
