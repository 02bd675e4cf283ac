// Package routing composes the rule evaluator and escalation resolver
// into the routing engine of spec component C, grounded on the
// teacher's routing.Engine (priority iteration, zerolog decision
// logging) and the original Python RoutingEngine.route (escalation
// first, then rules, then default, then availability fallback).
package routing

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/alfred-ai/signalhub/internal/escalation"
	"github.com/alfred-ai/signalhub/internal/metrics"
	"github.com/alfred-ai/signalhub/internal/rules"
	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Decision is the immutable record of how a tier was chosen.
type Decision struct {
	Tier         tiers.Tier
	Confidence   float64
	Reason       string
	RulesApplied []string
}

// Selection is the engine's full answer for one request.
type Selection struct {
	Tier       tiers.Tier
	Decision   Decision
	Overridden bool
}

// HealthChecker reports whether a tier's backend is currently considered
// available. Implementations are expected to wrap a circuit breaker per
// tier (see NewBreakerHealthChecker).
type HealthChecker interface {
	Available(tier tiers.Tier) bool
}

// BreakerHealthChecker maintains one gobreaker.CircuitBreaker per tier,
// grounded on the teacher's routing.FailoverState but using the
// standard sony/gobreaker state machine instead of a hand-rolled
// failure counter.
type BreakerHealthChecker struct {
	breakers map[tiers.Tier]*gobreaker.CircuitBreaker
}

// NewBreakerHealthChecker creates one breaker per tier with the given
// consecutive-failure threshold before opening.
func NewBreakerHealthChecker(tierList []tiers.Tier, failureThreshold uint32) *BreakerHealthChecker {
	h := &BreakerHealthChecker{breakers: make(map[tiers.Tier]*gobreaker.CircuitBreaker, len(tierList))}
	for _, t := range tierList {
		name := t.String()
		h.breakers[t] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: name,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failureThreshold
			},
		})
	}
	return h
}

// Available reports whether the tier's breaker is not open.
func (h *BreakerHealthChecker) Available(tier tiers.Tier) bool {
	b, ok := h.breakers[tier]
	if !ok {
		return true
	}
	return b.State() != gobreaker.StateOpen
}

// RecordResult feeds a backend call outcome into the tier's breaker.
func (h *BreakerHealthChecker) RecordResult(tier tiers.Tier, err error) {
	b, ok := h.breakers[tier]
	if !ok {
		return
	}
	_, _ = b.Execute(func() (interface{}, error) { return nil, err })
}

// alwaysAvailable is used when no health checker is configured.
type alwaysAvailable struct{}

func (alwaysAvailable) Available(tiers.Tier) bool { return true }

// Engine is the routing engine of spec component C.
type Engine struct {
	ruleSet     *rules.Handle
	resolver    *escalation.Resolver
	health      HealthChecker
	defaultTier tiers.Tier
	metrics     *metrics.Registry
	logger      zerolog.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithHealthChecker overrides the default always-available checker.
func WithHealthChecker(h HealthChecker) Option {
	return func(e *Engine) { e.health = h }
}

// NewEngine creates a routing engine.
func NewEngine(ruleSet *rules.Handle, resolver *escalation.Resolver, defaultTier tiers.Tier, reg *metrics.Registry, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		ruleSet:     ruleSet,
		resolver:    resolver,
		health:      alwaysAvailable{},
		defaultTier: defaultTier,
		metrics:     reg,
		logger:      logger.With().Str("component", "routing-engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RouteInput is everything the engine needs to make one routing decision.
type RouteInput struct {
	Method        string
	QueryText     string
	ContextTokens int
	PreferredTier *tiers.Tier
	SessionID     string
}

// Route implements the algorithm of spec §4.C: escalation first, then
// ascending-priority rule evaluation retaining the highest-confidence
// decision (short-circuiting at >=0.95), then the default tier, then an
// availability-driven downgrade that only ever lowers confidence, never
// upgrades the tier.
func (e *Engine) Route(ctx context.Context, in RouteInput) (Selection, string) {
	start := time.Now()
	defer func() {
		e.metrics.HistogramObserve("signalhub_routing_latency_ms", nil, float64(time.Since(start).Milliseconds()))
	}()

	override, cleanedQuery := e.resolver.Resolve(in.PreferredTier, in.SessionID, in.QueryText)
	if override != nil {
		e.metrics.CounterInc("signalhub_routing_overrides_total", map[string]string{"source": string(override.Source)})
		e.metrics.CounterInc("signalhub_routing_decisions_total", map[string]string{"tier": override.Tier.String()})
		sel := Selection{
			Tier: override.Tier,
			Decision: Decision{
				Tier:       override.Tier,
				Confidence: 1.0,
				Reason:     override.Reason,
			},
			Overridden: true,
		}
		e.logger.Info().Str("tier", override.Tier.String()).Str("source", string(override.Source)).Msg("routing decision: override")
		return sel, cleanedQuery
	}

	req := rules.Request{Method: in.Method, QueryText: cleanedQuery, RetrievedContextSize: in.ContextTokens}

	var best *rules.Decision
	var applied []string
	for _, rule := range e.ruleSet.Load().Enabled() {
		d, err := rules.Evaluate(rule, req)
		if err != nil {
			e.logger.Warn().Err(err).Str("rule", rule.Name).Msg("rule evaluation error, skipping")
			continue
		}
		if d == nil {
			continue
		}
		e.metrics.CounterInc("signalhub_routing_rule_hits_total", map[string]string{"rule": rule.Name})
		applied = append(applied, rule.Name)
		if best == nil || d.Confidence > best.Confidence {
			best = d
		}
		if best.Confidence >= 0.95 {
			break
		}
	}

	var decision Decision
	if best != nil {
		decision = Decision{Tier: best.Tier, Confidence: best.Confidence, Reason: best.Reason, RulesApplied: applied}
	} else {
		decision = Decision{Tier: e.defaultTier, Confidence: 0.5, Reason: "no rule matched; using default tier", RulesApplied: applied}
	}

	finalTier := decision.Tier
	if !e.health.Available(finalTier) && e.defaultTier.Less(finalTier) {
		e.logger.Warn().Str("tier", finalTier.String()).Msg("tier unavailable, downgrading to default")
		finalTier = e.defaultTier
		decision.Reason += "; downgraded: preferred tier unavailable"
		decision.Confidence *= 0.8
	}

	e.metrics.CounterInc("signalhub_routing_decisions_total", map[string]string{"tier": finalTier.String()})

	e.logger.Info().
		Str("tier", finalTier.String()).
		Float64("confidence", decision.Confidence).
		Str("reason", decision.Reason).
		Msg("routing decision")

	return Selection{Tier: finalTier, Decision: decision, Overridden: false}, cleanedQuery
}

// EstimateSavings compares actual tier distribution against an
// all-large baseline, grounded on the original's
// RoutingEngine.estimate_cost_savings.
func EstimateSavings(tierCounts map[tiers.Tier]int64, reg *tiers.Registry, avgInputTokens, avgOutputTokens int) (actual, baseline, savings float64) {
	large := reg.Get(tiers.Large)
	baselinePerCall := float64(avgInputTokens)/1000*large.PricePer1kInput + float64(avgOutputTokens)/1000*large.PricePer1kOutput

	var total int64
	for t, n := range tierCounts {
		cfg := reg.Get(t)
		perCall := float64(avgInputTokens)/1000*cfg.PricePer1kInput + float64(avgOutputTokens)/1000*cfg.PricePer1kOutput
		actual += perCall * float64(n)
		total += n
	}
	baseline = baselinePerCall * float64(total)
	savings = baseline - actual
	return actual, baseline, savings
}
