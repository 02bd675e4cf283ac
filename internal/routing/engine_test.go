package routing_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/rs/zerolog"

	"github.com/alfred-ai/signalhub/internal/escalation"
	"github.com/alfred-ai/signalhub/internal/metrics"
	"github.com/alfred-ai/signalhub/internal/routing"
	"github.com/alfred-ai/signalhub/internal/rules"
	"github.com/alfred-ai/signalhub/internal/tiers"
)

func newTestRegistry() *metrics.Registry {
	reg := metrics.NewRegistry()
	reg.RegisterHistogram("signalhub_routing_latency_ms", metrics.LatencyBuckets)
	reg.RegisterCounter("signalhub_routing_overrides_total", "source")
	reg.RegisterCounter("signalhub_routing_decisions_total", "tier")
	reg.RegisterCounter("signalhub_routing_rule_hits_total", "rule")
	return reg
}

func newTestEngine(t *testing.T, ruleSet *rules.Set, opts ...routing.Option) *routing.Engine {
	t.Helper()
	handle := rules.NewHandle(ruleSet)
	resolver := escalation.NewResolver(escalation.NewSessionTable(), nil)
	return routing.NewEngine(handle, resolver, tiers.Medium, newTestRegistry(), zerolog.Nop(), opts...)
}

func TestRouteExplicitOverrideWins(t *testing.T) {
	set, _ := rules.NewSet(nil)
	engine := newTestEngine(t, set)

	large := tiers.Large
	sel, _ := engine.Route(context.Background(), routing.RouteInput{QueryText: "anything", PreferredTier: &large})
	if !sel.Overridden || sel.Tier != tiers.Large {
		t.Fatalf("expected overridden Large selection, got %+v", sel)
	}
}

func TestRoutePatternOverrideBeatsRules(t *testing.T) {
	taskMapping := rules.NewTaskTypeMapping(map[string]tiers.Tier{"explain_code": tiers.Small})
	set, _ := rules.NewSet([]rules.Rule{{Name: "task-type", Enabled: true, Priority: 1, Kind: taskMapping}})

	overrides := escalation.NewOverrideHandle(escalation.NewOverrideSet([]escalation.PatternOverride{
		{Name: "perf", Pattern: regexp.MustCompile(`performance|optimize|bottleneck`), Tier: tiers.Large, Reason: "performance-sensitive"},
	}))
	resolver := escalation.NewResolver(escalation.NewSessionTable(), overrides)
	engine := routing.NewEngine(rules.NewHandle(set), resolver, tiers.Medium, newTestRegistry(), zerolog.Nop())

	sel, _ := engine.Route(context.Background(), routing.RouteInput{
		Method:    "explain_code",
		QueryText: "analyze the performance bottleneck in the authentication pipeline",
	})
	if !sel.Overridden || sel.Tier != tiers.Large {
		t.Fatalf("expected pattern override to beat the rule-based decision, got %+v", sel)
	}
}

func TestRouteUsesHighestConfidenceRule(t *testing.T) {
	taskMapping := rules.NewTaskTypeMapping(map[string]tiers.Tier{"explain_code": tiers.Large})
	set, err := rules.NewSet([]rules.Rule{
		{Name: "task-type", Enabled: true, Priority: 1, Kind: taskMapping},
	})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	engine := newTestEngine(t, set)

	sel, _ := engine.Route(context.Background(), routing.RouteInput{Method: "explain_code", QueryText: "explain this"})
	if sel.Overridden {
		t.Fatal("expected a non-overridden rule-based decision")
	}
	if sel.Tier != tiers.Large {
		t.Fatalf("expected Large from task-type mapping, got %v", sel.Tier)
	}
	if len(sel.Decision.RulesApplied) != 1 || sel.Decision.RulesApplied[0] != "task-type" {
		t.Fatalf("expected task-type rule recorded as applied, got %+v", sel.Decision.RulesApplied)
	}
}

func TestRouteFallsBackToDefaultTier(t *testing.T) {
	set, _ := rules.NewSet(nil)
	engine := newTestEngine(t, set)

	sel, _ := engine.Route(context.Background(), routing.RouteInput{Method: "unknown_method", QueryText: "no rule matches this"})
	if sel.Tier != tiers.Medium {
		t.Fatalf("expected default Medium tier, got %v", sel.Tier)
	}
	if sel.Decision.Confidence != 0.5 {
		t.Fatalf("expected default-tier confidence 0.5, got %v", sel.Decision.Confidence)
	}
}

type fakeHealthChecker struct{ unavailable tiers.Tier }

func (f fakeHealthChecker) Available(t tiers.Tier) bool { return t != f.unavailable }

func TestRouteDowngradesWhenTierUnavailable(t *testing.T) {
	taskMapping := rules.NewTaskTypeMapping(map[string]tiers.Tier{"explain_code": tiers.Large})
	set, _ := rules.NewSet([]rules.Rule{{Name: "task-type", Enabled: true, Priority: 1, Kind: taskMapping}})
	engine := newTestEngine(t, set, routing.WithHealthChecker(fakeHealthChecker{unavailable: tiers.Large}))

	sel, _ := engine.Route(context.Background(), routing.RouteInput{Method: "explain_code", QueryText: "explain this"})
	if sel.Tier != tiers.Medium {
		t.Fatalf("expected downgrade to default Medium tier, got %v", sel.Tier)
	}
	if sel.Decision.Confidence >= 0.95 {
		t.Fatalf("expected confidence penalty applied on downgrade, got %v", sel.Decision.Confidence)
	}
}

func TestRouteCleansInlineHintBeforeRuleEvaluation(t *testing.T) {
	set, _ := rules.NewSet(nil)
	engine := newTestEngine(t, set)

	sel, cleaned := engine.Route(context.Background(), routing.RouteInput{QueryText: "explain this @large please"})
	if !sel.Overridden || sel.Tier != tiers.Large {
		t.Fatalf("expected inline hint to produce an override, got %+v", sel)
	}
	if cleaned != "explain this  please" {
		t.Fatalf("expected hint stripped from query text, got %q", cleaned)
	}
}

func TestEstimateSavings(t *testing.T) {
	reg := tiers.DefaultRegistry()
	actual, baseline, savings := routing.EstimateSavings(map[tiers.Tier]int64{tiers.Small: 100}, reg, 1000, 500)

	if baseline <= actual {
		t.Fatalf("expected all-large baseline to exceed all-small actual cost: actual=%v baseline=%v", actual, baseline)
	}
	if savings != baseline-actual {
		t.Fatalf("expected savings = baseline - actual, got %v", savings)
	}
}
