// Package rules implements the stateless rule kinds that classify a
// request into a tier: length-threshold, complexity-keyword, and
// task-type-mapping. The rule set is a closed tagged-union of kinds,
// grounded on the teacher's routing.Condition/Rule design but narrowed
// to the three kinds the specification names.
package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Request is the minimal view of an inbound request a rule needs to
// classify it. It intentionally omits transport/session concerns.
type Request struct {
	Method               string
	QueryText            string
	RetrievedContextSize int // tokens contributed by retrieved context
}

// Decision is the immutable result of evaluating one rule.
type Decision struct {
	Tier       tiers.Tier
	Confidence float64
	Reason     string
	RuleName   string
}

func clampConfidence(c float64) float64 {
	if c < 0.6 {
		return 0.6
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}

// Kind is the closed set of rule behaviors. Implementations are pure
// functions of a Request; they never mutate shared state.
type Kind interface {
	evaluate(req Request) (*Decision, error)
	kindName() string
}

// Rule pairs a Kind with its metadata. Priorities of enabled rules
// within one Set must be unique; enforced by NewSet.
type Rule struct {
	Name     string
	Enabled  bool
	Priority int // 1..100, lower number evaluated first
	Kind     Kind
}

// Evaluate is the pure per-rule evaluation entry point the routing
// engine calls; it never panics — Kind implementations return an error
// instead, which the engine treats as "rule skipped".
func Evaluate(rule Rule, req Request) (*Decision, error) {
	d, err := rule.Kind.evaluate(req)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
	}
	if d != nil {
		d.RuleName = rule.Name
	}
	return d, nil
}

// ─── Length-threshold ────────────────────────────────────────

// LengthThreshold maps an estimated token count to a tier. SmallMax must
// be strictly less than MediumMax.
type LengthThreshold struct {
	SmallMax  int
	MediumMax int
}

func NewLengthThreshold(smallMax, mediumMax int) (LengthThreshold, error) {
	if smallMax >= mediumMax {
		return LengthThreshold{}, fmt.Errorf("rules: small_max (%d) must be < medium_max (%d)", smallMax, mediumMax)
	}
	return LengthThreshold{SmallMax: smallMax, MediumMax: mediumMax}, nil
}

func (l LengthThreshold) kindName() string { return "length-threshold" }

func (l LengthThreshold) evaluate(req Request) (*Decision, error) {
	estimate := int(math.Ceil(float64(len(req.QueryText))/4.0)) + req.RetrievedContextSize

	var tier tiers.Tier
	var width, distFromMid float64
	switch {
	case estimate <= l.SmallMax:
		tier = tiers.Small
		width = float64(l.SmallMax)
		mid := width / 2
		distFromMid = math.Abs(float64(estimate) - mid)
	case estimate <= l.MediumMax:
		tier = tiers.Medium
		width = float64(l.MediumMax - l.SmallMax)
		mid := float64(l.SmallMax) + width/2
		distFromMid = math.Abs(float64(estimate) - mid)
	default:
		tier = tiers.Large
		width = float64(l.MediumMax) // open-ended band; use medium_max as the reference width
		if width == 0 {
			width = 1
		}
		distFromMid = math.Abs(float64(estimate) - float64(l.MediumMax))
	}

	confidence := 1.0
	if width > 0 {
		confidence = 1.0 - distFromMid/width
	}
	confidence = clampConfidence(confidence)

	return &Decision{
		Tier:       tier,
		Confidence: confidence,
		Reason:     fmt.Sprintf("length: token_estimate=%d falls in %s band", estimate, tier),
	}, nil
}

// ─── Complexity-keyword ──────────────────────────────────────

// ComplexityKeyword counts keyword hits per tier in the lowercased query
// and picks the highest tier with at least one hit. The three keyword
// sets must be disjoint.
type ComplexityKeyword struct {
	SmallKeywords  []string
	MediumKeywords []string
	LargeKeywords  []string
}

func NewComplexityKeyword(small, medium, large []string) (ComplexityKeyword, error) {
	seen := make(map[string]string)
	sets := map[string][]string{"small": small, "medium": medium, "large": large}
	for tierName, kws := range sets {
		for _, kw := range kws {
			k := strings.ToLower(kw)
			if owner, ok := seen[k]; ok && owner != tierName {
				return ComplexityKeyword{}, fmt.Errorf("rules: keyword %q appears in both %s and %s sets", kw, owner, tierName)
			}
			seen[k] = tierName
		}
	}
	return ComplexityKeyword{SmallKeywords: small, MediumKeywords: medium, LargeKeywords: large}, nil
}

func (c ComplexityKeyword) kindName() string { return "complexity-keyword" }

func (c ComplexityKeyword) evaluate(req Request) (*Decision, error) {
	lower := strings.ToLower(req.QueryText)

	count := func(kws []string) int {
		n := 0
		for _, kw := range kws {
			if kw == "" {
				continue
			}
			n += strings.Count(lower, strings.ToLower(kw))
		}
		return n
	}

	largeHits := count(c.LargeKeywords)
	mediumHits := count(c.MediumKeywords)
	smallHits := count(c.SmallKeywords)

	var tier tiers.Tier
	var hits int
	switch {
	case largeHits > 0:
		tier, hits = tiers.Large, largeHits
	case mediumHits > 0:
		tier, hits = tiers.Medium, mediumHits
	case smallHits > 0:
		tier, hits = tiers.Small, smallHits
	default:
		return nil, nil
	}

	confidence := math.Min(0.6+0.1*float64(hits), 0.9)
	return &Decision{
		Tier:       tier,
		Confidence: confidence,
		Reason:     fmt.Sprintf("complexity: %d keyword hit(s) for %s", hits, tier),
	}, nil
}

// ─── Task-type mapping ───────────────────────────────────────

// TaskTypeMapping exact-matches a method/tool name against a mapping table.
type TaskTypeMapping struct {
	Mapping map[string]tiers.Tier
}

func NewTaskTypeMapping(mapping map[string]tiers.Tier) TaskTypeMapping {
	return TaskTypeMapping{Mapping: mapping}
}

func (t TaskTypeMapping) kindName() string { return "task-type-mapping" }

func (t TaskTypeMapping) evaluate(req Request) (*Decision, error) {
	tier, ok := t.Mapping[req.Method]
	if !ok {
		return nil, nil
	}
	return &Decision{
		Tier:       tier,
		Confidence: 0.95,
		Reason:     fmt.Sprintf("task-type: method %q mapped to %s", req.Method, tier),
	}, nil
}

// DefaultTaskMapping mirrors the tool surface's preferred tiers (spec §6).
func DefaultTaskMapping() map[string]tiers.Tier {
	return map[string]tiers.Tier{
		"search_code":           tiers.Small,
		"get_context":           tiers.Small,
		"find_similar":          tiers.Medium,
		"explain_code":          tiers.Medium,
		"signal_hub_health":     tiers.Small,
		"signal_hub_metrics":    tiers.Small,
		"signal_hub_system_info": tiers.Small,
	}
}
