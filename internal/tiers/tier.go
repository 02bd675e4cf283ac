// Package tiers defines the capability/price bands models are routed into.
package tiers

import "fmt"

// Tier is a capability/price band, totally ordered by capability and cost:
// Small < Medium < Large.
type Tier int

const (
	Small Tier = iota
	Medium
	Large
)

// String renders the tier's canonical lowercase name.
func (t Tier) String() string {
	switch t {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Parse converts a tier name ("small", "medium", "large") into a Tier.
func Parse(name string) (Tier, error) {
	switch name {
	case "small":
		return Small, nil
	case "medium":
		return Medium, nil
	case "large":
		return Large, nil
	default:
		return 0, fmt.Errorf("tiers: unknown tier %q", name)
	}
}

// Less reports whether t has strictly less capability/cost than other.
func (t Tier) Less(other Tier) bool { return t < other }

// Config holds the per-tier limits and pricing that TierConfig names in the spec.
type Config struct {
	MaxTokens        int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	MaxComplexity    float64  `json:"max_complexity" yaml:"max_complexity"`
	PreferredTasks   []string `json:"preferred_tasks" yaml:"preferred_tasks"`
	PricePer1kInput  float64  `json:"price_per_1k_in" yaml:"price_per_1k_in"`
	PricePer1kOutput float64  `json:"price_per_1k_out" yaml:"price_per_1k_out"`
}

// Registry is the read-only handle routing consults for tier configuration.
// It is replaced wholesale on hot-reload (copy-on-write); readers never lock.
type Registry struct {
	order  []Tier
	byTier map[Tier]Config
}

// DefaultRegistry returns the three-tier registry with production-shaped defaults.
func DefaultRegistry() *Registry {
	return NewRegistry(map[Tier]Config{
		Small: {
			MaxTokens:        4000,
			MaxComplexity:    0.3,
			PreferredTasks:   []string{"search_code", "get_context"},
			PricePer1kInput:  0.00025,
			PricePer1kOutput: 0.00125,
		},
		Medium: {
			MaxTokens:        16000,
			MaxComplexity:    0.7,
			PreferredTasks:   []string{"explain_code", "find_similar"},
			PricePer1kInput:  0.003,
			PricePer1kOutput: 0.015,
		},
		Large: {
			MaxTokens:        200000,
			MaxComplexity:    1.0,
			PreferredTasks:   []string{},
			PricePer1kInput:  0.015,
			PricePer1kOutput: 0.075,
		},
	})
}

// NewRegistry builds a Registry, validating the capability/price ordering invariant:
// small < medium < large in both price dimensions.
func NewRegistry(byTier map[Tier]Config) *Registry {
	order := []Tier{Small, Medium, Large}
	for i := 1; i < len(order); i++ {
		prev, cur := byTier[order[i-1]], byTier[order[i]]
		if cur.PricePer1kInput < prev.PricePer1kInput || cur.PricePer1kOutput < prev.PricePer1kOutput {
			panic(fmt.Sprintf("tiers: ordering invariant violated between %s and %s", order[i-1], order[i]))
		}
	}
	return &Registry{order: order, byTier: byTier}
}

// Get returns the configuration for a tier.
func (r *Registry) Get(t Tier) Config { return r.byTier[t] }

// Ordered returns the tiers in ascending capability order.
func (r *Registry) Ordered() []Tier { return r.order }

// All returns every configured tier, keyed by tier.
func (r *Registry) All() map[Tier]Config {
	out := make(map[Tier]Config, len(r.byTier))
	for k, v := range r.byTier {
		out[k] = v
	}
	return out
}
