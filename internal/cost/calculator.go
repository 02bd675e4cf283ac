// Package cost implements the cost ledger of spec component G:
// per-request usage/cost accounting with rollups. Grounded on the
// teacher's metering.CostEngine (per-model pricing table, provider/model
// key lookup) and metering.AsyncLogger (buffered async persistence),
// generalized to tier-keyed pricing and backed by errgroup instead of a
// raw WaitGroup.
package cost

import (
	"sync"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Usage is the token accounting for one completed request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Calculator prices token usage against the tier registry's per-1k rates.
type Calculator struct {
	mu       sync.RWMutex
	registry *tiers.Registry
}

// NewCalculator creates a Calculator over the given tier registry.
func NewCalculator(registry *tiers.Registry) *Calculator {
	return &Calculator{registry: registry}
}

// SetRegistry swaps in a new tier registry, e.g. after a pricing hot-reload.
func (c *Calculator) SetRegistry(registry *tiers.Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry = registry
}

// Calculate computes the USD cost of usage at the given tier.
func (c *Calculator) Calculate(tier tiers.Tier, usage Usage) float64 {
	c.mu.RLock()
	cfg := c.registry.Get(tier)
	c.mu.RUnlock()

	inputCost := float64(usage.InputTokens) / 1000 * cfg.PricePer1kInput
	outputCost := float64(usage.OutputTokens) / 1000 * cfg.PricePer1kOutput
	return inputCost + outputCost
}
