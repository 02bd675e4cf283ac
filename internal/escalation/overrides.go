package escalation

import (
	"regexp"
	"sync/atomic"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

// PatternOverride is one config-defined regex override (spec §3 Override,
// §6 overrides[]): a query matching Pattern is routed to Tier regardless
// of rule evaluation. Distinct from the explicit/session/inline
// precedence levels in Resolve, pattern overrides are a separate,
// declaration-ordered mechanism that always beats rules.
type PatternOverride struct {
	Name    string
	Pattern *regexp.Regexp
	Tier    tiers.Tier
	Reason  string
}

// OverrideSet is an immutable, declaration-ordered collection of pattern
// overrides, replaceable wholesale on hot-reload (same copy-on-write
// discipline as rules.Set).
type OverrideSet struct {
	overrides []PatternOverride
}

// NewOverrideSet builds an OverrideSet, preserving declaration order.
func NewOverrideSet(overrides []PatternOverride) *OverrideSet {
	cp := make([]PatternOverride, len(overrides))
	copy(cp, overrides)
	return &OverrideSet{overrides: cp}
}

// All returns every override in declaration order.
func (s *OverrideSet) All() []PatternOverride {
	if s == nil {
		return nil
	}
	out := make([]PatternOverride, len(s.overrides))
	copy(out, s.overrides)
	return out
}

// OverrideHandle is a read-only, atomically-swappable pointer to an
// OverrideSet, mirroring rules.Handle.
type OverrideHandle struct {
	p atomic.Pointer[OverrideSet]
}

// NewOverrideHandle creates a handle seeded with an initial set. A nil
// initial set is treated as empty.
func NewOverrideHandle(initial *OverrideSet) *OverrideHandle {
	if initial == nil {
		initial = NewOverrideSet(nil)
	}
	h := &OverrideHandle{}
	h.p.Store(initial)
	return h
}

// Load returns the currently active override set.
func (h *OverrideHandle) Load() *OverrideSet { return h.p.Load() }

// Store atomically swaps in a new override set, taking effect on the next request.
func (h *OverrideHandle) Store(s *OverrideSet) { h.p.Store(s) }
