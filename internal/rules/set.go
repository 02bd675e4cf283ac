package rules

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Set is an immutable, priority-sorted collection of rules. It is
// replaced wholesale on hot-reload (spec §4.A: "the rule set is
// replaceable atomically at runtime").
type Set struct {
	rules []Rule // sorted ascending by priority
}

// NewSet validates and sorts rules. Enabled rules must have unique
// priorities within [1, 100].
func NewSet(rules []Rule) (*Set, error) {
	seen := make(map[int]string)
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if r.Priority < 1 || r.Priority > 100 {
			return nil, fmt.Errorf("rules: rule %q priority %d out of [1,100]", r.Name, r.Priority)
		}
		if owner, ok := seen[r.Priority]; ok {
			return nil, fmt.Errorf("rules: priority %d used by both %q and %q", r.Priority, owner, r.Name)
		}
		seen[r.Priority] = r.Name
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Set{rules: sorted}, nil
}

// Enabled returns the enabled rules in ascending priority order.
func (s *Set) Enabled() []Rule {
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// All returns every rule, enabled or not.
func (s *Set) All() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Handle is a read-only, atomically-swappable pointer to a Set. Readers
// never lock; writers (hot-reload) install a new *Set wholesale.
type Handle struct {
	p atomic.Pointer[Set]
}

// NewHandle creates a handle seeded with an initial set.
func NewHandle(initial *Set) *Handle {
	h := &Handle{}
	h.p.Store(initial)
	return h
}

// Load returns the currently active rule set.
func (h *Handle) Load() *Set { return h.p.Load() }

// Store atomically swaps in a new rule set, taking effect on the next request.
func (h *Handle) Store(s *Set) { h.p.Store(s) }
