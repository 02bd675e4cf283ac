package rules_test

import (
	"testing"

	"github.com/alfred-ai/signalhub/internal/rules"
	"github.com/alfred-ai/signalhub/internal/tiers"
)

func TestLengthThresholdBands(t *testing.T) {
	lt, err := rules.NewLengthThreshold(100, 1000)
	if err != nil {
		t.Fatalf("NewLengthThreshold: %v", err)
	}
	rule := rules.Rule{Name: "length", Enabled: true, Priority: 1, Kind: lt}

	d, err := rules.Evaluate(rule, rules.Request{QueryText: "short"})
	if err != nil || d == nil {
		t.Fatalf("evaluate short query: %v, %v", d, err)
	}
	if d.Tier != tiers.Small {
		t.Fatalf("expected Small for short query, got %v", d.Tier)
	}

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	d, err = rules.Evaluate(rule, rules.Request{QueryText: string(long)})
	if err != nil || d == nil {
		t.Fatalf("evaluate long query: %v, %v", d, err)
	}
	if d.Tier != tiers.Large {
		t.Fatalf("expected Large for long query, got %v", d.Tier)
	}
}

func TestLengthThresholdRejectsBadBounds(t *testing.T) {
	if _, err := rules.NewLengthThreshold(1000, 100); err == nil {
		t.Fatal("expected error when small_max >= medium_max")
	}
}

func TestComplexityKeywordPicksHighestTier(t *testing.T) {
	ck, err := rules.NewComplexityKeyword([]string{"list"}, []string{"explain"}, []string{"architecture"})
	if err != nil {
		t.Fatalf("NewComplexityKeyword: %v", err)
	}
	rule := rules.Rule{Name: "keyword", Enabled: true, Priority: 2, Kind: ck}

	d, err := rules.Evaluate(rule, rules.Request{QueryText: "explain the architecture of this module"})
	if err != nil || d == nil {
		t.Fatalf("evaluate: %v, %v", d, err)
	}
	if d.Tier != tiers.Large {
		t.Fatalf("expected Large when a large keyword is present, got %v", d.Tier)
	}
}

func TestComplexityKeywordNoHitsReturnsNil(t *testing.T) {
	ck, _ := rules.NewComplexityKeyword([]string{"list"}, nil, nil)
	rule := rules.Rule{Name: "keyword", Enabled: true, Priority: 2, Kind: ck}

	d, err := rules.Evaluate(rule, rules.Request{QueryText: "completely unrelated text"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d != nil {
		t.Fatalf("expected nil decision on no keyword hits, got %+v", d)
	}
}

func TestComplexityKeywordRejectsOverlappingSets(t *testing.T) {
	if _, err := rules.NewComplexityKeyword([]string{"foo"}, []string{"foo"}, nil); err == nil {
		t.Fatal("expected error for keyword present in two tier sets")
	}
}

func TestTaskTypeMapping(t *testing.T) {
	tt := rules.NewTaskTypeMapping(map[string]tiers.Tier{"search_code": tiers.Small})
	rule := rules.Rule{Name: "task-type", Enabled: true, Priority: 3, Kind: tt}

	d, err := rules.Evaluate(rule, rules.Request{Method: "search_code"})
	if err != nil || d == nil {
		t.Fatalf("evaluate: %v, %v", d, err)
	}
	if d.Tier != tiers.Small || d.Confidence != 0.95 {
		t.Fatalf("unexpected decision: %+v", d)
	}

	d, err = rules.Evaluate(rule, rules.Request{Method: "unmapped_method"})
	if err != nil {
		t.Fatalf("evaluate unmapped: %v", err)
	}
	if d != nil {
		t.Fatalf("expected nil decision for unmapped method, got %+v", d)
	}
}

func TestSetRejectsDuplicatePriority(t *testing.T) {
	tt := rules.NewTaskTypeMapping(rules.DefaultTaskMapping())
	_, err := rules.NewSet([]rules.Rule{
		{Name: "a", Enabled: true, Priority: 10, Kind: tt},
		{Name: "b", Enabled: true, Priority: 10, Kind: tt},
	})
	if err == nil {
		t.Fatal("expected error for duplicate enabled priority")
	}
}

func TestSetEnabledOrderingAndHandleSwap(t *testing.T) {
	tt := rules.NewTaskTypeMapping(rules.DefaultTaskMapping())
	set, err := rules.NewSet([]rules.Rule{
		{Name: "low-priority", Enabled: true, Priority: 50, Kind: tt},
		{Name: "high-priority", Enabled: true, Priority: 1, Kind: tt},
		{Name: "disabled", Enabled: false, Priority: 2, Kind: tt},
	})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	enabled := set.Enabled()
	if len(enabled) != 2 || enabled[0].Name != "high-priority" || enabled[1].Name != "low-priority" {
		t.Fatalf("unexpected enabled ordering: %+v", enabled)
	}
	if len(set.All()) != 3 {
		t.Fatalf("expected All() to include disabled rules, got %d", len(set.All()))
	}

	handle := rules.NewHandle(set)
	if handle.Load() != set {
		t.Fatal("expected Load to return the installed set")
	}

	other, _ := rules.NewSet(nil)
	handle.Store(other)
	if handle.Load() != other {
		t.Fatal("expected Load to reflect the swapped set")
	}
}
