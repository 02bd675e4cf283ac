package tiers_test

import (
	"testing"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

func TestParseRoundTrip(t *testing.T) {
	for _, tier := range []tiers.Tier{tiers.Small, tiers.Medium, tiers.Large} {
		parsed, err := tiers.Parse(tier.String())
		if err != nil {
			t.Fatalf("Parse(%s): %v", tier, err)
		}
		if parsed != tier {
			t.Fatalf("Parse(%s) = %v, want %v", tier, parsed, tier)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := tiers.Parse("huge"); err == nil {
		t.Fatal("expected error for unknown tier name")
	}
}

func TestLess(t *testing.T) {
	if !tiers.Small.Less(tiers.Medium) {
		t.Fatal("expected small < medium")
	}
	if tiers.Large.Less(tiers.Medium) {
		t.Fatal("expected large not < medium")
	}
}

func TestDefaultRegistryOrdering(t *testing.T) {
	reg := tiers.DefaultRegistry()
	small, medium, large := reg.Get(tiers.Small), reg.Get(tiers.Medium), reg.Get(tiers.Large)

	if !(small.PricePer1kInput < medium.PricePer1kInput && medium.PricePer1kInput < large.PricePer1kInput) {
		t.Fatal("expected strictly increasing input price across tiers")
	}
	if !(small.PricePer1kOutput < medium.PricePer1kOutput && medium.PricePer1kOutput < large.PricePer1kOutput) {
		t.Fatal("expected strictly increasing output price across tiers")
	}
}

func TestNewRegistryPanicsOnInvertedPricing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on inverted price ordering")
		}
	}()
	tiers.NewRegistry(map[tiers.Tier]tiers.Config{
		tiers.Small:  {PricePer1kInput: 1.0, PricePer1kOutput: 1.0},
		tiers.Medium: {PricePer1kInput: 0.5, PricePer1kOutput: 0.5},
		tiers.Large:  {PricePer1kInput: 2.0, PricePer1kOutput: 2.0},
	})
}

func TestRegistryOrderedAndAll(t *testing.T) {
	reg := tiers.DefaultRegistry()
	order := reg.Ordered()
	if len(order) != 3 || order[0] != tiers.Small || order[2] != tiers.Large {
		t.Fatalf("unexpected tier order: %v", order)
	}
	all := reg.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(all))
	}
}
