package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/alfred-ai/signalhub/internal/config"
	"github.com/alfred-ai/signalhub/internal/escalation"
	"github.com/alfred-ai/signalhub/internal/rules"
)

const sampleRulesYAML = `
rules:
  - name: length
    enabled: true
    priority: 10
    kind: length_threshold
    small_max: 500
    medium_max: 4000
  - name: task-type
    enabled: true
    priority: 1
    kind: task_type_mapping
    mapping:
      search_code: small
      explain_code: medium
`

func writeRulesFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadRulesParsesAllKinds(t *testing.T) {
	path := writeRulesFile(t, sampleRulesYAML)

	set, err := config.LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	enabled := set.Enabled()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled rules, got %d", len(enabled))
	}
	if enabled[0].Name != "task-type" {
		t.Fatalf("expected task-type (priority 1) evaluated first, got %q", enabled[0].Name)
	}
}

func TestLoadRulesRejectsUnknownKind(t *testing.T) {
	path := writeRulesFile(t, "rules:\n  - name: bogus\n    enabled: true\n    priority: 1\n    kind: not_a_real_kind\n")
	if _, err := config.LoadRules(path); err == nil {
		t.Fatal("expected error for unknown rule kind")
	}
}

func TestLoadRulesRejectsUnknownTierInMapping(t *testing.T) {
	path := writeRulesFile(t, "rules:\n  - name: task-type\n    enabled: true\n    priority: 1\n    kind: task_type_mapping\n    mapping:\n      search_code: enormous\n")
	if _, err := config.LoadRules(path); err == nil {
		t.Fatal("expected error for unparseable tier name in mapping")
	}
}

const sampleRulesWithOverridesYAML = sampleRulesYAML + `
overrides:
  - name: perf
    pattern: "(?i)performance|optimize|bottleneck"
    tier: large
    reason: performance-sensitive query
`

func TestLoadOverridesParsesPatternsInOrder(t *testing.T) {
	path := writeRulesFile(t, sampleRulesWithOverridesYAML)

	set, err := config.LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	all := set.All()
	if len(all) != 1 || all[0].Name != "perf" {
		t.Fatalf("expected 1 override named 'perf', got %+v", all)
	}
	if !all[0].Pattern.MatchString("investigate the bottleneck") {
		t.Fatalf("expected compiled pattern to match, got %v", all[0].Pattern)
	}
}

func TestLoadOverridesRejectsUnknownTier(t *testing.T) {
	path := writeRulesFile(t, "overrides:\n  - name: bad\n    pattern: x\n    tier: enormous\n")
	if _, err := config.LoadOverrides(path); err == nil {
		t.Fatal("expected error for unparseable tier name in override")
	}
}

func TestLoadOverridesRejectsInvalidRegex(t *testing.T) {
	path := writeRulesFile(t, "overrides:\n  - name: bad\n    pattern: \"(unterminated\"\n    tier: large\n")
	if _, err := config.LoadOverrides(path); err == nil {
		t.Fatal("expected error for invalid override regex")
	}
}

func TestRuleWatcherReloadsOverridesOnWrite(t *testing.T) {
	path := writeRulesFile(t, sampleRulesYAML)

	overrides, err := config.LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	overrideHandle := escalation.NewOverrideHandle(overrides)

	set, err := config.LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	handle := rules.NewHandle(set)

	watcher, err := config.NewRuleWatcher(path, handle, overrideHandle, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRuleWatcher: %v", err)
	}
	defer watcher.Close()

	if err := os.WriteFile(path, []byte(sampleRulesWithOverridesYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(overrideHandle.Load().All()) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected override set to hot-reload to 1 override, got %d", len(overrideHandle.Load().All()))
}

func TestRuleWatcherReloadsOnWrite(t *testing.T) {
	path := writeRulesFile(t, sampleRulesYAML)

	initial, err := config.LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	handle := rules.NewHandle(initial)

	watcher, err := config.NewRuleWatcher(path, handle, escalation.NewOverrideHandle(nil), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRuleWatcher: %v", err)
	}
	defer watcher.Close()

	updated := sampleRulesYAML + "  - name: extra\n    enabled: true\n    priority: 20\n    kind: length_threshold\n    small_max: 100\n    medium_max: 200\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(handle.Load().Enabled()) == 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected rule set to hot-reload to 3 enabled rules, got %d", len(handle.Load().Enabled()))
}
