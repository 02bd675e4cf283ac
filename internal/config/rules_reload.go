package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/alfred-ai/signalhub/internal/escalation"
	"github.com/alfred-ai/signalhub/internal/rules"
	"github.com/alfred-ai/signalhub/internal/tiers"
)

// ruleFile is the on-disk YAML shape of the rules file. overrides[] is
// a separate, declaration-ordered mechanism (spec §3 Override, §6)
// that always beats rule evaluation.
type ruleFile struct {
	Rules     []ruleSpec     `yaml:"rules"`
	Overrides []overrideSpec `yaml:"overrides"`
}

type overrideSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Tier    string `yaml:"tier"`
	Reason  string `yaml:"reason"`
}

type ruleSpec struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Priority int    `yaml:"priority"`
	Kind     string `yaml:"kind"`

	// length_threshold
	SmallMax  int `yaml:"small_max,omitempty"`
	MediumMax int `yaml:"medium_max,omitempty"`

	// complexity_keyword
	SmallKeywords  []string `yaml:"small_keywords,omitempty"`
	MediumKeywords []string `yaml:"medium_keywords,omitempty"`
	LargeKeywords  []string `yaml:"large_keywords,omitempty"`

	// task_type_mapping
	Mapping map[string]string `yaml:"mapping,omitempty"`
}

func readRuleFile(path string) (*ruleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parsing rules file %s: %w", path, err)
	}
	return &file, nil
}

// LoadRules parses a rules YAML file into a validated rules.Set.
func LoadRules(path string) (*rules.Set, error) {
	file, err := readRuleFile(path)
	if err != nil {
		return nil, err
	}

	built := make([]rules.Rule, 0, len(file.Rules))
	for _, spec := range file.Rules {
		kind, err := buildKind(spec)
		if err != nil {
			return nil, fmt.Errorf("config: rule %q: %w", spec.Name, err)
		}
		built = append(built, rules.Rule{
			Name:     spec.Name,
			Enabled:  spec.Enabled,
			Priority: spec.Priority,
			Kind:     kind,
		})
	}

	return rules.NewSet(built)
}

// LoadOverrides parses the same rules YAML file's overrides[] section
// into an escalation.OverrideSet, preserving declaration order.
func LoadOverrides(path string) (*escalation.OverrideSet, error) {
	file, err := readRuleFile(path)
	if err != nil {
		return nil, err
	}

	built := make([]escalation.PatternOverride, 0, len(file.Overrides))
	for _, spec := range file.Overrides {
		pattern, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("config: override %q: %w", spec.Name, err)
		}
		tier, err := tiers.Parse(spec.Tier)
		if err != nil {
			return nil, fmt.Errorf("config: override %q: %w", spec.Name, err)
		}
		built = append(built, escalation.PatternOverride{
			Name:    spec.Name,
			Pattern: pattern,
			Tier:    tier,
			Reason:  spec.Reason,
		})
	}

	return escalation.NewOverrideSet(built), nil
}

func buildKind(spec ruleSpec) (rules.Kind, error) {
	switch spec.Kind {
	case "length_threshold":
		return rules.NewLengthThreshold(spec.SmallMax, spec.MediumMax)
	case "complexity_keyword":
		return rules.NewComplexityKeyword(spec.SmallKeywords, spec.MediumKeywords, spec.LargeKeywords)
	case "task_type_mapping":
		mapping, err := parseTierMapping(spec.Mapping)
		if err != nil {
			return nil, err
		}
		return rules.NewTaskTypeMapping(mapping), nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", spec.Kind)
	}
}

func parseTierMapping(raw map[string]string) (map[string]tiers.Tier, error) {
	out := make(map[string]tiers.Tier, len(raw))
	for method, name := range raw {
		tier, err := tiers.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", method, err)
		}
		out[method] = tier
	}
	return out, nil
}

// RuleWatcher watches the rules file and atomically swaps the active
// rules.Handle and escalation.OverrideHandle on every write, per spec
// §4.A's hot-reload requirement.
type RuleWatcher struct {
	watcher   *fsnotify.Watcher
	logger    zerolog.Logger
	path      string
	handle    *rules.Handle
	overrides *escalation.OverrideHandle
	done      chan struct{}
}

// NewRuleWatcher starts watching path's parent directory for changes
// and reloading into handle and overrides. The caller owns their
// initial load. A nil overrides handle disables override reloading.
func NewRuleWatcher(path string, handle *rules.Handle, overrides *escalation.OverrideHandle, logger zerolog.Logger) (*RuleWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := dirOf(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	rw := &RuleWatcher{
		watcher:   w,
		logger:    logger.With().Str("component", "rule-watcher").Logger(),
		path:      path,
		handle:    handle,
		overrides: overrides,
		done:      make(chan struct{}),
	}
	go rw.loop()
	return rw, nil
}

func (rw *RuleWatcher) loop() {
	for {
		select {
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if event.Name != rw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			set, err := LoadRules(rw.path)
			if err != nil {
				rw.logger.Error().Err(err).Msg("rules file reload failed, keeping previous rule set")
				continue
			}
			rw.handle.Store(set)
			rw.logger.Info().Int("rule_count", len(set.All())).Msg("rules file reloaded")

			if rw.overrides != nil {
				overrideSet, err := LoadOverrides(rw.path)
				if err != nil {
					rw.logger.Error().Err(err).Msg("rules file override reload failed, keeping previous override set")
					continue
				}
				rw.overrides.Store(overrideSet)
				rw.logger.Info().Int("override_count", len(overrideSet.All())).Msg("pattern overrides reloaded")
			}
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Error().Err(err).Msg("rules file watcher error")
		case <-rw.done:
			return
		}
	}
}

// Close stops the watcher.
func (rw *RuleWatcher) Close() error {
	close(rw.done)
	return rw.watcher.Close()
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
