package escalation

import (
	"regexp"
	"sync/atomic"
	"time"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Source identifies which precedence level produced an Override.
type Source string

const (
	SourceExplicit Source = "explicit" // preferred_tier on the request
	SourceSession  Source = "session"  // active session override
	SourceInline   Source = "inline"   // "@tier" hint in the query text
	SourcePattern  Source = "pattern"  // config-defined overrides[] regex match
)

// Override is a resolved manual escalation. Overrides always beat rules.
type Override struct {
	Tier   tiers.Tier
	Source Source
	Reason string
}

var inlineHintPattern = regexp.MustCompile(`@(small|medium|large)\b`)

// Metrics counts escalations by source, mirroring escalator.py's
// get_metrics breakdown (inline/explicit/session percentages).
type Metrics struct {
	total    int64
	inline   int64
	explicit int64
	session  int64
	pattern  int64
}

func (m *Metrics) record(src Source) {
	atomic.AddInt64(&m.total, 1)
	switch src {
	case SourceInline:
		atomic.AddInt64(&m.inline, 1)
	case SourceExplicit:
		atomic.AddInt64(&m.explicit, 1)
	case SourceSession:
		atomic.AddInt64(&m.session, 1)
	case SourcePattern:
		atomic.AddInt64(&m.pattern, 1)
	}
}

// Snapshot is a point-in-time readout of escalation metrics.
type Snapshot struct {
	Total              int64
	InlinePercentage   float64
	ExplicitPercentage float64
	SessionPercentage  float64
	PatternPercentage  float64
}

// Snapshot computes percentage breakdowns over all escalations observed.
func (m *Metrics) Snapshot() Snapshot {
	total := atomic.LoadInt64(&m.total)
	if total == 0 {
		return Snapshot{}
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	return Snapshot{
		Total:              total,
		InlinePercentage:   pct(atomic.LoadInt64(&m.inline)),
		ExplicitPercentage: pct(atomic.LoadInt64(&m.explicit)),
		SessionPercentage:  pct(atomic.LoadInt64(&m.session)),
		PatternPercentage:  pct(atomic.LoadInt64(&m.pattern)),
	}
}

// Resolver implements the four-level escalation precedence of spec §4.B
// and §6: explicit, session, inline, then config-defined pattern overrides.
type Resolver struct {
	sessions  *SessionTable
	overrides *OverrideHandle
	metrics   *Metrics
}

// NewResolver creates a Resolver backed by the given session table and
// pattern-override handle. A nil overrides handle is treated as empty.
func NewResolver(sessions *SessionTable, overrides *OverrideHandle) *Resolver {
	if overrides == nil {
		overrides = NewOverrideHandle(nil)
	}
	return &Resolver{sessions: sessions, overrides: overrides, metrics: &Metrics{}}
}

// Resolve applies the precedence (1) explicit preferred tier, (2) active
// session override, (3) inline "@tier" hint, (4) the first declared
// pattern override whose regex matches the query text — stripping the
// inline hint token from the returned query text. Returns the (possibly
// cleaned) query text alongside the override, since the inline hint must
// not reach rule evaluation.
func (r *Resolver) Resolve(preferredTier *tiers.Tier, sessionID string, queryText string) (*Override, string) {
	if preferredTier != nil {
		r.metrics.record(SourceExplicit)
		return &Override{Tier: *preferredTier, Source: SourceExplicit, Reason: "explicit preferred_tier on request"}, queryText
	}

	if sessionID != "" {
		if tier, ok := r.sessions.Active(sessionID, time.Now()); ok {
			r.metrics.record(SourceSession)
			return &Override{Tier: tier, Source: SourceSession, Reason: "active session override"}, queryText
		}
	}

	if loc := inlineHintPattern.FindStringSubmatchIndex(queryText); loc != nil {
		tierName := queryText[loc[2]:loc[3]]
		tier, err := tiers.Parse(tierName)
		if err == nil {
			cleaned := queryText[:loc[0]] + queryText[loc[1]:]
			r.metrics.record(SourceInline)
			return &Override{Tier: tier, Source: SourceInline, Reason: "inline @" + tierName + " hint"}, trimSpace(cleaned)
		}
	}

	for _, po := range r.overrides.Load().All() {
		if po.Pattern.MatchString(queryText) {
			reason := po.Reason
			if reason == "" {
				reason = "pattern override: " + po.Pattern.String()
			}
			r.metrics.record(SourcePattern)
			return &Override{Tier: po.Tier, Source: SourcePattern, Reason: reason}, queryText
		}
	}

	return nil, queryText
}

// ApplySessionOverride installs a session-wide escalation for duration.
// A zero duration defaults to one hour, matching the original's
// escalate_session default window.
func (r *Resolver) ApplySessionOverride(sessionID string, tier tiers.Tier, duration time.Duration) {
	if duration <= 0 {
		duration = time.Hour
	}
	r.sessions.Apply(sessionID, tier, duration)
}

// Clear removes any session override.
func (r *Resolver) Clear(sessionID string) { r.sessions.Clear(sessionID) }

// Metrics returns the escalation metrics snapshot.
func (r *Resolver) Metrics() Snapshot { return r.metrics.Snapshot() }

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }
