// Package escalation resolves manual tier overrides: explicit per-request
// preference, session-wide overrides, and inline "@tier" hints. Grounded
// on the original Python EscalationManager/SessionEscalationManager
// (routing/escalation/escalator.py), reworked with the teacher's
// per-entity locking discipline (routing.FailoverState-style mutexes).
package escalation

import (
	"sync"
	"time"

	"github.com/alfred-ai/signalhub/internal/tiers"
)

// Session is a short-lived escalation scope for a client session id.
type Session struct {
	ID               string
	OverrideTier     tiers.Tier
	OverrideExpires  time.Time
	HasOverride      bool
}

// SessionTable owns Session lifetimes. Per spec §5: per-session lock;
// table-level lock only for insert/delete.
type SessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu sync.RWMutex
	s  Session
}

// NewSessionTable creates an empty session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*sessionEntry)}
}

// Apply installs or replaces a session override that expires duration from now.
// A non-positive duration installs an override that has already expired; the
// caller-facing resolver substitutes one hour for a non-positive duration.
func (t *SessionTable) Apply(sessionID string, tier tiers.Tier, duration time.Duration) {
	t.mu.Lock()
	entry, ok := t.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{}
		t.sessions[sessionID] = entry
	}
	t.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.s = Session{
		ID:              sessionID,
		OverrideTier:    tier,
		OverrideExpires: time.Now().Add(duration),
		HasOverride:     true,
	}
}

// Clear removes any active override for a session.
func (t *SessionTable) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// Active returns the session's override tier if one is set and unexpired.
// Expiry is enforced on every read, per spec §4.B.
func (t *SessionTable) Active(sessionID string, now time.Time) (tiers.Tier, bool) {
	t.mu.RLock()
	entry, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if !entry.s.HasOverride || !now.Before(entry.s.OverrideExpires) {
		return 0, false
	}
	return entry.s.OverrideTier, true
}

// ActiveSessions returns the ids of sessions currently holding an
// unexpired override — grounded on escalator.py's get_active_sessions.
func (t *SessionTable) ActiveSessions(now time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.sessions))
	for id, entry := range t.sessions {
		entry.mu.RLock()
		active := entry.s.HasOverride && now.Before(entry.s.OverrideExpires)
		entry.mu.RUnlock()
		if active {
			out = append(out, id)
		}
	}
	return out
}
