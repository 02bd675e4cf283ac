// Package cache implements the semantic cache of spec component F,
// layered over a bounded, TTL-enforcing entry store (component E) and
// the vectorindex/fingerprint packages for similarity search. Grounded
// on the teacher's caching.Cache (single-writer locking discipline) and
// the traylinx-switchAILocal SemanticCache (LRU + similarity-threshold
// lookup shape).
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is one cached request/response pair.
type Entry struct {
	ID         string
	QueryText  string
	Embedding  []float32
	ContextKey string
	Response   interface{}
	Tier       string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	HitCount   int64
	element    *list.Element
}

// Store is a bounded, LRU-evicting, TTL-expiring entry table. All
// mutation goes through a single lock (spec §5: "the cache store uses
// a single-writer model — readers and writers serialize on one lock per
// shard"); there is exactly one shard here since the cache sizes spec
// §4.E bounds do not warrant sharding.
type Store struct {
	mu       sync.Mutex
	maxSize  int
	ttl      time.Duration
	entries  map[string]*Entry
	lru      *list.List // most-recently-used at front
}

// NewStore creates a bounded store. maxSize<=0 defaults to 10000, ttl<=0
// defaults to one hour, mirroring the reference SemanticCache defaults.
func NewStore(maxSize int, ttl time.Duration) *Store {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*Entry),
		lru:     list.New(),
	}
}

// Add inserts a new entry, evicting the least-recently-used entry first
// if the store is at capacity.
func (s *Store) Add(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[e.ID]; ok {
		s.lru.Remove(existing.element)
		delete(s.entries, e.ID)
	}
	if len(s.entries) >= s.maxSize {
		s.evictOldestLocked()
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = e.CreatedAt.Add(s.ttl)
	}
	e.element = s.lru.PushFront(e)
	s.entries[e.ID] = e
}

// evictOldestLocked must be called with mu held.
func (s *Store) evictOldestLocked() {
	oldest := s.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*Entry)
	s.lru.Remove(oldest)
	delete(s.entries, e.ID)
}

// Get returns a live (unexpired) entry by id and bumps its LRU position.
func (s *Store) Get(id string, now time.Time) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if now.After(e.ExpiresAt) {
		s.lru.Remove(e.element)
		delete(s.entries, id)
		return nil, false
	}
	s.lru.MoveToFront(e.element)
	e.HitCount++
	return e, true
}

// Snapshot returns every live entry, for callers that need to walk the
// whole store.
func (s *Store) Snapshot(now time.Time) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if now.After(e.ExpiresAt) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Update replaces an existing entry's response and embedding in place.
func (s *Store) Update(id string, mutate func(e *Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	mutate(e)
	return true
}

// Delete removes an entry unconditionally.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		s.lru.Remove(e.element)
		delete(s.entries, id)
	}
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	s.lru.Init()
}

// CleanupExpired removes every entry past its TTL and reports how many
// were removed, grounded on the original's cleanup_expired sweep.
func (s *Store) CleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if now.After(e.ExpiresAt) {
			s.lru.Remove(e.element)
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Size returns the current live entry count (including not-yet-swept
// expired entries, matching the original's O(1) size() semantics).
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
