package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/alfred-ai/signalhub/internal/fingerprint"
	"github.com/alfred-ai/signalhub/internal/metrics"
	"github.com/alfred-ai/signalhub/internal/vectorindex"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for a
// cache hit, matching the original's semantic cache default.
const DefaultSimilarityThreshold = 0.85

// ewmaWindow sets the smoothing factor of the hit-rate gauge so it
// reflects roughly the last 1000 requests (spec §4.F).
const ewmaWindow = 1000

// Cache composes an Embedder, a VectorIndex and a Store into the
// semantic cache of spec component F. Lookup collapses concurrent
// identical queries through singleflight so they share one embed and
// index search; callers that miss each still go on to the backend.
type Cache struct {
	embedder   fingerprint.Embedder
	index      vectorindex.VectorIndex
	store      *Store
	threshold  float64
	group      singleflight.Group
	metrics    *metrics.Registry
	logger     zerolog.Logger

	mu      sync.Mutex
	hitRate float64 // EWMA, in [0,1]
}

// New creates a semantic cache. threshold<=0 uses DefaultSimilarityThreshold.
func New(embedder fingerprint.Embedder, index vectorindex.VectorIndex, store *Store, threshold float64, reg *metrics.Registry, logger zerolog.Logger) *Cache {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Cache{
		embedder:  embedder,
		index:     index,
		store:     store,
		threshold: threshold,
		metrics:   reg,
		logger:    logger.With().Str("component", "semantic-cache").Logger(),
	}
}

// Result is a cache lookup outcome.
type Result struct {
	Entry      *Entry
	Similarity float64
	Hit        bool
}

// Lookup embeds the query, searches the vector index for the nearest
// live entry sharing contextKey, and reports a hit only if similarity
// clears the threshold. An empty contextKey applies no partition
// filter. Grounded on the original's SemanticCache.lookup.
func (c *Cache) Lookup(ctx context.Context, queryText, contextKey string) (Result, error) {
	key := queryText + "\x00" + contextKey
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.lookup(queryText, contextKey)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Cache) lookup(queryText, contextKey string) (Result, error) {
	vec, err := c.embedder.Embed(queryText)
	if err != nil {
		return Result{}, err
	}

	matches, err := c.index.Search(vec, 1, contextKey)
	if err != nil {
		return Result{}, err
	}
	if len(matches) == 0 || matches[0].Similarity < c.threshold {
		c.recordOutcome(false)
		c.metrics.CounterInc("signalhub_cache_lookups_total", map[string]string{"result": "miss"})
		return Result{Hit: false}, nil
	}

	entry, ok := c.store.Get(matches[0].ID, time.Now())
	if !ok || (contextKey != "" && entry.ContextKey != contextKey) {
		// index and store disagree (entry expired, or a context-key
		// mismatch slipped through); treat as a miss and let the
		// caller's subsequent Store call repair the index.
		_ = c.index.Delete(matches[0].ID)
		c.recordOutcome(false)
		c.metrics.CounterInc("signalhub_cache_lookups_total", map[string]string{"result": "miss"})
		return Result{Hit: false}, nil
	}

	c.recordOutcome(true)
	c.metrics.CounterInc("signalhub_cache_lookups_total", map[string]string{"result": "hit"})
	return Result{Entry: entry, Similarity: matches[0].Similarity, Hit: true}, nil
}

// Store embeds and indexes a fresh response under contextKey, grounded
// on the original's SemanticCache.store.
func (c *Cache) Store(ctx context.Context, id, queryText, contextKey string, response interface{}, tier string) error {
	vec, err := c.embedder.Embed(queryText)
	if err != nil {
		return err
	}
	if err := c.index.Upsert(id, vec, contextKey); err != nil {
		return err
	}
	c.store.Add(&Entry{
		ID:         id,
		QueryText:  queryText,
		Embedding:  vec,
		ContextKey: contextKey,
		Response:   response,
		Tier:       tier,
	})
	c.metrics.GaugeSet("signalhub_cache_size", nil, float64(c.store.Size()))
	return nil
}

// Warm preloads a batch of known-good query/response pairs without
// counting them as lookups, e.g. at startup from a persisted snapshot.
func (c *Cache) Warm(ctx context.Context, entries []*Entry) error {
	for _, e := range entries {
		if err := c.index.Upsert(e.ID, e.Embedding, e.ContextKey); err != nil {
			return err
		}
		c.store.Add(e)
	}
	c.metrics.GaugeSet("signalhub_cache_size", nil, float64(c.store.Size()))
	return nil
}

// Delete removes an entry from both the index and the store.
func (c *Cache) Delete(id string) {
	_ = c.index.Delete(id)
	c.store.Delete(id)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.store.Clear()
}

// CleanupExpired sweeps TTL-expired entries from the store. The vector
// index is left stale for expired ids until the next Lookup touches
// them, since Lookup already repairs index/store disagreement.
func (c *Cache) CleanupExpired() int {
	return c.store.CleanupExpired(time.Now())
}

// HitRate returns the EWMA hit rate over roughly the last 1000 lookups.
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitRate
}

func (c *Cache) recordOutcome(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obs := 0.0
	if hit {
		obs = 1.0
	}
	alpha := 2.0 / float64(ewmaWindow+1)
	c.hitRate = alpha*obs + (1-alpha)*c.hitRate
	c.metrics.GaugeSet("signalhub_cache_hit_rate", nil, c.hitRate)
}
