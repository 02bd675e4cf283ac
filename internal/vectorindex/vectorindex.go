// Package vectorindex defines the VectorIndex boundary spec §1 marks
// out of scope (no production vector database ships with this repo)
// plus an in-memory reference implementation sufficient for the
// semantic cache's own bookkeeping and for tests.
package vectorindex

import (
	"sort"
	"sync"

	"github.com/alfred-ai/signalhub/internal/fingerprint"
)

// Match is one search result: an indexed id and its similarity to the query.
type Match struct {
	ID         string
	Similarity float64
}

// VectorIndex is the nearest-neighbor search boundary the semantic
// cache's store builds on. A production deployment backs this with
// pgvector, Qdrant, or similar; this package ships only the in-memory
// reference implementation below. contextKey partitions the index
// (spec §3 Fingerprint, §4.E search_similar): entries with different
// context keys never match regardless of vector similarity. An empty
// contextKey on Search applies no partition filter.
type VectorIndex interface {
	Upsert(id string, vec []float32, contextKey string) error
	Delete(id string) error
	Search(vec []float32, topK int, contextKey string) ([]Match, error)
	Len() int
}

// MemoryIndex is a brute-force, cosine-similarity VectorIndex. Adequate
// for the cache sizes spec §4.E bounds (tens of thousands of entries);
// not meant to scale past that.
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string]indexedVector
}

type indexedVector struct {
	vec        []float32
	contextKey string
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string]indexedVector)}
}

// Upsert implements VectorIndex.
func (m *MemoryIndex) Upsert(id string, vec []float32, contextKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[id] = indexedVector{vec: vec, contextKey: contextKey}
	return nil
}

// Delete implements VectorIndex.
func (m *MemoryIndex) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectors, id)
	return nil
}

// Search returns up to topK matches ordered by descending similarity.
// When contextKey is non-empty, only entries upserted with the same
// context key are considered.
func (m *MemoryIndex) Search(vec []float32, topK int, contextKey string) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.vectors))
	for id, candidate := range m.vectors {
		if contextKey != "" && candidate.contextKey != contextKey {
			continue
		}
		matches = append(matches, Match{ID: id, Similarity: fingerprint.CosineSimilarity(vec, candidate.vec)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len implements VectorIndex.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}
