package vectorindex_test

import (
	"testing"

	"github.com/alfred-ai/signalhub/internal/vectorindex"
)

func TestUpsertAndSearchOrdersBySimilarity(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	_ = idx.Upsert("exact", []float32{1, 0, 0}, "")
	_ = idx.Upsert("orthogonal", []float32{0, 1, 0}, "")
	_ = idx.Upsert("opposite", []float32{-1, 0, 0}, "")

	matches, err := idx.Search([]float32{1, 0, 0}, 2, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected topK=2 matches, got %d", len(matches))
	}
	if matches[0].ID != "exact" {
		t.Fatalf("expected exact match first, got %+v", matches)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Fatalf("expected descending similarity order, got %+v", matches)
	}
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	_ = idx.Upsert("a", []float32{1, 0}, "")
	_ = idx.Delete("a")

	if idx.Len() != 0 {
		t.Fatalf("expected empty index after delete, got len %d", idx.Len())
	}
	matches, _ := idx.Search([]float32{1, 0}, 10, "")
	if len(matches) != 0 {
		t.Fatalf("expected no matches after delete, got %+v", matches)
	}
}

func TestLenTracksUpserts(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	_ = idx.Upsert("a", []float32{1, 0}, "")
	_ = idx.Upsert("b", []float32{0, 1}, "")
	_ = idx.Upsert("a", []float32{0, 0, 1}, "") // overwrite, not a new entry

	if idx.Len() != 2 {
		t.Fatalf("expected 2 distinct ids, got %d", idx.Len())
	}
}

func TestSearchFiltersByContextKey(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	_ = idx.Upsert("a", []float32{1, 0}, "tenant-a")
	_ = idx.Upsert("b", []float32{1, 0}, "tenant-b")
	_ = idx.Upsert("c", []float32{1, 0}, "")

	matches, _ := idx.Search([]float32{1, 0}, 10, "tenant-a")
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Fatalf("expected only the tenant-a entry, got %+v", matches)
	}

	all, _ := idx.Search([]float32{1, 0}, 10, "")
	if len(all) != 3 {
		t.Fatalf("expected no filtering when contextKey is empty, got %+v", all)
	}
}

func TestSearchTopKZeroReturnsAll(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	_ = idx.Upsert("a", []float32{1, 0}, "")
	_ = idx.Upsert("b", []float32{0, 1}, "")

	matches, _ := idx.Search([]float32{1, 0}, 0, "")
	if len(matches) != 2 {
		t.Fatalf("expected topK<=0 to mean unbounded, got %d matches", len(matches))
	}
}
