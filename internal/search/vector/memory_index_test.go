package vector

import (
	"context"
	"testing"

	"github.com/researchagent/backend/internal/storage/models"
)

func testChunks() []models.Chunk {
	return []models.Chunk{
		{ID: "c1", ArxivID: "1706.03762", Embedding: []float32{1, 0, 0}},
		{ID: "c2", ArxivID: "1810.04805", Embedding: []float32{0, 1, 0}},
		{ID: "c3", ArxivID: "2005.14165", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c4", ArxivID: "1706.03762"}, // no embedding, must be skipped
	}
}

func TestMemoryIndex_RanksByCosine(t *testing.T) {
	ix := NewMemoryIndex(testChunks())

	results, err := ix.Search(context.Background(), []float32{1, 0, 0}, 10, Filter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 embedded chunks, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("top result = %q, want c1 (exact match)", results[0].ChunkID)
	}
	if results[1].ChunkID != "c3" {
		t.Errorf("second result = %q, want c3", results[1].ChunkID)
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Errorf("results not sorted by score desc: %+v", results)
		}
	}
}

func TestMemoryIndex_TopNCap(t *testing.T) {
	ix := NewMemoryIndex(testChunks())

	results, err := ix.Search(context.Background(), []float32{1, 0, 0}, 1, Filter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestMemoryIndex_ArxivIDFilter(t *testing.T) {
	ix := NewMemoryIndex(testChunks())

	results, err := ix.Search(context.Background(), []float32{1, 0, 0}, 10, Filter{ArxivIDs: []string{"1810.04805"}})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c2" {
		t.Errorf("filter not applied: %+v", results)
	}
}

func TestCosine_DegenerateInputs(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("mismatched dimensions should score 0, got %v", got)
	}
	if got := cosine(nil, nil); got != 0 {
		t.Errorf("empty vectors should score 0, got %v", got)
	}
	if got := cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero magnitude should score 0, got %v", got)
	}
}
