package vector

import (
	"context"
	"math"
	"sort"

	"github.com/researchagent/backend/internal/storage/models"
)

// MemoryIndex is a brute-force cosine-similarity scan over an in-process
// chunk cache. It is the default vector branch: deterministic and exactly
// reproducible given the same chunk set, which the hybrid search engine's
// idempotence guarantee depends on. ZillizIndex is the pluggable
// production alternative behind the same Index interface.
type MemoryIndex struct {
	chunks []models.Chunk
}

func NewMemoryIndex(chunks []models.Chunk) *MemoryIndex {
	return &MemoryIndex{chunks: chunks}
}

func (m *MemoryIndex) Search(ctx context.Context, embedding []float32, n int, filter Filter) ([]ScoredChunk, error) {
	allowed := allowSet(filter)

	type scored struct {
		chunk models.Chunk
		score float32
	}
	var candidates []scored

	for _, c := range m.chunks {
		if !matchesFilter(c, filter, allowed) {
			continue
		}
		if len(c.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{chunk: c, score: cosine(embedding, c.Embedding)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if n > len(candidates) {
		n = len(candidates)
	}

	out := make([]ScoredChunk, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, ScoredChunk{ArxivID: c.chunk.ArxivID, ChunkID: c.chunk.ID, Score: c.score})
	}
	return out, nil
}

func allowSet(filter Filter) map[string]bool {
	if len(filter.ArxivIDs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(filter.ArxivIDs))
	for _, id := range filter.ArxivIDs {
		set[id] = true
	}
	return set
}

// Date-range filters are resolved by the caller into a concrete ArxivIDs
// allowlist before reaching the index, since chunks don't carry their own
// published_date (that lives on the owning paper).
func matchesFilter(c models.Chunk, filter Filter, allowed map[string]bool) bool {
	if allowed != nil && !allowed[c.ArxivID] {
		return false
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}
