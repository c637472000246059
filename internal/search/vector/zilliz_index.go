package vector

import (
	"context"
	"fmt"

	"github.com/researchagent/backend/internal/vector/zilliz"
)

// ZillizIndex adapts the Milvus/Zilliz client to the Index contract.
type ZillizIndex struct {
	client *zilliz.Client
}

func NewZillizIndex(client *zilliz.Client) *ZillizIndex {
	return &ZillizIndex{client: client}
}

func (z *ZillizIndex) Search(ctx context.Context, embedding []float32, n int, filter Filter) ([]ScoredChunk, error) {
	results, err := z.client.Search(ctx, embedding, n, zilliz.Filter{
		ArxivIDs: filter.ArxivIDs,
		From:     filter.From,
		To:       filter.To,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		// Milvus L2 distance: smaller is closer. Converted to a similarity-like
		// score so downstream ranking treats larger as better, matching the
		// cosine-similarity framing the hybrid algorithm expects.
		out = append(out, ScoredChunk{ArxivID: r.ArxivID, ChunkID: r.ChunkID, Score: 1.0 / (1.0 + r.Score)})
	}
	return out, nil
}
