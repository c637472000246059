package vector

import (
	"context"
	"time"
)

type ScoredChunk struct {
	ArxivID string
	ChunkID string
	Score   float32
}

type Filter struct {
	ArxivIDs []string
	From     *time.Time
	To       *time.Time
}

// Index is the vector branch of hybrid search: rank chunks by similarity to
// a query embedding, filtered, returning the top n.
type Index interface {
	Search(ctx context.Context, embedding []float32, n int, filter Filter) ([]ScoredChunk, error)
}
