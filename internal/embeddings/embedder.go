package embeddings

import "context"

// Embedder is the external embedding service contract: embed(texts) ->
// fixed-dimension vectors, one call in, one call out, no partial failures.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
