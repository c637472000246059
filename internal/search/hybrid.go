// Package search implements the hybrid vector+lexical retrieval engine:
// Reciprocal Rank Fusion over a vector branch and a lexical branch, plus
// the list_papers introspection operation.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/cache/redis"
	"github.com/researchagent/backend/internal/embeddings"
	"github.com/researchagent/backend/internal/metrics"
	"github.com/researchagent/backend/internal/search/lexical"
	"github.com/researchagent/backend/internal/search/vector"
	"github.com/researchagent/backend/internal/storage/models"
	"github.com/researchagent/backend/internal/storage/sqlite"
	"github.com/researchagent/backend/pkg/logger"
	"github.com/researchagent/backend/pkg/utils"
)

const (
	rrfK          = 60
	queryCacheTTL = 5 * time.Minute
)

var (
	ErrEmbeddingUnavailable = errors.New("search: embedding service unavailable")
	ErrIndexUnavailable     = errors.New("search: index unavailable")
)

type Filters struct {
	Categories []string
	ArxivIDs   []string
	From       *time.Time
	To         *time.Time
}

type ResultChunk struct {
	ArxivID     string
	Title       string
	ChunkID     string
	ChunkIndex  int
	ChunkText   string
	SectionName string
	PageNumber  int
	Score       float64
}

type Engine struct {
	embedder   embeddings.Embedder
	vectorIdx  vector.Index
	store      *sqlite.Client
	cache      *redis.Client

	mu         sync.RWMutex
	lexicalIdx *lexical.Index
	chunksByID map[string]models.Chunk
	titles     map[string]string
}

func NewEngine(embedder embeddings.Embedder, vectorIdx vector.Index, store *sqlite.Client) *Engine {
	return &Engine{embedder: embedder, vectorIdx: vectorIdx, store: store}
}

// WithCache enables the Redis result cache for Search. Cache errors only
// forgo caching; they never fail a search.
func (e *Engine) WithCache(cache *redis.Client) *Engine {
	e.cache = cache
	return e
}

// Refresh reloads the in-process chunk snapshot the lexical branch and
// filter resolution read from. Ingestion (out of scope here) is the only
// writer of chunks/papers, so the core calls this once at startup and
// whenever a caller signals the corpus changed.
func (e *Engine) Refresh() error {
	chunks, err := e.store.AllChunks()
	if err != nil {
		return fmt.Errorf("failed to refresh chunk snapshot: %w", err)
	}

	papers, _, err := e.store.ListPapers(sqlite.PaperFilter{}, 1<<30, 0)
	if err != nil {
		return fmt.Errorf("failed to refresh paper snapshot: %w", err)
	}

	titles := make(map[string]string, len(papers))
	for _, p := range papers {
		titles[p.ArxivID] = p.Title
	}

	byID := make(map[string]models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	e.mu.Lock()
	e.lexicalIdx = lexical.NewIndex(chunks)
	e.chunksByID = byID
	e.titles = titles
	e.mu.Unlock()

	if e.cache != nil {
		if err := e.cache.InvalidateDocumentCache(context.Background()); err != nil {
			logger.Warn("failed to invalidate search result cache", zap.Error(err))
		}
	}

	logger.Info("search index refreshed", zap.Int("chunks", len(chunks)), zap.Int("papers", len(papers)))
	return nil
}

// Search embeds the query once, ranks each branch independently, fuses
// with Reciprocal Rank Fusion, and returns the top_k normalized into [0,1].
func (e *Engine) Search(ctx context.Context, query string, topK int, filters Filters) ([]ResultChunk, error) {
	if query == "" {
		return nil, fmt.Errorf("search: query must not be empty")
	}
	if topK < 1 {
		topK = 1
	}
	if topK > 50 {
		topK = 50
	}

	e.mu.RLock()
	lexicalIdx := e.lexicalIdx
	chunksByID := e.chunksByID
	titles := e.titles
	e.mu.RUnlock()

	if lexicalIdx == nil {
		return nil, ErrIndexUnavailable
	}

	var cacheKey string
	if e.cache != nil {
		cacheKey = utils.HashString(fmt.Sprintf("%s|%d|%v|%v|%v|%v", query, topK, filters.Categories, filters.ArxivIDs, filters.From, filters.To))
		var cached []ResultChunk
		if ok, err := e.cache.GetQuery(ctx, cacheKey, &cached); err == nil && ok {
			metrics.CacheHits.WithLabelValues("search").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("search").Inc()
	}

	arxivIDs, err := e.resolveArxivIDFilter(filters)
	if err != nil {
		return nil, err
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(vectors) == 0 {
		return nil, ErrEmbeddingUnavailable
	}
	queryEmbedding := vectors[0]

	fetchN := topK * 10
	if fetchN < 50 {
		fetchN = 50
	}

	vectorResults, err := e.vectorIdx.Search(ctx, queryEmbedding, fetchN, vector.Filter{ArxivIDs: arxivIDs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	lexicalResults := lexicalIdx.Search(query, fetchN, lexical.Filter{ArxivIDs: arxivIDs})

	fused := fuse(vectorResults, lexicalResults)
	metrics.HybridFusionSize.Observe(float64(len(fused)))
	if len(fused) == 0 {
		return nil, nil
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}

	top := fused[0].score
	if top <= 0 {
		return nil, nil
	}

	out := make([]ResultChunk, 0, len(fused))
	for _, f := range fused {
		chunk, ok := chunksByID[f.chunkID]
		if !ok {
			continue
		}
		out = append(out, ResultChunk{
			ArxivID:     chunk.ArxivID,
			Title:       titles[chunk.ArxivID],
			ChunkID:     chunk.ID,
			ChunkIndex:  chunk.ChunkIndex,
			ChunkText:   chunk.Text,
			SectionName: chunk.SectionName,
			PageNumber:  chunk.PageNumber,
			Score:       float64(f.score) / float64(top),
		})
	}

	if e.cache != nil {
		if err := e.cache.SetQuery(ctx, cacheKey, out, queryCacheTTL); err != nil {
			logger.Warn("failed to cache search results", zap.Error(err))
		}
	}

	return out, nil
}

type fusedEntry struct {
	chunkID     string
	arxivID     string
	score       float32
	vectorRank  int // 0 = not present, else 1-based rank
	lexicalRank int
}

func fuse(vectorResults []vector.ScoredChunk, lexicalResults []lexical.ScoredChunk) []fusedEntry {
	entries := make(map[string]*fusedEntry)

	for i, r := range vectorResults {
		rank := i + 1
		e := entries[r.ChunkID]
		if e == nil {
			e = &fusedEntry{chunkID: r.ChunkID, arxivID: r.ArxivID}
			entries[r.ChunkID] = e
		}
		e.vectorRank = rank
		e.score += 1.0 / float32(rrfK+rank)
	}

	for i, r := range lexicalResults {
		rank := i + 1
		e := entries[r.ChunkID]
		if e == nil {
			e = &fusedEntry{chunkID: r.ChunkID, arxivID: r.ArxivID}
			entries[r.ChunkID] = e
		}
		e.lexicalRank = rank
		e.score += 1.0 / float32(rrfK+rank)
	}

	out := make([]fusedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		ri, rj := rankOrInf(out[i].vectorRank), rankOrInf(out[j].vectorRank)
		if ri != rj {
			return ri < rj
		}
		li, lj := rankOrInf(out[i].lexicalRank), rankOrInf(out[j].lexicalRank)
		if li != lj {
			return li < lj
		}
		return out[i].arxivID < out[j].arxivID
	})

	return out
}

func rankOrInf(rank int) int {
	if rank == 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}

// resolveArxivIDFilter collapses category and date-range filters into a
// concrete arxiv_id allowlist, since chunks themselves carry no category or
// date — only their owning paper does.
func (e *Engine) resolveArxivIDFilter(filters Filters) ([]string, error) {
	if len(filters.Categories) == 0 && filters.From == nil && filters.To == nil {
		return filters.ArxivIDs, nil
	}

	papers, _, err := e.store.ListPapers(sqlite.PaperFilter{
		ArxivIDs: filters.ArxivIDs,
		From:     filters.From,
		To:       filters.To,
	}, 1<<30, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paper filter: %w", err)
	}

	var ids []string
	for _, p := range papers {
		if !matchesCategories(p, filters.Categories) {
			continue
		}
		ids = append(ids, p.ArxivID)
	}
	return ids, nil
}

func matchesCategories(p models.Paper, categories []string) bool {
	if len(categories) == 0 {
		return true
	}
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	for _, c := range p.Categories {
		if want[c] {
			return true
		}
	}
	return false
}

func (e *Engine) ListPapers(filters Filters, limit, offset int) ([]models.Paper, int, error) {
	return e.store.ListPapers(sqlite.PaperFilter{
		ArxivIDs: filters.ArxivIDs,
		From:     filters.From,
		To:       filters.To,
	}, limit, offset)
}
