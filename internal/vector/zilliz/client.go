package zilliz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/researchagent/backend/pkg/logger"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type ChunkVector struct {
	ChunkID       string
	Embedding     []float32
	ArxivID       string
	ChunkIndex    int64
	Text          string
	PublishedDate int64
}

type SearchResult struct {
	ChunkID string
	ArxivID string
	Text    string
	Score   float32
}

// Filter mirrors the hybrid search operation's category/date/arxiv_id
// filters, translated into a Milvus boolean expression.
type Filter struct {
	ArxivIDs []string
	From     *time.Time
	To       *time.Time
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("zilliz client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{client: c, collectionName: collectionName, vectorDim: vectorDim}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("collection already exists", zap.String("collection", z.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "paper chunk embeddings",
		Fields: []*entity.Field{
			{Name: "chunk_id", DataType: entity.FieldTypeVarChar, PrimaryKey: true, AutoID: false, TypeParams: map[string]string{"max_length": "64"}},
			{Name: "embedding", DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", z.vectorDim)}},
			{Name: "arxiv_id", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "32"}},
			{Name: "chunk_index", DataType: entity.FieldTypeInt64},
			{Name: "text", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "8192"}},
			{Name: "published_date", DataType: entity.FieldTypeInt64},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("collection created and loaded", zap.String("collection", z.collectionName))
	return nil
}

func (z *Client) Insert(ctx context.Context, chunks []ChunkVector) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	arxivIDs := make([]string, len(chunks))
	chunkIndexes := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	published := make([]int64, len(chunks))

	for i, c := range chunks {
		chunkIDs[i] = c.ChunkID
		embeddings[i] = c.Embedding
		arxivIDs[i] = c.ArxivID
		chunkIndexes[i] = c.ChunkIndex
		texts[i] = c.Text
		published[i] = c.PublishedDate
	}

	_, err := z.client.Insert(ctx, z.collectionName, "",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", z.vectorDim, embeddings),
		entity.NewColumnVarChar("arxiv_id", arxivIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnInt64("published_date", published),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("chunks inserted into vector db", zap.Int("count", len(chunks)))
	return nil
}

func (z *Client) Search(ctx context.Context, queryEmbedding []float32, topN int, filter Filter) ([]SearchResult, error) {
	expr := buildFilterExpr(filter)

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := z.client.Search(
		ctx, z.collectionName, []string{}, expr,
		[]string{"chunk_id", "arxiv_id", "text"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding", entity.L2, topN, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var results []SearchResult
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		arxivIDCol := sr.Fields.GetColumn("arxiv_id")
		textCol := sr.Fields.GetColumn("text")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.Get(i)
			arxivID, _ := arxivIDCol.Get(i)
			text, _ := textCol.Get(i)

			results = append(results, SearchResult{
				ChunkID: chunkID.(string),
				ArxivID: arxivID.(string),
				Text:    text.(string),
				Score:   sr.Scores[i],
			})
		}
	}

	logger.Debug("vector search completed", zap.Int("top_n", topN), zap.Int("results", len(results)))
	return results, nil
}

func buildFilterExpr(filter Filter) string {
	var clauses []string

	if len(filter.ArxivIDs) > 0 {
		quoted := make([]string, len(filter.ArxivIDs))
		for i, id := range filter.ArxivIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		clauses = append(clauses, fmt.Sprintf("arxiv_id in [%s]", strings.Join(quoted, ", ")))
	}
	if filter.From != nil {
		clauses = append(clauses, fmt.Sprintf("published_date >= %d", filter.From.Unix()))
	}
	if filter.To != nil {
		clauses = append(clauses, fmt.Sprintf("published_date <= %d", filter.To.Unix()))
	}

	return strings.Join(clauses, " && ")
}
