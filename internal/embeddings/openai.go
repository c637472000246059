package embeddings

import (
	"context"
	"fmt"
	"time"

	oai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/researchagent/backend/pkg/circuitbreaker"
	"github.com/researchagent/backend/pkg/logger"
	"github.com/researchagent/backend/pkg/retry"
)

const batchSize = 100

type OpenAIEmbedder struct {
	client      *oai.Client
	model       string
	dim         int
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewOpenAIEmbedder(apiKey, model string, dim int) *OpenAIEmbedder {
	cb := circuitbreaker.NewCircuitBreaker("embeddings", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	return &OpenAIEmbedder{
		client: oai.NewClient(apiKey),
		model:  model,
		dim:    dim,
		cb:     cb,
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

func (e *OpenAIEmbedder) Dimension() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var out [][]float32

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		err := e.cb.Execute(ctx, func() error {
			return retry.Do(ctx, e.retryConfig, func() error {
				resp, err := e.client.CreateEmbeddings(ctx, oai.EmbeddingRequest{
					Input: batch,
					Model: oai.EmbeddingModel(e.model),
				})
				if err != nil {
					return fmt.Errorf("failed to generate embeddings: %w", err)
				}

				for _, data := range resp.Data {
					vec := make([]float32, len(data.Embedding))
					copy(vec, data.Embedding)
					out = append(out, vec)
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("embeddings generated", zap.Int("count", len(out)), zap.String("model", e.model))
	return out, nil
}
