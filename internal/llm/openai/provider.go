package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	oai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/llm"
	"github.com/researchagent/backend/internal/metrics"
	"github.com/researchagent/backend/pkg/circuitbreaker"
	"github.com/researchagent/backend/pkg/logger"
	"github.com/researchagent/backend/pkg/retry"
)

type Provider struct {
	client      *oai.Client
	model       string
	temperature float32
	maxTokens   int
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	label       string
}

func New(apiKey, model string, temperature float32, maxTokens int) *Provider {
	return newWithClientConfig(oai.DefaultConfig(apiKey), model, temperature, maxTokens, "openai")
}

// NewWithBaseURL builds an OpenAI-API-compatible provider against a custom
// base URL, labelled "openai" for metrics and logging. The zai adapter uses
// NewWithBaseURLLabeled instead.
func NewWithBaseURL(apiKey, baseURL, model string, temperature float32, maxTokens int) *Provider {
	return NewWithBaseURLLabeled(apiKey, baseURL, model, "openai", temperature, maxTokens)
}

// NewWithBaseURLLabeled is NewWithBaseURL with an explicit provider label for
// metrics and logging, used by adapters built on this client whose identity
// differs from the underlying wire protocol.
func NewWithBaseURLLabeled(apiKey, baseURL, model, label string, temperature float32, maxTokens int) *Provider {
	cfg := oai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return newWithClientConfig(cfg, model, temperature, maxTokens, label)
}

func newWithClientConfig(cfg oai.ClientConfig, model string, temperature float32, maxTokens int, label string) *Provider {
	cb := circuitbreaker.NewCircuitBreaker("llm-"+model, circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	return &Provider{
		client:      oai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		cb:          cb,
		retryConfig: retryConfig,
		label:       label,
	}
}

func (p *Provider) Name() string { return p.label }

func (p *Provider) Complete(ctx context.Context, req llm.CompleteRequest) (*llm.CompleteResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	model, temperature, maxTokens := p.resolve(req)
	messages := toOpenAIMessages(req.Messages)

	var result *llm.CompleteResponse

	err := p.cb.Execute(ctx, func() error {
		return retry.Do(ctx, p.retryConfig, func() error {
			resp, err := p.client.CreateChatCompletion(ctx, oai.ChatCompletionRequest{
				Model:       model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return fmt.Errorf("openai completion failed: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("openai completion returned no choices")
			}

			logger.Debug("llm completion generated",
				zap.String("provider", "openai"),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			metrics.LLMTokensUsed.WithLabelValues(p.label, model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(p.label, model, "completion").Add(float64(resp.Usage.CompletionTokens))

			result = &llm.CompleteResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: llm.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (p *Provider) CompleteStructured(ctx context.Context, req llm.CompleteRequest, target interface{}) error {
	return llm.StructuredViaComplete(ctx, p.Complete, req, target)
}

func (p *Provider) Stream(ctx context.Context, req llm.CompleteRequest, onToken func(string) error) error {
	model, temperature, maxTokens := p.resolve(req)
	messages := toOpenAIMessages(req.Messages)

	return p.cb.Execute(ctx, func() error {
		stream, err := p.client.CreateChatCompletionStream(ctx, oai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
			Stream:      true,
		})
		if err != nil {
			return fmt.Errorf("openai stream failed: %w", err)
		}
		defer stream.Close()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("openai stream recv failed: %w", err)
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			token := chunk.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			if err := onToken(token); err != nil {
				return err
			}
		}
	})
}

func (p *Provider) resolve(req llm.CompleteRequest) (model string, temperature float32, maxTokens int) {
	model = p.model
	if req.Model != "" {
		model = req.Model
	}
	temperature = p.temperature
	if req.Temperature != 0 {
		temperature = req.Temperature
	}
	maxTokens = p.maxTokens
	if req.MaxTokens != 0 {
		maxTokens = req.MaxTokens
	}
	return
}

func toOpenAIMessages(messages []llm.Message) []oai.ChatCompletionMessage {
	out := make([]oai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, oai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
