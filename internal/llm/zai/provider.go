// Package zai adapts Z.AI's OpenAI-API-compatible chat endpoint using the
// same go-openai client as the openai provider, pointed at a different base
// URL and default model.
package zai

import (
	"context"

	"github.com/researchagent/backend/internal/llm"
	"github.com/researchagent/backend/internal/llm/openai"
)

type Provider struct {
	inner *openai.Provider
}

func New(apiKey, baseURL, model string, temperature float32, maxTokens int) *Provider {
	return &Provider{inner: openai.NewWithBaseURLLabeled(apiKey, baseURL, model, "zai", temperature, maxTokens)}
}

func (p *Provider) Name() string { return "zai" }

func (p *Provider) Complete(ctx context.Context, req llm.CompleteRequest) (*llm.CompleteResponse, error) {
	return p.inner.Complete(ctx, req)
}

func (p *Provider) CompleteStructured(ctx context.Context, req llm.CompleteRequest, target interface{}) error {
	return llm.StructuredViaComplete(ctx, p.inner.Complete, req, target)
}

func (p *Provider) Stream(ctx context.Context, req llm.CompleteRequest, onToken func(string) error) error {
	return p.inner.Stream(ctx, req, onToken)
}
