package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrSchemaParse = errors.New("llm: structured response did not parse against schema")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type CompleteRequest struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
	Model       string
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type CompleteResponse struct {
	Content string
	Usage   Usage
}

// Provider is the uniform contract every LLM backend satisfies. Tag-based
// dispatch (openai, zai, ...) happens through the registry, not through
// type assertions on this interface.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error)
	CompleteStructured(ctx context.Context, req CompleteRequest, target interface{}) error
	Stream(ctx context.Context, req CompleteRequest, onToken func(string) error) error
}

// StructuredViaComplete implements CompleteStructured in terms of a plain
// Complete call, for providers without native constrained decoding. It
// prepends a JSON-only system instruction, parses the response, and retries once on
// parse failure before giving up.
func StructuredViaComplete(ctx context.Context, complete func(context.Context, CompleteRequest) (*CompleteResponse, error), req CompleteRequest, target interface{}) error {
	req = withJSONInstruction(req)

	resp, err := complete(ctx, req)
	if err != nil {
		return err
	}

	if err := parseJSON(resp.Content, target); err == nil {
		return nil
	}

	retryReq := req
	retryReq.Messages = append(append([]Message{}, req.Messages...), Message{
		Role:    RoleUser,
		Content: "Your previous reply was not valid JSON matching the requested shape. Reply with JSON only, no prose, no code fences.",
	})

	resp, err = complete(ctx, retryReq)
	if err != nil {
		return err
	}

	if err := parseJSON(resp.Content, target); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaParse, err)
	}

	return nil
}

func withJSONInstruction(req CompleteRequest) CompleteRequest {
	instruction := Message{
		Role:    RoleSystem,
		Content: "Respond with a single minified JSON object and nothing else. No markdown, no code fences, no commentary.",
	}
	req.Messages = append([]Message{instruction}, req.Messages...)
	return req
}

func parseJSON(content string, target interface{}) error {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if start := strings.IndexByte(cleaned, '{'); start > 0 {
		cleaned = cleaned[start:]
	}
	if end := strings.LastIndexByte(cleaned, '}'); end >= 0 && end < len(cleaned)-1 {
		cleaned = cleaned[:end+1]
	}

	return json.Unmarshal([]byte(cleaned), target)
}
