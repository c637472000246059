package nodes

import (
	"context"

	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/prompt"
	"github.com/researchagent/backend/internal/llm"
	"github.com/researchagent/backend/pkg/logger"
)

type guardrailOutput struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// Guardrail scores whether the query falls within the supported domain.
// On LLM failure it falls back to in_scope=true, score=0 rather than
// blocking the turn: a guardrail outage should never itself make the
// agent unhelpful.
func Guardrail(ctx context.Context, state *agent.State, deps *Deps, sink *agent.Sink) error {
	if err := emitStatus(ctx, sink, agent.StepGuardrail, "checking question is in scope", nil); err != nil {
		return err
	}

	provider, err := deps.resolveProvider(state)
	if err != nil {
		return fallbackGuardrail(ctx, state, sink, "provider unavailable: "+err.Error())
	}

	pb := prompt.New(prompt.SystemGuardrail).
		WithConversation(toPromptMessages(state.ConversationHistory), state.Config.ConversationWindow).
		WithQuery("Question", state.CurrentQuery)
	system, user := pb.Build()

	var out guardrailOutput
	err = provider.CompleteStructured(ctx, llm.CompleteRequest{
		Messages:    toLLMMessages(system, user),
		Temperature: 0,
		Model:       modelFor(state),
	}, &out)
	if err != nil {
		logger.Warn("guardrail completion failed", zap.Error(err))
		return fallbackGuardrail(ctx, state, sink, "guardrail call failed: "+err.Error())
	}

	inScope := out.Score >= state.Config.GuardrailThreshold
	state.GuardrailResult = &agent.GuardrailResult{
		Score:     out.Score,
		Reasoning: out.Reasoning,
		InScope:   inScope,
	}

	return emitStatus(ctx, sink, agent.StepGuardrail, "scope check complete", map[string]interface{}{
		"score":    out.Score,
		"in_scope": inScope,
	})
}

func fallbackGuardrail(ctx context.Context, state *agent.State, sink *agent.Sink, reason string) error {
	state.AddReasoningStep("guardrail fallback: " + reason)
	state.GuardrailResult = &agent.GuardrailResult{Score: 0, Reasoning: reason, InScope: true}
	return emitStatus(ctx, sink, agent.StepGuardrail, "scope check unavailable, defaulting in-scope", map[string]interface{}{
		"score":    0,
		"in_scope": true,
	})
}
