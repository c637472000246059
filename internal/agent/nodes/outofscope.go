package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/prompt"
	"github.com/researchagent/backend/internal/llm"
)

// OutOfScope streams a redirect reply for queries the guardrail rejected.
// No retrieval, grading, or sources: just a warmer, higher-temperature
// completion explaining the assistant's scope.
func OutOfScope(ctx context.Context, state *agent.State, deps *Deps, sink *agent.Sink) error {
	if err := emitStatus(ctx, sink, agent.StepOutOfScope, "composing out-of-scope reply", nil); err != nil {
		return err
	}

	provider, err := deps.resolveProvider(state)
	if err != nil {
		if emitErr := sink.Emit(ctx, agent.ErrorEvent(err.Error(), "provider_unavailable")); emitErr != nil {
			return emitErr
		}
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	pb := prompt.New(prompt.SystemOutOfScope).
		WithConversation(toPromptMessages(state.ConversationHistory), state.Config.ConversationWindow).
		WithQuery("Question", state.OriginalQuery)
	if state.GuardrailResult != nil {
		pb = pb.WithNote("Guardrail reasoning: " + state.GuardrailResult.Reasoning)
	}
	system, user := pb.Build()

	var answer strings.Builder
	streamErr := provider.Stream(ctx, llm.CompleteRequest{
		Messages:    toLLMMessages(system, user),
		Temperature: state.Config.OutOfScopeTemperature,
		Model:       modelFor(state),
	}, func(token string) error {
		answer.WriteString(token)
		return sink.Emit(ctx, agent.ContentEvent(token))
	})
	if streamErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if emitErr := sink.Emit(ctx, agent.ErrorEvent(streamErr.Error(), "generation_failed")); emitErr != nil {
			return emitErr
		}
		return fmt.Errorf("%w: %v", ErrGenerationFailed, streamErr)
	}

	state.FinalAnswer = answer.String()
	state.Sources = nil

	return nil
}
