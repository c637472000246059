package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/prompt"
	"github.com/researchagent/backend/internal/llm"
)

// ErrGenerationFailed marks a fatal, non-cancellation failure in the
// generator's streaming call. Unlike guardrail/router/grader failures it
// has no local fallback: the run fails outright.
var ErrGenerationFailed = errors.New("nodes: answer generation failed")

// Generator composes the answer prompt from conversation history, the top
// graded chunks, and the current query, then streams the completion token
// by token. The Sources event is always emitted before the first Content
// token.
func Generator(ctx context.Context, state *agent.State, deps *Deps, sink *agent.Sink) error {
	if err := emitStatus(ctx, sink, agent.StepGeneration, "composing answer", nil); err != nil {
		return err
	}

	provider, err := deps.resolveProvider(state)
	if err != nil {
		if emitErr := sink.Emit(ctx, agent.ErrorEvent(err.Error(), "provider_unavailable")); emitErr != nil {
			return emitErr
		}
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	topK := state.Config.TopK
	evidence := state.RelevantChunks
	if len(evidence) > topK {
		evidence = evidence[:topK]
	}

	chunkRefs := make([]prompt.ChunkRef, 0, len(evidence))
	for _, c := range evidence {
		chunkRefs = append(chunkRefs, prompt.ChunkRef{ArxivID: c.ArxivID, Title: c.Title, Text: c.ChunkText})
	}

	pb := prompt.New(prompt.SystemAnswer).
		WithConversation(toPromptMessages(state.ConversationHistory), state.Config.ConversationWindow).
		WithRetrievedContext(chunkRefs).
		WithQuery("Question", state.CurrentQuery)

	if state.RetrievalAttempts == state.Config.MaxRetrievalAttempts && len(state.RelevantChunks) < topK {
		pb = pb.WithNote("Note: limited sources found after exhausting retrieval attempts. Answer as best you can and say so plainly.")
	}

	system, user := pb.Build()

	sources := buildSources(evidence, deps.Papers)
	if err := sink.Emit(ctx, agent.SourcesEvent(sources)); err != nil {
		return err
	}

	var answer strings.Builder
	streamErr := provider.Stream(ctx, llm.CompleteRequest{
		Messages:    toLLMMessages(system, user),
		Temperature: state.Config.Temperature,
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
	state.Sources = sources

	return nil
}
