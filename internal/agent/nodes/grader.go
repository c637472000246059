package nodes

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/prompt"
	"github.com/researchagent/backend/internal/llm"
	"github.com/researchagent/backend/pkg/logger"
)

type graderChunkResult struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

type graderOutput struct {
	Results []graderChunkResult `json:"results"`
}

// Grader labels each currently-retrieved chunk relevant or not to the
// current query, in one batched structured call. On LLM failure or a
// malformed/short response it accepts all chunks, since a grading outage
// should not starve the generator of evidence it already has.
func Grader(ctx context.Context, state *agent.State, deps *Deps, sink *agent.Sink) error {
	if err := emitStatus(ctx, sink, agent.StepGrading, "grading retrieved passages", nil); err != nil {
		return err
	}

	if len(state.RelevantChunks) == 0 {
		return emitStatus(ctx, sink, agent.StepGrading, "no chunks to grade", nil)
	}

	provider, err := deps.resolveProvider(state)
	if err != nil {
		return fallbackGrader(ctx, state, sink, "provider unavailable: "+err.Error())
	}

	chunkRefs := make([]prompt.ChunkRef, 0, len(state.RelevantChunks))
	for _, c := range state.RelevantChunks {
		chunkRefs = append(chunkRefs, prompt.ChunkRef{ArxivID: c.ArxivID, Title: c.Title, Text: c.ChunkText})
	}

	pb := prompt.New(prompt.SystemGrader).
		WithRetrievedContext(chunkRefs).
		WithQuery("Question", state.CurrentQuery).
		WithNote(fmt.Sprintf("Return exactly %d results in the same order as the passages above.", len(chunkRefs)))
	system, user := pb.Build()

	var out graderOutput
	err = provider.CompleteStructured(ctx, llm.CompleteRequest{
		Messages:    toLLMMessages(system, user),
		Temperature: 0,
		Model:       modelFor(state),
	}, &out)
	if err != nil || len(out.Results) != len(state.RelevantChunks) {
		if err != nil {
			logger.Warn("grader completion failed", zap.Error(err))
		}
		return fallbackGrader(ctx, state, sink, "grading unavailable or malformed response")
	}

	relevantCount := 0
	for i := range state.RelevantChunks {
		relevant := out.Results[i].Relevant
		state.RelevantChunks[i].WasGradedRelevant = &relevant
		if relevant {
			relevantCount++
		}
	}

	return emitStatus(ctx, sink, agent.StepGrading, "grading complete", map[string]interface{}{
		"graded":          len(state.RelevantChunks),
		"relevant":        relevantCount,
	})
}

func fallbackGrader(ctx context.Context, state *agent.State, sink *agent.Sink, reason string) error {
	state.AddReasoningStep("grader fallback: " + reason)
	trueVal := true
	for i := range state.RelevantChunks {
		state.RelevantChunks[i].WasGradedRelevant = &trueVal
	}
	return emitStatus(ctx, sink, agent.StepGrading, "grading unavailable, accepting all chunks", nil)
}
