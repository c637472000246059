package nodes

import (
	"context"

	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/prompt"
	"github.com/researchagent/backend/internal/llm"
	"github.com/researchagent/backend/pkg/logger"
)

type rewriterOutput struct {
	RewrittenQuery string `json:"rewritten_query"`
	Reason         string `json:"reason"`
}

// Rewriter reformulates the current query when the last retrieval came
// back with insufficient graded-relevant chunks. On LLM failure the query
// is left unchanged and the attempt is logged; the engine still routes
// back through the router rather than retrying blindly.
func Rewriter(ctx context.Context, state *agent.State, deps *Deps, sink *agent.Sink) error {
	if err := emitStatus(ctx, sink, agent.StepGrading, "reformulating query", nil); err != nil {
		return err
	}

	provider, err := deps.resolveProvider(state)
	if err != nil {
		state.AddReasoningStep("rewrite skipped: provider unavailable: " + err.Error())
		return nil
	}

	pb := prompt.New(prompt.SystemRewriter).
		WithConversation(toPromptMessages(state.ConversationHistory), state.Config.ConversationWindow).
		WithQuery("Current question", state.CurrentQuery).
		WithNote("Prior retrieval did not surface enough relevant passages.")
	system, user := pb.Build()

	var out rewriterOutput
	err = provider.CompleteStructured(ctx, llm.CompleteRequest{
		Messages:    toLLMMessages(system, user),
		Temperature: 0.3,
		Model:       modelFor(state),
	}, &out)
	if err != nil || out.RewrittenQuery == "" {
		if err != nil {
			logger.Warn("rewriter completion failed", zap.Error(err))
		}
		state.AddReasoningStep("rewrite skipped: no usable reformulation")
		return nil
	}

	state.CurrentQuery = out.RewrittenQuery
	state.AddReasoningStep("rewrote query: " + out.Reason)

	return nil
}
