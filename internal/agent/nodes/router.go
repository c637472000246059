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

type routerOutput struct {
	NextTool       string                 `json:"next_tool"`
	ToolArgs       map[string]interface{} `json:"tool_args"`
	Rationale      string                 `json:"rationale"`
	ShouldGenerate bool                   `json:"should_generate"`
}

// Router decides whether to call a tool or generate the final answer now.
// On LLM failure it forces should_generate=true: answering with whatever
// evidence exists beats stalling the turn.
func Router(ctx context.Context, state *agent.State, deps *Deps, sink *agent.Sink) error {
	if err := emitStatus(ctx, sink, agent.StepRouting, "deciding next action", nil); err != nil {
		return err
	}

	provider, err := deps.resolveProvider(state)
	if err != nil {
		return fallbackRouter(ctx, state, sink, "provider unavailable: "+err.Error())
	}

	remaining := state.Config.MaxIterations - state.Iteration
	pb := prompt.New(prompt.SystemRouter).
		WithConversation(toPromptMessages(state.ConversationHistory), state.Config.ConversationWindow).
		WithQuery("Question", state.CurrentQuery).
		WithNote(describeTools(deps.Tools.List())).
		WithNote(describeToolHistory(state.ToolHistory)).
		WithNote(fmt.Sprintf("Remaining iterations before forced generation: %d", remaining))
	system, user := pb.Build()

	var out routerOutput
	err = provider.CompleteStructured(ctx, llm.CompleteRequest{
		Messages:    toLLMMessages(system, user),
		Temperature: 0,
		Model:       modelFor(state),
	}, &out)
	if err != nil {
		logger.Warn("router completion failed", zap.Error(err))
		return fallbackRouter(ctx, state, sink, "router call failed: "+err.Error())
	}

	if !out.ShouldGenerate && out.NextTool == "" {
		return fallbackRouter(ctx, state, sink, "router returned neither a tool nor should_generate")
	}

	if !out.ShouldGenerate {
		if _, ok := deps.Tools.Get(out.NextTool); !ok {
			return fallbackRouter(ctx, state, sink, fmt.Sprintf("router selected unregistered tool %q", out.NextTool))
		}
	}

	if isRepeatCall(state.ToolHistory, out.NextTool, out.ToolArgs) {
		state.AddReasoningStep(fmt.Sprintf("router repeated tool call %q with identical arguments", out.NextTool))
	}

	state.RouterDecision = &agent.RouterDecision{
		NextTool:       out.NextTool,
		ToolArgs:       out.ToolArgs,
		Rationale:      out.Rationale,
		ShouldGenerate: out.ShouldGenerate,
	}

	return emitStatus(ctx, sink, agent.StepRouting, "action selected", map[string]interface{}{
		"next_tool":       out.NextTool,
		"should_generate": out.ShouldGenerate,
	})
}

func fallbackRouter(ctx context.Context, state *agent.State, sink *agent.Sink, reason string) error {
	state.AddReasoningStep("router fallback: " + reason)
	state.RouterDecision = &agent.RouterDecision{ShouldGenerate: true, Rationale: reason}
	return emitStatus(ctx, sink, agent.StepRouting, "routing unavailable, generating now", nil)
}

// isRepeatCall flags, without forbidding, a tool call identical in name
// and arguments to one already attempted, so pathological loops are
// visible in the reasoning steps ahead of the iteration safety cap.
func isRepeatCall(history []agent.ToolCall, tool string, args map[string]interface{}) bool {
	if tool == "" {
		return false
	}
	for _, h := range history {
		if h.ToolName != tool {
			continue
		}
		if sameArgs(h.Args, args) {
			return true
		}
	}
	return false
}

func sameArgs(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", v) != fmt.Sprintf("%v", bv) {
			return false
		}
	}
	return true
}
