// Package nodes implements the graph nodes of the agent's state machine:
// guardrail, router, executor, grader, rewriter, generator, and
// out-of-scope. Each node is a pure-ish transformation over *agent.State
// that additionally emits events on the way in and out.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/prompt"
	"github.com/researchagent/backend/internal/agent/tools"
	"github.com/researchagent/backend/internal/llm"
	"github.com/researchagent/backend/internal/storage/models"
)

// PaperLookup resolves the paper metadata a Source needs beyond what a
// RelevantChunk carries (authors, pdf url, published date). Satisfied by
// *sqlite.Client.
type PaperLookup interface {
	GetPaperByArxivID(arxivID string) (*models.Paper, error)
}

// Deps bundles the node's external collaborators: the LLM provider
// registry, the tool registry, and paper metadata lookup. Constructed once
// at startup and shared read-only across concurrent requests.
type Deps struct {
	Providers *llm.Registry
	Tools     *tools.Registry
	Papers    PaperLookup
}

func (d *Deps) resolveProvider(state *agent.State) (llm.Provider, error) {
	return d.Providers.Resolve(state.Config.Provider)
}

func modelFor(state *agent.State) string {
	return state.Config.Model
}

func toPromptMessages(history []agent.Message) []prompt.Message {
	out := make([]prompt.Message, 0, len(history))
	for _, m := range history {
		out = append(out, prompt.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func toLLMMessages(system, user string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}

// validateArgs checks a tool's required parameters are present in args. It
// is intentionally shallow (presence only, not deep type checking) —
// enough to satisfy "tool_args must validate against that tool's schema"
// without reimplementing a JSON-schema validator.
func validateArgs(spec tools.Spec, args map[string]interface{}) error {
	required, _ := spec.ParameterSchema["required"].([]string)
	for _, field := range required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required argument %q for tool %q", field, spec.Name)
		}
	}
	return nil
}

func describeTool(spec tools.Spec) string {
	schema, _ := json.Marshal(spec.ParameterSchema)
	return fmt.Sprintf("- %s: %s\n  parameters: %s", spec.Name, spec.Description, string(schema))
}

func describeTools(specs []tools.Spec) string {
	if len(specs) == 0 {
		return "No tools are registered."
	}
	out := "Available tools:\n"
	for _, s := range specs {
		out += describeTool(s) + "\n"
	}
	return out
}

func describeToolHistory(history []agent.ToolCall) string {
	if len(history) == 0 {
		return "No tools have been called yet."
	}
	out := "Tool call history:\n"
	for i, h := range history {
		status := "succeeded"
		if !h.Success {
			status = "failed"
		}
		out += fmt.Sprintf("%d. %s(%v) -> %s: %s\n", i+1, h.ToolName, h.Args, status, h.Summary)
	}
	return out
}

// emitStatus is a thin convenience wrapper so every node emits the same
// shape of Status event without repeating the ctx/sink plumbing.
func emitStatus(ctx context.Context, sink *agent.Sink, step agent.Step, message string, details map[string]interface{}) error {
	return sink.Emit(ctx, agent.StatusEvent(step, message, details))
}
