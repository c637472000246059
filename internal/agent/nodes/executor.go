package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/tools"
	"github.com/researchagent/backend/internal/metrics"
	"github.com/researchagent/backend/internal/search"
)

// Executor validates the router's chosen tool and arguments, invokes it,
// and records the outcome in tool history. A retrieve_chunks success
// merges results into the state's relevant chunks and advances the
// retrieval-attempt counter; only a completed retrieval counts as an
// attempt, so failed or invalid calls leave the budget untouched.
func Executor(ctx context.Context, state *agent.State, deps *Deps, sink *agent.Sink) error {
	decision := state.RouterDecision
	toolName := decision.NextTool
	args := decision.ToolArgs
	if args == nil {
		args = map[string]interface{}{}
	}

	if err := emitStatus(ctx, sink, agent.StepExecuting, "running tool "+toolName, map[string]interface{}{"tool_name": toolName}); err != nil {
		return err
	}

	started := time.Now()
	call := agent.ToolCall{ToolName: toolName, Args: args, StartedAt: started}

	spec, ok := deps.Tools.Get(toolName)
	if !ok {
		call.Success = false
		call.Summary = fmt.Sprintf("tool %q is not registered", toolName)
		call.EndedAt = time.Now()
		state.ToolHistory = append(state.ToolHistory, call)
		return emitStatus(ctx, sink, agent.StepExecuting, "tool execution failed", map[string]interface{}{"tool_name": toolName, "success": false})
	}

	if err := validateArgs(spec, args); err != nil {
		call.Success = false
		call.Summary = err.Error()
		call.EndedAt = time.Now()
		state.ToolHistory = append(state.ToolHistory, call)
		return emitStatus(ctx, sink, agent.StepExecuting, "tool execution failed", map[string]interface{}{"tool_name": toolName, "success": false})
	}

	result := deps.Tools.Execute(ctx, toolName, args)
	call.EndedAt = time.Now()
	call.Success = result.Success

	metrics.ToolCalls.WithLabelValues(toolName, fmt.Sprintf("%t", result.Success)).Inc()

	if result.Success {
		call.Summary = summarizeResult(toolName, result)
		if toolName == tools.RetrieveChunks {
			if chunks, ok := result.Data.([]search.ResultChunk); ok {
				state.RetrievalAttempts++
				state.MergeChunks(toAgentChunks(chunks))
			}
		}
	} else {
		call.Summary = result.Error
		state.AddReasoningStep(fmt.Sprintf("tool %q failed: %s", toolName, result.Error))
	}

	state.ToolHistory = append(state.ToolHistory, call)

	return emitStatus(ctx, sink, agent.StepExecuting, "tool execution complete", map[string]interface{}{
		"tool_name": toolName,
		"success":   result.Success,
	})
}

func summarizeResult(toolName string, result tools.Result) string {
	if chunks, ok := result.Data.([]search.ResultChunk); ok {
		return fmt.Sprintf("retrieved %d chunks", len(chunks))
	}
	return fmt.Sprintf("%s succeeded", toolName)
}

func toAgentChunks(chunks []search.ResultChunk) []agent.RelevantChunk {
	out := make([]agent.RelevantChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, agent.RelevantChunk{
			ArxivID:     c.ArxivID,
			ChunkIndex:  c.ChunkIndex,
			ChunkID:     c.ChunkID,
			Title:       c.Title,
			ChunkText:   c.ChunkText,
			SectionName: c.SectionName,
			PageNumber:  c.PageNumber,
			Score:       c.Score,
		})
	}
	return out
}
