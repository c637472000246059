// Package engine drives the agent's bounded cyclic state machine. States
// are represented as a small enum and transitions as an explicit table of
// guards, so the iteration and retrieval caps stay inspectable in tests
// rather than buried in mutually recursive calls.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/nodes"
	"github.com/researchagent/backend/pkg/logger"
)

// ErrCancelled marks a run that terminated because the consumer cancelled
// the context. It propagates silently: no Error event, no persisted turn.
var ErrCancelled = errors.New("engine: run cancelled")

type step string

const (
	stepStart      step = "start"
	stepGuardrail  step = "guardrail"
	stepRouter     step = "router"
	stepExecutor   step = "executor"
	stepGrader     step = "grader"
	stepRewriter   step = "rewriter"
	stepGenerator  step = "generator"
	stepOutOfScope step = "out_of_scope"
	stepEnd        step = "end"
)

// nodeFunc is the uniform shape every graph node in internal/agent/nodes
// satisfies.
type nodeFunc func(ctx context.Context, state *agent.State, deps *nodes.Deps, sink *agent.Sink) error

var nodeTable = map[step]nodeFunc{
	stepGuardrail:  nodes.Guardrail,
	stepRouter:     nodes.Router,
	stepExecutor:   nodes.Executor,
	stepGrader:     nodes.Grader,
	stepRewriter:   nodes.Rewriter,
	stepGenerator:  nodes.Generator,
	stepOutOfScope: nodes.OutOfScope,
}

// Run executes the state machine to completion, mutating state in place
// and emitting events on sink as it goes. It returns ErrCancelled if ctx
// was cancelled mid-run, nodes.ErrGenerationFailed (or a wrapped form of
// it) if the generator/out-of-scope node failed fatally, and nil on a
// normal terminal state (GENERATOR or OUT_OF_SCOPE completing).
func Run(ctx context.Context, state *agent.State, deps *nodes.Deps, sink *agent.Sink) error {
	current := stepStart

	for current != stepEnd {
		next, err := step_(ctx, current, state, deps, sink)
		if err != nil {
			if ctx.Err() != nil {
				state.Status = agent.StatusFailed
				state.FailureReason = "cancelled"
				return ErrCancelled
			}
			state.Status = agent.StatusFailed
			state.FailureReason = err.Error()
			return err
		}
		current = next
	}

	state.Status = agent.StatusCompleted
	return nil
}

// step_ runs one node (where `current` names one) and computes the next
// state from the transition table. START has no node; it transitions
// straight to GUARDRAIL.
func step_(ctx context.Context, current step, state *agent.State, deps *nodes.Deps, sink *agent.Sink) (step, error) {
	switch current {
	case stepStart:
		return stepGuardrail, nil

	case stepGuardrail:
		if err := nodeTable[stepGuardrail](ctx, state, deps, sink); err != nil {
			return "", err
		}
		if state.GuardrailResult != nil && state.GuardrailResult.InScope {
			return stepRouter, nil
		}
		return stepOutOfScope, nil

	case stepOutOfScope:
		if err := nodeTable[stepOutOfScope](ctx, state, deps, sink); err != nil {
			return "", err
		}
		return stepEnd, nil

	case stepRouter:
		if err := nodeTable[stepRouter](ctx, state, deps, sink); err != nil {
			return "", err
		}
		if state.RouterDecision != nil && (state.RouterDecision.ShouldGenerate || state.Iteration >= state.Config.MaxIterations) {
			return stepGenerator, nil
		}
		state.Iteration++
		return stepExecutor, nil

	case stepExecutor:
		before := state.RetrievalAttempts
		if err := nodeTable[stepExecutor](ctx, state, deps, sink); err != nil {
			return "", err
		}
		retrievedNow := len(state.ToolHistory) > 0 &&
			state.ToolHistory[len(state.ToolHistory)-1].ToolName == "retrieve_chunks" &&
			state.ToolHistory[len(state.ToolHistory)-1].Success &&
			state.RetrievalAttempts > before
		if retrievedNow {
			return stepGrader, nil
		}
		return stepRouter, nil

	case stepGrader:
		if err := nodeTable[stepGrader](ctx, state, deps, sink); err != nil {
			return "", err
		}
		relevant := countGradedRelevant(state.RelevantChunks)
		insufficient := relevant < state.Config.TopK
		budgetRemains := state.RetrievalAttempts < state.Config.MaxRetrievalAttempts
		if insufficient && budgetRemains {
			return stepRewriter, nil
		}
		return stepRouter, nil

	case stepRewriter:
		if err := nodeTable[stepRewriter](ctx, state, deps, sink); err != nil {
			return "", err
		}
		return stepRouter, nil

	case stepGenerator:
		if err := nodeTable[stepGenerator](ctx, state, deps, sink); err != nil {
			return "", err
		}
		return stepEnd, nil
	}

	return stepEnd, nil
}

func countGradedRelevant(chunks []agent.RelevantChunk) int {
	count := 0
	for _, c := range chunks {
		if c.WasGradedRelevant != nil && *c.WasGradedRelevant {
			count++
		}
	}
	return count
}

// RunTimed wraps Run with end-to-end latency measurement and outcome
// logging.
func RunTimed(ctx context.Context, state *agent.State, deps *nodes.Deps, sink *agent.Sink) (time.Duration, error) {
	started := time.Now()
	err := Run(ctx, state, deps, sink)
	elapsed := time.Since(started)

	if err != nil && !errors.Is(err, ErrCancelled) {
		logger.Warn("agent run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	} else {
		logger.Debug("agent run complete", zap.Duration("elapsed", elapsed), zap.String("status", string(state.Status)))
	}

	return elapsed, err
}
