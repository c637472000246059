// Package service implements per-request orchestration of an agent run.
// It loads history, constructs the initial state, runs the engine, and on
// completion persists the turn and finalizes the event stream.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/engine"
	"github.com/researchagent/backend/internal/agent/nodes"
	"github.com/researchagent/backend/internal/metrics"
	"github.com/researchagent/backend/internal/storage/models"
	"github.com/researchagent/backend/internal/storage/sqlite"
	"github.com/researchagent/backend/pkg/logger"
)

// ErrEmptyQuery and the other Err* values are validation failures the
// transport maps to HTTP 400.
var (
	ErrEmptyQuery           = errors.New("service: query must not be empty")
	ErrInvalidTopK          = errors.New("service: top_k must be between 1 and 10")
	ErrInvalidThreshold     = errors.New("service: guardrail_threshold must be between 0 and 100")
	ErrInvalidRetryBudget   = errors.New("service: max_retrieval_attempts must be between 1 and 5")
	ErrInvalidWindow        = errors.New("service: conversation_window must be between 1 and 10")
	ErrInvalidTemperature   = errors.New("service: temperature must be between 0 and 2")
	ErrInvalidMaxIterations = errors.New("service: max_iterations must be at least 1")
)

// Request is the per-call configuration overlay on top of the service's
// defaults, mirroring the POST /stream body.
type Request struct {
	Query                 string
	SessionID             string
	Provider              string
	Model                 string
	TopK                  *int
	GuardrailThreshold    *int
	MaxRetrievalAttempts  *int
	Temperature           *float32
	ConversationWindow    *int
}

// Service bundles the collaborators an Ask call needs: the graph-node
// dependencies, the conversation store, and default request configuration.
type Service struct {
	deps          *nodes.Deps
	store         *sqlite.Client
	defaultConfig agent.Config
	sinkBuffer    int
}

func New(deps *nodes.Deps, store *sqlite.Client, defaultConfig agent.Config) *Service {
	return &Service{deps: deps, store: store, defaultConfig: defaultConfig, sinkBuffer: 64}
}

// Ask validates the request, loads conversation history, and launches the
// engine run in a goroutine, returning immediately with the event sink the
// caller streams from. The goroutine owns sink.Close().
func (s *Service) Ask(ctx context.Context, req Request) (*agent.Sink, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	cfg, err := s.resolveConfig(req)
	if err != nil {
		return nil, err
	}

	history, err := s.loadHistory(req.SessionID, cfg.ConversationWindow)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load history: %w", err)
	}

	state := agent.NewState(query, history, req.SessionID, cfg)
	sink := agent.NewSink(s.sinkBuffer)

	go s.run(ctx, state, sink)

	return sink, nil
}

func (s *Service) run(ctx context.Context, state *agent.State, sink *agent.Sink) {
	defer sink.Close()

	elapsed, err := engine.RunTimed(ctx, state, s.deps, sink)

	metrics.RouterIterations.Observe(float64(state.Iteration))
	metrics.RetrievalAttempts.Observe(float64(state.RetrievalAttempts))
	if state.GuardrailResult != nil {
		metrics.GuardrailScore.Observe(float64(state.GuardrailResult.Score))
		if !state.GuardrailResult.InScope {
			metrics.GuardrailRejections.Inc()
		}
	}

	if errors.Is(err, engine.ErrCancelled) {
		metrics.RunTotal.WithLabelValues("cancelled").Inc()
		metrics.RunDuration.WithLabelValues("cancelled").Observe(elapsed.Seconds())
		logger.Debug("agent run cancelled", zap.String("session_id", state.SessionID))
		return
	}

	if err != nil {
		metrics.RunTotal.WithLabelValues("failed").Inc()
		metrics.RunDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
		// Generator/out-of-scope fatal failure: the node already emitted
		// Error before returning. No turn is persisted.
		_ = sink.Emit(ctx, agent.DoneEvent())
		return
	}

	metrics.RunTotal.WithLabelValues("completed").Inc()
	metrics.RunDuration.WithLabelValues("completed").Observe(elapsed.Seconds())

	turnNumber := 0
	var persistErr error

	if state.SessionID != "" {
		ct, saveErr := s.store.SaveTurn(state.SessionID, toTurnData(state))
		if saveErr != nil {
			persistErr = saveErr
			turnNumber = -1
			metrics.PersistenceFailures.Inc()
			logger.Warn("turn persistence failed", zap.String("session_id", state.SessionID), zap.Error(saveErr))
		} else {
			turnNumber = ct.TurnNumber
			metrics.ConversationTurnsPersisted.Inc()
		}
	}

	meta := buildMetadata(state, turnNumber, elapsed.Milliseconds())
	if persistErr != nil {
		meta.Error = fmt.Sprintf("turn not saved: %v", persistErr)
	}

	if err := sink.Emit(ctx, agent.MetadataEvent(meta)); err != nil {
		return
	}
	_ = sink.Emit(ctx, agent.DoneEvent())
}

func (s *Service) resolveConfig(req Request) (agent.Config, error) {
	cfg := s.defaultConfig

	if req.Provider != "" {
		cfg.Provider = req.Provider
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			return cfg, ErrInvalidTemperature
		}
		cfg.Temperature = *req.Temperature
	}
	if req.TopK != nil {
		if *req.TopK < 1 || *req.TopK > 10 {
			return cfg, ErrInvalidTopK
		}
		cfg.TopK = *req.TopK
	}
	if req.GuardrailThreshold != nil {
		if *req.GuardrailThreshold < 0 || *req.GuardrailThreshold > 100 {
			return cfg, ErrInvalidThreshold
		}
		cfg.GuardrailThreshold = *req.GuardrailThreshold
	}
	if req.MaxRetrievalAttempts != nil {
		if *req.MaxRetrievalAttempts < 1 || *req.MaxRetrievalAttempts > 5 {
			return cfg, ErrInvalidRetryBudget
		}
		cfg.MaxRetrievalAttempts = *req.MaxRetrievalAttempts
	}
	if req.ConversationWindow != nil {
		if *req.ConversationWindow < 1 || *req.ConversationWindow > 10 {
			return cfg, ErrInvalidWindow
		}
		cfg.ConversationWindow = *req.ConversationWindow
	}
	if cfg.MaxIterations < 1 {
		return cfg, ErrInvalidMaxIterations
	}

	return cfg, nil
}

// loadHistory flattens the last `window` turns of a session into
// alternating user/assistant messages in chronological order.
func (s *Service) loadHistory(sessionID string, window int) ([]agent.Message, error) {
	if sessionID == "" {
		return nil, nil
	}

	turns, err := s.store.GetHistory(sessionID, window)
	if err != nil {
		return nil, err
	}

	history := make([]agent.Message, 0, len(turns)*2)
	for _, t := range turns {
		history = append(history,
			agent.Message{Role: "user", Content: t.UserQuery},
			agent.Message{Role: "assistant", Content: t.AgentResponse},
		)
	}
	return history, nil
}

func toTurnData(state *agent.State) sqlite.TurnData {
	var guardrailScore *int
	if state.GuardrailResult != nil {
		score := state.GuardrailResult.Score
		guardrailScore = &score
	}

	rewrittenQuery := ""
	if state.CurrentQuery != state.OriginalQuery {
		rewrittenQuery = state.CurrentQuery
	}

	return sqlite.TurnData{
		UserQuery:         state.OriginalQuery,
		AgentResponse:     state.FinalAnswer,
		Provider:          state.Config.Provider,
		Model:             state.Config.Model,
		GuardrailScore:    guardrailScore,
		RetrievalAttempts: state.RetrievalAttempts,
		RewrittenQuery:    rewrittenQuery,
		Sources:           toModelSources(state.Sources),
		ReasoningSteps:    state.ReasoningSteps,
	}
}

func toModelSources(sources []agent.Source) []models.Source {
	out := make([]models.Source, 0, len(sources))
	for _, s := range sources {
		out = append(out, models.Source{
			ArxivID:           s.ArxivID,
			Title:             s.Title,
			Authors:           s.Authors,
			PDFURL:            s.PDFURL,
			RelevanceScore:    s.RelevanceScore,
			PublishedDate:     s.PublishedDate,
			WasGradedRelevant: s.WasGradedRelevant,
		})
	}
	return out
}

func buildMetadata(state *agent.State, turnNumber int, elapsedMS int64) agent.Metadata {
	meta := agent.Metadata{
		TurnNumber:        turnNumber,
		ExecutionTimeMS:   elapsedMS,
		RetrievalAttempts: state.RetrievalAttempts,
		Provider:          state.Config.Provider,
		Model:             state.Config.Model,
		ReasoningSteps:    state.ReasoningSteps,
	}
	if state.SessionID != "" {
		meta.SessionID = state.SessionID
	}
	if state.CurrentQuery != state.OriginalQuery {
		meta.RewrittenQuery = state.CurrentQuery
	}
	if state.GuardrailResult != nil {
		score := state.GuardrailResult.Score
		meta.GuardrailScore = &score
	}
	return meta
}
