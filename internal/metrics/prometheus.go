package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_agent_run_duration_seconds",
			Help:    "End-to-end agent run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"status"},
	)

	RunTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_run_total",
			Help: "Total number of agent runs processed",
		},
		[]string{"status"},
	)

	GuardrailScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_agent_guardrail_score",
			Help:    "Guardrail in-scope score per run",
			Buckets: []float64{0, 25, 50, 75, 90, 100},
		},
	)

	GuardrailRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_agent_guardrail_rejections_total",
			Help: "Total queries routed to out-of-scope",
		},
	)

	RouterIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_agent_router_iterations",
			Help:    "Router cycles consumed per run",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
		},
	)

	RetrievalAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_agent_retrieval_attempts",
			Help:    "Retrieval attempts consumed per run",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	HybridFusionSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_agent_hybrid_fusion_size",
			Help:    "Number of distinct chunks fused by RRF per search call",
			Buckets: []float64{0, 5, 10, 25, 50, 100, 200},
		},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_tool_calls_total",
			Help: "Total tool invocations",
		},
		[]string{"tool_name", "success"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_llm_tokens_used_total",
			Help: "Total LLM tokens used",
		},
		[]string{"provider", "model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ConversationTurnsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_agent_conversation_turns_persisted_total",
			Help: "Total conversation turns successfully persisted",
		},
	)

	PersistenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_agent_turn_persistence_failures_total",
			Help: "Total save_turn failures after a successful generation",
		},
	)
)

func Init() {
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(RunTotal)
	prometheus.MustRegister(GuardrailScore)
	prometheus.MustRegister(GuardrailRejections)
	prometheus.MustRegister(RouterIterations)
	prometheus.MustRegister(RetrievalAttempts)
	prometheus.MustRegister(HybridFusionSize)
	prometheus.MustRegister(ToolCalls)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ConversationTurnsPersisted)
	prometheus.MustRegister(PersistenceFailures)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
