package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/researchagent/backend/internal/agent"
	"github.com/researchagent/backend/internal/agent/nodes"
	"github.com/researchagent/backend/internal/agent/service"
	"github.com/researchagent/backend/internal/agent/tools"
	"github.com/researchagent/backend/internal/api/handlers"
	"github.com/researchagent/backend/internal/cache/redis"
	"github.com/researchagent/backend/internal/embeddings"
	"github.com/researchagent/backend/internal/llm"
	"github.com/researchagent/backend/internal/llm/openai"
	"github.com/researchagent/backend/internal/llm/zai"
	"github.com/researchagent/backend/internal/metrics"
	"github.com/researchagent/backend/internal/middleware/ratelimit"
	"github.com/researchagent/backend/internal/middleware/security"
	"github.com/researchagent/backend/internal/middleware/validation"
	"github.com/researchagent/backend/internal/search"
	"github.com/researchagent/backend/internal/search/vector"
	"github.com/researchagent/backend/internal/search/web"
	"github.com/researchagent/backend/internal/storage/sqlite"
	"github.com/researchagent/backend/internal/vector/zilliz"
	"github.com/researchagent/backend/pkg/config"
	appLogger "github.com/researchagent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting research paper agent API server")

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var embedder embeddings.Embedder = embeddings.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.EmbeddingModel, cfg.LLM.EmbeddingDim)

	var queryCache *redis.Client
	redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, running without query/embedding cache", zap.Error(err))
	} else {
		embedder = embeddings.NewCachedEmbedder(embedder, redisClient)
		queryCache = redisClient
		defer redisClient.Close()
	}

	var vectorIdx vector.Index
	zillizClient, err := zilliz.NewClient(cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim)
	if err != nil {
		appLogger.Warn("Zilliz unavailable, falling back to in-memory vector index", zap.Error(err))
		chunks, chunkErr := sqliteClient.AllChunks()
		if chunkErr != nil {
			appLogger.Fatal("Failed to load chunks for in-memory index", zap.Error(chunkErr))
		}
		vectorIdx = vector.NewMemoryIndex(chunks)
	} else {
		defer zillizClient.Close()
		if err := zillizClient.CreateCollection(context.Background()); err != nil {
			appLogger.Fatal("Failed to create Zilliz collection", zap.Error(err))
		}
		vectorIdx = vector.NewZillizIndex(zillizClient)
	}

	searchEngine := search.NewEngine(embedder, vectorIdx, sqliteClient)
	if queryCache != nil {
		searchEngine = searchEngine.WithCache(queryCache)
	}
	if err := searchEngine.Refresh(); err != nil {
		appLogger.Warn("Initial search index refresh failed", zap.Error(err))
	}

	providers := llm.NewRegistry(cfg.LLM.Provider)
	providers.Register(openai.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens))
	if cfg.ZAI.APIKey != "" {
		providers.Register(zai.New(cfg.ZAI.APIKey, cfg.ZAI.BaseURL, cfg.ZAI.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens))
	}

	defaultProvider, err := providers.Resolve(cfg.LLM.Provider)
	if err != nil {
		appLogger.Fatal("Failed to resolve default LLM provider", zap.Error(err))
	}

	toolRegistry := tools.NewRegistry()
	var webClient *web.Client
	if cfg.Search.Enabled {
		webClient = web.NewClient(cfg.Search.SerpAPIKey, defaultProvider)
	}
	if err := tools.RegisterBuiltins(toolRegistry, searchEngine, webClient); err != nil {
		appLogger.Fatal("Failed to register builtin tools", zap.Error(err))
	}

	deps := &nodes.Deps{
		Providers: providers,
		Tools:     toolRegistry,
		Papers:    sqliteClient,
	}

	agentDefaults := agentConfig(cfg)
	agentService := service.New(deps, sqliteClient, agentDefaults)

	metrics.Init()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Logging.Level == "debug"}))

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: 60, Logger: appLogger.GetLogger()})
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	streamHandler := handlers.NewStreamHandler(agentService)
	conversationHandler := handlers.NewConversationHandler(sqliteClient)

	app.Post("/stream", streamHandler.Stream)
	app.Get("/conversations", conversationHandler.List)
	app.Get("/conversations/:session_id", conversationHandler.Get)
	app.Delete("/conversations/:session_id", conversationHandler.Delete)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	limiter.Stop()
	app.Shutdown()
	appLogger.Info("Server stopped")
}

func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		Provider:              cfg.LLM.Provider,
		Model:                 cfg.LLM.Model,
		Temperature:           cfg.Agent.DefaultTemperature,
		OutOfScopeTemperature: cfg.Agent.OutOfScopeTemperature,
		TopK:                  cfg.Agent.DefaultTopK,
		GuardrailThreshold:    cfg.Agent.GuardrailThreshold,
		MaxRetrievalAttempts:  cfg.Agent.MaxRetrievalAttempts,
		ConversationWindow:    cfg.Agent.ConversationWindow,
		MaxIterations:         cfg.Agent.MaxIterations,
	}
}
