package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Zilliz  ZillizConfig
	Redis   RedisConfig
	LLM     LLMConfig
	ZAI     ZAIConfig
	Search  SearchConfig
	Agent   AgentConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	IndexType      string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type ZAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type SearchConfig struct {
	Enabled    bool
	SerpAPIKey string
	MaxResults int
	TimeoutSec int
}

type AgentConfig struct {
	DefaultTemperature        float32
	OutOfScopeTemperature     float32
	DefaultTopK               int
	GuardrailThreshold        int
	MaxRetrievalAttempts      int
	ConversationWindow        int
	MaxIterations             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/research-agent")

	viper.SetEnvPrefix("RESEARCH_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/research_agent.db")

	viper.SetDefault("zilliz.endpoint", "localhost:19530")
	viper.SetDefault("zilliz.collectionName", "paper_chunks")
	viper.SetDefault("zilliz.vectorDim", 1536)
	viper.SetDefault("zilliz.indexType", "IVF_FLAT")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("zai.baseUrl", "https://open.bigmodel.cn/api/paas/v4")
	viper.SetDefault("zai.model", "glm-4")

	viper.SetDefault("search.enabled", true)
	viper.SetDefault("search.maxResults", 5)
	viper.SetDefault("search.timeoutSec", 10)

	viper.SetDefault("agent.defaultTemperature", 0.3)
	viper.SetDefault("agent.outOfScopeTemperature", 0.7)
	viper.SetDefault("agent.defaultTopK", 3)
	viper.SetDefault("agent.guardrailThreshold", 75)
	viper.SetDefault("agent.maxRetrievalAttempts", 3)
	viper.SetDefault("agent.conversationWindow", 5)
	viper.SetDefault("agent.maxIterations", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
