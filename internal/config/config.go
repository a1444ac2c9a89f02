package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MaxIngestionBatchSize is the ceiling for ingestion.batch_size.
const MaxIngestionBatchSize = 20

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	SessionMemory = "memory"
	SessionSQLite = "sqlite"
	SessionRedis  = "redis"
)

type Config struct {
	Server     ServerConfig
	Engine     EngineConfig
	Ollama     OllamaConfig
	OpenAI     OpenAIConfig
	Embedding  EmbeddingConfig
	Models     ModelsConfig
	Store      StoreConfig
	Retrieval  RetrievalConfig
	Generation GenerationConfig
	Rewrite    RewriteConfig
	Ingestion  IngestionConfig
	Session    SessionConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type EngineConfig struct {
	Provider string
}

type OllamaConfig struct {
	BaseURL string
}

// OpenAIConfig targets any OpenAI-compatible endpoint (Groq by default).
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

// EmbeddingConfig selects the engine that serves models.embedding. It is
// separate from the chat engine because hosted chat providers such as Groq
// serve no embedding models. Empty BaseURL and APIKey fall back to the
// settings of the chosen provider.
type EmbeddingConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
}

type ModelsConfig struct {
	Embedding string
	Chat      string
	Rewrite   string
}

// StoreConfig addresses the document store. Endpoint is the SQLite data
// directory; Namespace and Collection scope the rows a store instance sees.
type StoreConfig struct {
	Endpoint    string
	Credentials string
	Namespace   string
	Collection  string
}

type RetrievalConfig struct {
	K int
}

type GenerationConfig struct {
	Temperature      float64
	MaxContextTokens int
	Retries          int
}

type RewriteConfig struct {
	Timeout  string
	Fallback bool
}

type IngestionConfig struct {
	BatchSize     int
	ContentColumn string
	TitleColumn   string
}

type SessionConfig struct {
	Backend     string
	TTL         string
	MaxSessions int
	RedisURL    string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Engine: EngineConfig{
			Provider: ProviderOllama,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.groq.com/openai/v1",
		},
		Embedding: EmbeddingConfig{
			Provider: ProviderOllama,
		},
		Models: ModelsConfig{
			Embedding: "nomic-embed-text",
			Chat:      "llama3.1",
		},
		Store: StoreConfig{
			Endpoint:   defaultDataDir(),
			Namespace:  "default",
			Collection: "flipkart_database",
		},
		Retrieval: RetrievalConfig{
			K: 3,
		},
		Generation: GenerationConfig{
			Temperature:      0.5,
			MaxContextTokens: 2000,
			Retries:          2,
		},
		Rewrite: RewriteConfig{
			Timeout:  "10s",
			Fallback: true,
		},
		Ingestion: IngestionConfig{
			BatchSize:     MaxIngestionBatchSize,
			ContentColumn: "review",
			TitleColumn:   "product_title",
		},
		Session: SessionConfig{
			Backend:     SessionSQLite,
			TTL:         "30m",
			MaxSessions: 1000,
			RedisURL:    "redis://localhost:6379/0",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file, a .env file in the
// working directory, and environment variables, in that order of increasing
// precedence. Secrets are only read from the environment.
//
// The config file lives at $XDG_CONFIG_HOME/reviewqa/config.json.
// Environment variables (REVIEWQA_*) override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env")
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	loadDotEnv(envFile)
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every option and returns all problems at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Engine.Provider {
	case ProviderOllama:
		if c.Ollama.BaseURL == "" {
			errs = append(errs, errors.New("ollama.base_url is required for provider ollama"))
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("missing required config: OpenAI-compatible API key. "+
				"Set it via environment variable REVIEWQA_OPENAI_API_KEY"))
		}
		if c.OpenAI.BaseURL == "" {
			errs = append(errs, errors.New("openai.base_url is required for provider openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("engine.provider %q is not one of %s, %s", c.Engine.Provider, ProviderOllama, ProviderOpenAI))
	}

	switch c.Embedding.Provider {
	case ProviderOllama, ProviderOpenAI:
		if c.EmbeddingBaseURL() == "" {
			errs = append(errs, fmt.Errorf("embedding.base_url is required for embedding provider %s", c.Embedding.Provider))
		}
		if c.Embedding.Provider == ProviderOpenAI && c.EmbeddingAPIKey() == "" {
			errs = append(errs, errors.New("missing required config: embedding API key. "+
				"Set it via environment variable REVIEWQA_EMBEDDING_API_KEY or REVIEWQA_OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not one of %s, %s", c.Embedding.Provider, ProviderOllama, ProviderOpenAI))
	}

	if c.Models.Embedding == "" {
		errs = append(errs, errors.New("models.embedding is required"))
	}
	if c.Models.Chat == "" {
		errs = append(errs, errors.New("models.chat is required"))
	}
	if c.Store.Endpoint == "" {
		errs = append(errs, errors.New("store.endpoint is required"))
	}
	if c.Store.Collection == "" {
		errs = append(errs, errors.New("store.collection is required"))
	}
	if c.Retrieval.K <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K))
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature must be within [0, 2], got %v", c.Generation.Temperature))
	}
	if c.Generation.MaxContextTokens <= 0 {
		errs = append(errs, fmt.Errorf("generation.max_context_tokens must be positive, got %d", c.Generation.MaxContextTokens))
	}
	if c.Generation.Retries < 0 {
		errs = append(errs, fmt.Errorf("generation.retries must not be negative, got %d", c.Generation.Retries))
	}
	if c.Ingestion.BatchSize < 1 || c.Ingestion.BatchSize > MaxIngestionBatchSize {
		errs = append(errs, fmt.Errorf("ingestion.batch_size must be within 1..%d, got %d", MaxIngestionBatchSize, c.Ingestion.BatchSize))
	}
	if c.Ingestion.ContentColumn == "" || c.Ingestion.TitleColumn == "" {
		errs = append(errs, errors.New("ingestion.content_column and ingestion.title_column are required"))
	}
	if _, err := parsePositiveDuration("rewrite.timeout", c.Rewrite.Timeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := parsePositiveDuration("session.ttl", c.Session.TTL); err != nil {
		errs = append(errs, err)
	}
	if c.Session.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("session.max_sessions must be positive, got %d", c.Session.MaxSessions))
	}

	switch c.Session.Backend {
	case SessionMemory, SessionSQLite:
	case SessionRedis:
		if _, err := url.Parse(c.Session.RedisURL); err != nil || !strings.HasPrefix(c.Session.RedisURL, "redis") {
			errs = append(errs, fmt.Errorf("session.redis_url %q is not a redis:// or rediss:// URL", c.Session.RedisURL))
		}
	default:
		errs = append(errs, fmt.Errorf("session.backend %q is not one of %s, %s, %s", c.Session.Backend, SessionMemory, SessionSQLite, SessionRedis))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	return errors.Join(errs...)
}

// EmbeddingBaseURL returns embedding.base_url, or the base URL of the
// embedding provider when unset.
func (c Config) EmbeddingBaseURL() string {
	if c.Embedding.BaseURL != "" {
		return c.Embedding.BaseURL
	}
	switch c.Embedding.Provider {
	case ProviderOllama:
		return c.Ollama.BaseURL
	case ProviderOpenAI:
		return c.OpenAI.BaseURL
	}
	return ""
}

// EmbeddingAPIKey returns embedding.api_key, falling back to openai.api_key.
func (c Config) EmbeddingAPIKey() string {
	if c.Embedding.APIKey != "" {
		return c.Embedding.APIKey
	}
	return c.OpenAI.APIKey
}

// RewriteModel returns the model used for query rewriting.
func (c Config) RewriteModel() string {
	if c.Models.Rewrite != "" {
		return c.Models.Rewrite
	}
	return c.Models.Chat
}

// RewriteTimeout returns rewrite.timeout parsed. Call after Validate.
func (c Config) RewriteTimeout() time.Duration {
	d, _ := parsePositiveDuration("rewrite.timeout", c.Rewrite.Timeout)
	return d
}

// SessionTTL returns session.ttl parsed. Call after Validate.
func (c Config) SessionTTL() time.Duration {
	d, _ := parsePositiveDuration("session.ttl", c.Session.TTL)
	return d
}

// RedisURL returns session.redis_url with store.credentials applied as the
// password when the URL carries none.
func (c Config) RedisURL() string {
	if c.Store.Credentials == "" {
		return c.Session.RedisURL
	}
	u, err := url.Parse(c.Session.RedisURL)
	if err != nil {
		return c.Session.RedisURL
	}
	if _, hasPass := u.User.Password(); hasPass {
		return c.Session.RedisURL
	}
	name := ""
	if u.User != nil {
		name = u.User.Username()
	}
	u.User = url.UserPassword(name, c.Store.Credentials)
	return u.String()
}

func parsePositiveDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}
