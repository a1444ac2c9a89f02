package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "REVIEWQA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "REVIEWQA_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "engine.provider", typ: kString, env: "REVIEWQA_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "ollama.base_url", typ: kString, env: "REVIEWQA_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.base_url", typ: kString, env: "REVIEWQA_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "REVIEWQA_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "embedding.provider", typ: kString, env: "REVIEWQA_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.base_url", typ: kString, env: "REVIEWQA_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.api_key", typ: kString, env: "REVIEWQA_EMBEDDING_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "models.embedding", typ: kString, env: "REVIEWQA_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Models.Embedding = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Embedding },
	},
	{
		key: "models.chat", typ: kString, env: "REVIEWQA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Models.Chat = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Chat },
	},
	{
		key: "models.rewrite", typ: kString, env: "REVIEWQA_REWRITE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Models.Rewrite = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Rewrite },
	},
	{
		key: "store.endpoint", typ: kString, env: "REVIEWQA_STORE_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Store.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Endpoint },
	},
	{
		key: "store.credentials", typ: kString, env: "REVIEWQA_STORE_CREDENTIALS",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Store.Credentials = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Credentials },
	},
	{
		key: "store.namespace", typ: kString, env: "REVIEWQA_STORE_NAMESPACE",
		apply:   func(cfg *Config, v any) { cfg.Store.Namespace = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Namespace },
	},
	{
		key: "store.collection", typ: kString, env: "REVIEWQA_COLLECTION_NAME",
		apply:   func(cfg *Config, v any) { cfg.Store.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Collection },
	},
	{
		key: "retrieval.k", typ: kInt, env: "REVIEWQA_RETRIEVAL_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.K = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.K },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "REVIEWQA_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "generation.max_context_tokens", typ: kInt, env: "REVIEWQA_GENERATION_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxContextTokens },
	},
	{
		key: "generation.retries", typ: kInt, env: "REVIEWQA_GENERATION_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Generation.Retries = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.Retries },
	},
	{
		key: "rewrite.timeout", typ: kString, env: "REVIEWQA_REWRITE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Rewrite.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Rewrite.Timeout },
	},
	{
		key: "rewrite.fallback", typ: kBool, env: "REVIEWQA_REWRITE_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Rewrite.Fallback = v.(bool) },
		extract: func(cfg Config) any { return cfg.Rewrite.Fallback },
	},
	{
		key: "ingestion.batch_size", typ: kInt, env: "REVIEWQA_INGESTION_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingestion.BatchSize },
	},
	{
		key: "ingestion.content_column", typ: kString, env: "REVIEWQA_INGESTION_CONTENT_COLUMN",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.ContentColumn = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingestion.ContentColumn },
	},
	{
		key: "ingestion.title_column", typ: kString, env: "REVIEWQA_INGESTION_TITLE_COLUMN",
		apply:   func(cfg *Config, v any) { cfg.Ingestion.TitleColumn = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingestion.TitleColumn },
	},
	{
		key: "session.backend", typ: kString, env: "REVIEWQA_SESSION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Session.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.Backend },
	},
	{
		key: "session.ttl", typ: kString, env: "REVIEWQA_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "session.max_sessions", typ: kInt, env: "REVIEWQA_SESSION_MAX_SESSIONS",
		apply:   func(cfg *Config, v any) { cfg.Session.MaxSessions = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.MaxSessions },
	},
	{
		key: "session.redis_url", typ: kString, env: "REVIEWQA_SESSION_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Session.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.RedisURL },
	},
	{
		key: "log.level", typ: kString, env: "REVIEWQA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// parse converts a raw string into the Go type expected by s.apply.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}
