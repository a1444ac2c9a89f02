package engine

import (
	"fmt"

	"github.com/kalambet/reviewqa/internal/config"
)

// New returns the chat engine selected by engine.provider.
func New(cfg config.Config) (Engine, error) {
	return newEngine(cfg.Engine.Provider, baseURLFor(cfg, cfg.Engine.Provider), cfg.OpenAI.APIKey)
}

// NewEmbedding returns the engine selected by embedding.provider. It may
// differ from the chat engine: Groq serves chat but no embedding models.
func NewEmbedding(cfg config.Config) (Engine, error) {
	return newEngine(cfg.Embedding.Provider, cfg.EmbeddingBaseURL(), cfg.EmbeddingAPIKey())
}

func newEngine(provider, baseURL, apiKey string) (Engine, error) {
	switch provider {
	case config.ProviderOllama:
		return NewOllamaEngine(baseURL), nil
	case config.ProviderOpenAI:
		return NewOpenAIEngine(baseURL, apiKey), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", provider)
	}
}

func baseURLFor(cfg config.Config, provider string) string {
	if provider == config.ProviderOpenAI {
		return cfg.OpenAI.BaseURL
	}
	return cfg.Ollama.BaseURL
}
