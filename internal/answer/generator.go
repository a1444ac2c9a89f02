// Package answer produces the final reply from retrieved reviews, the
// conversation so far and the user's question.
package answer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/engine"
)

const defaultMaxContextTokens = 2000

// Chatter is the chat half of engine.Engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts *engine.ChatOptions) (string, error)
}

// Generator answers a standalone question from retrieved reviews and the
// session history with one chat call.
type Generator struct {
	client           Chatter
	model            string
	temperature      float64
	maxContextTokens int
}

// NewGenerator creates a Generator. If maxContextTokens <= 0, the default
// (2000) is used.
func NewGenerator(client Chatter, model string, temperature float64, maxContextTokens int) *Generator {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Generator{
		client:           client,
		model:            model,
		temperature:      temperature,
		maxContextTokens: maxContextTokens,
	}
}

// Generate asks the chat model for an answer. The model is called even when
// docs is empty. A model failure matches domain.ErrGeneration; an empty reply
// becomes FallbackAnswer.
func (g *Generator) Generate(ctx context.Context, docs []domain.ScoredDocument, history []domain.Turn, question string) (string, error) {
	messages := BuildPrompt(docs, history, question, g.maxContextTokens)

	reply, err := g.client.Chat(ctx, g.model, messages, engine.WithTemperature(g.temperature))
	if err != nil {
		return "", domain.GenerationError("generate", err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		slog.Warn("answer: model returned an empty reply", "model", g.model, "docs", len(docs))
		return FallbackAnswer, nil
	}
	return reply, nil
}
