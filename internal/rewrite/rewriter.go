// Package rewrite turns a follow-up question into a standalone query using
// the conversation so far.
package rewrite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/engine"
)

// DefaultTimeout bounds a single rewrite call when none is configured.
const DefaultTimeout = 10 * time.Second

// Chatter is the chat half of engine.Engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts *engine.ChatOptions) (string, error)
}

// Rewriter asks a chat model to make a question self-contained.
type Rewriter struct {
	client      Chatter
	model       string
	timeout     time.Duration
	temperature float64
}

// NewRewriter creates a Rewriter. A non-positive timeout uses DefaultTimeout.
func NewRewriter(client Chatter, model string, timeout time.Duration, temperature float64) *Rewriter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Rewriter{client: client, model: model, timeout: timeout, temperature: temperature}
}

// Rewrite returns the standalone form of question. With no history the
// question is returned unchanged and no model call is made.
// Failures, timeouts and empty replies match domain.ErrGeneration.
func (r *Rewriter) Rewrite(ctx context.Context, history []domain.Turn, question string) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.client.Chat(ctx, r.model, BuildPrompt(history, question), engine.WithTemperature(r.temperature))
	if err != nil {
		return "", domain.GenerationError("rewrite", err)
	}

	standalone := clean(raw)
	if standalone == "" {
		return "", domain.GenerationError("rewrite", errors.New("model returned an empty question"))
	}
	return standalone, nil
}

// clean strips whitespace and the quotes or label some models wrap the
// question in.
func clean(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"Standalone question:", "standalone question:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
