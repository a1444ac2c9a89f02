// Package pipeline runs one conversational exchange: rewrite the question
// against the session history, retrieve reviews, generate an answer and
// record the turns.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/metrics"
)

const defaultRetryBackoff = 500 * time.Millisecond

// ErrEmptyInput is returned when the session id or question is blank.
var ErrEmptyInput = errors.New("session id and question must not be empty")

// Stage identifies a step of Ask.
type Stage int

const (
	StageRewriting Stage = iota
	StageRetrieving
	StageGenerating
	StageRecording
)

func (s Stage) String() string {
	switch s {
	case StageRewriting:
		return "rewriting"
	case StageRetrieving:
		return "retrieving"
	case StageGenerating:
		return "generating"
	case StageRecording:
		return "recording"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError reports which stage an Ask failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return e.Stage.String() + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

type Rewriter interface {
	Rewrite(ctx context.Context, history []domain.Turn, question string) (string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.ScoredDocument, error)
}

type Generator interface {
	Generate(ctx context.Context, docs []domain.ScoredDocument, history []domain.Turn, question string) (string, error)
}

type HistoryStore interface {
	Turns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Append(ctx context.Context, sessionID string, turns ...domain.Turn) error
}

// Options tunes failure handling.
type Options struct {
	// RewriteFallback answers with the raw question when rewriting fails.
	RewriteFallback bool
	// Retries is the number of extra generation attempts.
	Retries int
	// RetryBackoff is the first delay between generation attempts; it
	// doubles each time. Zero uses 500ms.
	RetryBackoff time.Duration
}

// Result is a completed exchange.
type Result struct {
	Answer     string
	Standalone string
	Rewritten  bool
	Sources    []domain.ScoredDocument
}

// Conversation wires the stages together. It is safe for concurrent use.
type Conversation struct {
	rewriter  Rewriter
	retriever Retriever
	generator Generator
	history   HistoryStore
	opts      Options
	metrics   *metrics.Metrics
}

// NewConversation creates a Conversation. m may be nil.
func NewConversation(rw Rewriter, rt Retriever, gen Generator, hs HistoryStore, opts Options, m *metrics.Metrics) *Conversation {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Conversation{
		rewriter:  rw,
		retriever: rt,
		generator: gen,
		history:   hs,
		opts:      opts,
		metrics:   m,
	}
}

// Ask answers question within the session. It returns either a complete
// Result, with both turns recorded, or an error; history is untouched on
// error.
func (c *Conversation) Ask(ctx context.Context, sessionID, question string) (res Result, err error) {
	defer func() {
		c.metrics.RecordAsk(outcome(err))
	}()

	question = strings.TrimSpace(question)
	if strings.TrimSpace(sessionID) == "" || question == "" {
		return Result{}, ErrEmptyInput
	}

	// REWRITING
	start := time.Now()
	history, err := c.history.Turns(ctx, sessionID)
	if err != nil {
		return Result{}, &StageError{Stage: StageRewriting, Err: err}
	}
	standalone, err := c.rewrite(ctx, sessionID, history, question)
	c.metrics.ObserveStage(StageRewriting.String(), time.Since(start))
	if err != nil {
		return Result{}, &StageError{Stage: StageRewriting, Err: err}
	}

	// RETRIEVING
	start = time.Now()
	docs, err := c.retriever.Retrieve(ctx, standalone)
	c.metrics.ObserveStage(StageRetrieving.String(), time.Since(start))
	if err != nil {
		return Result{}, &StageError{Stage: StageRetrieving, Err: err}
	}

	// GENERATING
	start = time.Now()
	answer, err := c.generate(ctx, docs, history, question)
	c.metrics.ObserveStage(StageGenerating.String(), time.Since(start))
	if err != nil {
		return Result{}, &StageError{Stage: StageGenerating, Err: err}
	}

	// RECORDING
	start = time.Now()
	err = c.history.Append(ctx, sessionID, domain.UserTurn(question), domain.AssistantTurn(answer))
	c.metrics.ObserveStage(StageRecording.String(), time.Since(start))
	if err != nil {
		return Result{}, &StageError{Stage: StageRecording, Err: err}
	}

	slog.Debug("ask complete",
		"session", sessionID,
		"rewritten", standalone != question,
		"sources", len(docs),
	)

	return Result{
		Answer:     answer,
		Standalone: standalone,
		Rewritten:  standalone != question,
		Sources:    docs,
	}, nil
}

func (c *Conversation) rewrite(ctx context.Context, sessionID string, history []domain.Turn, question string) (string, error) {
	standalone, err := c.rewriter.Rewrite(ctx, history, question)
	if err == nil {
		return standalone, nil
	}
	if !c.opts.RewriteFallback || !errors.Is(err, domain.ErrGeneration) || ctx.Err() != nil {
		return "", err
	}
	slog.Warn("rewrite failed, using the raw question", "session", sessionID, "error", err)
	c.metrics.RecordRewriteFallback()
	return question, nil
}

// generate calls the generator, retrying generation errors with exponential
// backoff.
func (c *Conversation) generate(ctx context.Context, docs []domain.ScoredDocument, history []domain.Turn, question string) (string, error) {
	var lastErr error
	for attempt := range c.opts.Retries + 1 {
		if attempt > 0 {
			backoff := time.Duration(float64(c.opts.RetryBackoff) * math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			c.metrics.RecordGenerationRetry()
		}

		answer, err := c.generator.Generate(ctx, docs, history, question)
		if err == nil {
			return answer, nil
		}
		if !errors.Is(err, domain.ErrGeneration) || ctx.Err() != nil {
			return "", err
		}
		slog.Warn("generation failed", "attempt", attempt+1, "error", err)
		lastErr = err
	}
	return "", fmt.Errorf("after %d attempts: %w", c.opts.Retries+1, lastErr)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrEmptyInput):
		return metrics.OutcomeInvalid
	case errors.Is(err, domain.ErrNotReady):
		return metrics.OutcomeNotReady
	case errors.Is(err, domain.ErrStoreUnavailable):
		return metrics.OutcomeStoreUnavailable
	case errors.Is(err, domain.ErrGeneration):
		return metrics.OutcomeGenerationError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeError
	}
}
