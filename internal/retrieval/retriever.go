package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/reviewqa/internal/domain"
)

// QueryEmbedder turns query text into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever combines embedding and vector search to find relevant reviews.
// k is fixed at construction.
type Retriever struct {
	embedder QueryEmbedder
	store    DocumentStore
	k        int
}

// NewRetriever creates a Retriever returning at most k documents per query.
func NewRetriever(embedder QueryEmbedder, store DocumentStore, k int) *Retriever {
	return &Retriever{embedder: embedder, store: store, k: k}
}

// K returns the number of documents Retrieve asks for.
func (r *Retriever) K() int {
	return r.k
}

// Retrieve embeds the standalone question and returns the top-k documents.
//
// A failed query embedding is not fatal: it is logged and yields no context,
// unless the collection is empty, which still reports domain.ErrNotReady.
// Store errors propagate.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredDocument, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n, countErr := r.store.Count(ctx)
		if countErr != nil {
			return nil, countErr
		}
		if n == 0 {
			return nil, fmt.Errorf("collection is empty: %w", domain.ErrNotReady)
		}
		slog.Warn("query embedding failed, continuing without context", "error", err)
		return nil, nil
	}

	return r.store.Search(ctx, vec, r.k)
}

// Search runs a similarity search with an explicit limit. Unlike Retrieve,
// embedding failures are returned to the caller.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.Search(ctx, vec, limit)
}
