package retrieval

import (
	"context"

	"github.com/kalambet/reviewqa/internal/domain"
)

// DocumentStore is the similarity-searchable store of review documents.
// The current implementation is SQLite with brute-force cosine similarity;
// a store instance sees the rows of exactly one collection.
type DocumentStore interface {
	// Insert stores records in one transaction. Either all become visible or none.
	Insert(ctx context.Context, records []Record) error

	// Search returns up to k documents ordered by descending cosine similarity.
	// Ties keep insertion order. Fails with domain.ErrNotReady when the
	// collection is empty.
	Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredDocument, error)

	// Count returns the number of documents in the collection.
	Count(ctx context.Context) (int, error)

	// Reset drops every document of the collection.
	Reset(ctx context.Context) error
}

// Record is a document together with its embedding, as written by ingestion.
type Record struct {
	Document  domain.Document
	Embedding []float32
}
