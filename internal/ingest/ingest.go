package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/reviewqa/internal/config"
	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/retrieval"
)

// BatchEmbedder generates embeddings for a batch of texts, aligned with the input.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentWriter is the write side of the document store.
type DocumentWriter interface {
	Insert(ctx context.Context, records []retrieval.Record) error
	Reset(ctx context.Context) error
}

// Result summarizes one ingestion run.
type Result struct {
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
}

// Ingestor embeds documents and loads them into the store in batches.
type Ingestor struct {
	embedder  BatchEmbedder
	store     DocumentWriter
	batchSize int
	columns   Columns
}

// NewIngestor creates an Ingestor. batchSize is clamped to
// 1..config.MaxIngestionBatchSize.
func NewIngestor(embedder BatchEmbedder, store DocumentWriter, batchSize int, cols Columns) *Ingestor {
	if batchSize <= 0 || batchSize > config.MaxIngestionBatchSize {
		batchSize = config.MaxIngestionBatchSize
	}
	if cols.Content == "" || cols.Title == "" {
		cols = DefaultColumns
	}
	return &Ingestor{embedder: embedder, store: store, batchSize: batchSize, columns: cols}
}

// Ingest embeds and stores docs batch by batch. Each batch is committed in
// one transaction, so on failure the documents of earlier batches stay
// visible and the returned count reflects them.
func (in *Ingestor) Ingest(ctx context.Context, docs []domain.Document) (int, error) {
	stored := 0
	for start := 0; start < len(docs); start += in.batchSize {
		end := min(start+in.batchSize, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		vecs, err := in.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("embedding batch %d-%d: %w", start, end-1, err)
		}

		records := make([]retrieval.Record, len(batch))
		for i, d := range batch {
			records[i] = retrieval.Record{Document: d, Embedding: vecs[i]}
		}
		if err := in.store.Insert(ctx, records); err != nil {
			return stored, fmt.Errorf("storing batch %d-%d: %w", start, end-1, err)
		}

		stored += len(batch)
		slog.Debug("ingested batch", "from", start, "to", end-1, "total", stored)
	}
	return stored, nil
}

// IngestCSV reads a review export and ingests every well-formed row.
// When fresh is set, the collection is emptied first, even if the export
// holds no usable rows.
func (in *Ingestor) IngestCSV(ctx context.Context, r io.Reader, fresh bool) (Result, error) {
	conv, err := ReadCSV(r, in.columns)
	if err != nil {
		return Result{}, err
	}
	res := Result{Skipped: len(conv.Skipped)}

	if fresh {
		if err := in.store.Reset(ctx); err != nil {
			return res, fmt.Errorf("resetting collection: %w", err)
		}
	}

	if len(conv.Documents) == 0 {
		slog.Warn("no documents found in CSV; ingestion skipped", "skipped", res.Skipped, "fresh", fresh)
		return res, nil
	}

	slog.Info("ingesting reviews", "documents", len(conv.Documents), "batch_size", in.batchSize, "skipped", res.Skipped)
	res.Ingested, err = in.Ingest(ctx, conv.Documents)
	if err != nil {
		return res, err
	}
	slog.Info("ingestion complete", "ingested", res.Ingested, "skipped", res.Skipped)
	return res, nil
}
