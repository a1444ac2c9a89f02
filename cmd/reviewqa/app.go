package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kalambet/reviewqa/internal/answer"
	"github.com/kalambet/reviewqa/internal/config"
	"github.com/kalambet/reviewqa/internal/engine"
	"github.com/kalambet/reviewqa/internal/history"
	"github.com/kalambet/reviewqa/internal/ingest"
	"github.com/kalambet/reviewqa/internal/metrics"
	"github.com/kalambet/reviewqa/internal/pipeline"
	"github.com/kalambet/reviewqa/internal/retrieval"
	"github.com/kalambet/reviewqa/internal/rewrite"
	"github.com/kalambet/reviewqa/internal/storage"
)

// app is the fully wired assistant.
type app struct {
	cfg          config.Config
	chat         engine.Engine
	embedding    engine.Engine
	store        *storage.Store
	documents    *retrieval.SQLiteStore
	retriever    *retrieval.Retriever
	ingestor     *ingest.Ingestor
	sessions     *history.Store
	conversation *pipeline.Conversation
	metrics      *metrics.Metrics

	closers []io.Closer
}

// pinger is implemented by session backends reachable over the network.
type pinger interface {
	Ping(ctx context.Context) error
}

// checkBackend pings session backends that live behind the network so a
// wrong address fails at startup instead of on the first ask.
func checkBackend(ctx context.Context, b history.Backend) error {
	p, ok := b.(pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

// newApp opens storage and builds every component from cfg. It checks that
// the chat and embedding engines are reachable and serve their models, and
// that a networked session backend answers.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	chat, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := engine.EnsureReady(ctx, chat, os.Stderr, cfg.Models.Chat, cfg.RewriteModel()); err != nil {
		return nil, fmt.Errorf("chat engine (%s): %w", cfg.Engine.Provider, err)
	}
	emb, err := engine.NewEmbedding(cfg)
	if err != nil {
		return nil, err
	}
	if err := engine.EnsureReady(ctx, emb, os.Stderr, cfg.Models.Embedding); err != nil {
		return nil, fmt.Errorf("embedding engine (%s): %w", cfg.Embedding.Provider, err)
	}

	store, err := storage.Open(cfg.Store.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{cfg: cfg, chat: chat, embedding: emb, store: store, metrics: metrics.New()}
	a.closers = append(a.closers, store)

	backend, err := history.NewBackend(cfg, store)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening session backend: %w", err)
	}
	if c, ok := backend.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	if err := checkBackend(ctx, backend); err != nil {
		a.Close()
		return nil, fmt.Errorf("session backend %s: %w", cfg.Session.Backend, err)
	}

	embedder := retrieval.NewEmbedder(emb, cfg.Models.Embedding)
	a.documents = retrieval.NewSQLiteStore(store.DB(), cfg.Store.Namespace, cfg.Store.Collection)
	a.retriever = retrieval.NewRetriever(embedder, a.documents, cfg.Retrieval.K)
	a.ingestor = ingest.NewIngestor(embedder, a.documents, cfg.Ingestion.BatchSize, ingest.Columns{
		Content: cfg.Ingestion.ContentColumn,
		Title:   cfg.Ingestion.TitleColumn,
	})
	a.sessions = history.NewStore(backend, history.Options{
		TTL:         cfg.SessionTTL(),
		MaxSessions: cfg.Session.MaxSessions,
	})
	a.conversation = pipeline.NewConversation(
		rewrite.NewRewriter(chat, cfg.RewriteModel(), cfg.RewriteTimeout(), cfg.Generation.Temperature),
		a.retriever,
		answer.NewGenerator(chat, cfg.Models.Chat, cfg.Generation.Temperature, cfg.Generation.MaxContextTokens),
		a.sessions,
		pipeline.Options{
			RewriteFallback: cfg.Rewrite.Fallback,
			Retries:         cfg.Generation.Retries,
		},
		a.metrics,
	)

	slog.Debug("app ready",
		"provider", cfg.Engine.Provider,
		"embedding_provider", cfg.Embedding.Provider,
		"k", a.retriever.K(),
		"collection", a.documents.Collection(),
		"session_backend", cfg.Session.Backend,
	)
	return a, nil
}

// ingestFile loads a CSV review export into the collection.
func (a *app) ingestFile(ctx context.Context, path string, fresh bool) (ingest.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	res, err := a.ingestor.IngestCSV(ctx, f, fresh)
	a.metrics.RecordIngestion(res.Ingested, res.Skipped)
	return res, err
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing: %v\n", err)
		}
	}
}
