package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/reviewqa/internal/api"
	"github.com/kalambet/reviewqa/internal/config"
	"github.com/kalambet/reviewqa/internal/engine"
	"github.com/kalambet/reviewqa/internal/retrieval"
	"github.com/kalambet/reviewqa/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		ingestPath, _ := cmd.Flags().GetString("ingest")
		return runServer(withMCP, ingestPath)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reviewqa system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	serveCmd.Flags().String("ingest", "", "ingest a CSV review export before serving")
}

func runServer(withMCP bool, ingestPath string) error {
	printVersion()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if ingestPath != "" {
		res, err := a.ingestFile(ctx, ingestPath, false)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", ingestPath, err)
		}
		slog.Info("startup ingestion complete", "file", ingestPath, "ingested", res.Ingested, "skipped", res.Skipped)
	}

	handler := api.NewHandler(api.Deps{
		Asker:    a.conversation,
		Searcher: a.retriever,
		Ingestor: a.ingestor,
		Sessions: a.sessions,
		Metrics:  a.metrics,
		Token:    cfg.Server.Token,
	})
	if cfg.Server.Token == "" {
		slog.Warn("server.token is not set; /v1 routes are unauthenticated")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Asker:    a.conversation,
			Searcher: a.retriever,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "reviewqa listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check the chat and embedding engines and their models.
	chat, chatErr := engine.New(cfg)
	reportEngine(ctx, "Chat engine", cfg.Engine.Provider, chat, chatErr,
		modelRef{"Chat model", cfg.Models.Chat}, modelRef{"Rewrite model", cfg.RewriteModel()})
	emb, embErr := engine.NewEmbedding(cfg)
	reportEngine(ctx, "Embedding engine", cfg.Embedding.Provider, emb, embErr,
		modelRef{"Embedding model", cfg.Models.Embedding})

	// Show document and session counts from the local store.
	store, err := storage.Open(cfg.Store.Endpoint)
	if err != nil {
		printStatus("Store", "unavailable: %v", err)
		return nil
	}
	defer store.Close()

	docs := retrieval.NewSQLiteStore(store.DB(), cfg.Store.Namespace, cfg.Store.Collection)
	if n, err := docs.Count(ctx); err == nil {
		printStatus("Documents", "%d in %s", n, docs.Collection())
	}
	if cfg.Session.Backend == config.SessionSQLite {
		if n, err := store.CountSessions(ctx); err == nil {
			printStatus("Sessions", "%d stored", n)
		}
	} else {
		printStatus("Sessions", "%s backend", cfg.Session.Backend)
	}

	printStatus("Data dir", "%s", cfg.Store.Endpoint)
	return nil
}

type modelRef struct{ label, name string }

func reportEngine(ctx context.Context, label, provider string, e engine.Engine, err error, models ...modelRef) {
	switch {
	case err != nil:
		printStatus(label, "misconfigured: %v", err)
		return
	case !e.IsRunning(ctx):
		printStatus(label, "%s not reachable", provider)
		return
	}
	printStatus(label, "%s running", provider)
	for _, m := range models {
		state := colorize(colorGreen, "available")
		if !e.HasModel(ctx, m.name) {
			state = colorize(colorYellow, "missing")
		}
		printStatus(m.label, "%s (%s)", m.name, state)
	}
}
