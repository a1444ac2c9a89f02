// Package api exposes the review assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/ingest"
	"github.com/kalambet/reviewqa/internal/metrics"
	"github.com/kalambet/reviewqa/internal/pipeline"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxIngestBodySize  = 10 << 20 // 10MB
	defaultSearchLimit = 3
	maxSearchLimit     = 50
)

type Asker interface {
	Ask(ctx context.Context, sessionID, question string) (pipeline.Result, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]domain.ScoredDocument, error)
}

type CSVIngestor interface {
	IngestCSV(ctx context.Context, r io.Reader, fresh bool) (ingest.Result, error)
}

type SessionStore interface {
	Turns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Close(ctx context.Context, sessionID string) error
}

// Deps holds what the HTTP handler serves. Metrics may be nil.
type Deps struct {
	Asker    Asker
	Searcher Searcher
	Ingestor CSVIngestor
	Sessions SessionStore
	Metrics  *metrics.Metrics
	Token    string
}

// NewHandler returns the HTTP API. /health and /metrics are open; /v1
// routes require the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument(deps.Metrics))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/ask", handleAsk(deps))
		r.Get("/search", handleSearch(deps))
		r.Post("/ingest", handleIngest(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
	})

	return r
}

// instrument records every request under its route pattern.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTP(r.Method, route, status, time.Since(start))
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type AskRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type AskResponse struct {
	Answer             string   `json:"answer"`
	StandaloneQuestion string   `json:"standalone_question"`
	Rewritten          bool     `json:"rewritten"`
	Sources            []Source `json:"sources"`
}

type Source struct {
	ID          string  `json:"id"`
	ProductName string  `json:"product_name"`
	Content     string  `json:"content"`
	Score       float32 `json:"score"`
}

type SearchResponse struct {
	Query   string   `json:"query"`
	Results []Source `json:"results"`
}

type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type SessionResponse struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
}

func toSources(docs []domain.ScoredDocument) []Source {
	out := make([]Source, len(docs))
	for i, d := range docs {
		out[i] = Source{
			ID:          d.ID,
			ProductName: d.ProductName(),
			Content:     d.Content,
			Score:       d.Score,
		}
	}
	return out
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Asker.Ask(r.Context(), req.SessionID, req.Question)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AskResponse{
			Answer:             res.Answer,
			StandaloneQuestion: res.Standalone,
			Rewritten:          res.Rewritten,
			Sources:            toSources(res.Sources),
		})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := defaultSearchLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxSearchLimit {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be an integer within 1..%d", maxSearchLimit)
				return
			}
			limit = n
		}

		docs, err := deps.Searcher.Search(r.Context(), q, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SearchResponse{Query: q, Results: toSources(docs)})
	}
}

// handleIngest loads a CSV review export sent as the request body.
// ?fresh=true empties the collection first.
func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/csv") && !strings.HasPrefix(ct, "text/plain") {
			httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "content type %q is not text/csv", ct)
			return
		}
		fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))

		res, err := deps.Ingestor.IngestCSV(r.Context(), r.Body, fresh)
		deps.Metrics.RecordIngestion(res.Ingested, res.Skipped)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		turns, err := deps.Sessions.Turns(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		out := SessionResponse{SessionID: id, Turns: make([]Turn, len(turns))}
		for i, t := range turns {
			out.Turns[i] = Turn{Role: string(t.Role), Text: t.Text}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
