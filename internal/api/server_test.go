package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/history"
	"github.com/kalambet/reviewqa/internal/ingest"
	"github.com/kalambet/reviewqa/internal/metrics"
	"github.com/kalambet/reviewqa/internal/pipeline"
)

const testToken = "test-token-12345"

// --- mocks ---

type mockAsker struct {
	askFn func(ctx context.Context, sessionID, question string) (pipeline.Result, error)
}

func (m *mockAsker) Ask(ctx context.Context, sessionID, question string) (pipeline.Result, error) {
	if m.askFn != nil {
		return m.askFn(ctx, sessionID, question)
	}
	return pipeline.Result{Answer: "ok", Standalone: question}, nil
}

type mockSearcher struct {
	gotQuery string
	gotLimit int
	docs     []domain.ScoredDocument
	err      error
}

func (m *mockSearcher) Search(_ context.Context, query string, limit int) ([]domain.ScoredDocument, error) {
	m.gotQuery, m.gotLimit = query, limit
	return m.docs, m.err
}

type mockIngestor struct {
	body  string
	fresh bool
	res   ingest.Result
	err   error
}

func (m *mockIngestor) IngestCSV(_ context.Context, r io.Reader, fresh bool) (ingest.Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("reading CSV: %w", err)
	}
	m.body, m.fresh = string(b), fresh
	return m.res, m.err
}

func batteryDoc() domain.ScoredDocument {
	return domain.ScoredDocument{
		Document: domain.Document{
			ID:       "doc-1",
			Content:  "Great battery life",
			Metadata: map[string]string{domain.MetaProductName: "Phone X"},
		},
		Score: 0.91,
	}
}

// --- helpers ---

type testEnv struct {
	handler  http.Handler
	asker    *mockAsker
	searcher *mockSearcher
	ingestor *mockIngestor
	sessions *history.Store
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	env := &testEnv{
		asker:    &mockAsker{},
		searcher: &mockSearcher{},
		ingestor: &mockIngestor{},
		sessions: history.NewStore(nil, history.Options{}),
		metrics:  metrics.New(),
	}
	env.handler = NewHandler(Deps{
		Asker:    env.asker,
		Searcher: env.searcher,
		Ingestor: env.ingestor,
		Sessions: env.sessions,
		Metrics:  env.metrics,
		Token:    token,
	})
	return env
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeErrorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Error.Message == "" {
		t.Error("error message is empty")
	}
	return body.Error.Type
}

// --- tests ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testToken)

	rr := serve(env.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, testToken)
	body := `{"session_id":"s1","question":"hi"}`

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(env.handler, authReq(http.MethodPost, "/v1/ask", body, tt.token))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, "")
	rr := serve(env.handler, authReq(http.MethodPost, "/v1/ask", `{"session_id":"s1","question":"hi"}`, ""))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAsk(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.asker.askFn = func(_ context.Context, sessionID, question string) (pipeline.Result, error) {
		if sessionID != "shopper" || question != "And the screen?" {
			t.Errorf("Ask(%q, %q)", sessionID, question)
		}
		return pipeline.Result{
			Answer:     "Reviewers say it lasts two days.",
			Standalone: "How is the screen on Phone X?",
			Rewritten:  true,
			Sources:    []domain.ScoredDocument{batteryDoc()},
		}, nil
	}

	rr := serve(env.handler, authReq(http.MethodPost, "/v1/ask", `{"session_id":"shopper","question":"And the screen?"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp AskResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Answer != "Reviewers say it lasts two days." || !resp.Rewritten || resp.StandaloneQuestion != "How is the screen on Phone X?" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("sources = %+v", resp.Sources)
	}
	src := resp.Sources[0]
	if src.ID != "doc-1" || src.ProductName != "Phone X" || src.Content != "Great battery life" || src.Score != 0.91 {
		t.Errorf("source = %+v", src)
	}
}

func TestAsk_InvalidBody(t *testing.T) {
	env := newTestEnv(t, testToken)
	rr := serve(env.handler, authReq(http.MethodPost, "/v1/ask", `{not json`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAsk_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"empty input", pipeline.ErrEmptyInput, http.StatusBadRequest, "invalid_request_error"},
		{"not ready", fmt.Errorf("retrieving: %w", domain.ErrNotReady), http.StatusConflict, "not_ready"},
		{"generation", domain.GenerationError("generate", errors.New("upstream 500")), http.StatusBadGateway, "generation_error"},
		{"store", domain.StoreUnavailable("append", errors.New("redis down")), http.StatusServiceUnavailable, "store_unavailable"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testToken)
			env.asker.askFn = func(context.Context, string, string) (pipeline.Result, error) {
				return pipeline.Result{}, tt.err
			}

			rr := serve(env.handler, authReq(http.MethodPost, "/v1/ask", `{"session_id":"s1","question":"q"}`, testToken))
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if got := decodeErrorType(t, rr); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.searcher.docs = []domain.ScoredDocument{batteryDoc()}

	rr := serve(env.handler, authReq(http.MethodGet, "/v1/search?q=battery&limit=5", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if env.searcher.gotQuery != "battery" || env.searcher.gotLimit != 5 {
		t.Errorf("Search(%q, %d)", env.searcher.gotQuery, env.searcher.gotLimit)
	}

	var resp SearchResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Results) != 1 || resp.Results[0].ProductName != "Phone X" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSearch_DefaultLimit(t *testing.T) {
	env := newTestEnv(t, testToken)
	serve(env.handler, authReq(http.MethodGet, "/v1/search?q=battery", "", testToken))
	if env.searcher.gotLimit != defaultSearchLimit {
		t.Errorf("limit = %d, want %d", env.searcher.gotLimit, defaultSearchLimit)
	}
}

func TestSearch_BadInput(t *testing.T) {
	env := newTestEnv(t, testToken)
	for _, url := range []string{"/v1/search", "/v1/search?q=battery&limit=0", "/v1/search?q=battery&limit=abc", "/v1/search?q=x&limit=1000"} {
		rr := serve(env.handler, authReq(http.MethodGet, url, "", testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want %d", url, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestSearch_NotReady(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.searcher.err = domain.ErrNotReady

	rr := serve(env.handler, authReq(http.MethodGet, "/v1/search?q=battery", "", testToken))
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestIngest(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.ingestor.res = ingest.Result{Ingested: 2, Skipped: 1}
	csvBody := "product_title,review\nPhone X,Great battery life\n"

	req := authReq(http.MethodPost, "/v1/ingest?fresh=true", csvBody, testToken)
	req.Header.Set("Content-Type", "text/csv")
	rr := serve(env.handler, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if env.ingestor.body != csvBody || !env.ingestor.fresh {
		t.Errorf("ingestor got body=%q fresh=%v", env.ingestor.body, env.ingestor.fresh)
	}
	var res ingest.Result
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Ingested != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngest_WrongContentType(t *testing.T) {
	env := newTestEnv(t, testToken)
	req := authReq(http.MethodPost, "/v1/ingest", `{"a":1}`, testToken)
	req.Header.Set("Content-Type", "application/json")

	rr := serve(env.handler, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnsupportedMediaType)
	}
}

func TestIngest_TooLarge(t *testing.T) {
	env := newTestEnv(t, testToken)
	big := strings.Repeat("a", maxIngestBodySize+1)
	req := authReq(http.MethodPost, "/v1/ingest", big, testToken)
	req.Header.Set("Content-Type", "text/csv")

	rr := serve(env.handler, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, testToken)
	ctx := context.Background()
	if err := env.sessions.Append(ctx, "shopper", domain.UserTurn("How is the battery?"), domain.AssistantTurn("Great.")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rr := serve(env.handler, authReq(http.MethodGet, "/v1/sessions/shopper", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp SessionResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.SessionID != "shopper" || len(resp.Turns) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Turns[0].Role != "user" || resp.Turns[1].Role != "assistant" {
		t.Errorf("turns = %+v", resp.Turns)
	}

	rr = serve(env.handler, authReq(http.MethodDelete, "/v1/sessions/shopper", "", testToken))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", rr.Code, http.StatusNoContent)
	}

	rr = serve(env.handler, authReq(http.MethodGet, "/v1/sessions/shopper", "", testToken))
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Turns) != 0 {
		t.Errorf("turns after delete = %+v, want none", resp.Turns)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testToken)
	serve(env.handler, authReq(http.MethodPost, "/v1/ask", `{"session_id":"s1","question":"q"}`, testToken))

	rr := serve(env.handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `reviewqa_http_requests_total{method="POST",route="/v1/ask",status="200"} 1`) {
		t.Errorf("metrics missing ask request:\n%s", body)
	}
}
