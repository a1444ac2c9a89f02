package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/kalambet/reviewqa/internal/api"
	"github.com/kalambet/reviewqa/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with the mapped JSON body. An
// empty body answers 204.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			if resp == "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func withNoColor(t *testing.T) {
	t.Helper()
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
}

const askResponse = `{"answer":"The screen scratches easily.","standalone_question":"How is the screen on Phone X?","rewritten":true,` +
	`"sources":[{"id":"d1","product_name":"Phone X","content":"Screen cracked easily","score":0.82}]}`

func TestAskOnce(t *testing.T) {
	withNoColor(t)
	ts := newTestServer(t, map[string]string{"POST /v1/ask": askResponse})

	var out bytes.Buffer
	if err := askOnce(ctx, ts.client(), &out, "shopper", "And the screen?", true); err != nil {
		t.Fatalf("askOnce: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"(How is the screen on Phone X?)",
		"The screen scratches easily.",
		"Phone X [score: 0.820]",
		"Screen cracked easily",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["session_id"] != "shopper" || body["question"] != "And the screen?" {
		t.Errorf("body = %v", body)
	}
}

func TestAskOnce_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"message":"document store not ready","type":"not_ready"}}`))
	}))
	t.Cleanup(srv.Close)
	client := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}

	err := askOnce(ctx, client, &bytes.Buffer{}, "s1", "q", false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not_ready") || !strings.Contains(err.Error(), "409") {
		t.Errorf("error = %q", err)
	}
}

func TestREPL_KeepsSession(t *testing.T) {
	withNoColor(t)
	ts := newTestServer(t, map[string]string{"POST /v1/ask": askResponse})

	in := strings.NewReader("How is the battery?\n\nAnd the screen?\nexit\nnever sent\n")
	var out bytes.Buffer
	if err := repl(ctx, ts.client(), in, &out, "shopper", false); err != nil {
		t.Fatalf("repl: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	for _, r := range ts.requests {
		var body map[string]string
		json.Unmarshal([]byte(r.Body), &body)
		if body["session_id"] != "shopper" {
			t.Errorf("session_id = %q, want shopper", body["session_id"])
		}
	}
}

func TestREPL_EOF(t *testing.T) {
	ts := newTestServer(t, map[string]string{"POST /v1/ask": askResponse})

	if err := repl(ctx, ts.client(), strings.NewReader("one question"), &bytes.Buffer{}, "s1", false); err != nil {
		t.Fatalf("repl: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Errorf("expected 1 request, got %d", len(ts.requests))
	}
}

func TestSearchCommand_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/search": `{"query":"battery & charging","results":[]}`,
	})

	client := ts.client()
	path := "/v1/search?q=" + url.QueryEscape("battery & charging") + "&limit=3"
	resp, err := client.get(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	got, err := url.ParseQuery(strings.SplitN(ts.requests[0].Path, "?", 2)[1])
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	if got.Get("q") != "battery & charging" {
		t.Errorf("q = %q", got.Get("q"))
	}
}

func TestShowSession(t *testing.T) {
	withNoColor(t)
	ts := newTestServer(t, map[string]string{
		"GET /v1/sessions/shopper": `{"session_id":"shopper","turns":[{"role":"user","text":"How is the battery?"},{"role":"assistant","text":"Great."}]}`,
	})

	var out bytes.Buffer
	if err := showSession(ctx, ts.client(), &out, "shopper"); err != nil {
		t.Fatalf("showSession: %v", err)
	}
	want := "user: How is the battery?\nassistant: Great.\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestSessionClear_NoContent(t *testing.T) {
	ts := newTestServer(t, map[string]string{"DELETE /v1/sessions/shopper": ""})

	resp, err := ts.client().delete(ctx, "/v1/sessions/shopper")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := decodeJSON(resp, nil); err != nil {
		t.Errorf("decodeJSON on 204: %v", err)
	}
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error when no file is given")
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	c := ts.client()
	c.token = ""

	resp, err := c.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want none", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	resp, err := ts.client().get(ctx, "/nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.OpenAI.APIKey = "gsk-secret"
	cfg.Models.Chat = "llama3.1"

	var sawChat bool
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "openai.api_key" && strings.Contains(k.Value, "gsk-secret") {
			t.Error("secret value should be masked")
		}
		if k.Key == "models.chat" && k.Value == "llama3.1" {
			sawChat = true
		}
	}
	if !sawChat {
		t.Error("models.chat not shown")
	}
}

func TestPrintAnswer_ShowsRewriteOnlyWhenChanged(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	printAnswer(&buf, api.AskResponse{Answer: "Battery lasts two days.", StandaloneQuestion: "How is the battery?"})
	if got := buf.String(); got != "Battery lasts two days.\n" {
		t.Errorf("output = %q", got)
	}

	buf.Reset()
	printAnswer(&buf, api.AskResponse{Answer: "Yes.", StandaloneQuestion: "Is the Phone X screen good?", Rewritten: true})
	if got := buf.String(); got != "(Is the Phone X screen good?)\nYes.\n" {
		t.Errorf("output = %q", got)
	}
}

func TestPrintSources_TruncatesLongReviews(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	printSources(&buf, []api.Source{{ProductName: "Phone X", Content: strings.Repeat("a", sourceExcerptLen+50), Score: 0.9}})
	out := buf.String()
	if !strings.Contains(out, "[1] Phone X [score: 0.900]") {
		t.Errorf("missing header in %q", out)
	}
	if !strings.Contains(out, strings.Repeat("a", sourceExcerptLen)+"...") || strings.Contains(out, strings.Repeat("a", sourceExcerptLen+1)) {
		t.Errorf("review not truncated: %q", out)
	}
}
