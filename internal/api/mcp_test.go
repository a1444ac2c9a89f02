package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/pipeline"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(MCPDeps{Asker: &mockAsker{}, Searcher: &mockSearcher{}})
	if s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_AskReviews(t *testing.T) {
	asker := &mockAsker{askFn: func(_ context.Context, sessionID, question string) (pipeline.Result, error) {
		return pipeline.Result{
			Answer:     "Battery lasts two days.",
			Standalone: question,
			Sources:    []domain.ScoredDocument{batteryDoc()},
		}, nil
	}}
	handler := mcpAskReviews(MCPDeps{Asker: asker})

	result, err := handler(context.Background(), makeCallToolRequest("ask_reviews", map[string]interface{}{
		"session_id": "s1",
		"question":   "How is the battery?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var resp AskResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp.Answer != "Battery lasts two days." || len(resp.Sources) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestMCPTool_AskReviews_MissingArgs(t *testing.T) {
	handler := mcpAskReviews(MCPDeps{Asker: &mockAsker{}})

	for _, args := range []map[string]interface{}{
		{"question": "q"},
		{"session_id": "s1"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("ask_reviews", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected a tool error", args)
		}
	}
}

func TestMCPTool_AskReviews_NotReady(t *testing.T) {
	asker := &mockAsker{askFn: func(context.Context, string, string) (pipeline.Result, error) {
		return pipeline.Result{}, domain.ErrNotReady
	}}
	handler := mcpAskReviews(MCPDeps{Asker: asker})

	result, _ := handler(context.Background(), makeCallToolRequest("ask_reviews", map[string]interface{}{
		"session_id": "s1",
		"question":   "q",
	}))
	if !result.IsError {
		t.Fatal("expected a tool error")
	}
	if !strings.HasPrefix(toolText(t, result), "not_ready") {
		t.Errorf("text = %q", toolText(t, result))
	}
}

func TestMCPTool_SearchReviews(t *testing.T) {
	searcher := &mockSearcher{docs: []domain.ScoredDocument{batteryDoc()}}
	handler := mcpSearchReviews(MCPDeps{Searcher: searcher})

	result, err := handler(context.Background(), makeCallToolRequest("search_reviews", map[string]interface{}{
		"query": "battery",
		"limit": 2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if searcher.gotLimit != 2 {
		t.Errorf("limit = %d, want 2", searcher.gotLimit)
	}

	var sources []Source
	if err := json.Unmarshal([]byte(toolText(t, result)), &sources); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(sources) != 1 || sources[0].Content != "Great battery life" {
		t.Errorf("sources = %+v", sources)
	}
}

func TestMCPTool_SearchReviews_Empty(t *testing.T) {
	handler := mcpSearchReviews(MCPDeps{Searcher: &mockSearcher{}})

	result, _ := handler(context.Background(), makeCallToolRequest("search_reviews", map[string]interface{}{
		"query": "battery",
	}))
	if result.IsError || toolText(t, result) != "[]" {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPTool_SearchReviews_Error(t *testing.T) {
	searcher := &mockSearcher{err: domain.StoreUnavailable("search", errors.New("disk I/O error"))}
	handler := mcpSearchReviews(MCPDeps{Searcher: searcher})

	result, _ := handler(context.Background(), makeCallToolRequest("search_reviews", map[string]interface{}{
		"query": "battery",
	}))
	if !result.IsError || !strings.HasPrefix(toolText(t, result), "store_unavailable") {
		t.Errorf("result = %+v", result)
	}
}
