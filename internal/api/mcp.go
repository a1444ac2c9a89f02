package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Asker    Asker
	Searcher Searcher
	Version  string
}

// NewMCPServer creates an MCP server exposing the review assistant as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"reviewqa",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("reviewqa answers product questions from customer reviews. "+
			"Reuse the same session_id to ask follow-up questions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_reviews",
			mcp.WithDescription("Ask a product question. Answers are grounded in customer reviews and remember earlier questions in the same session."),
			mcp.WithString("session_id", mcp.Description("Conversation id; reuse it for follow-up questions"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAskReviews(deps),
	)

	s.AddTool(
		mcp.NewTool("search_reviews",
			mcp.WithDescription("Return the customer reviews most similar to a query, without generating an answer."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpSearchReviews(deps),
	)

	return s
}

func mcpAskReviews(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		res, err := deps.Asker.Ask(ctx, sessionID, question)
		if err != nil {
			_, errType := errorStatus(err)
			return mcpError(fmt.Sprintf("%s: %v", errType, err)), nil
		}

		b, err := json.Marshal(AskResponse{
			Answer:             res.Answer,
			StandaloneQuestion: res.Standalone,
			Rewritten:          res.Rewritten,
			Sources:            toSources(res.Sources),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchReviews(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", defaultSearchLimit)
		if limit <= 0 || limit > maxSearchLimit {
			limit = defaultSearchLimit
		}

		docs, err := deps.Searcher.Search(ctx, query, limit)
		if err != nil {
			_, errType := errorStatus(err)
			return mcpError(fmt.Sprintf("%s: %v", errType, err)), nil
		}
		if len(docs) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(toSources(docs))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
