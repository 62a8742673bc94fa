// Package mcpserver exposes the memory engine as MCP tools over stdio, so
// agent runtimes can store and recall memories without the HTTP API.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lazypower/engram/internal/memory"
)

// Server wraps the mcp-go server with the engram tool set.
type Server struct {
	mcpServer *server.MCPServer
	engine    *memory.Engine
}

// New creates an MCP server with every engram tool registered.
func New(engine *memory.Engine, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Engram",
			version,
			server.WithToolCapabilities(true),
		),
		engine: engine,
	}

	s.mcpServer.AddTool(newStoreTool(), s.handleStore)
	s.mcpServer.AddTool(newRecallTool(), s.handleRecall)
	s.mcpServer.AddTool(newForgetTool(), s.handleForget)
	s.mcpServer.AddTool(newContextTool(), s.handleContext)

	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func newStoreTool() mcp.Tool {
	return mcp.NewTool("engram_store",
		mcp.WithDescription("Store a memory. Omit 'id' to create; pass an existing id to update that memory in place."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The information to remember"),
		),
		mcp.WithString("id",
			mcp.Description("Existing memory id to update"),
		),
		mcp.WithString("kind",
			mcp.Description("Memory kind: fact, entity, relationship, or self"),
		),
		mcp.WithNumber("importance",
			mcp.Description("Explicit importance 0-10; omitted means scored from content"),
		),
		mcp.WithArray("entities",
			mcp.Description("Entity names this memory involves"),
		),
		mcp.WithArray("tags",
			mcp.Description("Free-form labels"),
		),
		mcp.WithNumber("ttl_days",
			mcp.Description("Lifetime in days; omitted means derived from importance"),
		),
		mcp.WithString("context",
			mcp.Description("Why this is being stored, for the audit trail"),
		),
	)
}

func (s *Server) handleStore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	params := memory.StoreParams{
		ID:         request.GetString("id", ""),
		Content:    content,
		Kind:       request.GetString("kind", ""),
		Entities:   request.GetStringSlice("entities", nil),
		Tags:       request.GetStringSlice("tags", nil),
		Provenance: "mcp",
		Context:    request.GetString("context", ""),
	}
	if imp := request.GetFloat("importance", -1); imp >= 0 {
		params.Importance = &imp
	}
	if ttl := request.GetFloat("ttl_days", 0); ttl > 0 {
		params.TTLDays = &ttl
	}

	rec, ents, err := s.engine.Store(params)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	names := make([]string, len(ents))
	for i, e := range ents {
		names[i] = e.Name
	}
	return jsonResult(map[string]any{
		"id":         rec.ID,
		"kind":       rec.Kind,
		"importance": rec.Importance,
		"summary":    rec.Summary,
		"expires_at": rec.ExpiresAt,
		"entities":   names,
	})
}

func newRecallTool() mcp.Tool {
	return mcp.NewTool("engram_recall",
		mcp.WithDescription("Search memories. Returns a complete lightweight index of matches plus full details for as many top results as fit the token budget."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text search query"),
		),
		mcp.WithString("kind",
			mcp.Description("Restrict to one kind: fact, entity, relationship, or self"),
		),
		mcp.WithArray("entities",
			mcp.Description("Restrict to memories linked to any of these entity names"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum matches to rank (1-50, default 20)"),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Token budget for the response (100-5000, default 1000)"),
		),
	)
}

func (s *Server) handleRecall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.engine.Recall(memory.RecallRequest{
		Query:     query,
		Kind:      request.GetString("kind", ""),
		Entities:  request.GetStringSlice("entities", nil),
		Limit:     int(request.GetFloat("limit", 0)),
		MaxTokens: int(request.GetFloat("max_tokens", 0)),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func newForgetTool() mcp.Tool {
	return mcp.NewTool("engram_forget",
		mcp.WithDescription("Soft-delete a memory. It disappears from recall but stays recoverable until pruned."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory id to forget"),
		),
		mcp.WithString("reason",
			mcp.Description("Why the memory is being forgotten"),
		),
	)
}

func (s *Server) handleForget(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.engine.Forget(id, request.GetString("reason", ""), "mcp")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func newContextTool() mcp.Tool {
	return mcp.NewTool("engram_context",
		mcp.WithDescription("List the hottest memories for session startup, ranked without a query. Does not count as access."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries to return (default 20)"),
		),
	)
}

func (s *Server) handleContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.engine.HotContext(int(request.GetFloat("limit", 0)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
