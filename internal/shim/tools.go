// internal/shim/tools.go
// The shim exposes the team API over MCP for clones that have no local
// index. Only the query surface is proxied; captures always go through
// the local git-backed server.
package shim

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/gitmem/internal/client"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// Handler holds shim dependencies
type Handler struct {
	client *client.Client
}

// NewHandler creates a new shim handler
func NewHandler(c *client.Client) *Handler {
	return &Handler{client: c}
}

// Input/Output types (same shapes as the tools package)
type SearchInput struct {
	Query string   `json:"query" jsonschema:"required"`
	Limit int      `json:"limit,omitempty"`
	Type  string   `json:"type,omitempty"`
	Spec  string   `json:"spec,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

type SearchOutput struct {
	Results []types.MemoryResult `json:"results"`
}

type RecentInput struct {
	Limit  int    `json:"limit,omitempty"`
	Type   string `json:"type,omitempty"`
	Spec   string `json:"spec,omitempty"`
	Status string `json:"status,omitempty"`
}

type RecentOutput struct {
	Memories []types.Memory `json:"memories"`
}

type StatusInput struct {
	ID     string `json:"id" jsonschema:"required"`
	Status string `json:"status" jsonschema:"required"`
}

type StatusOutput struct {
	Message string `json:"message"`
}

type StatsInput struct{}

type StatsOutput struct {
	Stats *types.Stats `json:"stats"`
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// Register adds the proxied tools to the MCP server
func Register(server *mcp.Server, h *Handler) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_search",
		Description: "Search team memories by semantic similarity",
	}, h.Search)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_recent",
		Description: "List recent team memories",
	}, h.Recent)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_set_status",
		Description: "Transition a memory's lifecycle status (resolve, archive, restore)",
	}, h.SetStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_status",
		Description: "Show team memory index statistics",
	}, h.Stats)
}

func (h *Handler) Search(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return errorResult("query is required"), SearchOutput{}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 5
	}

	results, err := h.client.Search(ctx, input.Query, limit, input.Type, input.Spec, input.Tags)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to search: %v", err)), SearchOutput{}, nil
	}

	if len(results) == 0 {
		return textResult("No matching memories found."), SearchOutput{Results: []types.MemoryResult{}}, nil
	}

	out, _ := json.MarshalIndent(results, "", "  ")
	return textResult(string(out)), SearchOutput{Results: results}, nil
}

func (h *Handler) Recent(ctx context.Context, req *mcp.CallToolRequest, input RecentInput) (*mcp.CallToolResult, RecentOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	memories, err := h.client.List(ctx, limit, input.Type, input.Spec, input.Status)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list: %v", err)), RecentOutput{}, nil
	}

	if len(memories) == 0 {
		return textResult("No memories found."), RecentOutput{Memories: []types.Memory{}}, nil
	}

	out, _ := json.MarshalIndent(memories, "", "  ")
	return textResult(string(out)), RecentOutput{Memories: memories}, nil
}

func (h *Handler) SetStatus(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	if input.ID == "" || input.Status == "" {
		return errorResult("id and status are required"), StatusOutput{}, nil
	}

	if err := h.client.UpdateStatus(ctx, input.ID, input.Status); err != nil {
		return errorResult(fmt.Sprintf("failed to update status: %v", err)), StatusOutput{}, nil
	}

	msg := fmt.Sprintf("Memory %s is now %s.", input.ID, input.Status)
	return textResult(msg), StatusOutput{Message: msg}, nil
}

func (h *Handler) Stats(ctx context.Context, req *mcp.CallToolRequest, input StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	stats, err := h.client.Stats(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to fetch stats: %v", err)), StatsOutput{}, nil
	}

	out, _ := json.MarshalIndent(stats, "", "  ")
	return textResult(string(out)), StatsOutput{Stats: stats}, nil
}
