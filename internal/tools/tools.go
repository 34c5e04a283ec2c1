package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/gitmem/internal/capture"
	"github.com/MereWhiplash/gitmem/internal/recall"
	"github.com/MereWhiplash/gitmem/internal/service"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// Handler holds dependencies for tool handlers
type Handler struct {
	svc *service.Service
}

// CaptureInput defines the input schema for mem_capture
type CaptureInput struct {
	Type      string   `json:"type" jsonschema:"required" jsonschema_description:"Namespace: inception, elicitation, research, decisions, progress, blockers, reviews, learnings, retrospective, or patterns"`
	Summary   string   `json:"summary" jsonschema:"required" jsonschema_description:"One-line summary, at most 100 characters"`
	Content   string   `json:"content,omitempty" jsonschema_description:"Markdown body with the full detail"`
	Spec      string   `json:"spec,omitempty" jsonschema_description:"Spec or project slug this memory belongs to"`
	Phase     string   `json:"phase,omitempty" jsonschema_description:"Workflow phase (e.g. design, implement, review)"`
	Tags      []string `json:"tags,omitempty" jsonschema_description:"Free-form tags"`
	RelatesTo []string `json:"relates_to,omitempty" jsonschema_description:"Ids of related memories"`
	Commit    string   `json:"commit,omitempty" jsonschema_description:"Commit ref to attach to (default HEAD)"`
}

// CaptureOutput defines the output schema for mem_capture
type CaptureOutput struct {
	Result types.CaptureResult `json:"result"`
}

// SearchInput defines the input schema for mem_search
type SearchInput struct {
	Query     string   `json:"query" jsonschema:"required" jsonschema_description:"Search query to find relevant memories"`
	Limit     int      `json:"limit,omitempty" jsonschema_description:"Maximum number of results (default: 5)"`
	Type      string   `json:"type,omitempty" jsonschema_description:"Filter by namespace"`
	Spec      string   `json:"spec,omitempty" jsonschema_description:"Filter by spec slug"`
	Status    string   `json:"status,omitempty" jsonschema_description:"Filter by lifecycle status"`
	Tags      []string `json:"tags,omitempty" jsonschema_description:"Match memories carrying any of these tags"`
	SinceDays int      `json:"since_days,omitempty" jsonschema_description:"Only memories captured in the last N days"`
}

// SearchOutput defines the output schema for mem_search
type SearchOutput struct {
	Results []types.MemoryResult `json:"results"`
}

// RecallInput defines the input schema for mem_recall
type RecallInput struct {
	IDs   []string `json:"ids" jsonschema:"required" jsonschema_description:"Memory ids to hydrate"`
	Level string   `json:"level,omitempty" jsonschema_description:"Hydration level: summary, full, or files (default: full)"`
}

// RecallOutput defines the output schema for mem_recall
type RecallOutput struct {
	Memories []types.HydratedMemory `json:"memories"`
}

// RecentInput defines the input schema for mem_recent
type RecentInput struct {
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum number of results (default: 10)"`
	Type  string `json:"type,omitempty" jsonschema_description:"Filter by namespace"`
	Spec  string `json:"spec,omitempty" jsonschema_description:"Filter by spec slug"`
}

// RecentOutput defines the output schema for mem_recent
type RecentOutput struct {
	Memories []types.Memory `json:"memories"`
}

// ContextInput defines the input schema for mem_context
type ContextInput struct {
	Spec  string `json:"spec" jsonschema:"required" jsonschema_description:"Spec slug to assemble working context for"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Entries per section (default: 5)"`
}

// ContextOutput defines the output schema for mem_context
type ContextOutput struct {
	Context recall.ContextBundle `json:"context"`
}

// SyncInput defines the input schema for mem_sync
type SyncInput struct {
	Full bool `json:"full,omitempty" jsonschema_description:"Rebuild the index from scratch instead of diffing"`
}

// SyncOutput defines the output schema for mem_sync
type SyncOutput struct {
	Ingested int `json:"ingested"`
	Removed  int `json:"removed"`
}

// StatusInput defines the input schema for mem_status
type StatusInput struct{}

// StatusOutput defines the output schema for mem_status
type StatusOutput struct {
	Stats       types.Stats              `json:"stats"`
	Consistency types.VerificationReport `json:"consistency"`
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

// Register adds all memory tools to the MCP server
func Register(server *mcp.Server, svc *service.Service) {
	h := &Handler{svc: svc}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_capture",
		Description: "Capture a memory onto the current commit's git note",
	}, h.Capture)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_search",
		Description: "Search memories by semantic similarity with text fallback",
	}, h.Search)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_recall",
		Description: "Hydrate memories by id, optionally with file snapshots",
	}, h.Recall)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_recent",
		Description: "List the most recently captured memories",
	}, h.Recent)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_context",
		Description: "Assemble the working context for a spec: decisions, blockers, progress, learnings",
	}, h.Context)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_sync",
		Description: "Reconcile the index with git notes",
	}, h.Sync)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mem_status",
		Description: "Report index stats and git/index consistency",
	}, h.Status)
}

func (h *Handler) Capture(ctx context.Context, req *mcp.CallToolRequest, input CaptureInput) (*mcp.CallToolResult, CaptureOutput, error) {
	if input.Type == "" || input.Summary == "" {
		return errorResult("type and summary are required"), CaptureOutput{}, nil
	}

	result, err := h.svc.Capture.Capture(ctx, capture.Request{
		Namespace: types.Namespace(input.Type),
		Summary:   input.Summary,
		Content:   input.Content,
		Spec:      input.Spec,
		Phase:     input.Phase,
		Tags:      input.Tags,
		RelatesTo: input.RelatesTo,
		Commit:    input.Commit,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("capture failed: %v", err)), CaptureOutput{}, nil
	}

	msg := fmt.Sprintf("Captured %s", result.ID)
	if result.Warning != "" {
		msg += " (warning: " + result.Warning + ")"
	}
	return textResult(msg), CaptureOutput{Result: result}, nil
}

func (h *Handler) Search(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return errorResult("query is required"), SearchOutput{}, nil
	}

	f := types.Filters{
		RepoPath:  h.svc.RepoPath(),
		Namespace: types.Namespace(input.Type),
		Spec:      input.Spec,
		Status:    types.Status(input.Status),
		TagsAny:   input.Tags,
	}
	if input.SinceDays > 0 {
		f.Since = time.Now().AddDate(0, 0, -input.SinceDays)
	}

	results, err := h.svc.Recall.Search(ctx, input.Query, input.Limit, f)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), SearchOutput{}, nil
	}
	if len(results) == 0 {
		return textResult("No matching memories found."), SearchOutput{Results: []types.MemoryResult{}}, nil
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to format response: %v", err)), SearchOutput{}, nil
	}
	return textResult(string(out)), SearchOutput{Results: results}, nil
}

func (h *Handler) Recall(ctx context.Context, req *mcp.CallToolRequest, input RecallInput) (*mcp.CallToolResult, RecallOutput, error) {
	if len(input.IDs) == 0 {
		return errorResult("ids is required"), RecallOutput{}, nil
	}

	level := types.HydrateFull
	switch input.Level {
	case "", "full":
	case "summary":
		level = types.HydrateSummary
	case "files":
		level = types.HydrateFiles
	default:
		return errorResult("level must be summary, full, or files"), RecallOutput{}, nil
	}

	mems, err := h.svc.Recall.Hydrate(ctx, input.IDs, level)
	if err != nil {
		return errorResult(fmt.Sprintf("recall failed: %v", err)), RecallOutput{}, nil
	}

	out, err := json.MarshalIndent(mems, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to format response: %v", err)), RecallOutput{}, nil
	}
	return textResult(string(out)), RecallOutput{Memories: mems}, nil
}

func (h *Handler) Recent(ctx context.Context, req *mcp.CallToolRequest, input RecentInput) (*mcp.CallToolResult, RecentOutput, error) {
	mems, err := h.svc.Recall.Recent(ctx, types.Filters{
		RepoPath:  h.svc.RepoPath(),
		Namespace: types.Namespace(input.Type),
		Spec:      input.Spec,
	}, input.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list: %v", err)), RecentOutput{}, nil
	}
	if len(mems) == 0 {
		return textResult("No memories found."), RecentOutput{Memories: []types.Memory{}}, nil
	}

	out, err := json.MarshalIndent(mems, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to format response: %v", err)), RecentOutput{}, nil
	}
	return textResult(string(out)), RecentOutput{Memories: mems}, nil
}

func (h *Handler) Context(ctx context.Context, req *mcp.CallToolRequest, input ContextInput) (*mcp.CallToolResult, ContextOutput, error) {
	if input.Spec == "" {
		return errorResult("spec is required"), ContextOutput{}, nil
	}

	bundle, err := h.svc.Recall.Context(ctx, input.Spec, input.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("context failed: %v", err)), ContextOutput{}, nil
	}

	out, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to format response: %v", err)), ContextOutput{}, nil
	}
	return textResult(string(out)), ContextOutput{Context: bundle}, nil
}

func (h *Handler) Sync(ctx context.Context, req *mcp.CallToolRequest, input SyncInput) (*mcp.CallToolResult, SyncOutput, error) {
	report, err := h.svc.Sync(ctx, input.Full)
	if err != nil {
		return errorResult(fmt.Sprintf("sync failed: %v", err)), SyncOutput{}, nil
	}
	msg := fmt.Sprintf("Sync complete: %d ingested, %d removed, %d unchanged",
		report.Ingested, report.Removed, report.Unchanged)
	return textResult(msg), SyncOutput{Ingested: report.Ingested, Removed: report.Removed}, nil
}

func (h *Handler) Status(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	stats, consistency, err := h.svc.Status(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("status failed: %v", err)), StatusOutput{}, nil
	}

	out, err := json.MarshalIndent(StatusOutput{Stats: stats, Consistency: consistency}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to format response: %v", err)), StatusOutput{}, nil
	}
	return textResult(string(out)), StatusOutput{Stats: stats, Consistency: consistency}, nil
}
