// internal/api/types.go
package api

import "github.com/MereWhiplash/gitmem/internal/types"

// SearchRequest is the body of POST /v1/memories/search.
type SearchRequest struct {
	Query     string   `json:"query"`
	Limit     int      `json:"limit,omitempty"`
	Type      string   `json:"type,omitempty"`
	Spec      string   `json:"spec,omitempty"`
	Status    string   `json:"status,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Repo      string   `json:"repo,omitempty"`
	SinceDays int      `json:"since_days,omitempty"`
}

// SearchResponse carries ranked results.
type SearchResponse struct {
	Results []types.MemoryResult `json:"results"`
}

// ListResponse carries a plain listing.
type ListResponse struct {
	Memories []types.Memory `json:"memories"`
}

// GetResponse carries one memory.
type GetResponse struct {
	Memory types.Memory `json:"memory"`
}

// StatusRequest is the body of PUT /v1/memories/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// StatusResponse confirms a lifecycle transition.
type StatusResponse struct {
	Message string `json:"message"`
}

// StatsResponse carries index stats.
type StatsResponse struct {
	Stats types.Stats `json:"stats"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error          string `json:"error"`
	RecoveryAction string `json:"recovery_action,omitempty"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status string `json:"status"`
}
