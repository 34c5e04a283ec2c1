// internal/api/handlers.go
// The API server fronts a shared team index (postgres). Captures stay
// local to each clone's git; this surface is for querying the pooled
// cache and adjusting lifecycle state.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MereWhiplash/gitmem/internal/embedder"
	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// Handlers holds HTTP handler dependencies
type Handlers struct {
	idx         index.Store
	emb         embedder.Embedder
	healthCheck func() error
}

// NewHandlers creates new API handlers
func NewHandlers(idx index.Store, emb embedder.Embedder) *Handlers {
	return &Handlers{idx: idx, emb: emb}
}

// SetHealthCheck installs a connectivity probe for /health.
func (h *Handlers) SetHealthCheck(fn func() error) {
	h.healthCheck = fn
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var typed *types.Error
	if errors.As(err, &typed) {
		resp.RecoveryAction = typed.RecoveryAction
	}
	h.respondJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case types.IsKind(err, types.KindValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.healthCheck != nil {
		if err := h.healthCheck(); err != nil {
			h.respondError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	h.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Search handles POST /v1/memories/search
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Query == "" {
		h.respondError(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	repo := req.Repo
	if repo == "" {
		repo = GetRepo(r.Context())
	}
	f := types.Filters{
		RepoPath:  repo,
		Namespace: types.Namespace(req.Type),
		Spec:      req.Spec,
		Status:    types.Status(req.Status),
		TagsAny:   req.Tags,
	}
	if req.SinceDays > 0 {
		f.Since = time.Now().AddDate(0, 0, -req.SinceDays)
	}

	var results []types.MemoryResult
	vec, err := h.emb.EmbedForSearch(req.Query)
	if err == nil {
		results, err = h.idx.KNN(r.Context(), vec, limit, f)
	} else {
		results, err = h.idx.TextSearch(r.Context(), req.Query, limit, f)
	}
	if err != nil {
		h.respondError(w, statusFor(err), err)
		return
	}
	if results == nil {
		results = []types.MemoryResult{}
	}
	h.respondJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// List handles GET /v1/memories
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		repo = GetRepo(r.Context())
	}
	f := types.Filters{
		RepoPath:  repo,
		Namespace: types.Namespace(r.URL.Query().Get("type")),
		Spec:      r.URL.Query().Get("spec"),
		Status:    types.Status(r.URL.Query().Get("status")),
	}

	memories, err := h.idx.List(r.Context(), f, limit)
	if err != nil {
		h.respondError(w, statusFor(err), err)
		return
	}
	if memories == nil {
		memories = []types.Memory{}
	}
	h.respondJSON(w, http.StatusOK, ListResponse{Memories: memories})
}

// Get handles GET /v1/memories/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mem, err := h.idx.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, statusFor(err), err)
		return
	}
	h.respondJSON(w, http.StatusOK, GetResponse{Memory: mem})
}

// UpdateStatus handles PUT /v1/memories/{id}/status
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	if err := h.idx.UpdateStatus(r.Context(), id, types.Status(req.Status)); err != nil {
		h.respondError(w, statusFor(err), err)
		return
	}
	h.respondJSON(w, http.StatusOK, StatusResponse{
		Message: "memory " + id + " is now " + req.Status,
	})
}

// Stats handles GET /v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		repo = GetRepo(r.Context())
	}
	stats, err := h.idx.Stats(r.Context(), repo)
	if err != nil {
		h.respondError(w, statusFor(err), err)
		return
	}
	h.respondJSON(w, http.StatusOK, StatsResponse{Stats: stats})
}
