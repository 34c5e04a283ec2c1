//go:build cgo && sqlite_fts5

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MereWhiplash/gitmem/internal/api"
	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/types"
)

const testRepo = "/repo"

type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) EmbedForStorage(text string) ([]float32, error) {
	if f.fail {
		return nil, types.Embedding(types.SubInference, "embedder down", nil)
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedForSearch(query string) ([]float32, error) {
	return f.EmbedForStorage(query)
}

func (f *fakeEmbedder) EmbedBatchForStorage(texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := f.EmbedForStorage(t)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }
func (f *fakeEmbedder) Close() error   { return nil }

func newRouter(t *testing.T, emb *fakeEmbedder) (*chi.Mux, index.Store, *api.Handlers) {
	t.Helper()
	idx, err := index.NewSQLite(filepath.Join(t.TempDir(), "index.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	h := api.NewHandlers(idx, emb)

	r := chi.NewRouter()
	r.Use(api.RequestID)
	r.Use(api.MaxBodySize)
	r.Use(api.RepoContext)
	r.Get("/health", h.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/memories", h.List)
		r.Post("/memories/search", h.Search)
		r.Get("/memories/{id}", h.Get)
		r.Put("/memories/{id}/status", h.UpdateStatus)
		r.Get("/stats", h.Stats)
	})
	return r, idx, h
}

func seed(t *testing.T, idx index.Store, ns types.Namespace, sha, summary string, vec []float32) types.Memory {
	t.Helper()
	m := types.Memory{
		ID:        types.MemoryID(ns, sha, 0),
		CommitSHA: sha,
		RepoPath:  testRepo,
		Namespace: ns,
		Summary:   summary,
		Content:   "body of " + summary,
		Timestamp: time.Now().UTC(),
		Status:    types.StatusActive,
	}
	if err := idx.Upsert(context.Background(), m, vec); err != nil {
		t.Fatal(err)
	}
	return m
}

func doRequest(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mem-Repo", testRepo)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, h := newRouter(t, &fakeEmbedder{})

	w := doRequest(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("unexpected status %q", resp.Status)
	}

	h.SetHealthCheck(func() error { return errors.New("db unreachable") })
	w = doRequest(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with failing probe, got %d", w.Code)
	}
}

func TestSearch(t *testing.T) {
	r, idx, _ := newRouter(t, &fakeEmbedder{})

	near := seed(t, idx, types.NSDecisions, "aaa111", "near decision", []float32{1, 0, 0, 0})
	seed(t, idx, types.NSDecisions, "bbb222", "far decision", []float32{0, 1, 0, 0})

	w := doRequest(t, r, http.MethodPost, "/v1/memories/search", api.SearchRequest{
		Query: "anything",
		Limit: 1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != near.ID {
		t.Errorf("expected nearest result, got %+v", resp.Results)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	r, _, _ := newRouter(t, &fakeEmbedder{})

	w := doRequest(t, r, http.MethodPost, "/v1/memories/search", api.SearchRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty query, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/memories/search", strings.NewReader("{not json"))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad body, got %d", w2.Code)
	}
}

func TestSearchTextFallback(t *testing.T) {
	r, idx, _ := newRouter(t, &fakeEmbedder{fail: true})

	seed(t, idx, types.NSLearnings, "aaa111", "pgvector migration lesson", nil)

	w := doRequest(t, r, http.MethodPost, "/v1/memories/search", api.SearchRequest{
		Query: "pgvector",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 via text fallback, got %d", w.Code)
	}
	var resp api.SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Errorf("expected 1 lexical hit, got %d", len(resp.Results))
	}
}

func TestSearchRejectsOversizedBody(t *testing.T) {
	r, _, _ := newRouter(t, &fakeEmbedder{})

	big := strings.Repeat("x", 300*1024)
	body, _ := json.Marshal(api.SearchRequest{Query: big})
	req := httptest.NewRequest(http.MethodPost, "/v1/memories/search", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized body, got %d", w.Code)
	}
}

func TestList(t *testing.T) {
	r, idx, _ := newRouter(t, &fakeEmbedder{})

	seed(t, idx, types.NSDecisions, "aaa111", "a decision", nil)
	seed(t, idx, types.NSProgress, "bbb222", "some progress", nil)

	w := doRequest(t, r, http.MethodGet, "/v1/memories?type=decisions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.ListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Memories) != 1 || resp.Memories[0].Namespace != types.NSDecisions {
		t.Errorf("expected only decisions, got %+v", resp.Memories)
	}
}

func TestListEmpty(t *testing.T) {
	r, _, _ := newRouter(t, &fakeEmbedder{})

	w := doRequest(t, r, http.MethodGet, "/v1/memories", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// Empty is an empty array, never null.
	if !strings.Contains(w.Body.String(), `"memories":[]`) {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestGet(t *testing.T) {
	r, idx, _ := newRouter(t, &fakeEmbedder{})

	m := seed(t, idx, types.NSDecisions, "aaa111", "fetchable", nil)

	w := doRequest(t, r, http.MethodGet, "/v1/memories/"+m.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.GetResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Memory.ID != m.ID {
		t.Errorf("unexpected memory %+v", resp.Memory)
	}

	w = doRequest(t, r, http.MethodGet, "/v1/memories/decisions:missing:0", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestUpdateStatus(t *testing.T) {
	r, idx, _ := newRouter(t, &fakeEmbedder{})

	m := seed(t, idx, types.NSBlockers, "aaa111", "a blocker", nil)

	w := doRequest(t, r, http.MethodPut, "/v1/memories/"+m.ID+"/status",
		api.StatusRequest{Status: "resolved"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, err := idx.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusResolved {
		t.Errorf("expected resolved, got %q", got.Status)
	}

	// Illegal transition surfaces as a client error with recovery advice.
	w = doRequest(t, r, http.MethodPut, "/v1/memories/"+m.ID+"/status",
		api.StatusRequest{Status: "active"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for illegal transition, got %d", w.Code)
	}
	var resp api.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" {
		t.Error("expected error message in envelope")
	}

	w = doRequest(t, r, http.MethodPut, "/v1/memories/blockers:none:0/status",
		api.StatusRequest{Status: "resolved"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	r, idx, _ := newRouter(t, &fakeEmbedder{})

	seed(t, idx, types.NSDecisions, "aaa111", "a decision", nil)
	seed(t, idx, types.NSProgress, "bbb222", "some progress", nil)

	w := doRequest(t, r, http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Stats.Total != 2 {
		t.Errorf("expected 2 memories, got %d", resp.Stats.Total)
	}
	if resp.Stats.ByNamespace["decisions"] != 1 {
		t.Errorf("unexpected namespace counts %v", resp.Stats.ByNamespace)
	}
}
