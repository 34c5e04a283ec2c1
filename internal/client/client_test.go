package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MereWhiplash/gitmem/internal/api"
	"github.com/MereWhiplash/gitmem/internal/client"
	"github.com/MereWhiplash/gitmem/internal/gitinfo"
	"github.com/MereWhiplash/gitmem/internal/types"
)

func TestSearchSendsIdentityHeaders(t *testing.T) {
	var gotRepo, gotAuthor string
	var gotReq api.SearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRepo = r.Header.Get("X-Mem-Repo")
		gotAuthor = r.Header.Get("X-Mem-Author-Name")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(api.SearchResponse{Results: []types.MemoryResult{
			{Memory: types.Memory{ID: "decisions:abc123:0", Summary: "hit"}},
		}})
	}))
	defer srv.Close()

	c := client.New(srv.URL, &gitinfo.Info{
		AuthorName: "Dev",
		Repo:       "org/repo",
	})
	results, err := c.Search(context.Background(), "query", 3, "decisions", "auth", []string{"db"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "decisions:abc123:0" {
		t.Errorf("unexpected results %v", results)
	}
	if gotRepo != "org/repo" || gotAuthor != "Dev" {
		t.Errorf("identity headers missing: repo=%q author=%q", gotRepo, gotAuthor)
	}
	if gotReq.Query != "query" || gotReq.Limit != 3 || gotReq.Type != "decisions" {
		t.Errorf("unexpected request body %+v", gotReq)
	}
}

func TestListBuildsQuery(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		json.NewEncoder(w).Encode(api.ListResponse{Memories: []types.Memory{}})
	}))
	defer srv.Close()

	c := client.New(srv.URL, nil)
	if _, err := c.List(context.Background(), 10, "blockers", "auth flow", "active"); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, want := range []string{"limit=10", "type=blockers", "spec=auth+flow", "status=active"} {
		if !strings.Contains(gotURL, want) {
			t.Errorf("expected %q in %q", want, gotURL)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "memory not found"})
	}))
	defer srv.Close()

	c := client.New(srv.URL, nil)
	_, err := c.Get(context.Background(), "decisions:missing:0")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestErrorEnvelopeSurfacesRecovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(api.ErrorResponse{
			Error:          "illegal transition",
			RecoveryAction: "restore the memory first",
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, nil)
	err := c.UpdateStatus(context.Background(), "decisions:abc123:0", "active")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "illegal transition") ||
		!strings.Contains(err.Error(), "restore the memory first") {
		t.Errorf("expected message and recovery in error, got %q", err)
	}
}

func TestStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.StatsResponse{Stats: types.Stats{
			Total:       7,
			ByNamespace: map[string]int{"decisions": 3},
		}})
	}))
	defer srv.Close()

	c := client.New(srv.URL, nil)
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 7 || stats.ByNamespace["decisions"] != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
