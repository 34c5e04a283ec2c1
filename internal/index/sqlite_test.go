//go:build cgo && sqlite_fts5

package index_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/types"
)

const testDim = 4

func newStore(t *testing.T) index.Store {
	t.Helper()
	f, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	s, err := index.NewSQLite(f.Name(), testDim)
	if err != nil {
		t.Fatalf("failed to open index: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMemory(ns types.Namespace, sha string, ordinal int) types.Memory {
	return types.Memory{
		ID:        types.MemoryID(ns, sha, ordinal),
		CommitSHA: sha,
		RepoPath:  "/repo",
		Namespace: ns,
		Summary:   fmt.Sprintf("memory %s %d", sha, ordinal),
		Content:   "some body text",
		Timestamp: time.Now().UTC(),
		Status:    types.StatusActive,
	}
}

func vec(vals ...float32) []float32 {
	out := make([]float32, testDim)
	copy(out, vals)
	return out
}

func TestUpsertGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mem := testMemory(types.NSDecisions, "abc123", 0)
	mem.Spec = "auth"
	mem.Tags = []string{"jwt", "jwt", "security"}

	if err := s.Upsert(ctx, mem, vec(1)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.Get(ctx, mem.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Summary != mem.Summary {
		t.Errorf("expected summary %q, got %q", mem.Summary, got.Summary)
	}
	if got.Spec != "auth" {
		t.Errorf("expected spec auth, got %q", got.Spec)
	}
	if len(got.Tags) != 2 {
		t.Errorf("expected deduped tags, got %v", got.Tags)
	}
	if got.Status != types.StatusActive {
		t.Errorf("expected active status, got %q", got.Status)
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "decisions:none:0")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mem := testMemory(types.NSDecisions, "abc123", 0)
	if err := s.Upsert(ctx, mem, vec(1)); err != nil {
		t.Fatal(err)
	}
	mem.Summary = "updated summary"
	if err := s.Upsert(ctx, mem, vec(1)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, mem.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "updated summary" {
		t.Errorf("expected updated summary, got %q", got.Summary)
	}

	stats, err := s.Stats(ctx, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Errorf("expected 1 row after re-upsert, got %d", stats.Total)
	}
}

func TestKNN(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := testMemory(types.NSDecisions, "aaa111", 0)
	b := testMemory(types.NSLearnings, "bbb222", 0)
	if err := s.Upsert(ctx, a, vec(1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, b, vec(0, 1)); err != nil {
		t.Fatal(err)
	}

	results, err := s.KNN(ctx, vec(0.9, 0.1), 1, types.Filters{RepoPath: "/repo"})
	if err != nil {
		t.Fatalf("KNN failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != a.ID {
		t.Errorf("expected nearest %s, got %s", a.ID, results[0].ID)
	}
}

func TestKNNNamespaceFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := testMemory(types.NSDecisions, "aaa111", 0)
	b := testMemory(types.NSLearnings, "bbb222", 0)
	if err := s.Upsert(ctx, a, vec(1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, b, vec(0, 1)); err != nil {
		t.Fatal(err)
	}

	// Nearest overall is a, but the filter only admits learnings.
	results, err := s.KNN(ctx, vec(0.9, 0.1), 5, types.Filters{Namespace: types.NSLearnings})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != b.ID {
		t.Errorf("expected only %s, got %v", b.ID, results)
	}
}

func TestKNNHidesTombstones(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mem := testMemory(types.NSDecisions, "aaa111", 0)
	mem.Status = types.StatusTombstone
	if err := s.Upsert(ctx, mem, vec(1, 0)); err != nil {
		t.Fatal(err)
	}

	results, err := s.KNN(ctx, vec(1, 0), 5, types.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected tombstone hidden, got %d results", len(results))
	}

	// An explicit status filter surfaces it.
	results, err = s.KNN(ctx, vec(1, 0), 5, types.Filters{Status: types.StatusTombstone})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected tombstone visible with status filter, got %d", len(results))
	}
}

func TestTextSearch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mem := testMemory(types.NSDecisions, "aaa111", 0)
	mem.Summary = "Adopt pgvector for similarity"
	mem.Content = "The team index runs on postgres."
	if err := s.Upsert(ctx, mem, nil); err != nil {
		t.Fatal(err)
	}

	results, err := s.TextSearch(ctx, "pgvector", 5, types.Filters{})
	if err != nil {
		t.Fatalf("TextSearch failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	// Quoted FTS syntax must not be injectable.
	if _, err := s.TextSearch(ctx, `pgvector" OR "x`, 5, types.Filters{}); err != nil {
		t.Errorf("quoted query should not error: %v", err)
	}
}

func TestListFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mem := testMemory(types.NSProgress, "ccc333", i)
		mem.Spec = "auth"
		if err := s.Upsert(ctx, mem, nil); err != nil {
			t.Fatal(err)
		}
	}
	other := testMemory(types.NSDecisions, "ddd444", 0)
	if err := s.Upsert(ctx, other, nil); err != nil {
		t.Fatal(err)
	}

	mems, err := s.List(ctx, types.Filters{Namespace: types.NSProgress, Spec: "auth"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(mems) != 3 {
		t.Errorf("expected 3, got %d", len(mems))
	}

	mems, err = s.List(ctx, types.Filters{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(mems) != 2 {
		t.Errorf("expected limit 2, got %d", len(mems))
	}
}

func TestListTagFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mem := testMemory(types.NSLearnings, "eee555", 0)
	mem.Tags = []string{"flaky", "ci"}
	if err := s.Upsert(ctx, mem, nil); err != nil {
		t.Fatal(err)
	}
	plain := testMemory(types.NSLearnings, "fff666", 0)
	if err := s.Upsert(ctx, plain, nil); err != nil {
		t.Fatal(err)
	}

	mems, err := s.List(ctx, types.Filters{TagsAny: []string{"ci", "infra"}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(mems) != 1 || mems[0].ID != mem.ID {
		t.Errorf("expected only the tagged memory, got %v", mems)
	}
}

func TestListByCommitOrdinalOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Insert out of order.
	for _, ord := range []int{2, 0, 1} {
		if err := s.Upsert(ctx, testMemory(types.NSProgress, "abc123", ord), nil); err != nil {
			t.Fatal(err)
		}
	}

	mems, err := s.ListByCommit(ctx, "/repo", types.NSProgress, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if len(mems) != 3 {
		t.Fatalf("expected 3, got %d", len(mems))
	}
	for i, m := range mems {
		if m.ID != types.MemoryID(types.NSProgress, "abc123", i) {
			t.Errorf("position %d: got %s", i, m.ID)
		}
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mem := testMemory(types.NSBlockers, "abc123", 0)
	if err := s.Upsert(ctx, mem, nil); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateStatus(ctx, mem.ID, types.StatusResolved); err != nil {
		t.Fatalf("active -> resolved failed: %v", err)
	}
	if err := s.UpdateStatus(ctx, mem.ID, types.StatusArchived); err != nil {
		t.Fatalf("resolved -> archived failed: %v", err)
	}
	if err := s.UpdateStatus(ctx, mem.ID, types.StatusActive); err != nil {
		t.Fatalf("archived -> active restore failed: %v", err)
	}

	if err := s.UpdateStatus(ctx, mem.ID, types.StatusTombstone); err != nil {
		t.Fatalf("active -> tombstone failed: %v", err)
	}

	// Tombstones only exit back to active.
	err := s.UpdateStatus(ctx, mem.ID, types.StatusResolved)
	if err == nil {
		t.Fatal("expected illegal transition error")
	}
	if !types.IsKind(err, types.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err := s.UpdateStatus(ctx, mem.ID, types.StatusActive); err != nil {
		t.Fatalf("tombstone -> active restore failed: %v", err)
	}

	if err := s.UpdateStatus(ctx, "blockers:none:0", types.StatusResolved); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateContent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mem := testMemory(types.NSDecisions, "abc123", 0)
	mem.Content = "searchable original phrase"
	if err := s.Upsert(ctx, mem, nil); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateContent(ctx, mem.ID, "new summary", "replacement phrase"); err != nil {
		t.Fatalf("UpdateContent failed: %v", err)
	}

	got, err := s.Get(ctx, mem.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "new summary" || got.Content != "replacement phrase" {
		t.Errorf("content not updated: %+v", got)
	}

	// FTS follows the rewrite.
	results, err := s.TextSearch(ctx, "replacement", 5, types.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected rewritten text searchable, got %d results", len(results))
	}
	results, err = s.TextSearch(ctx, "original", 5, types.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected old text gone from fts, got %d results", len(results))
	}
}

func TestDeleteByCommit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Upsert(ctx, testMemory(types.NSProgress, "abc123", i), vec(1)); err != nil {
			t.Fatal(err)
		}
	}
	keep := testMemory(types.NSProgress, "def456", 0)
	if err := s.Upsert(ctx, keep, nil); err != nil {
		t.Fatal(err)
	}

	ids, err := s.DeleteByCommit(ctx, "/repo", types.NSProgress, "abc123")
	if err != nil {
		t.Fatalf("DeleteByCommit failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 deleted ids, got %v", ids)
	}
	if _, err := s.Get(ctx, ids[0]); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected deleted, got %v", err)
	}
	if _, err := s.Get(ctx, keep.ID); err != nil {
		t.Errorf("unrelated commit should survive: %v", err)
	}

	n, err := s.OrphanVectors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected no orphan vectors, got %d", n)
	}
}

func TestResetScopedToRepo(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mine := testMemory(types.NSDecisions, "abc123", 0)
	if err := s.Upsert(ctx, mine, vec(1)); err != nil {
		t.Fatal(err)
	}
	other := testMemory(types.NSDecisions, "def456", 0)
	other.RepoPath = "/elsewhere"
	other.ID = types.MemoryID(types.NSDecisions, "def456", 0)
	if err := s.Upsert(ctx, other, vec(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSyncState(ctx, "/repo", types.NSDecisions, "abc123", "blob1"); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(ctx, "/repo"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if _, err := s.Get(ctx, mine.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected repo rows gone, got %v", err)
	}
	if _, err := s.Get(ctx, other.ID); err != nil {
		t.Errorf("other repo should survive reset: %v", err)
	}

	state, err := s.SyncState(ctx, "/repo", types.NSDecisions)
	if err != nil {
		t.Fatal(err)
	}
	if len(state) != 0 {
		t.Errorf("expected sync state cleared, got %v", state)
	}
}

func TestSyncState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.SetSyncState(ctx, "/repo", types.NSDecisions, "abc123", "blob1"); err != nil {
		t.Fatal(err)
	}
	// Upsert semantics on the same commit.
	if err := s.SetSyncState(ctx, "/repo", types.NSDecisions, "abc123", "blob2"); err != nil {
		t.Fatal(err)
	}

	state, err := s.SyncState(ctx, "/repo", types.NSDecisions)
	if err != nil {
		t.Fatal(err)
	}
	if state["abc123"] != "blob2" {
		t.Errorf("expected blob2, got %q", state["abc123"])
	}

	if err := s.DeleteSyncState(ctx, "/repo", types.NSDecisions, "abc123"); err != nil {
		t.Fatal(err)
	}
	state, err = s.SyncState(ctx, "/repo", types.NSDecisions)
	if err != nil {
		t.Fatal(err)
	}
	if len(state) != 0 {
		t.Errorf("expected empty state, got %v", state)
	}
}

func TestGetBatchPreservesOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := testMemory(types.NSDecisions, "aaa111", 0)
	b := testMemory(types.NSDecisions, "bbb222", 0)
	for _, m := range []types.Memory{a, b} {
		if err := s.Upsert(ctx, m, nil); err != nil {
			t.Fatal(err)
		}
	}

	mems, err := s.GetBatch(ctx, []string{b.ID, "decisions:none:0", a.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(mems) != 2 {
		t.Fatalf("expected 2, got %d", len(mems))
	}
	if mems[0].ID != b.ID || mems[1].ID != a.ID {
		t.Errorf("order not preserved: %v", []string{mems[0].ID, mems[1].ID})
	}
}

func TestStats(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Upsert(ctx, testMemory(types.NSDecisions, "abc123", i), nil); err != nil {
			t.Fatal(err)
		}
	}
	l := testMemory(types.NSLearnings, "def456", 0)
	l.Spec = "auth"
	if err := s.Upsert(ctx, l, nil); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 {
		t.Errorf("expected total 3, got %d", stats.Total)
	}
	if stats.ByNamespace["decisions"] != 2 {
		t.Errorf("expected 2 decisions, got %d", stats.ByNamespace["decisions"])
	}
	if stats.BySpec["auth"] != 1 {
		t.Errorf("expected 1 auth, got %d", stats.BySpec["auth"])
	}
	if stats.LastCapture.IsZero() {
		t.Error("expected last capture set")
	}
}

func TestVerify(t *testing.T) {
	s := newStore(t)
	if err := s.Verify(context.Background()); err != nil {
		t.Errorf("Verify on healthy index failed: %v", err)
	}
}
