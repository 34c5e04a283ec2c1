//go:build cgo && sqlite_fts5

package syncer_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/MereWhiplash/gitmem/internal/capture"
	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/gitnotes"
	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/notecodec"
	"github.com/MereWhiplash/gitmem/internal/syncer"
	"github.com/MereWhiplash/gitmem/internal/types"
)

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
	if f.fail {
		return nil, types.Embedding(types.SubInference, "embedder down", nil)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }
func (f *fakeEmbedder) Close() error   { return nil }

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if err := cmd.Run(); err != nil {
			t.Fatalf("git %v failed: %v", args, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "initial"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if err := cmd.Run(); err != nil {
			t.Fatalf("git %v failed: %v", args, err)
		}
	}
	return dir
}

type fixture struct {
	eng   *syncer.Engine
	notes *gitnotes.Store
	idx   index.Store
	cfg   config.Config
	sha   string
}

func newFixture(t *testing.T, emb *fakeEmbedder) *fixture {
	t.Helper()
	repo := initRepo(t)

	notes, err := gitnotes.New(repo, "mem", 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	sha, err := notes.ResolveCommit(context.Background(), "HEAD")
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.EmbeddingDim = 4

	idx, err := index.NewSQLite(filepath.Join(cfg.DataDir, "index.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	return &fixture{
		eng:   syncer.New(notes, idx, emb, cfg, nil),
		notes: notes,
		idx:   idx,
		cfg:   cfg,
		sha:   sha,
	}
}

func (f *fixture) appendNote(t *testing.T, ns types.Namespace, summary string) {
	t.Helper()
	text, err := notecodec.Encode(notecodec.Meta{
		Namespace: ns,
		Timestamp: time.Now().UTC(),
		Summary:   summary,
	}, "body of "+summary)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.notes.Append(context.Background(), f.sha, text, ns); err != nil {
		t.Fatal(err)
	}
}

func TestIncrementalIngests(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{})
	ctx := context.Background()

	f.appendNote(t, types.NSDecisions, "first decision")

	report, err := f.eng.Incremental(ctx)
	if err != nil {
		t.Fatalf("Incremental failed: %v", err)
	}
	if report.Ingested != 1 {
		t.Errorf("expected 1 ingested, got %d", report.Ingested)
	}

	id := types.MemoryID(types.NSDecisions, f.sha, 0)
	m, err := f.idx.Get(ctx, id)
	if err != nil {
		t.Fatalf("indexed memory missing: %v", err)
	}
	if m.Summary != "first decision" {
		t.Errorf("unexpected summary %q", m.Summary)
	}

	// A second run sees nothing to do.
	report, err = f.eng.Incremental(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Ingested != 0 || report.Removed != 0 {
		t.Errorf("second sync should be a no-op, got %+v", report)
	}
	if report.Unchanged != 1 {
		t.Errorf("expected 1 unchanged, got %d", report.Unchanged)
	}
}

func TestIncrementalReprocessesChangedNote(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{})
	ctx := context.Background()

	f.appendNote(t, types.NSProgress, "step one")
	if _, err := f.eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}

	// Appending a block changes the note blob; the whole commit reingests.
	f.appendNote(t, types.NSProgress, "step two")
	report, err := f.eng.Incremental(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Ingested != 2 {
		t.Errorf("expected both blocks reingested, got %d", report.Ingested)
	}

	for ord := 0; ord < 2; ord++ {
		id := types.MemoryID(types.NSProgress, f.sha, ord)
		if _, err := f.idx.Get(ctx, id); err != nil {
			t.Errorf("ordinal %d missing after reingest: %v", ord, err)
		}
	}
}

func TestIncrementalPreservesLifecycleStatus(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{})
	ctx := context.Background()

	f.appendNote(t, types.NSBlockers, "flaky deploy")
	if _, err := f.eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}

	id := types.MemoryID(types.NSBlockers, f.sha, 0)
	if err := f.idx.UpdateStatus(ctx, id, types.StatusResolved); err != nil {
		t.Fatal(err)
	}

	// A new block changes the blob and forces a wholesale reingest. The
	// git header still says active; the index-side transition must survive.
	f.appendNote(t, types.NSBlockers, "deploy fixed")
	if _, err := f.eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}

	mem, err := f.idx.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if mem.Status != types.StatusResolved {
		t.Errorf("reingest clobbered status: got %q", mem.Status)
	}
}

func TestIncrementalRemovesDeletedNotes(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{})
	ctx := context.Background()

	f.appendNote(t, types.NSResearch, "to be removed")
	if _, err := f.eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}

	if err := f.notes.Remove(ctx, f.sha, types.NSResearch); err != nil {
		t.Fatal(err)
	}
	report, err := f.eng.Incremental(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Removed != 1 {
		t.Errorf("expected 1 removed, got %d", report.Removed)
	}

	id := types.MemoryID(types.NSResearch, f.sha, 0)
	if _, err := f.idx.Get(ctx, id); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected index row gone, got %v", err)
	}
}

func TestIncrementalEmbedDegraded(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{fail: true})
	ctx := context.Background()

	f.appendNote(t, types.NSLearnings, "flaky network lesson")

	report, err := f.eng.Incremental(ctx)
	if err != nil {
		t.Fatalf("sync must survive embedder outage: %v", err)
	}
	if report.Ingested != 1 || report.EmbedFailures != 1 {
		t.Errorf("expected 1 ingested with 1 embed failure, got %+v", report)
	}

	// Text search still works without a vector.
	results, err := f.idx.TextSearch(ctx, "flaky", 5, types.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected text hit, got %d", len(results))
	}
}

func TestIncrementalConsumesRepairHints(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{})
	ctx := context.Background()

	f.appendNote(t, types.NSDecisions, "hinted decision")
	if _, err := f.eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}

	repo := f.notes.RepoPath()
	writeHint(t, f.cfg.RepoDir(repo), capture.RepairHint{
		ID:        types.MemoryID(types.NSDecisions, f.sha, 0),
		RepoPath:  repo,
		Namespace: string(types.NSDecisions),
		CommitSHA: f.sha,
		Reason:    "index write failed",
		CreatedAt: time.Now().UTC(),
	})

	report, err := f.eng.Incremental(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.HintsConsumed != 1 {
		t.Errorf("expected 1 hint consumed, got %d", report.HintsConsumed)
	}
	// Forgetting the sync state forces the hinted commit through again.
	if report.Ingested != 1 {
		t.Errorf("expected hinted commit reingested, got %d", report.Ingested)
	}
}

func writeHint(t *testing.T, dir string, hint capture.RepairHint) {
	t.Helper()
	hintDir := filepath.Join(dir, "repair_hints")
	if err := os.MkdirAll(hintDir, 0o700); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(hint)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(hintDir, "hint.json"), data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFullReindexDropsStrayRows(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{})
	ctx := context.Background()

	f.appendNote(t, types.NSDecisions, "real decision")

	repo := f.notes.RepoPath()
	stray := types.Memory{
		ID:        types.MemoryID(types.NSDecisions, "deadbeef", 0),
		CommitSHA: "deadbeef",
		RepoPath:  repo,
		Namespace: types.NSDecisions,
		Summary:   "not in git",
		Timestamp: time.Now().UTC(),
		Status:    types.StatusActive,
	}
	if err := f.idx.Upsert(ctx, stray, nil); err != nil {
		t.Fatal(err)
	}

	report, err := f.eng.FullReindex(ctx)
	if err != nil {
		t.Fatalf("FullReindex failed: %v", err)
	}
	if report.Ingested != 1 {
		t.Errorf("expected 1 ingested, got %d", report.Ingested)
	}

	if _, err := f.idx.Get(ctx, stray.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected stray row wiped, got %v", err)
	}
	if _, err := f.idx.Get(ctx, types.MemoryID(types.NSDecisions, f.sha, 0)); err != nil {
		t.Errorf("expected real memory rebuilt: %v", err)
	}
}

func TestVerifyConsistency(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{})
	ctx := context.Background()

	f.appendNote(t, types.NSDecisions, "tracked decision")
	if _, err := f.eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}

	report, err := f.eng.VerifyConsistency(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean report, got %+v", report)
	}

	// Drop the index row behind the syncer's back.
	id := types.MemoryID(types.NSDecisions, f.sha, 0)
	if err := f.idx.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}

	report, err = f.eng.VerifyConsistency(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.InGitNotIndex != 1 {
		t.Errorf("expected 1 missing from index, got %+v", report)
	}
	if report.ByNamespace[string(types.NSDecisions)] != 1 {
		t.Errorf("expected namespace drift recorded, got %v", report.ByNamespace)
	}
}

func TestVerifyAndRepairConverges(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{})
	ctx := context.Background()

	f.appendNote(t, types.NSDecisions, "repairable decision")
	if _, err := f.eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}

	id := types.MemoryID(types.NSDecisions, f.sha, 0)
	if err := f.idx.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	// The sync state still claims this blob is indexed; forget it so the
	// repair pass reprocesses the commit.
	if err := f.idx.DeleteSyncState(ctx, f.notes.RepoPath(), types.NSDecisions, f.sha); err != nil {
		t.Fatal(err)
	}

	report, err := f.eng.VerifyAndRepair(ctx)
	if err != nil {
		t.Fatalf("VerifyAndRepair failed: %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected clean after repair, got %+v", report)
	}
	if _, err := f.idx.Get(ctx, id); err != nil {
		t.Errorf("expected memory restored: %v", err)
	}
}

func TestIncrementalSkipsBadBlocks(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{})
	ctx := context.Background()

	f.appendNote(t, types.NSDecisions, "good block")
	// Corrupt second block: front matter that will not parse.
	bad := "---\n: : :\n---\n"
	if err := f.notes.Append(ctx, f.sha, bad, types.NSDecisions); err != nil {
		t.Fatal(err)
	}

	report, err := f.eng.Incremental(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Ingested != 1 {
		t.Errorf("expected good block ingested, got %d", report.Ingested)
	}
	if report.SkippedBlocks != 1 {
		t.Errorf("expected 1 skipped block, got %d", report.SkippedBlocks)
	}
}
