package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MereWhiplash/gitmem/internal/config"
)

func TestDefault(t *testing.T) {
	c := config.Default()

	if c.GitPrefix != "mem" {
		t.Errorf("unexpected git prefix %q", c.GitPrefix)
	}
	if c.IndexDriver != "sqlite" {
		t.Errorf("unexpected driver %q", c.IndexDriver)
	}
	if c.EmbeddingDim != 384 {
		t.Errorf("unexpected dim %d", c.EmbeddingDim)
	}
	if c.DecayHalfLifeDays != 30 || c.ArchiveAfterDays != 90 || c.TombstoneAfterDays != 180 {
		t.Errorf("unexpected lifecycle windows %d/%d/%d",
			c.DecayHalfLifeDays, c.ArchiveAfterDays, c.TombstoneAfterDays)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GITMEM_DATA_DIR", "/tmp/gitmem-test")
	t.Setenv("GITMEM_INDEX_DRIVER", "postgres")
	t.Setenv("GITMEM_EMBEDDING_DIM", "768")
	t.Setenv("GITMEM_CAPTURE_LOCK_TIMEOUT_MS", "250")

	c := config.FromEnv()
	if c.DataDir != "/tmp/gitmem-test" {
		t.Errorf("unexpected data dir %q", c.DataDir)
	}
	if c.IndexDriver != "postgres" {
		t.Errorf("unexpected driver %q", c.IndexDriver)
	}
	if c.EmbeddingDim != 768 {
		t.Errorf("unexpected dim %d", c.EmbeddingDim)
	}
	if c.CaptureLockTimeout != 250*time.Millisecond {
		t.Errorf("unexpected lock timeout %v", c.CaptureLockTimeout)
	}
	// Untouched fields keep their defaults.
	if c.GitPrefix != "mem" {
		t.Errorf("unexpected git prefix %q", c.GitPrefix)
	}
}

func TestFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("GITMEM_EMBEDDING_DIM", "not-a-number")
	t.Setenv("GITMEM_GC_HORIZON_DAYS", "-5")

	c := config.FromEnv()
	if c.EmbeddingDim != 384 {
		t.Errorf("expected default dim kept, got %d", c.EmbeddingDim)
	}
	if c.GCHorizonDays != 365 {
		t.Errorf("expected default horizon kept, got %d", c.GCHorizonDays)
	}
}

func TestRepoDirSanitizes(t *testing.T) {
	c := config.Default()
	c.DataDir = "/data"

	dir := c.RepoDir("/home/dev/my repo")
	if strings.ContainsAny(strings.TrimPrefix(dir, "/data/repos/"), "/ ") {
		t.Errorf("expected sanitized key, got %q", dir)
	}
	if !strings.HasPrefix(dir, "/data/repos/") {
		t.Errorf("expected repo dir under data dir, got %q", dir)
	}

	if c.RepoDir("/a/b") == c.RepoDir("/a_c") {
		t.Error("distinct repos must map to distinct dirs")
	}
}

func TestNotesRef(t *testing.T) {
	c := config.Default()
	if ref := c.NotesRef("decisions"); ref != "refs/notes/mem/decisions" {
		t.Errorf("unexpected ref %q", ref)
	}
}
