// internal/index/index.go
// Package index is the derived query cache over the git-notes store. It is
// rebuildable at any time: losing it loses no data, only query speed. Both
// backends keep scalar rows, vectors, and the text index in the same store
// so a single transaction covers all three.
package index

import (
	"context"
	"fmt"

	"github.com/MereWhiplash/gitmem/internal/types"
)

// BatchChunk caps how many entries one transaction ingests.
const BatchChunk = 1000

// Entry pairs a memory with its (optional) embedding for ingestion.
type Entry struct {
	Memory    types.Memory
	Embedding []float32
}

// Store is the index contract. Implementations must keep scalar, vector
// and text state consistent: an Upsert that commits leaves all three
// representations updated.
type Store interface {
	// Upsert inserts or replaces one memory. A nil embedding indexes the
	// memory for scalar and text queries only.
	Upsert(ctx context.Context, mem types.Memory, embedding []float32) error

	// UpsertBatch ingests entries in chunks of at most BatchChunk per
	// transaction, reporting how many were written.
	UpsertBatch(ctx context.Context, entries []Entry) (int, error)

	// Get returns one memory by id, or types.ErrNotFound.
	Get(ctx context.Context, id string) (types.Memory, error)

	// GetBatch returns the memories that exist among ids, preserving the
	// requested order. Missing ids are skipped, not errors.
	GetBatch(ctx context.Context, ids []string) ([]types.Memory, error)

	// KNN returns up to k nearest memories by vector distance, after
	// filtering. Tombstoned memories are excluded unless the filter names
	// them explicitly.
	KNN(ctx context.Context, embedding []float32, k int, f types.Filters) ([]types.MemoryResult, error)

	// TextSearch is the lexical fallback used when no embedding is
	// available. Distance is a relevance rank, lower is better.
	TextSearch(ctx context.Context, query string, k int, f types.Filters) ([]types.MemoryResult, error)

	// List returns memories matching the filter, newest first.
	List(ctx context.Context, f types.Filters, limit int) ([]types.Memory, error)

	// ListByCommit returns a commit's memories in one namespace, ordinal
	// order.
	ListByCommit(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) ([]types.Memory, error)

	// UpdateStatus moves a memory to a new lifecycle state. The transition
	// must be legal per types.Status.CanTransitionTo.
	UpdateStatus(ctx context.Context, id string, status types.Status) error

	// UpdateContent replaces summary and content, used by archival
	// compression and tombstoning.
	UpdateContent(ctx context.Context, id, summary, content string) error

	// Delete removes a memory and its vector and text entries.
	Delete(ctx context.Context, id string) error

	// DeleteByCommit removes all memories of (repo, namespace, commit) and
	// returns the ids removed.
	DeleteByCommit(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) ([]string, error)

	// Reset drops all memories and sync state for a repo, the first step
	// of a full reindex.
	Reset(ctx context.Context, repoPath string) error

	// OrphanVectors counts vector rows with no backing memory row.
	OrphanVectors(ctx context.Context) (int, error)

	// Stats summarizes the index for one repo ("" for all).
	Stats(ctx context.Context, repoPath string) (types.Stats, error)

	// Verify runs a storage-level integrity check and returns a corrupt
	// index error with a rebuild recovery action on failure.
	Verify(ctx context.Context) error

	// SyncState returns commit sha to note blob sha for a namespace, the
	// bookkeeping incremental sync diffs against.
	SyncState(ctx context.Context, repoPath string, ns types.Namespace) (map[string]string, error)

	// SetSyncState records that a commit's note blob has been ingested.
	SetSyncState(ctx context.Context, repoPath string, ns types.Namespace, commitSHA, blobSHA string) error

	// DeleteSyncState forgets a commit's sync record.
	DeleteSyncState(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) error

	Close() error
}

// Config holds index backend configuration.
type Config struct {
	Driver string // "sqlite" (default) or "postgres"

	// SQLite
	SQLitePath string

	// Postgres (team deployments)
	PostgresDSN string

	// Dim is the embedding width the vector tables are declared with.
	Dim int
}

// New creates a Store implementation based on config.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Dim <= 0 {
		cfg.Dim = 384
	}
	switch cfg.Driver {
	case "", "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		return NewSQLite(cfg.SQLitePath, cfg.Dim)

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres DSN is required")
		}
		return NewPostgres(ctx, cfg.PostgresDSN, cfg.Dim)

	default:
		return nil, fmt.Errorf("unknown index driver: %s", cfg.Driver)
	}
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
