//go:build !cgo || !sqlite_fts5

// internal/index/sqlite_stub.go
package index

import (
	"context"
	"fmt"

	"github.com/MereWhiplash/gitmem/internal/types"
)

// SQLite is a stub for builds without the embedded index compiled in.
type SQLite struct{}

var errNoCGO = fmt.Errorf("the SQLite index requires CGO and FTS5 (build with CGO_ENABLED=1 and -tags sqlite_fts5)")

// NewSQLite returns an error when the embedded index was not built in.
func NewSQLite(path string, dim int) (*SQLite, error) {
	return nil, errNoCGO
}

func (s *SQLite) Upsert(ctx context.Context, mem types.Memory, embedding []float32) error {
	return errNoCGO
}

func (s *SQLite) UpsertBatch(ctx context.Context, entries []Entry) (int, error) {
	return 0, errNoCGO
}

func (s *SQLite) Get(ctx context.Context, id string) (types.Memory, error) {
	return types.Memory{}, errNoCGO
}

func (s *SQLite) GetBatch(ctx context.Context, ids []string) ([]types.Memory, error) {
	return nil, errNoCGO
}

func (s *SQLite) KNN(ctx context.Context, embedding []float32, k int, f types.Filters) ([]types.MemoryResult, error) {
	return nil, errNoCGO
}

func (s *SQLite) TextSearch(ctx context.Context, query string, k int, f types.Filters) ([]types.MemoryResult, error) {
	return nil, errNoCGO
}

func (s *SQLite) List(ctx context.Context, f types.Filters, limit int) ([]types.Memory, error) {
	return nil, errNoCGO
}

func (s *SQLite) ListByCommit(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) ([]types.Memory, error) {
	return nil, errNoCGO
}

func (s *SQLite) UpdateStatus(ctx context.Context, id string, status types.Status) error {
	return errNoCGO
}

func (s *SQLite) UpdateContent(ctx context.Context, id, summary, content string) error {
	return errNoCGO
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	return errNoCGO
}

func (s *SQLite) DeleteByCommit(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) ([]string, error) {
	return nil, errNoCGO
}

func (s *SQLite) Reset(ctx context.Context, repoPath string) error {
	return errNoCGO
}

func (s *SQLite) OrphanVectors(ctx context.Context) (int, error) {
	return 0, errNoCGO
}

func (s *SQLite) Stats(ctx context.Context, repoPath string) (types.Stats, error) {
	return types.Stats{}, errNoCGO
}

func (s *SQLite) Verify(ctx context.Context) error {
	return errNoCGO
}

func (s *SQLite) SyncState(ctx context.Context, repoPath string, ns types.Namespace) (map[string]string, error) {
	return nil, errNoCGO
}

func (s *SQLite) SetSyncState(ctx context.Context, repoPath string, ns types.Namespace, commitSHA, blobSHA string) error {
	return errNoCGO
}

func (s *SQLite) DeleteSyncState(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) error {
	return errNoCGO
}

func (s *SQLite) Close() error {
	return nil
}
