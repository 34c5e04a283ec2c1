//go:build cgo && sqlite_fts5

// internal/index/sqlite.go
// The embedded index needs the FTS5 module, which mattn/go-sqlite3 only
// compiles in under the sqlite_fts5 build tag. Build and test with
// CGO_ENABLED=1 and -tags sqlite_fts5; without them NewSQLite returns a
// configuration error from the stub.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MereWhiplash/gitmem/internal/types"
)

// SQLite implements Store using SQLite with sqlite-vec and FTS5. All
// writes serialize through a mutex; SQLite allows one writer and the
// capture path is already serialized by the repo lock, so contention here
// is only ever capture vs sync.
type SQLite struct {
	conn *sql.DB
	dim  int
	mu   sync.Mutex
}

// Schema migrations, applied in order against PRAGMA user_version. Only
// append here; released versions are frozen.
func migrations(dim int) []string {
	return []string{
		fmt.Sprintf(`
			CREATE TABLE memories (
				rid INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				commit_sha TEXT NOT NULL,
				repo_path TEXT NOT NULL,
				namespace TEXT NOT NULL,
				ordinal INTEGER NOT NULL,
				summary TEXT NOT NULL,
				content TEXT NOT NULL,
				timestamp TIMESTAMP NOT NULL,
				spec TEXT NOT NULL DEFAULT '',
				phase TEXT NOT NULL DEFAULT '',
				tags TEXT NOT NULL DEFAULT '[]',
				status TEXT NOT NULL DEFAULT 'active',
				relates_to TEXT NOT NULL DEFAULT '[]'
			);

			CREATE INDEX idx_memories_repo ON memories(repo_path);
			CREATE INDEX idx_memories_namespace ON memories(namespace);
			CREATE INDEX idx_memories_status ON memories(status);
			CREATE INDEX idx_memories_spec ON memories(spec);
			CREATE INDEX idx_memories_timestamp ON memories(timestamp);
			CREATE INDEX idx_memories_commit ON memories(repo_path, namespace, commit_sha);

			CREATE VIRTUAL TABLE memory_vectors USING vec0(
				rid INTEGER PRIMARY KEY,
				embedding FLOAT[%d]
			);

			CREATE VIRTUAL TABLE memory_fts USING fts5(summary, content, tags);

			CREATE TABLE sync_state (
				repo_path TEXT NOT NULL,
				namespace TEXT NOT NULL,
				commit_sha TEXT NOT NULL,
				blob_sha TEXT NOT NULL,
				PRIMARY KEY (repo_path, namespace, commit_sha)
			);
		`, dim),
	}
}

// NewSQLite opens (or creates) the index at path with the given embedding
// dimension.
func NewSQLite(path string, dim int) (*SQLite, error) {
	sqlite_vec.Auto()

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, types.Index(types.SubSchema, "failed to open index database",
			"check the data directory is writable", err)
	}

	s := &SQLite{conn: conn, dim: dim}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies pending schema versions, each in its own transaction so
// a crash leaves user_version pointing at the last complete step.
func (s *SQLite) migrate() error {
	var version int
	if err := s.conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return types.Index(types.SubMigration, "cannot read schema version",
			"the index file may not be a database; delete it and resync", err)
	}
	steps := migrations(s.dim)
	if version > len(steps) {
		return types.Index(types.SubMigration,
			fmt.Sprintf("index schema version %d is newer than this build supports", version),
			"upgrade the binary or delete the index and resync", nil)
	}
	for i := version; i < len(steps); i++ {
		tx, err := s.conn.Begin()
		if err != nil {
			return types.Index(types.SubTxn, "cannot begin migration transaction", "retry", err)
		}
		if _, err := tx.Exec(steps[i]); err != nil {
			tx.Rollback()
			return types.Index(types.SubMigration,
				fmt.Sprintf("migration to version %d failed", i+1),
				"delete the index file and run a full resync", err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return types.Index(types.SubMigration, "cannot bump schema version", "retry", err)
		}
		if err := tx.Commit(); err != nil {
			return types.Index(types.SubMigration, "cannot commit migration", "retry", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) Upsert(ctx context.Context, mem types.Memory, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Index(types.SubTxn, "cannot begin transaction", "retry the operation", err)
	}
	defer tx.Rollback()

	if err := s.upsertTx(ctx, tx, mem, embedding); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.Index(types.SubTxn, "cannot commit upsert", "retry the operation", err)
	}
	return nil
}

func (s *SQLite) UpsertBatch(ctx context.Context, entries []Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for start := 0; start < len(entries); start += BatchChunk {
		end := start + BatchChunk
		if end > len(entries) {
			end = len(entries)
		}

		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return written, types.Index(types.SubTxn, "cannot begin batch transaction", "retry the sync", err)
		}
		for _, e := range entries[start:end] {
			if err := s.upsertTx(ctx, tx, e.Memory, e.Embedding); err != nil {
				tx.Rollback()
				return written, err
			}
		}
		if err := tx.Commit(); err != nil {
			return written, types.Index(types.SubTxn, "cannot commit batch", "retry the sync", err)
		}
		written += end - start
	}
	return written, nil
}

func (s *SQLite) upsertTx(ctx context.Context, tx *sql.Tx, mem types.Memory, embedding []float32) error {
	_, _, ordinal, err := types.ParseMemoryID(mem.ID)
	if err != nil {
		return err
	}
	tagsJSON, _ := json.Marshal(dedupeTags(mem.Tags))
	relatesJSON, _ := json.Marshal(mem.RelatesTo)
	status := mem.Status
	if status == "" {
		status = types.StatusActive
	}

	var rid int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO memories (id, commit_sha, repo_path, namespace, ordinal,
			summary, content, timestamp, spec, phase, tags, status, relates_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			commit_sha = excluded.commit_sha,
			repo_path = excluded.repo_path,
			summary = excluded.summary,
			content = excluded.content,
			timestamp = excluded.timestamp,
			spec = excluded.spec,
			phase = excluded.phase,
			tags = excluded.tags,
			status = excluded.status,
			relates_to = excluded.relates_to
		RETURNING rid`,
		mem.ID, mem.CommitSHA, mem.RepoPath, mem.Namespace, ordinal,
		mem.Summary, mem.Content, mem.Timestamp.UTC(), mem.Spec, mem.Phase,
		string(tagsJSON), status, string(relatesJSON),
	).Scan(&rid)
	if err != nil {
		return types.Index(types.SubConstraint, "failed to upsert memory row",
			"run a full resync if this persists", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vectors WHERE rid = ?`, rid); err != nil {
		return types.Index(types.SubConstraint, "failed to clear vector row", "run a full resync", err)
	}
	if embedding != nil {
		vecJSON, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_vectors (rid, embedding) VALUES (?, ?)`,
			rid, string(vecJSON),
		); err != nil {
			return types.Index(types.SubConstraint, "failed to insert embedding",
				"check the embedding dimension matches the index", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_fts WHERE rowid = ?`, rid); err != nil {
		return types.Index(types.SubConstraint, "failed to clear text row", "run a full resync", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_fts (rowid, summary, content, tags) VALUES (?, ?, ?, ?)`,
		rid, mem.Summary, mem.Content, strings.Join(mem.Tags, " "),
	); err != nil {
		return types.Index(types.SubConstraint, "failed to insert text row", "run a full resync", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (types.Memory, error) {
	mems, err := s.queryMemories(ctx, memorySelect+` WHERE id = ?`, id)
	if err != nil {
		return types.Memory{}, err
	}
	if len(mems) == 0 {
		return types.Memory{}, types.ErrNotFound
	}
	return mems[0], nil
}

func (s *SQLite) GetBatch(ctx context.Context, ids []string) ([]types.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	mems, err := s.queryMemories(ctx,
		memorySelect+` WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}
	out := make([]types.Memory, 0, len(mems))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// overFetch widens ANN and text candidate sets so post-filtering still
// fills k results.
const overFetch = 3

func (s *SQLite) KNN(ctx context.Context, embedding []float32, k int, f types.Filters) ([]types.MemoryResult, error) {
	if k <= 0 {
		k = 5
	}
	vecJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT rid, distance FROM memory_vectors
		WHERE embedding MATCH ?
		ORDER BY distance LIMIT ?`,
		string(vecJSON), k*overFetch,
	)
	if err != nil {
		return nil, types.Index(types.SubConstraint, "vector query failed",
			"the query embedding dimension may not match the index", err)
	}
	defer rows.Close()

	var pairs []ridDistance
	for rows.Next() {
		var p ridDistance
		if err := rows.Scan(&p.rid, &p.distance); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.rankFiltered(ctx, pairs, k, f)
}

func (s *SQLite) TextSearch(ctx context.Context, query string, k int, f types.Filters) ([]types.MemoryResult, error) {
	if k <= 0 {
		k = 5
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT rowid, rank FROM memory_fts
		WHERE memory_fts MATCH ?
		ORDER BY rank LIMIT ?`,
		match, k*overFetch,
	)
	if err != nil {
		return nil, types.Index(types.SubConstraint, "text query failed", "simplify the query", err)
	}
	defer rows.Close()

	var pairs []ridDistance
	for rows.Next() {
		var p ridDistance
		if err := rows.Scan(&p.rid, &p.distance); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.rankFiltered(ctx, pairs, k, f)
}

type ridDistance struct {
	rid      int64
	distance float64
}

// rankFiltered fetches candidate rows, applies filters, and returns the
// top k in candidate order.
func (s *SQLite) rankFiltered(ctx context.Context, pairs []ridDistance, k int, f types.Filters) ([]types.MemoryResult, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(pairs))
	for i, p := range pairs {
		args[i] = p.rid
	}
	where, filterArgs := filterClauses(f)
	query := `SELECT id, commit_sha, repo_path, namespace, summary, content,
		timestamp, spec, phase, tags, status, relates_to, rid FROM memories
		WHERE rid IN (?` + strings.Repeat(",?", len(pairs)-1) + `)` + where
	args = append(args, filterArgs...)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byRid := make(map[int64]types.Memory)
	for rows.Next() {
		var rid int64
		m, err := scanMemory(rows, &rid)
		if err != nil {
			return nil, err
		}
		byRid[rid] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []types.MemoryResult
	for _, p := range pairs {
		m, ok := byRid[p.rid]
		if !ok {
			continue
		}
		out = append(out, types.MemoryResult{Memory: m, Distance: p.distance})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (s *SQLite) List(ctx context.Context, f types.Filters, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	where, args := filterClauses(f)
	query := memorySelect + ` WHERE 1=1` + where + ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)
	return s.queryMemories(ctx, query, args...)
}

func (s *SQLite) ListByCommit(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) ([]types.Memory, error) {
	return s.queryMemories(ctx,
		memorySelect+` WHERE repo_path = ? AND namespace = ? AND commit_sha = ? ORDER BY ordinal`,
		repoPath, ns, commitSHA)
}

func (s *SQLite) UpdateStatus(ctx context.Context, id string, status types.Status) error {
	if !status.Valid() {
		return types.Validation("status", fmt.Sprintf("invalid status %q", status),
			"use active, resolved, aging, archived or tombstone")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current string
	err := s.conn.QueryRowContext(ctx, `SELECT status FROM memories WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !types.Status(current).CanTransitionTo(status) {
		return types.Validation("status",
			fmt.Sprintf("illegal transition %s -> %s for %s", current, status, id),
			"see the lifecycle state machine; tombstones can only be restored to active")
	}
	_, err = s.conn.ExecContext(ctx, `UPDATE memories SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *SQLite) UpdateContent(ctx context.Context, id, summary, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Index(types.SubTxn, "cannot begin transaction", "retry", err)
	}
	defer tx.Rollback()

	var rid int64
	var tags string
	err = tx.QueryRowContext(ctx, `SELECT rid, tags FROM memories WHERE id = ?`, id).Scan(&rid, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET summary = ?, content = ? WHERE rid = ?`, summary, content, rid); err != nil {
		return err
	}
	var tagList []string
	json.Unmarshal([]byte(tags), &tagList)
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_fts WHERE rowid = ?`, rid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_fts (rowid, summary, content, tags) VALUES (?, ?, ?, ?)`,
		rid, summary, content, strings.Join(tagList, " ")); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Index(types.SubTxn, "cannot begin transaction", "retry", err)
	}
	defer tx.Rollback()

	if err := deleteTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) DeleteByCommit(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) ([]string, error) {
	mems, err := s.ListByCommit(ctx, repoPath, ns, commitSHA)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.Index(types.SubTxn, "cannot begin transaction", "retry", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(mems))
	for _, m := range mems {
		if err := deleteTx(ctx, tx, m.ID); err != nil {
			return nil, err
		}
		ids = append(ids, m.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func deleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	var rid int64
	err := tx.QueryRowContext(ctx, `SELECT rid FROM memories WHERE id = ?`, id).Scan(&rid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vectors WHERE rid = ?`, rid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_fts WHERE rowid = ?`, rid); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM memories WHERE rid = ?`, rid)
	return err
}

func (s *SQLite) Reset(ctx context.Context, repoPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Index(types.SubTxn, "cannot begin transaction", "retry", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT rid FROM memories WHERE repo_path = ?`, repoPath)
	if err != nil {
		return err
	}
	var rids []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return err
		}
		rids = append(rids, rid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rid := range rids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vectors WHERE rid = ?`, rid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_fts WHERE rowid = ?`, rid); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE repo_path = ?`, repoPath); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_state WHERE repo_path = ?`, repoPath); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) OrphanVectors(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_vectors v
		LEFT JOIN memories m ON m.rid = v.rid
		WHERE m.rid IS NULL`).Scan(&n)
	return n, err
}

func (s *SQLite) Stats(ctx context.Context, repoPath string) (types.Stats, error) {
	stats := types.Stats{
		ByNamespace: map[string]int{},
		BySpec:      map[string]int{},
	}
	where := ""
	var args []interface{}
	if repoPath != "" {
		where = " WHERE repo_path = ?"
		args = append(args, repoPath)
	}

	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories`+where, args...).Scan(&stats.Total); err != nil {
		return stats, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT namespace, COUNT(*) FROM memories`+where+` GROUP BY namespace`, args...)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var ns string
		var n int
		if err := rows.Scan(&ns, &n); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByNamespace[ns] = n
	}
	rows.Close()

	rows, err = s.conn.QueryContext(ctx,
		`SELECT spec, COUNT(*) FROM memories`+where+` GROUP BY spec`, args...)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var spec string
		var n int
		if err := rows.Scan(&spec, &n); err != nil {
			rows.Close()
			return stats, err
		}
		if spec != "" {
			stats.BySpec[spec] = n
		}
	}
	rows.Close()

	var last sql.NullTime
	if err := s.conn.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM memories`+where, args...).Scan(&last); err == nil && last.Valid {
		stats.LastCapture = last.Time
	}

	var pageCount, pageSize int64
	s.conn.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount)
	s.conn.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize)
	stats.SizeBytes = pageCount * pageSize

	return stats, nil
}

func (s *SQLite) Verify(ctx context.Context) error {
	var result string
	if err := s.conn.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
		return types.Index(types.SubCorrupt, "integrity check could not run",
			"run a full reindex to rebuild the cache from git", err)
	}
	if result != "ok" {
		return types.Index(types.SubCorrupt,
			fmt.Sprintf("index integrity check failed: %s", result),
			"run a full reindex to rebuild the cache from git", nil)
	}
	return nil
}

func (s *SQLite) SyncState(ctx context.Context, repoPath string, ns types.Namespace) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT commit_sha, blob_sha FROM sync_state WHERE repo_path = ? AND namespace = ?`,
		repoPath, ns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := map[string]string{}
	for rows.Next() {
		var commit, blob string
		if err := rows.Scan(&commit, &blob); err != nil {
			return nil, err
		}
		state[commit] = blob
	}
	return state, rows.Err()
}

func (s *SQLite) SetSyncState(ctx context.Context, repoPath string, ns types.Namespace, commitSHA, blobSHA string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_state (repo_path, namespace, commit_sha, blob_sha)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_path, namespace, commit_sha) DO UPDATE SET blob_sha = excluded.blob_sha`,
		repoPath, ns, commitSHA, blobSHA)
	return err
}

func (s *SQLite) DeleteSyncState(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM sync_state WHERE repo_path = ? AND namespace = ? AND commit_sha = ?`,
		repoPath, ns, commitSHA)
	return err
}

const memorySelect = `SELECT id, commit_sha, repo_path, namespace, summary, content,
	timestamp, spec, phase, tags, status, relates_to FROM memories`

func (s *SQLite) queryMemories(ctx context.Context, query string, args ...interface{}) ([]types.Memory, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows, nil)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func scanMemory(rows *sql.Rows, rid *int64) (types.Memory, error) {
	var m types.Memory
	var ns, status, tags, relates string

	dest := []interface{}{&m.ID, &m.CommitSHA, &m.RepoPath, &ns, &m.Summary,
		&m.Content, &m.Timestamp, &m.Spec, &m.Phase, &tags, &status, &relates}
	if rid != nil {
		dest = append(dest, rid)
	}
	if err := rows.Scan(dest...); err != nil {
		return m, err
	}

	m.Namespace = types.Namespace(ns)
	m.Status = types.Status(status)
	json.Unmarshal([]byte(tags), &m.Tags)
	json.Unmarshal([]byte(relates), &m.RelatesTo)
	return m, nil
}

// filterClauses renders Filters as " AND ..." SQL with positional args.
// Tombstones are hidden unless the caller filters for a status.
func filterClauses(f types.Filters) (string, []interface{}) {
	var b strings.Builder
	var args []interface{}

	if f.RepoPath != "" {
		b.WriteString(" AND repo_path = ?")
		args = append(args, f.RepoPath)
	}
	if f.Namespace != "" {
		b.WriteString(" AND namespace = ?")
		args = append(args, f.Namespace)
	}
	if f.Spec != "" {
		b.WriteString(" AND spec = ?")
		args = append(args, f.Spec)
	}
	if f.Status != "" {
		b.WriteString(" AND status = ?")
		args = append(args, f.Status)
	} else {
		b.WriteString(" AND status != ?")
		args = append(args, types.StatusTombstone)
	}
	if !f.Since.IsZero() {
		b.WriteString(" AND timestamp >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		b.WriteString(" AND timestamp <= ?")
		args = append(args, f.Until.UTC())
	}
	if len(f.TagsAny) > 0 {
		b.WriteString(" AND (")
		for i, tag := range f.TagsAny {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString("tags LIKE ?")
			args = append(args, `%"`+tag+`"%`)
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// ftsQuery turns free text into an FTS5 match expression, quoting each
// token so user input cannot inject query syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f != "" {
			quoted = append(quoted, `"`+f+`"`)
		}
	}
	return strings.Join(quoted, " ")
}

