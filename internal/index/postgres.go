// internal/index/postgres.go
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/MereWhiplash/gitmem/internal/types"
)

// Postgres implements Store using PostgreSQL with pgvector, for team
// deployments where several machines share one index. The git notes
// remain per-clone; only the cache is shared.
type Postgres struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPostgres creates a new Postgres index.
func NewPostgres(ctx context.Context, dsn string, dim int) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, dim: dim}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS memories (
			rid BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			commit_sha TEXT NOT NULL,
			repo_path TEXT NOT NULL,
			namespace TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			summary TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			spec TEXT NOT NULL DEFAULT '',
			phase TEXT NOT NULL DEFAULT '',
			tags JSONB NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'active',
			relates_to JSONB NOT NULL DEFAULT '[]',
			search TSVECTOR GENERATED ALWAYS AS
				(to_tsvector('english', summary || ' ' || content)) STORED
		);

		CREATE TABLE IF NOT EXISTS memory_embeddings (
			rid BIGINT PRIMARY KEY REFERENCES memories(rid) ON DELETE CASCADE,
			embedding vector(%d)
		);

		CREATE TABLE IF NOT EXISTS sync_state (
			repo_path TEXT NOT NULL,
			namespace TEXT NOT NULL,
			commit_sha TEXT NOT NULL,
			blob_sha TEXT NOT NULL,
			PRIMARY KEY (repo_path, namespace, commit_sha)
		);

		CREATE INDEX IF NOT EXISTS idx_memories_repo ON memories(repo_path);
		CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace);
		CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
		CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp);
		CREATE INDEX IF NOT EXISTS idx_memories_commit ON memories(repo_path, namespace, commit_sha);
		CREATE INDEX IF NOT EXISTS idx_memories_search ON memories USING GIN (search);

		CREATE INDEX IF NOT EXISTS idx_embeddings_vector
		ON memory_embeddings USING hnsw (embedding vector_cosine_ops);
	`, p.dim)
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, mem types.Memory, embedding []float32) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return types.Index(types.SubTxn, "cannot begin transaction", "retry the operation", err)
	}
	defer tx.Rollback(ctx)

	if err := p.upsertTx(ctx, tx, mem, embedding); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Index(types.SubTxn, "cannot commit upsert", "retry the operation", err)
	}
	return nil
}

func (p *Postgres) UpsertBatch(ctx context.Context, entries []Entry) (int, error) {
	written := 0
	for start := 0; start < len(entries); start += BatchChunk {
		end := start + BatchChunk
		if end > len(entries) {
			end = len(entries)
		}
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return written, types.Index(types.SubTxn, "cannot begin batch transaction", "retry the sync", err)
		}
		for _, e := range entries[start:end] {
			if err := p.upsertTx(ctx, tx, e.Memory, e.Embedding); err != nil {
				tx.Rollback(ctx)
				return written, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return written, types.Index(types.SubTxn, "cannot commit batch", "retry the sync", err)
		}
		written += end - start
	}
	return written, nil
}

func (p *Postgres) upsertTx(ctx context.Context, tx pgx.Tx, mem types.Memory, embedding []float32) error {
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
	err = tx.QueryRow(ctx, `
		INSERT INTO memories (id, commit_sha, repo_path, namespace, ordinal,
			summary, content, timestamp, spec, phase, tags, status, relates_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			commit_sha = EXCLUDED.commit_sha,
			repo_path = EXCLUDED.repo_path,
			summary = EXCLUDED.summary,
			content = EXCLUDED.content,
			timestamp = EXCLUDED.timestamp,
			spec = EXCLUDED.spec,
			phase = EXCLUDED.phase,
			tags = EXCLUDED.tags,
			status = EXCLUDED.status,
			relates_to = EXCLUDED.relates_to
		RETURNING rid`,
		mem.ID, mem.CommitSHA, mem.RepoPath, mem.Namespace, ordinal,
		mem.Summary, mem.Content, mem.Timestamp.UTC(), mem.Spec, mem.Phase,
		string(tagsJSON), status, string(relatesJSON),
	).Scan(&rid)
	if err != nil {
		return types.Index(types.SubConstraint, "failed to upsert memory row",
			"run a full resync if this persists", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM memory_embeddings WHERE rid = $1`, rid); err != nil {
		return err
	}
	if embedding != nil {
		vec := pgvector.NewVector(embedding)
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_embeddings (rid, embedding) VALUES ($1, $2)`, rid, vec); err != nil {
			return types.Index(types.SubConstraint, "failed to insert embedding",
				"check the embedding dimension matches the index", err)
		}
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (types.Memory, error) {
	mems, err := p.queryMemories(ctx, pgMemorySelect+` WHERE id = $1`, id)
	if err != nil {
		return types.Memory{}, err
	}
	if len(mems) == 0 {
		return types.Memory{}, types.ErrNotFound
	}
	return mems[0], nil
}

func (p *Postgres) GetBatch(ctx context.Context, ids []string) ([]types.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	mems, err := p.queryMemories(ctx, pgMemorySelect+` WHERE id = ANY($1)`, ids)
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

func (p *Postgres) KNN(ctx context.Context, embedding []float32, k int, f types.Filters) ([]types.MemoryResult, error) {
	if k <= 0 {
		k = 5
	}
	vec := pgvector.NewVector(embedding)

	query := `
		SELECT m.id, m.commit_sha, m.repo_path, m.namespace, m.summary, m.content,
		       m.timestamp, m.spec, m.phase, m.tags, m.status, m.relates_to,
		       e.embedding <=> $1 AS distance
		FROM memories m
		JOIN memory_embeddings e ON m.rid = e.rid
		WHERE 1=1`
	args := []interface{}{vec}
	where, filterArgs := pgFilterClauses(f, 2)
	query += where
	args = append(args, filterArgs...)
	query += fmt.Sprintf(" ORDER BY e.embedding <=> $1 LIMIT $%d", len(args)+1)
	args = append(args, k)

	return p.queryResults(ctx, query, args...)
}

func (p *Postgres) TextSearch(ctx context.Context, query string, k int, f types.Filters) ([]types.MemoryResult, error) {
	if k <= 0 {
		k = 5
	}
	sql := `
		SELECT id, commit_sha, repo_path, namespace, summary, content,
		       timestamp, spec, phase, tags, status, relates_to,
		       1.0 - ts_rank(search, plainto_tsquery('english', $1)) AS distance
		FROM memories
		WHERE search @@ plainto_tsquery('english', $1)`
	args := []interface{}{query}
	where, filterArgs := pgFilterClauses(f, 2)
	sql += where
	args = append(args, filterArgs...)
	sql += fmt.Sprintf(" ORDER BY distance LIMIT $%d", len(args)+1)
	args = append(args, k)

	return p.queryResults(ctx, sql, args...)
}

func (p *Postgres) List(ctx context.Context, f types.Filters, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	query := pgMemorySelect + ` WHERE 1=1`
	where, args := pgFilterClauses(f, 1)
	query += where
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)
	return p.queryMemories(ctx, query, args...)
}

func (p *Postgres) ListByCommit(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) ([]types.Memory, error) {
	return p.queryMemories(ctx,
		pgMemorySelect+` WHERE repo_path = $1 AND namespace = $2 AND commit_sha = $3 ORDER BY ordinal`,
		repoPath, ns, commitSHA)
}

func (p *Postgres) UpdateStatus(ctx context.Context, id string, status types.Status) error {
	if !status.Valid() {
		return types.Validation("status", fmt.Sprintf("invalid status %q", status),
			"use active, resolved, aging, archived or tombstone")
	}
	var current string
	err := p.pool.QueryRow(ctx, `SELECT status FROM memories WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
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
	_, err = p.pool.Exec(ctx, `UPDATE memories SET status = $1 WHERE id = $2`, status, id)
	return err
}

func (p *Postgres) UpdateContent(ctx context.Context, id, summary, content string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE memories SET summary = $1, content = $2 WHERE id = $3`, summary, content, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	return err
}

func (p *Postgres) DeleteByCommit(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		DELETE FROM memories
		WHERE repo_path = $1 AND namespace = $2 AND commit_sha = $3
		RETURNING id`, repoPath, ns, commitSHA)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) Reset(ctx context.Context, repoPath string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return types.Index(types.SubTxn, "cannot begin transaction", "retry", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM memories WHERE repo_path = $1`, repoPath); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sync_state WHERE repo_path = $1`, repoPath); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) OrphanVectors(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM memory_embeddings e
		LEFT JOIN memories m ON m.rid = e.rid
		WHERE m.rid IS NULL`).Scan(&n)
	return n, err
}

func (p *Postgres) Stats(ctx context.Context, repoPath string) (types.Stats, error) {
	stats := types.Stats{
		ByNamespace: map[string]int{},
		BySpec:      map[string]int{},
	}
	where := ""
	var args []interface{}
	if repoPath != "" {
		where = " WHERE repo_path = $1"
		args = append(args, repoPath)
	}

	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(timestamp), 'epoch'::timestamptz) FROM memories`+where,
		args...).Scan(&stats.Total, &stats.LastCapture); err != nil {
		return stats, err
	}

	rows, err := p.pool.Query(ctx,
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

	rows, err = p.pool.Query(ctx,
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

	p.pool.QueryRow(ctx, `SELECT pg_total_relation_size('memories')`).Scan(&stats.SizeBytes)
	return stats, nil
}

func (p *Postgres) Verify(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return types.Index(types.SubCorrupt, "postgres index unreachable",
			"check the DSN and server health", err)
	}
	var orphans int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM memory_embeddings e
		LEFT JOIN memories m ON m.rid = e.rid
		WHERE m.rid IS NULL`).Scan(&orphans)
	if err != nil {
		return err
	}
	if orphans > 0 {
		return types.Index(types.SubCorrupt,
			fmt.Sprintf("%d orphan embeddings found", orphans),
			"run a full reindex to rebuild the cache from git", nil)
	}
	return nil
}

func (p *Postgres) SyncState(ctx context.Context, repoPath string, ns types.Namespace) (map[string]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT commit_sha, blob_sha FROM sync_state WHERE repo_path = $1 AND namespace = $2`,
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

func (p *Postgres) SetSyncState(ctx context.Context, repoPath string, ns types.Namespace, commitSHA, blobSHA string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_state (repo_path, namespace, commit_sha, blob_sha)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_path, namespace, commit_sha) DO UPDATE SET blob_sha = EXCLUDED.blob_sha`,
		repoPath, ns, commitSHA, blobSHA)
	return err
}

func (p *Postgres) DeleteSyncState(ctx context.Context, repoPath string, ns types.Namespace, commitSHA string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM sync_state WHERE repo_path = $1 AND namespace = $2 AND commit_sha = $3`,
		repoPath, ns, commitSHA)
	return err
}

const pgMemorySelect = `SELECT id, commit_sha, repo_path, namespace, summary, content,
	timestamp, spec, phase, tags, status, relates_to FROM memories`

func (p *Postgres) queryMemories(ctx context.Context, query string, args ...interface{}) ([]types.Memory, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []types.Memory
	for rows.Next() {
		m, err := scanPgMemory(rows, nil)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (p *Postgres) queryResults(ctx context.Context, query string, args ...interface{}) ([]types.MemoryResult, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.MemoryResult
	for rows.Next() {
		var distance float64
		m, err := scanPgMemory(rows, &distance)
		if err != nil {
			return nil, err
		}
		results = append(results, types.MemoryResult{Memory: m, Distance: distance})
	}
	return results, rows.Err()
}

func scanPgMemory(rows pgx.Rows, distance *float64) (types.Memory, error) {
	var m types.Memory
	var ns, status string
	var tags, relates []byte

	dest := []interface{}{&m.ID, &m.CommitSHA, &m.RepoPath, &ns, &m.Summary,
		&m.Content, &m.Timestamp, &m.Spec, &m.Phase, &tags, &status, &relates}
	if distance != nil {
		dest = append(dest, distance)
	}
	if err := rows.Scan(dest...); err != nil {
		return m, err
	}

	m.Namespace = types.Namespace(ns)
	m.Status = types.Status(status)
	json.Unmarshal(tags, &m.Tags)
	json.Unmarshal(relates, &m.RelatesTo)
	return m, nil
}

// pgFilterClauses renders Filters as " AND ..." SQL with numbered args
// starting at startArg.
func pgFilterClauses(f types.Filters, startArg int) (string, []interface{}) {
	var b strings.Builder
	var args []interface{}
	n := startArg

	add := func(clause string, val interface{}) {
		b.WriteString(fmt.Sprintf(clause, n))
		args = append(args, val)
		n++
	}

	if f.RepoPath != "" {
		add(" AND repo_path = $%d", f.RepoPath)
	}
	if f.Namespace != "" {
		add(" AND namespace = $%d", string(f.Namespace))
	}
	if f.Spec != "" {
		add(" AND spec = $%d", f.Spec)
	}
	if f.Status != "" {
		add(" AND status = $%d", string(f.Status))
	} else {
		add(" AND status != $%d", string(types.StatusTombstone))
	}
	if !f.Since.IsZero() {
		add(" AND timestamp >= $%d", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		add(" AND timestamp <= $%d", f.Until.UTC())
	}
	if len(f.TagsAny) > 0 {
		add(" AND tags ?| $%d", f.TagsAny)
	}
	return b.String(), args
}
