// internal/syncer/syncer.go
// Package syncer reconciles the index with git, the source of truth.
// Incremental sync diffs note blob shas against the recorded sync state
// so unchanged commits cost nothing; a full reindex rebuilds a repo's
// slice of the index from scratch.
package syncer

import (
	"context"
	"errors"
	"log"

	"github.com/MereWhiplash/gitmem/internal/capture"
	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/embedder"
	"github.com/MereWhiplash/gitmem/internal/gitnotes"
	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/notecodec"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// Report summarizes one sync run.
type Report struct {
	Ingested      int `json:"ingested"`
	Removed       int `json:"removed"`
	Unchanged     int `json:"unchanged"`
	SkippedBlocks int `json:"skipped_blocks"`
	EmbedFailures int `json:"embed_failures"`
	HintsConsumed int `json:"hints_consumed"`
}

// Engine drives index reconciliation for one repository.
type Engine struct {
	notes  *gitnotes.Store
	idx    index.Store
	emb    embedder.Embedder
	cfg    config.Config
	logger *log.Logger
}

// New builds a syncer. logger may be nil.
func New(notes *gitnotes.Store, idx index.Store, emb embedder.Embedder, cfg config.Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{notes: notes, idx: idx, emb: emb, cfg: cfg, logger: logger}
}

// Incremental syncs every namespace, ingesting commits whose note blob
// changed and removing commits whose notes are gone. Repair hints left by
// degraded captures are consumed as a side effect: any hinted commit has
// a changed or missing sync-state entry and gets reprocessed here.
func (e *Engine) Incremental(ctx context.Context) (Report, error) {
	var report Report
	repo := e.notes.RepoPath()

	hints := capture.ReadRepairHints(e.cfg.RepoDir(repo))
	report.HintsConsumed = len(hints)
	// A hint means the commit's note reached git but the index write
	// failed; force reprocessing by forgetting its sync state.
	for _, h := range hints {
		e.idx.DeleteSyncState(ctx, repo, types.Namespace(h.Namespace), h.CommitSHA)
	}

	for _, ns := range types.Namespaces {
		if err := e.syncNamespace(ctx, ns, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (e *Engine) syncNamespace(ctx context.Context, ns types.Namespace, report *Report) error {
	repo := e.notes.RepoPath()

	refs, err := e.notes.List(ctx, ns)
	if err != nil {
		return err
	}
	state, err := e.idx.SyncState(ctx, repo, ns)
	if err != nil {
		return err
	}

	current := make(map[string]string, len(refs))
	for _, r := range refs {
		current[r.CommitSHA] = r.BlobSHA
	}

	// Commits whose notes disappeared (ref deleted, history rewritten).
	for commit := range state {
		if _, ok := current[commit]; ok {
			continue
		}
		ids, err := e.idx.DeleteByCommit(ctx, repo, ns, commit)
		if err != nil {
			return err
		}
		report.Removed += len(ids)
		if err := e.idx.DeleteSyncState(ctx, repo, ns, commit); err != nil {
			return err
		}
	}

	// New or changed notes.
	for commit, blob := range current {
		if state[commit] == blob {
			report.Unchanged++
			continue
		}
		n, skipped, embedFails, err := e.ingestCommit(ctx, ns, commit)
		if err != nil {
			return err
		}
		report.Ingested += n
		report.SkippedBlocks += skipped
		report.EmbedFailures += embedFails
		if err := e.idx.SetSyncState(ctx, repo, ns, commit, blob); err != nil {
			return err
		}
	}
	return nil
}

// ingestCommit reads, decodes and indexes one commit's note. Blocks the
// note had before (a changed note may have dropped some) are replaced
// wholesale via DeleteByCommit.
func (e *Engine) ingestCommit(ctx context.Context, ns types.Namespace, commit string) (ingested, skipped, embedFails int, err error) {
	repo := e.notes.RepoPath()

	text, err := e.notes.Read(ctx, commit, ns)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return 0, 0, 0, nil
		}
		return 0, 0, 0, err
	}
	res, err := notecodec.Decode(text)
	if err != nil {
		e.logger.Printf("sync: note %s/%s unparseable, skipping: %v", commit, ns, err)
		return 0, 1, 0, nil
	}
	skipped = res.Skipped

	// Lifecycle state (sweeps, resolutions, restores) lives in the index,
	// not in the append-only git headers. Carry it across the reingest.
	statuses := map[string]types.Status{}
	if prior, err := e.idx.ListByCommit(ctx, repo, ns, commit); err == nil {
		for _, m := range prior {
			statuses[m.ID] = m.Status
		}
	}

	if _, err := e.idx.DeleteByCommit(ctx, repo, ns, commit); err != nil {
		return 0, skipped, 0, err
	}

	entries := make([]index.Entry, 0, len(res.Blocks))
	texts := make([]string, 0, len(res.Blocks))
	for _, b := range res.Blocks {
		mem := notecodec.ToMemory(b, repo, commit)
		if s, ok := statuses[mem.ID]; ok {
			mem.Status = s
		}
		entries = append(entries, index.Entry{Memory: mem})
		texts = append(texts, mem.Summary+"\n\n"+mem.Content)
	}

	vecs, embErr := e.emb.EmbedBatchForStorage(texts)
	if embErr != nil {
		e.logger.Printf("sync: embedding degraded for %s/%s: %v", commit, ns, embErr)
	}
	for i := range entries {
		if i < len(vecs) {
			entries[i].Embedding = vecs[i]
		} else {
			embedFails++
		}
	}

	n, err := e.idx.UpsertBatch(ctx, entries)
	return n, skipped, embedFails, err
}

// FullReindex wipes the repo's slice of the index and rebuilds it from
// every note in every namespace.
func (e *Engine) FullReindex(ctx context.Context) (Report, error) {
	var report Report
	repo := e.notes.RepoPath()

	if err := e.idx.Reset(ctx, repo); err != nil {
		return report, err
	}
	// Leftover hints are moot once everything is reingested.
	report.HintsConsumed = len(capture.ReadRepairHints(e.cfg.RepoDir(repo)))

	for _, ns := range types.Namespaces {
		refs, err := e.notes.List(ctx, ns)
		if err != nil {
			return report, err
		}
		for _, r := range refs {
			n, skipped, embedFails, err := e.ingestCommit(ctx, ns, r.CommitSHA)
			if err != nil {
				return report, err
			}
			report.Ingested += n
			report.SkippedBlocks += skipped
			report.EmbedFailures += embedFails
			if err := e.idx.SetSyncState(ctx, repo, ns, r.CommitSHA, r.BlobSHA); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// VerifyConsistency compares git against the index without modifying
// either.
func (e *Engine) VerifyConsistency(ctx context.Context) (types.VerificationReport, error) {
	report := types.VerificationReport{ByNamespace: map[string]int{}}
	repo := e.notes.RepoPath()

	if orphans, err := e.idx.OrphanVectors(ctx); err == nil {
		report.OrphanVectors = orphans
	}

	for _, ns := range types.Namespaces {
		refs, err := e.notes.List(ctx, ns)
		if err != nil {
			return report, err
		}

		gitIDs := map[string]types.Memory{}
		for _, r := range refs {
			text, err := e.notes.Read(ctx, r.CommitSHA, ns)
			if err != nil {
				continue
			}
			res, err := notecodec.Decode(text)
			if err != nil {
				continue
			}
			for _, b := range res.Blocks {
				mem := notecodec.ToMemory(b, repo, r.CommitSHA)
				gitIDs[mem.ID] = mem
			}
		}

		indexed, err := e.idx.List(ctx, types.Filters{
			RepoPath:  repo,
			Namespace: ns,
			Status:    "", // default filter hides tombstones
		}, 1<<20)
		if err != nil {
			return report, err
		}
		indexedIDs := map[string]types.Memory{}
		for _, m := range indexed {
			indexedIDs[m.ID] = m
		}

		drift := 0
		for id, gm := range gitIDs {
			im, ok := indexedIDs[id]
			if !ok {
				report.InGitNotIndex++
				drift++
				continue
			}
			// Lifecycle rewrites (archival prefixes, compressed bodies)
			// live only in the index; compare content for active rows only.
			if im.Status == types.StatusActive &&
				(im.Summary != gm.Summary || im.Content != gm.Content) {
				report.HashMismatch++
				drift++
			}
		}
		for id := range indexedIDs {
			if _, ok := gitIDs[id]; !ok {
				report.InIndexNotGit++
				drift++
			}
		}
		if drift > 0 {
			report.ByNamespace[string(ns)] = drift
		}
	}
	return report, nil
}

// VerifyAndRepair verifies and, when drift is found, runs an incremental
// sync to converge. Returns the post-repair report.
func (e *Engine) VerifyAndRepair(ctx context.Context) (types.VerificationReport, error) {
	report, err := e.VerifyConsistency(ctx)
	if err != nil {
		return report, err
	}
	if report.Clean() {
		return report, nil
	}
	if _, err := e.Incremental(ctx); err != nil {
		return report, err
	}
	return e.VerifyConsistency(ctx)
}
