// internal/capture/engine.go
// Package capture writes memories: git first, index second. A capture
// whose note reaches git has succeeded even if the index write fails;
// the index is a cache and the syncer heals it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/embedder"
	"github.com/MereWhiplash/gitmem/internal/gitnotes"
	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/notecodec"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// Request describes one memory to capture.
type Request struct {
	Namespace types.Namespace
	Summary   string
	Content   string
	Spec      string
	Phase     string
	Tags      []string
	RelatesTo []string

	// Commit is the ref to attach to; empty means HEAD.
	Commit string

	// Status defaults to active. Resolution blocks carry resolved.
	Status types.Status

	// Timestamp defaults to now.
	Timestamp time.Time
}

// Engine runs the capture protocol.
type Engine struct {
	notes  *gitnotes.Store
	idx    index.Store
	emb    embedder.Embedder
	cfg    config.Config
	logger *log.Logger
}

// New builds a capture engine. logger may be nil.
func New(notes *gitnotes.Store, idx index.Store, emb embedder.Embedder, cfg config.Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{notes: notes, idx: idx, emb: emb, cfg: cfg, logger: logger}
}

// Capture validates, appends the block to the commit's note under the
// per-repo lock, then best-effort embeds and indexes. The returned result
// reports Success once git has the note; Indexed and Warning describe the
// cache outcome.
func (e *Engine) Capture(ctx context.Context, req Request) (types.CaptureResult, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = types.StatusActive
	}
	meta := notecodec.Meta{
		Namespace: req.Namespace,
		Timestamp: req.Timestamp,
		Summary:   req.Summary,
		Spec:      req.Spec,
		Phase:     req.Phase,
		Tags:      req.Tags,
		Status:    req.Status,
		RelatesTo: req.RelatesTo,
	}
	blockText, err := notecodec.EncodeLimited(meta, req.Content, notecodec.Limits{
		MaxSummaryChars: e.cfg.MaxSummaryChars,
		MaxContentBytes: e.cfg.MaxContentBytes,
	})
	if err != nil {
		return types.CaptureResult{}, err
	}

	lock, err := acquireLock(e.cfg.RepoDir(e.notes.RepoPath()), e.cfg.CaptureLockTimeout)
	if err != nil {
		return types.CaptureResult{}, err
	}
	defer lock.release()

	sha, err := e.notes.ResolveCommit(ctx, req.Commit)
	if err != nil {
		return types.CaptureResult{}, err
	}

	// The ordinal is the block's position in the raw note. Skipped
	// segments still occupy positions so ids never collide with blocks a
	// later repair might recover.
	ordinal := 0
	existing, err := e.notes.Read(ctx, sha, req.Namespace)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return types.CaptureResult{}, err
	}
	if existing != "" {
		res, err := notecodec.Decode(existing)
		if err != nil {
			return types.CaptureResult{}, types.Capture(types.SubCorrupt,
				fmt.Sprintf("existing note for %s/%s is unreadable", sha, req.Namespace),
				"inspect it with `git notes --ref "+e.notes.Ref(req.Namespace)+" show "+sha+"`", err)
		}
		ordinal = len(res.Blocks) + res.Skipped
	}

	if err := e.notes.Append(ctx, sha, blockText, req.Namespace); err != nil {
		return types.CaptureResult{}, err
	}

	mem := notecodec.ToMemory(notecodec.Block{Meta: meta, Body: req.Content, Ordinal: ordinal},
		e.notes.RepoPath(), sha)
	result := types.CaptureResult{Success: true, ID: mem.ID}

	embedding, err := e.emb.EmbedForStorage(req.Summary + "\n\n" + req.Content)
	if err != nil {
		e.logger.Printf("capture %s: embedding failed: %v", mem.ID, err)
		result.Warning = "embedding unavailable; memory will match text search only until resync"
		embedding = nil
	}

	if err := e.idx.Upsert(ctx, mem, embedding); err != nil {
		e.logger.Printf("capture %s: index write failed: %v", mem.ID, err)
		result.Warning = "note saved to git but indexing failed; run sync to repair"
		writeRepairHint(e.cfg.RepoDir(mem.RepoPath), RepairHint{
			ID:        mem.ID,
			RepoPath:  mem.RepoPath,
			Namespace: string(mem.Namespace),
			CommitSHA: sha,
			Reason:    err.Error(),
		})
		return result, nil
	}
	// Indexed means fully indexed: a row without its vector still needs
	// the next sync to finish the job.
	result.Indexed = embedding != nil

	return result, nil
}

// CaptureDecision records a decision made at the current commit.
func (e *Engine) CaptureDecision(ctx context.Context, req Request) (types.CaptureResult, error) {
	req.Namespace = types.NSDecisions
	return e.Capture(ctx, req)
}

// CaptureProgress records a progress update.
func (e *Engine) CaptureProgress(ctx context.Context, req Request) (types.CaptureResult, error) {
	req.Namespace = types.NSProgress
	return e.Capture(ctx, req)
}

// CaptureBlocker records an active blocker.
func (e *Engine) CaptureBlocker(ctx context.Context, req Request) (types.CaptureResult, error) {
	req.Namespace = types.NSBlockers
	return e.Capture(ctx, req)
}

// CaptureLearning records a learning.
func (e *Engine) CaptureLearning(ctx context.Context, req Request) (types.CaptureResult, error) {
	req.Namespace = types.NSLearnings
	return e.Capture(ctx, req)
}

// CaptureReview records a review finding.
func (e *Engine) CaptureReview(ctx context.Context, req Request) (types.CaptureResult, error) {
	req.Namespace = types.NSReviews
	return e.Capture(ctx, req)
}

// CaptureRetrospective records a retrospective entry.
func (e *Engine) CaptureRetrospective(ctx context.Context, req Request) (types.CaptureResult, error) {
	req.Namespace = types.NSRetrospective
	return e.Capture(ctx, req)
}

// CaptureResearch records research findings.
func (e *Engine) CaptureResearch(ctx context.Context, req Request) (types.CaptureResult, error) {
	req.Namespace = types.NSResearch
	return e.Capture(ctx, req)
}

// CapturePattern records a derived pattern memory.
func (e *Engine) CapturePattern(ctx context.Context, req Request) (types.CaptureResult, error) {
	req.Namespace = types.NSPatterns
	return e.Capture(ctx, req)
}

// DecisionBody assembles the conventional decision sections. Empty
// sections are omitted; all empty yields "".
func DecisionBody(background, rationale, impact string) string {
	var b strings.Builder
	for _, s := range []struct{ title, text string }{
		{"Context", background},
		{"Rationale", rationale},
		{"Impact", impact},
	} {
		if s.text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.title + ":\n" + s.text + "\n")
	}
	return b.String()
}

// ResolveBlocker marks a blocker resolved in the index and appends a
// resolution block to the blocker's own note, carrying status resolved.
// Git stays append-only; the original blocker block is not rewritten, so
// both the blocker and its resolution remain discoverable.
func (e *Engine) ResolveBlocker(ctx context.Context, blockerID, resolution string, req Request) (types.CaptureResult, error) {
	blocker, err := e.idx.Get(ctx, blockerID)
	if err != nil {
		return types.CaptureResult{}, err
	}
	if blocker.Namespace != types.NSBlockers {
		return types.CaptureResult{}, types.Validation("id",
			fmt.Sprintf("%s is not a blocker", blockerID),
			"pass the id of a blockers-namespace memory")
	}
	if err := e.idx.UpdateStatus(ctx, blockerID, types.StatusResolved); err != nil {
		return types.CaptureResult{}, err
	}

	req.Namespace = types.NSBlockers
	req.Commit = blocker.CommitSHA
	req.Status = types.StatusResolved
	if req.Summary == "" {
		req.Summary = "Resolved: " + blocker.Summary
	}
	if req.Content == "" {
		req.Content = resolution
	}
	req.RelatesTo = append(req.RelatesTo, blockerID)
	if req.Spec == "" {
		req.Spec = blocker.Spec
	}
	return e.Capture(ctx, req)
}
