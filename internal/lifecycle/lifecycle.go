// internal/lifecycle/lifecycle.go
// Package lifecycle ages memories: relevance decays with a half-life,
// stale memories archive with compressed bodies, archives eventually
// tombstone, and ancient tombstones are garbage collected from the
// index. Git is never rewritten; every transition is index-only and
// reversible from the notes.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/types"
)

const (
	// AgingThreshold is the decay score below which an active memory
	// starts aging: one half-life without activity.
	AgingThreshold = 0.5

	// ArchivedPrefix marks archived summaries in the index.
	ArchivedPrefix = "[ARCHIVED] "

	// TombstoneSummary replaces the summary of tombstoned memories.
	TombstoneSummary = "[DELETED]"

	// compressedMarker prefixes gzip+base64 bodies so readers can tell
	// them from plain text.
	compressedMarker = "gzip:"
)

// Durable namespaces never age out automatically; their value does not
// decay with time the way progress updates do.
var durable = map[types.Namespace]bool{
	types.NSInception: true,
	types.NSDecisions: true,
	types.NSLearnings: true,
	types.NSPatterns:  true,
}

// Engine runs lifecycle sweeps over one repo's slice of the index.
type Engine struct {
	idx    index.Store
	cfg    config.Config
	logger *log.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New builds a lifecycle engine. logger may be nil.
func New(idx index.Store, cfg config.Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{idx: idx, cfg: cfg, logger: logger, now: time.Now}
}

// Relevance is the decayed score of a memory at time now:
// 2^(-age_days / half_life_days). A memory exactly one half-life old
// scores 0.5.
func Relevance(timestamp, now time.Time, halfLifeDays int) float64 {
	ageDays := now.Sub(timestamp).Hours() / 24
	if ageDays <= 0 {
		return 1.0
	}
	return math.Exp2(-ageDays / float64(halfLifeDays))
}

// SweepReport counts the transitions one sweep performed.
type SweepReport struct {
	Examined   int `json:"examined"`
	Aged       int `json:"aged"`
	Archived   int `json:"archived"`
	Tombstoned int `json:"tombstoned"`
}

// Sweep walks a repo's memories and applies due transitions. With dryRun
// the report says what would happen without changing anything.
func (e *Engine) Sweep(ctx context.Context, repoPath string, dryRun bool) (SweepReport, error) {
	var report SweepReport
	now := e.now()

	mems, err := e.allMemories(ctx, repoPath)
	if err != nil {
		return report, err
	}

	for _, m := range mems {
		report.Examined++
		ageDays := now.Sub(m.Timestamp).Hours() / 24

		switch m.Status {
		case types.StatusActive:
			if durable[m.Namespace] {
				continue
			}
			if Relevance(m.Timestamp, now, e.cfg.DecayHalfLifeDays) < AgingThreshold {
				report.Aged++
				if !dryRun {
					if err := e.idx.UpdateStatus(ctx, m.ID, types.StatusAging); err != nil {
						return report, err
					}
				}
			}

		case types.StatusAging, types.StatusResolved:
			// An unresolved blocker is still a blocker; it ages but is
			// never archived out of sight.
			if m.Status == types.StatusAging && m.Namespace == types.NSBlockers {
				continue
			}
			if ageDays > float64(e.cfg.ArchiveAfterDays) {
				report.Archived++
				if !dryRun {
					if err := e.archive(ctx, m); err != nil {
						return report, err
					}
				}
			}

		case types.StatusArchived:
			if ageDays > float64(e.cfg.TombstoneAfterDays) {
				report.Tombstoned++
				if !dryRun {
					if err := e.tombstone(ctx, m); err != nil {
						return report, err
					}
				}
			}
		}
	}
	return report, nil
}

// archive compresses the body and prefixes the summary, then moves the
// memory to archived.
func (e *Engine) archive(ctx context.Context, m types.Memory) error {
	summary := m.Summary
	if !strings.HasPrefix(summary, ArchivedPrefix) {
		summary = ArchivedPrefix + summary
	}
	content, err := Compress(m.Content)
	if err != nil {
		return fmt.Errorf("compress %s: %w", m.ID, err)
	}
	if err := e.idx.UpdateContent(ctx, m.ID, summary, content); err != nil {
		return err
	}
	return e.idx.UpdateStatus(ctx, m.ID, types.StatusArchived)
}

// tombstone blanks the memory in the index. The note in git keeps the
// original text; restore recovers it via resync.
func (e *Engine) tombstone(ctx context.Context, m types.Memory) error {
	if err := e.idx.UpdateContent(ctx, m.ID, TombstoneSummary, ""); err != nil {
		return err
	}
	return e.idx.UpdateStatus(ctx, m.ID, types.StatusTombstone)
}

// Archive forces one memory into the archived state regardless of age.
func (e *Engine) Archive(ctx context.Context, id string) error {
	m, err := e.idx.Get(ctx, id)
	if err != nil {
		return err
	}
	return e.archive(ctx, m)
}

// Tombstone forces one memory into the tombstone state.
func (e *Engine) Tombstone(ctx context.Context, id string) error {
	m, err := e.idx.Get(ctx, id)
	if err != nil {
		return err
	}
	return e.tombstone(ctx, m)
}

// Restore brings an archived or tombstoned memory back to active,
// decompressing the body and stripping the archive prefix. Tombstoned
// bodies are gone from the index; those need a resync to refill from
// git, which Restore signals in its error-free return by leaving the
// body empty.
func (e *Engine) Restore(ctx context.Context, id string) error {
	m, err := e.idx.Get(ctx, id)
	if err != nil {
		return err
	}
	summary := strings.TrimPrefix(m.Summary, ArchivedPrefix)
	content := m.Content
	if IsCompressed(content) {
		if plain, err := Decompress(content); err == nil {
			content = plain
		}
	}
	if summary != m.Summary || content != m.Content {
		if err := e.idx.UpdateContent(ctx, id, summary, content); err != nil {
			return err
		}
	}
	return e.idx.UpdateStatus(ctx, id, types.StatusActive)
}

// GCReport counts garbage collection work.
type GCReport struct {
	Examined int      `json:"examined"`
	Removed  int      `json:"removed"`
	IDs      []string `json:"ids,omitempty"`
}

// GC deletes tombstones older than the horizon from the index. Git keeps
// every note; this only trims the cache.
func (e *Engine) GC(ctx context.Context, repoPath string, dryRun bool) (GCReport, error) {
	var report GCReport
	now := e.now()

	tombstones, err := e.idx.List(ctx, types.Filters{
		RepoPath: repoPath,
		Status:   types.StatusTombstone,
	}, 1<<20)
	if err != nil {
		return report, err
	}

	for _, m := range tombstones {
		report.Examined++
		if now.Sub(m.Timestamp).Hours()/24 <= float64(e.cfg.GCHorizonDays) {
			continue
		}
		report.Removed++
		report.IDs = append(report.IDs, m.ID)
		if !dryRun {
			if err := e.idx.Delete(ctx, m.ID); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

func (e *Engine) allMemories(ctx context.Context, repoPath string) ([]types.Memory, error) {
	var all []types.Memory
	// List hides tombstones by default; sweep transitions never start
	// from tombstone, so the visible states suffice.
	for _, status := range []types.Status{
		types.StatusActive, types.StatusResolved, types.StatusAging, types.StatusArchived,
	} {
		mems, err := e.idx.List(ctx, types.Filters{RepoPath: repoPath, Status: status}, 1<<20)
		if err != nil {
			return nil, err
		}
		all = append(all, mems...)
	}
	return all, nil
}

// Compress gzips and base64-encodes a body, marking it so readers can
// recognize compressed content.
func Compress(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(w, text); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return compressedMarker + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// IsCompressed reports whether a body was produced by Compress.
func IsCompressed(text string) bool {
	return strings.HasPrefix(text, compressedMarker)
}

// Decompress reverses Compress. Plain text passes through unchanged.
func Decompress(text string) (string, error) {
	if !IsCompressed(text) {
		return text, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(text, compressedMarker))
	if err != nil {
		return "", err
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
