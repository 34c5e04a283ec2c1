// internal/recall/recall.go
// Package recall answers queries: semantic search with lexical fallback,
// plain listings, and hydration of results back to their git source.
package recall

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/embedder"
	"github.com/MereWhiplash/gitmem/internal/gitnotes"
	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/notecodec"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// Rerank weights. Distances are cosine (0..2); boosts subtract from the
// effective distance so boosted memories sort earlier.
const (
	recencyWeight  = 0.15
	tagMatchWeight = 0.10
	durableWeight  = 0.05
)

// Engine serves queries over the index with git as the hydration source.
type Engine struct {
	idx    index.Store
	notes  *gitnotes.Store
	emb    embedder.Embedder
	cfg    config.Config
	cache  *lru.LRU[string, []types.MemoryResult]
	logger *log.Logger
}

// New builds a recall engine. logger may be nil.
func New(idx index.Store, notes *gitnotes.Store, emb embedder.Embedder, cfg config.Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		idx:    idx,
		notes:  notes,
		emb:    emb,
		cfg:    cfg,
		cache:  lru.NewLRU[string, []types.MemoryResult](cfg.RecallCacheEntries, nil, cfg.RecallCacheTTL),
		logger: logger,
	}
}

// Search embeds the query and returns the k best memories after
// reranking. When the embedder is unavailable it degrades to text search
// rather than failing.
func (e *Engine) Search(ctx context.Context, query string, k int, f types.Filters) ([]types.MemoryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.Validation("query", "query is empty", "provide search terms")
	}
	if k <= 0 {
		k = 5
	}

	key := cacheKey(query, k, f)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	var results []types.MemoryResult
	vec, err := e.emb.EmbedForSearch(query)
	if err == nil {
		results, err = e.idx.KNN(ctx, vec, k, f)
		if err != nil {
			return nil, err
		}
	} else {
		e.logger.Printf("search: embedding failed, falling back to text: %v", err)
		results, err = e.idx.TextSearch(ctx, query, k, f)
		if err != nil {
			return nil, err
		}
	}

	results = e.rerank(query, results)
	if len(results) > k {
		results = results[:k]
	}
	e.cache.Add(key, results)
	return results, nil
}

// TextSearch is the explicit lexical path, exposed for callers that want
// deterministic matching.
func (e *Engine) TextSearch(ctx context.Context, query string, k int, f types.Filters) ([]types.MemoryResult, error) {
	return e.idx.TextSearch(ctx, query, k, f)
}

// rerank adjusts raw distances with additive boosts: recent memories,
// memories whose tags appear in the query, and durable namespaces
// (decisions, learnings, patterns) float up.
func (e *Engine) rerank(query string, results []types.MemoryResult) []types.MemoryResult {
	now := time.Now()
	terms := map[string]bool{}
	for _, t := range strings.Fields(strings.ToLower(query)) {
		terms[t] = true
	}

	type scored struct {
		r     types.MemoryResult
		score float64
	}
	out := make([]scored, len(results))
	for i, r := range results {
		score := r.Distance

		ageDays := now.Sub(r.Timestamp).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		score -= recencyWeight * math.Exp2(-ageDays/float64(e.cfg.DecayHalfLifeDays))

		for _, tag := range r.Tags {
			if terms[strings.ToLower(tag)] {
				score -= tagMatchWeight
				break
			}
		}

		switch r.Namespace {
		case types.NSDecisions, types.NSLearnings, types.NSPatterns:
			score -= durableWeight
		}

		out[i] = scored{r: r, score: score}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score < out[j].score })

	ranked := make([]types.MemoryResult, len(out))
	for i, s := range out {
		ranked[i] = s.r
	}
	return ranked
}

// Recent lists the newest memories matching the filter.
func (e *Engine) Recent(ctx context.Context, f types.Filters, limit int) ([]types.Memory, error) {
	return e.idx.List(ctx, f, limit)
}

// ByCommit returns a commit's memories in one namespace, ordinal order.
// The ref is resolved first so abbreviations and branch names work.
func (e *Engine) ByCommit(ctx context.Context, ref string, ns types.Namespace) ([]types.Memory, error) {
	sha, err := e.notes.ResolveCommit(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.idx.ListByCommit(ctx, e.notes.RepoPath(), ns, sha)
}

// Similar finds the k memories nearest to an existing one, excluding it.
func (e *Engine) Similar(ctx context.Context, id string, k int, f types.Filters) ([]types.MemoryResult, error) {
	if k <= 0 {
		k = 5
	}
	mem, err := e.idx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	vec, err := e.emb.EmbedForSearch(mem.Summary + "\n\n" + mem.Content)
	if err != nil {
		return e.idx.TextSearch(ctx, mem.Summary, k, f)
	}
	results, err := e.idx.KNN(ctx, vec, k+1, f)
	if err != nil {
		return nil, err
	}
	out := results[:0]
	for _, r := range results {
		if r.ID != id {
			out = append(out, r)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// ContextBundle is the working-state snapshot for one spec: what was
// decided, what is blocking, and what moved recently.
type ContextBundle struct {
	Spec      string         `json:"spec"`
	Decisions []types.Memory `json:"decisions,omitempty"`
	Blockers  []types.Memory `json:"blockers,omitempty"`
	Progress  []types.Memory `json:"progress,omitempty"`
	Learnings []types.Memory `json:"learnings,omitempty"`
}

// Context assembles the bundle for a spec.
func (e *Engine) Context(ctx context.Context, spec string, perSection int) (ContextBundle, error) {
	if perSection <= 0 {
		perSection = 5
	}
	bundle := ContextBundle{Spec: spec}
	repo := e.notes.RepoPath()

	sections := []struct {
		ns     types.Namespace
		status types.Status
		dest   *[]types.Memory
	}{
		{types.NSDecisions, "", &bundle.Decisions},
		{types.NSBlockers, types.StatusActive, &bundle.Blockers},
		{types.NSProgress, "", &bundle.Progress},
		{types.NSLearnings, "", &bundle.Learnings},
	}
	for _, s := range sections {
		mems, err := e.idx.List(ctx, types.Filters{
			RepoPath:  repo,
			Namespace: s.ns,
			Spec:      spec,
			Status:    s.status,
		}, perSection)
		if err != nil {
			return bundle, err
		}
		*s.dest = mems
	}
	return bundle, nil
}

// Hydrate loads memories at the requested level. Summary returns index
// rows; Full re-reads each body from its git note; Files additionally
// loads snapshots of the commit's changed paths. Per-memory problems
// become warnings, never aborts.
func (e *Engine) Hydrate(ctx context.Context, ids []string, level types.HydrationLevel) ([]types.HydratedMemory, error) {
	mems, err := e.idx.GetBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]types.HydratedMemory, 0, len(mems))
	for _, m := range mems {
		h := types.HydratedMemory{Memory: m}
		if level >= types.HydrateFull {
			e.hydrateBody(ctx, &h)
		}
		if level >= types.HydrateFiles {
			e.hydrateFiles(ctx, &h)
		}
		out = append(out, h)
	}
	return out, nil
}

func (e *Engine) hydrateBody(ctx context.Context, h *types.HydratedMemory) {
	_, sha, ordinal, err := types.ParseMemoryID(h.ID)
	if err != nil {
		h.Warnings = append(h.Warnings, err.Error())
		return
	}
	text, err := e.notes.Read(ctx, sha, h.Namespace)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			h.Warnings = append(h.Warnings, "note missing from git; index entry is stale")
		} else {
			h.Warnings = append(h.Warnings, fmt.Sprintf("note read failed: %v", err))
		}
		return
	}
	res, err := notecodec.Decode(text)
	if err != nil {
		h.Warnings = append(h.Warnings, fmt.Sprintf("note unparseable: %v", err))
		return
	}
	for _, b := range res.Blocks {
		if b.Ordinal == ordinal {
			h.FullBody = b.Body
			return
		}
	}
	h.Warnings = append(h.Warnings, fmt.Sprintf("ordinal %d not found in note", ordinal))
}

func (e *Engine) hydrateFiles(ctx context.Context, h *types.HydratedMemory) {
	paths, err := e.notes.ChangedFiles(ctx, h.CommitSHA)
	if err != nil {
		h.Warnings = append(h.Warnings, fmt.Sprintf("cannot list changed files: %v", err))
		return
	}
	if len(paths) == 0 {
		return
	}
	if len(paths) > e.cfg.MaxHydrationFiles {
		h.Warnings = append(h.Warnings,
			fmt.Sprintf("commit touches %d files, loading first %d", len(paths), e.cfg.MaxHydrationFiles))
		paths = paths[:e.cfg.MaxHydrationFiles]
	}
	files, err := e.notes.BatchFileAt(ctx, h.CommitSHA, paths)
	if err != nil {
		h.Warnings = append(h.Warnings, fmt.Sprintf("file snapshot read failed: %v", err))
		return
	}
	for _, p := range paths {
		if _, ok := files[p]; !ok {
			h.Warnings = append(h.Warnings, fmt.Sprintf("%s skipped (missing or over size cap)", p))
		}
	}
	h.Files = files
}

// InvalidateCache drops cached search results, used after sync rewrites
// the index underneath us.
func (e *Engine) InvalidateCache() {
	e.cache.Purge()
}

func cacheKey(query string, k int, f types.Filters) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s|%s|%s|%d|%d|%s",
		query, k, f.RepoPath, f.Namespace, f.Spec, f.Status,
		f.Since.Unix(), f.Until.Unix(), strings.Join(f.TagsAny, ","))))
	return hex.EncodeToString(hash[:])
}
