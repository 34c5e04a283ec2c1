// internal/service/service.go
// Package service wires the engines into one facade the CLI, MCP server
// and HTTP API all sit on.
package service

import (
	"context"
	"log"

	"github.com/MereWhiplash/gitmem/internal/capture"
	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/embedder"
	"github.com/MereWhiplash/gitmem/internal/gitnotes"
	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/lifecycle"
	"github.com/MereWhiplash/gitmem/internal/pattern"
	"github.com/MereWhiplash/gitmem/internal/recall"
	"github.com/MereWhiplash/gitmem/internal/syncer"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// Service composes the engines over one repository.
type Service struct {
	cfg   config.Config
	notes *gitnotes.Store
	idx   index.Store
	emb   embedder.Embedder

	Capture   *capture.Engine
	Recall    *recall.Engine
	Syncer    *syncer.Engine
	Lifecycle *lifecycle.Engine
	Pattern   *pattern.Engine
}

// Open builds a service for the repository at repoPath. logger may be
// nil.
func Open(ctx context.Context, repoPath string, cfg config.Config, logger *log.Logger) (*Service, error) {
	notes, err := gitnotes.New(repoPath, cfg.GitPrefix, cfg.SubprocessTimeout)
	if err != nil {
		return nil, err
	}
	notes.SetSnapshotCaps(cfg.MaxHydrationFiles, cfg.MaxFileBytes)

	idx, err := index.New(ctx, index.Config{
		Driver:      cfg.IndexDriver,
		SQLitePath:  cfg.IndexPath(),
		PostgresDSN: cfg.PostgresDSN,
		Dim:         cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(cfg)
	if err != nil {
		idx.Close()
		return nil, err
	}

	s := &Service{cfg: cfg, notes: notes, idx: idx, emb: emb}
	s.Capture = capture.New(notes, idx, emb, cfg, logger)
	s.Recall = recall.New(idx, notes, emb, cfg, logger)
	s.Syncer = syncer.New(notes, idx, emb, cfg, logger)
	s.Lifecycle = lifecycle.New(idx, cfg, logger)
	s.Pattern = pattern.New(idx, s.Capture, cfg, logger)
	return s, nil
}

// RepoPath is the repository this service operates on.
func (s *Service) RepoPath() string { return s.notes.RepoPath() }

// Notes exposes the underlying git store for callers that need raw
// commit metadata.
func (s *Service) Notes() *gitnotes.Store { return s.notes }

// Index exposes the underlying index store.
func (s *Service) Index() index.Store { return s.idx }

// Status reports index stats, consistency, and integrity in one shot.
func (s *Service) Status(ctx context.Context) (types.Stats, types.VerificationReport, error) {
	stats, err := s.idx.Stats(ctx, s.notes.RepoPath())
	if err != nil {
		return stats, types.VerificationReport{}, err
	}
	report, err := s.Syncer.VerifyConsistency(ctx)
	if err != nil {
		return stats, report, err
	}
	if err := s.idx.Verify(ctx); err != nil {
		return stats, report, err
	}
	return stats, report, nil
}

// Sync runs an incremental sync, invalidating recall caches afterwards.
func (s *Service) Sync(ctx context.Context, full bool) (syncer.Report, error) {
	var report syncer.Report
	var err error
	if full {
		report, err = s.Syncer.FullReindex(ctx)
	} else {
		report, err = s.Syncer.Incremental(ctx)
	}
	if err == nil {
		s.Recall.InvalidateCache()
	}
	return report, err
}

// EnsureSyncConfig installs the notes fetch refspec so memories travel
// with push and pull.
func (s *Service) EnsureSyncConfig(ctx context.Context) error {
	for _, ns := range types.Namespaces {
		if err := s.notes.EnsureSyncConfig(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the index and embedder.
func (s *Service) Close() error {
	err := s.idx.Close()
	if cerr := s.emb.Close(); err == nil {
		err = cerr
	}
	return err
}
