// internal/embedder/embedder.go
// Package embedder turns memory text into vectors. Embedding is always a
// soft dependency: callers treat failures as "capture succeeded, index
// degraded" rather than fatal.
package embedder

import (
	"fmt"
	"sync"

	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// EmbedForStorage creates an embedding optimized for document storage.
	EmbedForStorage(text string) ([]float32, error)
	// EmbedForSearch creates an embedding optimized for search queries.
	EmbedForSearch(query string) ([]float32, error)
	// EmbedBatchForStorage embeds many documents, preserving order.
	EmbedBatchForStorage(texts []string) ([][]float32, error)
	// Dimension is the vector size this embedder produces.
	Dimension() int
	// Close releases any backend resources.
	Close() error
}

// New builds an embedder from config. "ollama" (default) talks to a local
// Ollama server; "onnx" runs in-process and is only available in builds
// with the onnx tag.
func New(cfg config.Config) (Embedder, error) {
	switch cfg.EmbeddingBackend {
	case "", "ollama":
		return NewLazy(func() (Embedder, error) {
			return NewOllama(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingDim), nil
		}), nil
	case "onnx":
		return NewLazy(func() (Embedder, error) {
			return newONNX(cfg)
		}), nil
	default:
		return nil, types.Validation("embedding_backend",
			fmt.Sprintf("unknown embedding backend %q", cfg.EmbeddingBackend),
			"use ollama or onnx")
	}
}

// Lazy defers backend construction until the first embed call and makes a
// load failure sticky. Capture paths that never embed (text-only installs)
// pay nothing.
type Lazy struct {
	build func() (Embedder, error)

	once sync.Once
	impl Embedder
	err  error
}

// NewLazy wraps a constructor.
func NewLazy(build func() (Embedder, error)) *Lazy {
	return &Lazy{build: build}
}

func (l *Lazy) load() (Embedder, error) {
	l.once.Do(func() {
		impl, err := l.build()
		if err != nil {
			l.err = types.Embedding(types.SubLoad, "embedding backend failed to load", err)
			return
		}
		l.impl = impl
	})
	return l.impl, l.err
}

func (l *Lazy) EmbedForStorage(text string) ([]float32, error) {
	impl, err := l.load()
	if err != nil {
		return nil, err
	}
	return impl.EmbedForStorage(text)
}

func (l *Lazy) EmbedForSearch(query string) ([]float32, error) {
	impl, err := l.load()
	if err != nil {
		return nil, err
	}
	return impl.EmbedForSearch(query)
}

func (l *Lazy) EmbedBatchForStorage(texts []string) ([][]float32, error) {
	impl, err := l.load()
	if err != nil {
		return nil, err
	}
	return impl.EmbedBatchForStorage(texts)
}

func (l *Lazy) Dimension() int {
	impl, err := l.load()
	if err != nil {
		return 0
	}
	return impl.Dimension()
}

func (l *Lazy) Close() error {
	if l.impl != nil {
		return l.impl.Close()
	}
	return nil
}
