// internal/config/config.go
// Package config resolves runtime knobs from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds every tunable the engines consume. Zero-config works: all
// fields have defaults.
type Config struct {
	DataDir   string
	GitPrefix string

	IndexDriver string
	PostgresDSN string

	EmbeddingBackend string
	EmbeddingModel   string
	EmbeddingDim     int
	OllamaURL        string
	ONNXModelPath    string
	ONNXVocabPath    string

	MaxContentBytes   int
	MaxSummaryChars   int
	MaxHydrationFiles int
	MaxFileBytes      int

	CaptureLockTimeout time.Duration
	SubprocessTimeout  time.Duration

	DecayHalfLifeDays  int
	ArchiveAfterDays   int
	TombstoneAfterDays int
	GCHorizonDays      int

	RecallCacheTTL     time.Duration
	RecallCacheEntries int
}

// Default returns the built-in configuration.
func Default() Config {
	dataDir := filepath.Join(homeDir(), ".local", "share", "memory-plugin")
	return Config{
		DataDir:            dataDir,
		GitPrefix:          "mem",
		IndexDriver:        "sqlite",
		EmbeddingBackend:   "ollama",
		EmbeddingModel:     "nomic-embed-text",
		EmbeddingDim:       384,
		OllamaURL:          "http://localhost:11434",
		MaxContentBytes:    102400,
		MaxSummaryChars:    100,
		MaxHydrationFiles:  20,
		MaxFileBytes:       102400,
		CaptureLockTimeout: 5 * time.Second,
		SubprocessTimeout:  30 * time.Second,
		DecayHalfLifeDays:  30,
		ArchiveAfterDays:   90,
		TombstoneAfterDays: 180,
		GCHorizonDays:      365,
		RecallCacheTTL:     5 * time.Minute,
		RecallCacheEntries: 100,
	}
}

// FromEnv layers GITMEM_* environment variables over the defaults.
func FromEnv() Config {
	c := Default()
	c.DataDir = envStr("GITMEM_DATA_DIR", c.DataDir)
	c.GitPrefix = envStr("GITMEM_GIT_PREFIX", c.GitPrefix)
	c.IndexDriver = envStr("GITMEM_INDEX_DRIVER", c.IndexDriver)
	c.PostgresDSN = envStr("GITMEM_POSTGRES_DSN", c.PostgresDSN)
	c.EmbeddingBackend = envStr("GITMEM_EMBEDDING_BACKEND", c.EmbeddingBackend)
	c.EmbeddingModel = envStr("GITMEM_EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDim = envInt("GITMEM_EMBEDDING_DIM", c.EmbeddingDim)
	c.OllamaURL = envStr("GITMEM_OLLAMA_URL", c.OllamaURL)
	c.ONNXModelPath = envStr("GITMEM_ONNX_MODEL_PATH", c.ONNXModelPath)
	c.ONNXVocabPath = envStr("GITMEM_ONNX_VOCAB_PATH", c.ONNXVocabPath)
	c.MaxContentBytes = envInt("GITMEM_MAX_CONTENT_BYTES", c.MaxContentBytes)
	c.MaxSummaryChars = envInt("GITMEM_MAX_SUMMARY_CHARS", c.MaxSummaryChars)
	c.MaxHydrationFiles = envInt("GITMEM_MAX_HYDRATION_FILES", c.MaxHydrationFiles)
	c.MaxFileBytes = envInt("GITMEM_MAX_FILE_BYTES", c.MaxFileBytes)
	c.CaptureLockTimeout = envMillis("GITMEM_CAPTURE_LOCK_TIMEOUT_MS", c.CaptureLockTimeout)
	c.SubprocessTimeout = envMillis("GITMEM_SUBPROCESS_TIMEOUT_MS", c.SubprocessTimeout)
	c.DecayHalfLifeDays = envInt("GITMEM_DECAY_HALF_LIFE_DAYS", c.DecayHalfLifeDays)
	c.ArchiveAfterDays = envInt("GITMEM_ARCHIVE_AFTER_DAYS", c.ArchiveAfterDays)
	c.TombstoneAfterDays = envInt("GITMEM_TOMBSTONE_AFTER_DAYS", c.TombstoneAfterDays)
	c.GCHorizonDays = envInt("GITMEM_GC_HORIZON_DAYS", c.GCHorizonDays)
	c.RecallCacheTTL = envMillis("GITMEM_RECALL_CACHE_TTL_MS", c.RecallCacheTTL)
	c.RecallCacheEntries = envInt("GITMEM_RECALL_CACHE_ENTRIES", c.RecallCacheEntries)
	return c
}

// IndexPath is the location of the single-file index.
func (c Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.db")
}

// RepoDir is the per-repo subdirectory of the data dir (lock file, hints).
func (c Config) RepoDir(repoPath string) string {
	return filepath.Join(c.DataDir, "repos", sanitizeRepoKey(repoPath))
}

// NotesRef returns the full ref for a namespace, e.g. refs/notes/mem/decisions.
func (c Config) NotesRef(namespace string) string {
	return "refs/notes/" + c.GitPrefix + "/" + namespace
}

func sanitizeRepoKey(repoPath string) string {
	out := make([]rune, 0, len(repoPath))
	for _, r := range repoPath {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
