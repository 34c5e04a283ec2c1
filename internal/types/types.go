// internal/types/types.go
// Package types contains shared data types that have no CGO dependencies.
// This allows packages like the shim to use Memory without pulling in sqlite-vec.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Namespace partitions memories by intent. The set is closed.
type Namespace string

const (
	NSInception     Namespace = "inception"
	NSElicitation   Namespace = "elicitation"
	NSResearch      Namespace = "research"
	NSDecisions     Namespace = "decisions"
	NSProgress      Namespace = "progress"
	NSBlockers      Namespace = "blockers"
	NSReviews       Namespace = "reviews"
	NSLearnings     Namespace = "learnings"
	NSRetrospective Namespace = "retrospective"
	NSPatterns      Namespace = "patterns"
)

// Namespaces lists all valid namespaces in a stable order.
var Namespaces = []Namespace{
	NSInception, NSElicitation, NSResearch, NSDecisions, NSProgress,
	NSBlockers, NSReviews, NSLearnings, NSRetrospective, NSPatterns,
}

// Valid returns true if the Namespace is a known valid namespace.
func (n Namespace) Valid() bool {
	for _, v := range Namespaces {
		if n == v {
			return true
		}
	}
	return false
}

// Validate returns an error if the Namespace is invalid.
func (n Namespace) Validate() error {
	if !n.Valid() {
		return Validation("namespace", fmt.Sprintf("invalid namespace %q", n),
			"use one of: "+namespaceList())
	}
	return nil
}

func namespaceList() string {
	parts := make([]string, len(Namespaces))
	for i, n := range Namespaces {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}

// Status is the lifecycle state of a memory.
type Status string

const (
	StatusActive    Status = "active"
	StatusResolved  Status = "resolved"
	StatusAging     Status = "aging"
	StatusArchived  Status = "archived"
	StatusTombstone Status = "tombstone"
)

// Valid returns true if the Status is a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusAging, StatusArchived, StatusTombstone:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may legally move to next.
// Archived and tombstoned memories may be restored to active; tombstone
// has no other exits.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusActive:
		return next == StatusResolved || next == StatusAging ||
			next == StatusArchived || next == StatusTombstone
	case StatusResolved:
		return next == StatusArchived || next == StatusTombstone
	case StatusAging:
		return next == StatusActive || next == StatusArchived || next == StatusTombstone
	case StatusArchived:
		return next == StatusActive || next == StatusTombstone
	case StatusTombstone:
		return next == StatusActive
	}
	return false
}

// Memory is the core entity: one structured note block attached to a commit.
type Memory struct {
	ID        string    `json:"id"`
	CommitSHA string    `json:"commit_sha"`
	RepoPath  string    `json:"repo_path"`
	Namespace Namespace `json:"namespace"`
	Summary   string    `json:"summary"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Spec      string    `json:"spec,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Status    Status    `json:"status"`
	RelatesTo []string  `json:"relates_to,omitempty"`
}

// MemoryID builds the stable identifier {namespace}:{commit_sha}:{ordinal}.
func MemoryID(ns Namespace, commitSHA string, ordinal int) string {
	return fmt.Sprintf("%s:%s:%d", ns, commitSHA, ordinal)
}

// ParseMemoryID splits an id into its parts.
func ParseMemoryID(id string) (ns Namespace, commitSHA string, ordinal int, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 {
		return "", "", 0, Validation("id", fmt.Sprintf("malformed memory id %q", id),
			"expected {namespace}:{commit_sha}:{ordinal}")
	}
	ord, convErr := strconv.Atoi(parts[2])
	if convErr != nil || ord < 0 {
		return "", "", 0, Validation("id", fmt.Sprintf("bad ordinal in memory id %q", id),
			"ordinal must be a non-negative integer")
	}
	return Namespace(parts[0]), parts[1], ord, nil
}

// MemoryResult is a Memory plus its vector distance from a query
// (non-negative; lower is closer).
type MemoryResult struct {
	Memory   `json:"memory"`
	Distance float64 `json:"distance"`
}

// HydrationLevel selects how much of a memory to load.
type HydrationLevel int

const (
	HydrateSummary HydrationLevel = iota
	HydrateFull
	HydrateFiles
)

func (l HydrationLevel) String() string {
	switch l {
	case HydrateSummary:
		return "summary"
	case HydrateFull:
		return "full"
	case HydrateFiles:
		return "files"
	}
	return fmt.Sprintf("HydrationLevel(%d)", int(l))
}

// HydratedMemory is a Memory with optionally loaded body and file snapshots.
type HydratedMemory struct {
	Memory   `json:"memory"`
	FullBody string            `json:"full_body,omitempty"`
	Files    map[string][]byte `json:"files,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// PatternType classifies a derived pattern.
type PatternType string

const (
	PatternSuccess  PatternType = "success"
	PatternAnti     PatternType = "anti"
	PatternWorkflow PatternType = "workflow"
	PatternDecision PatternType = "decision"
)

// Valid returns true if the PatternType is known.
func (p PatternType) Valid() bool {
	switch p {
	case PatternSuccess, PatternAnti, PatternWorkflow, PatternDecision:
		return true
	}
	return false
}

// PatternStatus is the lifecycle state of a derived pattern.
type PatternStatus string

const (
	PatternCandidate PatternStatus = "candidate"
	PatternValidated PatternStatus = "validated"
	PatternPromoted  PatternStatus = "promoted"
	PatternDemoted   PatternStatus = "demoted"
)

// Pattern is a derived memory summarizing a cluster of related memories.
// It is stored as a memory in the "patterns" namespace.
type Pattern struct {
	Name       string        `json:"name"`
	Type       PatternType   `json:"pattern_type"`
	Confidence float64       `json:"confidence"`
	Status     PatternStatus `json:"status"`
	Evidence   []string      `json:"evidence"`
	Terms      []string      `json:"terms,omitempty"`
	Summary    string        `json:"summary"`
}

// CommitInfo describes a commit a memory is attached to.
type CommitInfo struct {
	SHA          string    `json:"sha"`
	Author       string    `json:"author"`
	AuthorTime   time.Time `json:"author_time"`
	Subject      string    `json:"subject"`
	ChangedPaths []string  `json:"changed_paths,omitempty"`
}

// CaptureResult reports the outcome of a capture.
// Success is true whenever the note reached git, even if indexing failed;
// git is the source of truth and the syncer reconciles the index later.
type CaptureResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Indexed bool   `json:"indexed"`
	Warning string `json:"warning,omitempty"`
}

// Filters restricts index queries.
type Filters struct {
	RepoPath  string
	Namespace Namespace
	Spec      string
	Status    Status
	Since     time.Time
	Until     time.Time
	TagsAny   []string
}

// Stats summarizes an index.
type Stats struct {
	Total       int            `json:"total"`
	ByNamespace map[string]int `json:"by_namespace"`
	BySpec      map[string]int `json:"by_spec"`
	SizeBytes   int64          `json:"size_bytes"`
	LastCapture time.Time      `json:"last_capture,omitempty"`
}

// VerificationReport counts referential drift between stores.
type VerificationReport struct {
	InGitNotIndex int            `json:"in_git_not_index"`
	InIndexNotGit int            `json:"in_index_not_git"`
	HashMismatch  int            `json:"hash_mismatch"`
	ByNamespace   map[string]int `json:"by_namespace,omitempty"`
	OrphanVectors int            `json:"orphan_vectors"`
}

// Clean reports whether the two stores agree.
func (r VerificationReport) Clean() bool {
	return r.InGitNotIndex == 0 && r.InIndexNotGit == 0 &&
		r.HashMismatch == 0 && r.OrphanVectors == 0
}
