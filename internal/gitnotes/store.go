// internal/gitnotes/store.go
// Package gitnotes is a sanitizing facade over git's notes mechanism.
//
// Notes live under refs/notes/<prefix>/<namespace>. Every git invocation
// uses argument-vector execution and a wall-clock timeout; every ref and
// path parameter is validated before it reaches a command line. The store
// never rewrites history: appends read the current note and write the
// concatenation.
package gitnotes

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MereWhiplash/gitmem/internal/notecodec"
	"github.com/MereWhiplash/gitmem/internal/types"
)

// DefaultTimeout bounds each git subprocess.
const DefaultTimeout = 30 * time.Second

// Store provides durable per-namespace note storage on commits.
type Store struct {
	repoPath string
	prefix   string
	timeout  time.Duration

	// Snapshot caps, overridable via SetSnapshotCaps.
	maxBatchFiles int
	maxFileBytes  int
}

// NoteRef is one entry from List: a commit and the blob holding its note.
type NoteRef struct {
	CommitSHA string
	BlobSHA   string
}

// New opens a store rooted at repoPath. prefix defaults to "mem".
func New(repoPath, prefix string, timeout time.Duration) (*Store, error) {
	if prefix == "" {
		prefix = "mem"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !namespaceRe.MatchString(prefix) {
		return nil, types.Storage(types.SubRefInvalid,
			fmt.Sprintf("invalid notes prefix %q", prefix),
			"the prefix is a plain identifier like mem", nil)
	}
	s := &Store{
		repoPath:      repoPath,
		prefix:        prefix,
		timeout:       timeout,
		maxBatchFiles: MaxBatchFiles,
		maxFileBytes:  MaxFileBytes,
	}
	if !s.IsRepo() {
		return nil, types.Storage(types.SubNotAGitRepo,
			fmt.Sprintf("%s is not a git repository", repoPath),
			"run inside a git work tree or pass --repo", nil)
	}
	return s, nil
}

// RepoPath returns the repository root this store operates on.
func (s *Store) RepoPath() string { return s.repoPath }

// Ref returns the notes ref for a namespace.
func (s *Store) Ref(ns types.Namespace) string {
	return "refs/notes/" + s.prefix + "/" + string(ns)
}

// IsRepo reports whether the store's path is inside a git work tree.
func (s *Store) IsRepo() bool {
	_, err := s.run(context.Background(), "rev-parse", "--git-dir")
	return err == nil
}

// Append concatenates blockText onto the note for (commitSHA, namespace),
// creating the note when absent. Idempotent at the git level: the note is
// re-read and rewritten in full, never history-rewritten.
func (s *Store) Append(ctx context.Context, commitSHA string, blockText string, ns types.Namespace) error {
	if err := ValidateSHA(commitSHA); err != nil {
		return err
	}
	if err := ValidateNamespace(ns); err != nil {
		return err
	}

	existing, err := s.Read(ctx, commitSHA, ns)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	combined := notecodec.Append(existing, blockText)

	_, err = s.runStdin(ctx, combined,
		"notes", "--ref", s.Ref(ns), "add", "-f", "-F", "-", commitSHA)
	if err != nil {
		return err
	}
	return nil
}

// Read returns the note text for (commitSHA, namespace), or
// types.ErrNotFound when no note exists.
func (s *Store) Read(ctx context.Context, commitSHA string, ns types.Namespace) (string, error) {
	if err := ValidateSHA(commitSHA); err != nil {
		return "", err
	}
	if err := ValidateNamespace(ns); err != nil {
		return "", err
	}
	out, err := s.run(ctx, "notes", "--ref", s.Ref(ns), "show", commitSHA)
	if err != nil {
		// git exits non-zero when no note exists for the object.
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return "", types.ErrNotFound
		}
		return "", err
	}
	return out, nil
}

// List enumerates (commit, note blob) pairs for a namespace.
func (s *Store) List(ctx context.Context, ns types.Namespace) ([]NoteRef, error) {
	if err := ValidateNamespace(ns); err != nil {
		return nil, err
	}
	out, err := s.run(ctx, "notes", "--ref", s.Ref(ns), "list")
	if err != nil {
		// A namespace with no notes yet has no ref at all.
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, nil
		}
		return nil, err
	}
	var refs []NoteRef
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		// Format: <note blob sha> <annotated commit sha>
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		refs = append(refs, NoteRef{CommitSHA: fields[1], BlobSHA: fields[0]})
	}
	return refs, nil
}

// Remove deletes the note for (commitSHA, namespace). Removing an absent
// note is not an error.
func (s *Store) Remove(ctx context.Context, commitSHA string, ns types.Namespace) error {
	if err := ValidateSHA(commitSHA); err != nil {
		return err
	}
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	_, err := s.run(ctx, "notes", "--ref", s.Ref(ns), "remove", "--ignore-missing", commitSHA)
	return err
}

// ResolveCommit resolves a ref ("HEAD", branch, abbreviated sha) to a full
// commit sha, with ref sanitization applied first.
func (s *Store) ResolveCommit(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	if ref != "HEAD" {
		if err := ValidateRef(ref); err != nil {
			return "", err
		}
	}
	out, err := s.run(ctx, "rev-parse", "--verify", ref)
	if err != nil {
		return "", types.Storage(types.SubRefInvalid,
			fmt.Sprintf("cannot resolve %q to a commit", ref),
			"check the ref exists; an empty repository has no commits yet", err)
	}
	return strings.TrimSpace(out), nil
}

// CommitInfo returns commit metadata including changed paths.
func (s *Store) CommitInfo(ctx context.Context, sha string) (types.CommitInfo, error) {
	if err := ValidateSHA(sha); err != nil {
		return types.CommitInfo{}, err
	}
	out, err := s.run(ctx, "show", "-s", "--format=%H%x00%an <%ae>%x00%aI%x00%s", sha)
	if err != nil {
		return types.CommitInfo{}, types.Storage(types.SubExec,
			fmt.Sprintf("cannot read commit %s", sha),
			"verify the commit exists in this repository", err)
	}
	parts := strings.SplitN(strings.TrimSpace(out), "\x00", 4)
	if len(parts) != 4 {
		return types.CommitInfo{}, types.Storage(types.SubExec,
			"unexpected git show output", "update git; this output format is stable since 1.8", nil)
	}
	info := types.CommitInfo{SHA: parts[0], Author: parts[1], Subject: parts[3]}
	if t, err := time.Parse(time.RFC3339, parts[2]); err == nil {
		info.AuthorTime = t
	}

	paths, err := s.ChangedFiles(ctx, sha)
	if err == nil {
		info.ChangedPaths = paths
	}
	return info, nil
}

// ChangedFiles lists the paths touched by a commit.
func (s *Store) ChangedFiles(ctx context.Context, sha string) ([]string, error) {
	if err := ValidateSHA(sha); err != nil {
		return nil, err
	}
	out, err := s.run(ctx, "diff-tree", "--no-commit-id", "--name-only", "-r", "--root", sha)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// EnsureSyncConfig installs the fetch refspec that moves this namespace's
// notes alongside code on push/pull, plus the rewrite config so notes
// follow amended commits.
func (s *Store) EnsureSyncConfig(ctx context.Context, ns types.Namespace) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	spec := fmt.Sprintf("+refs/notes/%s/*:refs/notes/%s/*", s.prefix, s.prefix)

	existing, _ := s.run(ctx, "config", "--get-all", "remote.origin.fetch")
	for _, line := range strings.Split(existing, "\n") {
		if strings.TrimSpace(line) == spec {
			spec = ""
			break
		}
	}
	if spec != "" {
		if _, err := s.run(ctx, "config", "--add", "remote.origin.fetch", spec); err != nil {
			return err
		}
	}
	_, err := s.run(ctx, "config", "notes.rewriteRef", "refs/notes/"+s.prefix+"/*")
	return err
}

// run executes git with argv semantics under the store timeout.
func (s *Store) run(ctx context.Context, args ...string) (string, error) {
	return s.runStdin(ctx, "", args...)
}

func (s *Store) runStdin(ctx context.Context, stdin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.repoPath
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", types.Storage(types.SubTimeout,
			fmt.Sprintf("git %s timed out after %s", args[0], s.timeout),
			"the repository may be on slow storage; raise subprocess_timeout_ms", ctx.Err())
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return "", fmt.Errorf("git %s (exit %s): %s: %w",
				args[0], strconv.Itoa(ee.ExitCode()), strings.TrimSpace(stderr.String()), err)
		}
		return "", types.Storage(types.SubExec,
			fmt.Sprintf("failed to execute git: %v", err),
			"check that git is installed and on PATH", err)
	}
	return string(out), nil
}
