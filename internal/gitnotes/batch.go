// internal/gitnotes/batch.go
package gitnotes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MereWhiplash/gitmem/internal/types"
)

// Default limits for snapshot reads. Hydration must never drag a whole
// tree into memory because one commit touched a vendored directory.
const (
	MaxBatchFiles     = 20
	MaxFileBytes      = 100 * 1024
	maxBatchTotalSize = 2 * 1024 * 1024
)

// SetSnapshotCaps overrides the per-batch file count and per-file byte
// caps. Non-positive values keep the defaults.
func (s *Store) SetSnapshotCaps(maxFiles, maxFileBytes int) {
	if maxFiles > 0 {
		s.maxBatchFiles = maxFiles
	}
	if maxFileBytes > 0 {
		s.maxFileBytes = maxFileBytes
	}
}

// FileAt reads one file as it existed at a commit. Returns
// types.ErrNotFound for paths absent from the commit and skips (with an
// error) files above the per-file cap.
func (s *Store) FileAt(ctx context.Context, sha, path string) ([]byte, error) {
	m, err := s.BatchFileAt(ctx, sha, []string{path})
	if err != nil {
		return nil, err
	}
	data, ok := m[path]
	if !ok {
		return nil, types.ErrNotFound
	}
	return data, nil
}

// BatchFileAt reads several file snapshots through one `git cat-file
// --batch` process, amortizing the per-object subprocess overhead. The
// result maps path to content; missing or over-cap files are simply
// absent from the map. Total bytes and file count are bounded.
func (s *Store) BatchFileAt(ctx context.Context, sha string, paths []string) (map[string][]byte, error) {
	if err := ValidateSHA(sha); err != nil {
		return nil, err
	}
	if len(paths) > s.maxBatchFiles {
		paths = paths[:s.maxBatchFiles]
	}
	for _, p := range paths {
		if err := ValidatePath(p); err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		return map[string][]byte{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "cat-file", "--batch")
	cmd.Dir = s.repoPath

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, types.Storage(types.SubExec, "cannot open cat-file stdin", "check git installation", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, types.Storage(types.SubExec, "cannot open cat-file stdout", "check git installation", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, types.Storage(types.SubExec, "cannot start git cat-file", "check that git is installed and on PATH", err)
	}
	defer cmd.Wait()
	defer stdin.Close()

	go func() {
		for _, p := range paths {
			fmt.Fprintf(stdin, "%s:%s\n", sha, p)
		}
		stdin.Close()
	}()

	out := make(map[string][]byte, len(paths))
	r := bufio.NewReader(stdout)
	var total int
	for _, p := range paths {
		header, err := r.ReadString('\n')
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, types.Storage(types.SubTimeout,
					fmt.Sprintf("batched file read timed out after %s", s.timeout),
					"raise subprocess_timeout_ms or hydrate fewer files", ctx.Err())
			}
			return nil, types.Storage(types.SubExec, "cat-file stream ended early", "retry the hydration", err)
		}
		fields := strings.Fields(strings.TrimSpace(header))
		if len(fields) >= 2 && (fields[1] == "missing" || fields[1] == "ambiguous") {
			continue
		}
		if len(fields) != 3 {
			return nil, types.Storage(types.SubExec,
				fmt.Sprintf("unexpected cat-file header %q", strings.TrimSpace(header)),
				"retry the hydration", nil)
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, types.Storage(types.SubExec, "bad object size in cat-file header", "retry the hydration", err)
		}

		// Content is always followed by one LF.
		if fields[1] != "blob" || size > s.maxFileBytes || total+size > maxBatchTotalSize {
			if err := discard(r, size+1); err != nil {
				return nil, types.Storage(types.SubExec, "cat-file stream ended early", "retry the hydration", err)
			}
			continue
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, types.Storage(types.SubExec, "cat-file stream ended early", "retry the hydration", err)
		}
		if _, err := r.Discard(1); err != nil {
			return nil, types.Storage(types.SubExec, "cat-file stream ended early", "retry the hydration", err)
		}
		out[p] = buf
		total += size
	}
	return out, nil
}

func discard(r *bufio.Reader, n int) error {
	_, err := r.Discard(n)
	return err
}
