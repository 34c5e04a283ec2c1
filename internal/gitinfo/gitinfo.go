// internal/gitinfo/gitinfo.go
package gitinfo

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Info holds git configuration info for the current repository.
type Info struct {
	AuthorName  string
	AuthorEmail string
	Repo        string
}

// Get extracts git info from the current directory.
// Returns partial info if some git commands fail (e.g., not in a git repo).
func Get() *Info {
	info := &Info{}

	if out, err := exec.Command("git", "config", "user.name").Output(); err == nil {
		info.AuthorName = strings.TrimSpace(string(out))
	}
	if out, err := exec.Command("git", "config", "user.email").Output(); err == nil {
		info.AuthorEmail = strings.TrimSpace(string(out))
	}
	if out, err := exec.Command("git", "config", "--get", "remote.origin.url").Output(); err == nil {
		info.Repo = NormalizeRemoteURL(strings.TrimSpace(string(out)))
	}

	return info
}

// RepoPath returns the absolute canonical path of the repository containing
// dir (its top level), or "" when dir is not inside a work tree. The index
// is partitioned by this path.
func RepoPath(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	top := strings.TrimSpace(string(out))
	if abs, err := filepath.Abs(top); err == nil {
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			return resolved
		}
		return abs
	}
	return top
}

// CurrentRepoPath is RepoPath for the working directory.
func CurrentRepoPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return RepoPath(wd)
}

// NormalizeRemoteURL converts various git remote URL formats to "org/repo".
func NormalizeRemoteURL(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, ".git")

	// SSH format: git@github.com:org/repo
	if strings.HasPrefix(url, "git@") {
		re := regexp.MustCompile(`git@[^:]+:(.+)`)
		if matches := re.FindStringSubmatch(url); len(matches) > 1 {
			return matches[1]
		}
	}

	// ssh:// format: ssh://git@github.com/org/repo
	if strings.HasPrefix(url, "ssh://") {
		url = strings.TrimPrefix(url, "ssh://")
		if idx := strings.Index(url, "/"); idx != -1 {
			url = url[idx+1:]
		}
		return url
	}

	// HTTPS format, possibly with user:pass@
	if strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://") {
		url = strings.TrimPrefix(url, "https://")
		url = strings.TrimPrefix(url, "http://")
		if idx := strings.Index(url, "@"); idx != -1 {
			url = url[idx+1:]
		}
		if idx := strings.Index(url, "/"); idx != -1 {
			url = url[idx+1:]
		}
		return url
	}

	return url
}
