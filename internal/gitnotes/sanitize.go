// internal/gitnotes/sanitize.go
package gitnotes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/MereWhiplash/gitmem/internal/types"
)

var (
	shaRe       = regexp.MustCompile(`^[0-9a-f]{4,64}$`)
	namespaceRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	refRe       = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
)

// ValidateSHA accepts abbreviated or full lower-case hex object names.
func ValidateSHA(sha string) error {
	if !shaRe.MatchString(sha) {
		return types.Storage(types.SubRefInvalid,
			fmt.Sprintf("invalid commit sha %q", sha),
			"pass a 4-64 character lower-case hex sha", nil)
	}
	return nil
}

// ValidateNamespace checks both the character set and membership in the
// closed namespace set; the ref built from it is only ever
// refs/notes/<prefix>/<namespace>.
func ValidateNamespace(ns types.Namespace) error {
	if !namespaceRe.MatchString(string(ns)) {
		return types.Storage(types.SubRefInvalid,
			fmt.Sprintf("namespace %q contains invalid characters", ns),
			"namespaces are plain identifiers", nil)
	}
	return ns.Validate()
}

// ValidateRef rejects anything that could smuggle options or revision
// operators into git: no leading dash, no "@" or ":" anywhere, no "..".
func ValidateRef(ref string) error {
	if ref == "" || strings.HasPrefix(ref, "-") ||
		strings.ContainsAny(ref, "@:~^ \t") ||
		strings.Contains(ref, "..") ||
		!refRe.MatchString(ref) {
		return types.Storage(types.SubRefInvalid,
			fmt.Sprintf("invalid ref %q", ref),
			"use a branch name, tag name or hex sha", nil)
	}
	return nil
}

// ValidatePath enforces the file-path contract for snapshot reads:
// relative, no NUL, no traversal, no leading slash or dash.
func ValidatePath(path string) error {
	if path == "" || strings.ContainsRune(path, 0) ||
		strings.HasPrefix(path, "/") || strings.HasPrefix(path, "-") {
		return types.Storage(types.SubRefInvalid,
			fmt.Sprintf("invalid file path %q", path),
			"pass a repository-relative path", nil)
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return types.Storage(types.SubRefInvalid,
				fmt.Sprintf("file path %q contains a traversal component", path),
				"pass a repository-relative path without ..", nil)
		}
	}
	return nil
}
