package gitnotes_test

import (
	"testing"

	"github.com/MereWhiplash/gitmem/internal/gitnotes"
	"github.com/MereWhiplash/gitmem/internal/types"
)

func TestValidateSHA(t *testing.T) {
	valid := []string{"abcd", "deadbeef", "0123456789abcdef0123456789abcdef01234567"}
	for _, sha := range valid {
		if err := gitnotes.ValidateSHA(sha); err != nil {
			t.Errorf("ValidateSHA(%q) = %v, want nil", sha, err)
		}
	}

	invalid := []string{"", "abc", "HEAD", "ABCDEF", "abcd efgh", "--verify", "abcdefg;rm"}
	for _, sha := range invalid {
		if err := gitnotes.ValidateSHA(sha); err == nil {
			t.Errorf("ValidateSHA(%q) = nil, want error", sha)
		}
	}
}

func TestValidateNamespace(t *testing.T) {
	for _, ns := range types.Namespaces {
		if err := gitnotes.ValidateNamespace(ns); err != nil {
			t.Errorf("ValidateNamespace(%q) = %v, want nil", ns, err)
		}
	}

	invalid := []types.Namespace{"", "journal", "de cisions", "decisions/../../config", "-decisions"}
	for _, ns := range invalid {
		if err := gitnotes.ValidateNamespace(ns); err == nil {
			t.Errorf("ValidateNamespace(%q) = nil, want error", ns)
		}
	}
}

func TestValidateRef(t *testing.T) {
	valid := []string{"main", "feature/thing", "v1.2.3", "deadbeef"}
	for _, ref := range valid {
		if err := gitnotes.ValidateRef(ref); err != nil {
			t.Errorf("ValidateRef(%q) = %v, want nil", ref, err)
		}
	}

	invalid := []string{
		"", "-rf", "--upload-pack=touch /tmp/x", "HEAD~1", "HEAD^",
		"main..dev", "a b", "ref@{0}", "origin:main",
	}
	for _, ref := range invalid {
		if err := gitnotes.ValidateRef(ref); err == nil {
			t.Errorf("ValidateRef(%q) = nil, want error", ref)
		}
	}
}

func TestValidatePath(t *testing.T) {
	valid := []string{"README.md", "internal/index/sqlite.go", "a/b/c.txt"}
	for _, p := range valid {
		if err := gitnotes.ValidatePath(p); err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", p, err)
		}
	}

	invalid := []string{"", "/etc/passwd", "../secrets", "a/../../b", "-flag", "a\x00b"}
	for _, p := range invalid {
		if err := gitnotes.ValidatePath(p); err == nil {
			t.Errorf("ValidatePath(%q) = nil, want error", p)
		}
	}
}
