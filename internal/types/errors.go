// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a memory is not found. Non-fatal; the API
// surface reports it as an absent value.
var ErrNotFound = errors.New("memory not found")

// ErrorKind is the top-level error category.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindStorage    ErrorKind = "storage"
	KindIndex      ErrorKind = "index"
	KindEmbedding  ErrorKind = "embedding"
	KindParse      ErrorKind = "parse"
	KindCapture    ErrorKind = "capture"
)

// Sub-kinds. Only some kinds carry one.
const (
	// Storage
	SubTimeout      = "timeout"
	SubNotAGitRepo  = "not_a_git_repo"
	SubRefInvalid   = "ref_invalid"
	SubExec         = "exec"
	// Index
	SubSchema     = "schema"
	SubMigration  = "migration"
	SubCorrupt    = "corrupt"
	SubConstraint = "constraint"
	SubTxn        = "txn"
	// Embedding
	SubLoad      = "load"
	SubOOM       = "oom"
	SubInference = "inference"
	// Capture
	SubLockTimeout  = "lock_timeout"
	SubInconsistent = "inconsistent"
)

// Error is the user-visible failure type. Every error carries a kind, a
// message and a recovery action; validation errors also name the field.
type Error struct {
	Kind           ErrorKind
	Sub            string
	Field          string
	Message        string
	RecoveryAction string
	Err            error
}

func (e *Error) Error() string {
	var b []byte
	b = append(b, string(e.Kind)...)
	if e.Sub != "" {
		b = append(b, '/')
		b = append(b, e.Sub...)
	}
	if e.Field != "" {
		b = append(b, fmt.Sprintf(" (field %s)", e.Field)...)
	}
	b = append(b, ": "...)
	b = append(b, e.Message...)
	return string(b)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind and sub-kind, so callers can write
// errors.Is(err, &types.Error{Kind: KindCapture, Sub: SubLockTimeout}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Sub != "" && t.Sub != e.Sub {
		return false
	}
	return true
}

// Validation builds a caller-correctable error naming the offending field.
func Validation(field, message, recovery string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message, RecoveryAction: recovery}
}

// Storage builds a git/subprocess/IO error.
func Storage(sub, message, recovery string, err error) *Error {
	return &Error{Kind: KindStorage, Sub: sub, Message: message, RecoveryAction: recovery, Err: err}
}

// Index builds an index-store error.
func Index(sub, message, recovery string, err error) *Error {
	return &Error{Kind: KindIndex, Sub: sub, Message: message, RecoveryAction: recovery, Err: err}
}

// Embedding builds an embedder error.
func Embedding(sub, message string, err error) *Error {
	return &Error{
		Kind: KindEmbedding, Sub: sub, Message: message,
		RecoveryAction: "check the embedding model installation; capture degrades to unindexed notes",
		Err:            err,
	}
}

// Parse builds a malformed-note error.
func Parse(message, recovery string) *Error {
	return &Error{Kind: KindParse, Message: message, RecoveryAction: recovery}
}

// Capture builds a capture-orchestration error.
func Capture(sub, message, recovery string, err error) *Error {
	return &Error{Kind: KindCapture, Sub: sub, Message: message, RecoveryAction: recovery, Err: err}
}

// KindOf extracts the kind of err, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a typed Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsSub reports whether err is a typed Error of the given kind and sub-kind.
func IsSub(err error, kind ErrorKind, sub string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind && e.Sub == sub
}
