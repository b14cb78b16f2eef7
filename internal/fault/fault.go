// Package fault carries the error taxonomy shared by the finance core.
// Callers branch on Kind, never on message text.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for machine checking.
type Kind string

const (
	// Validation marks bad input: missing fields, non-positive amounts,
	// malformed date ranges. Never retried, nothing written.
	Validation Kind = "validation"
	// NotFound marks a missing account, entry, or record.
	NotFound Kind = "not_found"
	// Conflict marks duplicate/overlap situations the caller may choose
	// to override.
	Conflict Kind = "conflict"
	// Contention marks a transient store lock failure; retryable.
	Contention Kind = "contention"
	// Partial marks an operation whose primary effect committed but whose
	// dependent cleanup failed and needs manual reconciliation.
	Partial Kind = "partial"
	// Internal marks everything else: store unreachable, schema missing.
	Internal Kind = "internal"
)

// Error is a tagged failure with a human-readable reason.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error with a formatted reason.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error while keeping it unwrappable.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain; unknown errors are Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
