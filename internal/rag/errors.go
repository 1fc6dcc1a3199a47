package rag

import (
	"errors"
	"fmt"
)

// Kind classifies gateway errors so the HTTP boundary can map them to
// status codes without string matching.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindValidation marks input that failed a schema or range check.
	KindValidation
	// KindAuth marks a missing or invalid auth token.
	KindAuth
	// KindNotFound marks a reference to an unknown collection.
	KindNotFound
	// KindConfig marks a missing API key or unresolved provider.
	KindConfig
	// KindRemote marks a 4xx/5xx or timeout from the embedder or reranker.
	KindRemote
	// KindFormat marks an upstream response that did not match its schema.
	KindFormat
	// KindStore marks a vector-store failure.
	KindStore
	// KindCapacity marks the memory backend exceeding its document cap.
	KindCapacity
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	case KindRemote:
		return "remote"
	case KindFormat:
		return "format"
	case KindStore:
		return "store"
	case KindCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Error is a classified gateway error. Its message is the user-visible
// detail string returned in HTTP error bodies.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

// Errorf builds a classified error with a formatted detail message.
// A %w verb keeps the cause reachable through errors.Is/As.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error under a short detail prefix.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, err: fmt.Errorf("%s: %w", msg, err)}
}

// KindOf walks the error chain and returns the first classified kind,
// or KindUnknown when nothing in the chain is a gateway error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
