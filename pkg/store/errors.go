// SPDX-License-Identifier: Apache-2.0

// Package store implements the hash index, staging area, commit DAG,
// branch store, diff/merge engine, and checkout facades of a
// version-controlled tensor dataset repository.
package store

import (
	"errors"
	"fmt"
)

// Kind classifies an Error the way a caller (CLI or library consumer)
// needs to branch on, independent of its message text.
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindStateError
	KindNotFound
	KindConflict
	KindPermission
	KindTransport
	KindCorruption
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindStateError:
		return "StateError"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindPermission:
		return "Permission"
	case KindTransport:
		return "Transport"
	case KindCorruption:
		return "Corruption"
	default:
		return "Unknown"
	}
}

// Error is the structured error every store operation raises instead of
// an ad-hoc error string, carrying the Kind a caller branches on.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err, or an error it wraps, is an *Error of the
// given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel leaf errors for conditions callers commonly match with
// errors.Is instead of inspecting a Kind.
var (
	ErrBranchNotFound  = errors.New("store: branch not found")
	ErrCommitNotFound  = errors.New("store: commit not found")
	ErrDigestNotFound  = errors.New("store: digest not found")
	ErrSchemaNotFound  = errors.New("store: schema not found")
	ErrRemoteNotFound  = errors.New("store: remote not found")
	ErrArraysetMissing = errors.New("store: arrayset not found")

	ErrStagingDirty     = errors.New("store: staging area is not clean")
	ErrWriterLockHeld   = errors.New("store: writer lock is held by another process")
	ErrWriterLockNotYou = errors.New("store: writer lock is not held by this uuid")

	ErrMergeConflict = errors.New("store: merge produced conflicts")
)
