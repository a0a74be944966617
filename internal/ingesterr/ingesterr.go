// Package ingesterr defines the error taxonomy shared by the ingestion
// pipeline. Each kind dictates how the coordinator and its subsystems react:
// retry, drop-and-count, or escalate to fatal.
package ingesterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/metrics/escalation dispatch.
type Kind int

const (
	// KindTransientRPC covers network, throttling, and temporary node errors.
	KindTransientRPC Kind = iota
	// KindDecodeMismatch covers an unknown discriminator or a malformed
	// payload for a known one.
	KindDecodeMismatch
	// KindDuplicateSignature is a unique-violation on insert; treated as
	// success by callers.
	KindDuplicateSignature
	// KindRepositoryError covers connectivity or constraint violations other
	// than a duplicate signature.
	KindRepositoryError
	// KindCursorRegression is an attempt to move a cursor backwards.
	KindCursorRegression
	// KindSchemaDrift is a sustained decode-mismatch rate escalated to fatal.
	KindSchemaDrift
	// KindCancelled marks cooperative shutdown; not a true failure.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransientRPC:
		return "transient_rpc"
	case KindDecodeMismatch:
		return "decode_mismatch"
	case KindDuplicateSignature:
		return "duplicate_signature"
	case KindRepositoryError:
		return "repository_error"
	case KindCursorRegression:
		return "cursor_regression"
	case KindSchemaDrift:
		return "schema_drift"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a dispatchable Kind plus the pool and
// signature it applies to, where known.
type Error struct {
	Kind      Kind
	Pool      string
	Signature string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s", e.Kind)
	if e.Pool != "" {
		msg += fmt.Sprintf(" pool=%s", e.Pool)
	}
	if e.Signature != "" {
		msg += fmt.Sprintf(" signature=%s", e.Signature)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a taxonomy error.
func New(kind Kind, pool, signature string, err error) *Error {
	return &Error{Kind: kind, Pool: pool, Signature: signature, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it classifies unknown errors as KindRepositoryError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRepositoryError
}

// IsDuplicate reports whether err represents a harmless duplicate-signature
// insert, which callers must treat as success.
func IsDuplicate(err error) bool {
	return KindOf(err) == KindDuplicateSignature
}

// ErrNoCursor is returned by the signature store when a pool has never had a
// cursor persisted.
var ErrNoCursor = errors.New("ingesterr: no cursor for pool")

// ErrNotFound is a generic not-found sentinel for read-only lookups.
var ErrNotFound = errors.New("ingesterr: not found")
