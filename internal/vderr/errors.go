// Package vderr defines the coordinator-surface error taxonomy shared by
// every component in the distributed coordination layer: the ring, the
// cluster config store, the router, the coordinator, and the resharding
// engine all report failures through the same small set of Kinds so that
// callers (and tests) can branch on "what kind of thing went wrong"
// without parsing error strings.
package vderr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into a small, coarse set of categories —
// enough for callers to decide whether to retry, fail the request, or
// surface a client-visible error code.
type Kind int

const (
	// Internal covers anything that doesn't fit the other kinds.
	Internal Kind = iota
	// NotFound means no such vector id or database exists.
	NotFound
	// DimensionMismatch means a probe or vector's length doesn't match
	// the database's declared dimension.
	DimensionMismatch
	// Unavailable means no reachable shard could serve the request.
	Unavailable
	// Timeout means the caller's deadline expired before completion.
	Timeout
	// InvalidConfig means a submitted cluster config was rejected.
	InvalidConfig
	// Conflict means a database create collided with an existing
	// database: a storage node reports it for any existing id, the
	// coordinator for an existing database of a different dimension.
	Conflict
	// EmptyRing means ring.Locate was called on a ring with zero shards.
	EmptyRing
	// Protocol means a shard responded with a malformed or unexpected
	// payload (bad JSON, truncated binary wire, unexpected status code).
	Protocol
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case DimensionMismatch:
		return "DimensionMismatch"
	case Unavailable:
		return "Unavailable"
	case Timeout:
		return "Timeout"
	case InvalidConfig:
		return "InvalidConfig"
	case Conflict:
		return "Conflict"
	case EmptyRing:
		return "EmptyRing"
	case Protocol:
		return "Protocol"
	default:
		return "Internal"
	}
}

// Error is the concrete error type carrying a Kind, the operation that
// failed, and an optional wrapped cause.
type Error struct {
	Err  error
	Op   string
	Kind Kind
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error with no wrapped cause.
func New(op string, kind Kind) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap builds a *Error wrapping an underlying cause.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors
// that didn't originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err's Kind equals kind. It is the idiomatic way to
// branch on error classification: `if vderr.Is(err, vderr.NotFound)`.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
