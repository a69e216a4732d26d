// Package kotaerr defines the error taxonomy shared across KotaDB's
// storage, index, and relationship components.
//
// Errors are classified by [Kind], never by string matching. Callers use
// [errors.Is] against the [Kind] sentinels or [errors.As] against [*Error]
// to recover [Error.Op] and [Error.Target] for logging.
package kotaerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/logging policy. See spec.md §7.
type Kind int

const (
	// Unknown is the zero value; never constructed intentionally.
	Unknown Kind = iota

	// InvalidArgument: failed validated-primitive construction or
	// out-of-range query. Never retried.
	InvalidArgument

	// NotFound: id/symbol absent.
	NotFound

	// Conflict: insert-with-existing-id, or state-machine misuse.
	// Never retried.
	Conflict

	// Io: disk/WAL failure, short read, permission error. Retried by
	// the Retryable wrapper with bounded exponential backoff.
	Io

	// Corruption: magic/version/CRC mismatch, oversized record, table
	// offset out of range. Surfaced immediately, never retried.
	Corruption

	// Timeout: deadline exceeded during a bounded query.
	Timeout

	// Unavailable: a dependency is absent, e.g. the dependency graph is
	// missing for a relationship query.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Io:
		return "io"
	case Corruption:
		return "corruption"
	case Timeout:
		return "timeout"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by KotaDB components.
//
// It always carries the operation name and, where applicable, the target
// (a document id, symbol name, file path, ...) so an operator can locate
// the offending record without re-deriving it from the call stack.
type Error struct {
	Op     string
	Kind   Kind
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Target, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s %s: %s", e.Op, e.Target, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for the [Kind] this error
// carries, so that errors.Is(err, kotaerr.ErrNotFound) works without a type
// assertion.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && k.kind == e.Kind
}

// kindSentinel lets a bare Kind value be used with errors.Is via sentinels
// below (ErrInvalidArgument, ErrNotFound, ...).
type kindSentinel struct{ kind Kind }

func (k kindSentinel) Error() string { return k.kind.String() }

// Sentinels for errors.Is(err, kotaerr.ErrNotFound) style checks.
var (
	ErrInvalidArgument error = kindSentinel{InvalidArgument}
	ErrNotFound        error = kindSentinel{NotFound}
	ErrConflict        error = kindSentinel{Conflict}
	ErrIo              error = kindSentinel{Io}
	ErrCorruption      error = kindSentinel{Corruption}
	ErrTimeout         error = kindSentinel{Timeout}
	ErrUnavailable     error = kindSentinel{Unavailable}
)

// New constructs an *Error with the given operation, kind, and optional
// target/cause.
func New(op string, kind Kind, target string, err error) *Error {
	return &Error{Op: op, Kind: kind, Target: target, Err: err}
}

// Of reports the [Kind] of err, walking wrapped errors. Returns [Unknown]
// if err is nil or carries no classified kind.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Retryable reports whether err's kind may be retried by the Retryable
// wrapper: only Io is retried, per spec.md §7's propagation policy.
func Retryable(err error) bool {
	return Of(err) == Io
}
