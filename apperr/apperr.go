// Package apperr defines the error taxonomy shared across the order
// processing services: every failure mode gets a distinct, matchable
// kind instead of a bare wrapped error, so callers can branch on what
// went wrong without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so HTTP and bus adapters can react without
// parsing error strings.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindDomain        Kind = "domain"
	KindConflict      Kind = "conflict"
	KindStorage       Kind = "storage"
	KindBus           Kind = "bus"
	KindExternal      Kind = "external"
	KindSerialization Kind = "serialization"
	KindNotFound      Kind = "not_found"
	KindTimeout       Kind = "timeout"
)

// Error is the common envelope for every typed failure in the system.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string, err error) *Error    { return newErr(KindValidation, msg, err) }
func Domain(msg string, err error) *Error        { return newErr(KindDomain, msg, err) }
func Storage(msg string, err error) *Error       { return newErr(KindStorage, msg, err) }
func Bus(msg string, err error) *Error           { return newErr(KindBus, msg, err) }
func External(msg string, err error) *Error      { return newErr(KindExternal, msg, err) }
func Serialization(msg string, err error) *Error { return newErr(KindSerialization, msg, err) }
func NotFound(msg string, err error) *Error      { return newErr(KindNotFound, msg, err) }
func Timeout(msg string, err error) *Error       { return newErr(KindTimeout, msg, err) }

// Conflict is raised by the event store when the caller's expected
// aggregate version no longer matches the stream.
type Conflict struct {
	AggregateID string
	Expected    int
	Actual      int
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d, actual %d", c.AggregateID, c.Expected, c.Actual)
}

func NewConflict(aggregateID string, expected, actual int) *Conflict {
	return &Conflict{AggregateID: aggregateID, Expected: expected, Actual: actual}
}

// KindOf unwraps err looking for an *Error or *Conflict and returns its
// Kind, or "" if err doesn't carry one.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var conflict *Conflict
	if errors.As(err, &conflict) {
		return KindConflict
	}
	return ""
}

// AsConflict reports whether err is (or wraps) a *Conflict.
func AsConflict(err error) (*Conflict, bool) {
	var conflict *Conflict
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
