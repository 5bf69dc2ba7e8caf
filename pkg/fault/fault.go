// Package fault defines the error kinds returned by Burrow operations.
//
// Every public operation either succeeds or returns an error that can be
// classified with KindOf. Lower-level errors are wrapped with fmt.Errorf and
// %w as usual; the *Error value survives wrapping and is recovered with errors.As.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error
type Kind string

const (
	KindInvalidParameter     Kind = "InvalidParameter"
	KindNotFound             Kind = "NotFound"
	KindPrecondition         Kind = "Precondition"
	KindNoTransition         Kind = "NoTransition"
	KindAgentUnavailable     Kind = "AgentUnavailable"
	KindTimeout              Kind = "Timeout"
	KindInsufficientCapacity Kind = "InsufficientCapacity"
	KindConflict             Kind = "Conflict"
	KindDiscoveryFailed      Kind = "DiscoveryFailed"
	KindUnableToDelete       Kind = "UnableToDelete"
	KindInternal             Kind = "Internal"
)

// Error carries a kind, a message and optionally the offending entity
type Error struct {
	Kind     Kind
	Message  string
	EntityID string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.EntityID != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.EntityID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithEntity sets the offending entity id and returns the error
func (e *Error) WithEntity(id string) *Error {
	e.EntityID = id
	return e
}

// InvalidParameter is shorthand for New(KindInvalidParameter, ...)
func InvalidParameter(format string, args ...interface{}) *Error {
	return New(KindInvalidParameter, format, args...)
}

// NotFound is shorthand for New(KindNotFound, ...)
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// Precondition is shorthand for New(KindPrecondition, ...)
func Precondition(format string, args ...interface{}) *Error {
	return New(KindPrecondition, format, args...)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
