package apiclient

import (
	"errors"
	"fmt"
)

// FailureClass describes why a call did not produce a value.
type FailureClass string

// Failure classes.
const (
	// ClassTransientExhausted means every attempt failed with a transient error.
	ClassTransientExhausted FailureClass = "TRANSIENT_EXHAUSTED"
	// ClassPermanent means the remote side rejected the request; retrying cannot help.
	ClassPermanent FailureClass = "PERMANENT"
	// ClassCanceled means the caller's context ended before the call finished.
	ClassCanceled FailureClass = "CANCELED"
)

// Sentinels matched by CallError through errors.Is.
var (
	ErrTransientExhausted = errors.New("transient failure: retries exhausted")
	ErrPermanent          = errors.New("permanent failure")
	ErrCanceled           = errors.New("call canceled")
)

// CallError is the typed failure returned once a call gives up.
type CallError struct {
	Class      FailureClass
	Op         string
	StatusCode int // last HTTP status seen, 0 when the request never got a response
	Attempts   int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s after %d attempt(s) (status %d): %v",
			e.Op, e.Class, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", e.Op, e.Class, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's class.
func (e *CallError) Is(target error) bool {
	switch target {
	case ErrTransientExhausted:
		return e.Class == ClassTransientExhausted
	case ErrPermanent:
		return e.Class == ClassPermanent
	case ErrCanceled:
		return e.Class == ClassCanceled
	}
	return false
}

// Outcome is the result of a call: a Value when Failure is nil.
type Outcome[T any] struct {
	Value   T
	Failure *CallError
}

// Success wraps a value.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Failed wraps a failure.
func Failed[T any](err *CallError) Outcome[T] {
	return Outcome[T]{Failure: err}
}

// OK reports whether the call produced a value.
func (o Outcome[T]) OK() bool { return o.Failure == nil }

// Transient reports whether retries were exhausted on transient errors.
func (o Outcome[T]) Transient() bool {
	return o.Failure != nil && o.Failure.Class == ClassTransientExhausted
}

// Permanent reports whether the call failed permanently.
func (o Outcome[T]) Permanent() bool {
	return o.Failure != nil && o.Failure.Class == ClassPermanent
}

// Canceled reports whether the caller's context ended the call.
func (o Outcome[T]) Canceled() bool {
	return o.Failure != nil && o.Failure.Class == ClassCanceled
}

// Err returns the failure as an error, or nil on success.
func (o Outcome[T]) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}
