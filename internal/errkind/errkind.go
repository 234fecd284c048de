// Package errkind classifies the errors the router surfaces to an operator.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the error class.
type Kind string

const (
	KindConfig       Kind = "ConfigError"
	KindResolution   Kind = "ResolutionError"
	KindBackend      Kind = "BackendError"
	KindStore        Kind = "StoreError"
	KindCancellation Kind = "CancellationError"
)

// Error carries a kind, the failing operation, and the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Config wraps err as a ConfigError.
func Config(op string, err error) error { return New(KindConfig, op, err) }

// Resolution wraps err as a ResolutionError.
func Resolution(op string, err error) error { return New(KindResolution, op, err) }

// Backend wraps err as a BackendError.
func Backend(op string, err error) error { return New(KindBackend, op, err) }

// Store wraps err as a StoreError.
func Store(op string, err error) error { return New(KindStore, op, err) }

// Cancelled builds a CancellationError.
func Cancelled(op string) error {
	return &Error{Kind: KindCancellation, Op: op, Err: context.Canceled}
}

// KindOf returns the outermost classified kind. Context cancellation is
// reported as a CancellationError even when unclassified.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	if errors.Is(err, context.Canceled) {
		return KindCancellation, true
	}
	return "", false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
