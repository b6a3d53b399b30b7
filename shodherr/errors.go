// Package shodherr implements the error taxonomy: InvalidInput,
// NotFound, Conflict, Transient, Corruption and Fatal, plus the bounded
// retry helper transient errors are recovered with.
package shodherr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is the taxonomy a caller can branch on with errors.Is.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindTransient    Kind = "transient"
	KindCorruption   Kind = "corruption"
	KindFatal        Kind = "fatal"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, shodherr.InvalidInput) style sentinels by
// comparing Kind, not identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newKind(kind Kind) *Error { return &Error{Kind: kind} }

// Sentinels usable with errors.Is(err, shodherr.InvalidInput).
var (
	InvalidInput = newKind(KindInvalidInput)
	NotFound     = newKind(KindNotFound)
	Conflict     = newKind(KindConflict)
	Transient    = newKind(KindTransient)
	Corruption   = newKind(KindCorruption)
	Fatal        = newKind(KindFatal)
)

// Wrap annotates err with an operation name and taxonomy kind.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Invalid(op string, err error) error    { return Wrap(op, KindInvalidInput, err) }
func NotFoundf(op string, err error) error  { return Wrap(op, KindNotFound, err) }
func Conflictf(op string, err error) error  { return Wrap(op, KindConflict, err) }
func Transientf(op string, err error) error { return Wrap(op, KindTransient, err) }
func Corrupt(op string, err error) error    { return Wrap(op, KindCorruption, err) }
func Fatalf(op string, err error) error     { return Wrap(op, KindFatal, err) }

// Backoff is the fixed retry schedule used by Retry.
var Backoff = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 1 * time.Second}

// Retry runs fn up to len(Backoff)+1 times, sleeping the Backoff schedule
// between attempts, and gives up early if fn returns a non-transient error
// or ctx is done. The last error observed is returned (wrapped Transient if all
// attempts were transient).
func Retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	attempts := append([]time.Duration{0}, Backoff...)
	for i, wait := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var e *Error
		if !errors.As(lastErr, &e) || e.Kind != KindTransient {
			return lastErr
		}
	}
	return Transientf(op, lastErr)
}
