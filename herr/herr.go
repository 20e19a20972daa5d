// Package herr defines the error-kind taxonomy shared by every layer of the
// memory engine, generalized from the sentinel-error style of the teacher's
// session package into one reusable, wrap-friendly type.
package herr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories callers are expected to switch on.
type Kind string

const (
	Validation Kind = "validation"
	NotFound   Kind = "not_found"
	Forbidden  Kind = "forbidden"
	RateLimit  Kind = "rate_limit"
	Storage    Kind = "storage"
	Embedding  Kind = "embedding"
	Transient  Kind = "transient"
)

// Error pairs a Kind with a human message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, herr.New(herr.Validation, "")) style checks: the
// target must be an *Error, and only the two Kinds are compared.
func (e *Error) Is(target error) bool {
	var k *Error
	if errors.As(target, &k) {
		return e.Kind == k.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to Storage for unrecognized errors since most unclassified failures in
// this engine originate from a backing store call.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Storage
}

func Validationf(format string, args ...any) *Error {
	return New(Validation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}

func RateLimitf(format string, args ...any) *Error {
	return New(RateLimit, fmt.Sprintf(format, args...))
}

func Storagef(cause error, format string, args ...any) *Error {
	return Wrap(Storage, fmt.Sprintf(format, args...), cause)
}

func Embeddingf(cause error, format string, args ...any) *Error {
	return Wrap(Embedding, fmt.Sprintf(format, args...), cause)
}
