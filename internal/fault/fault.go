package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for the wire surface.
type Kind string

const (
	InvalidInput      Kind = "invalid_input"
	NotFound          Kind = "not_found"
	InvalidState      Kind = "invalid_state"
	Unauthenticated   Kind = "unauthenticated"
	Forbidden         Kind = "forbidden"
	RateLimited       Kind = "rate_limited"
	ResourceExhausted Kind = "resource_exhausted"
	RecognizerFailed  Kind = "recognizer_failed"
	Cancelled         Kind = "cancelled"
	Internal          Kind = "internal"
)

// Error carries a kind alongside the message so transports can map it
// without string matching.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a fault of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a fault of the given kind.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

// WithRetryAfter sets the retry hint in seconds, returned on RateLimited
// and ResourceExhausted responses.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// KindOf extracts the fault kind from an error chain, defaulting to Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// RetryAfterOf extracts the retry hint from an error chain, zero if absent.
func RetryAfterOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to its response code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusConflict
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case ResourceExhausted:
		return http.StatusTooManyRequests
	case RecognizerFailed:
		return http.StatusBadGateway
	case Cancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
