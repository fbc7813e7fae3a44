package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies an implementation failure.
type Kind int

const (
	// KindUnknown is anything unclassified. It is fallback-eligible.
	KindUnknown Kind = iota
	// KindNotFound means the target record does not exist. Terminal.
	KindNotFound
	// KindValidation means the input was rejected. Terminal.
	KindValidation
	// KindAuth is a credential or permission failure. Fallback-eligible.
	KindAuth
	// KindTransient is a network, timeout or 5xx failure. Fallback-eligible.
	KindTransient
)

// String returns the snake_case kind name used in logs, metrics and audit events.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Terminal reports whether the other implementation would fail the same way.
func (k Kind) Terminal() bool {
	return k == KindNotFound || k == KindValidation
}

// Sentinel errors implementations may return (or wrap) to classify themselves.
var (
	ErrNotFound     = errors.New("router: not found")
	ErrValidation   = errors.New("router: validation failed")
	ErrUnauthorized = errors.New("router: unauthorized")

	// ErrNoImplementation is reported when a call has no handler for the chosen path.
	ErrNoImplementation = errors.New("router: no implementation for path")
)

// Error is the single classified error a routed call returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// FellBack is set when the new path failed and this is the legacy error.
	FellBack bool
}

func (e *Error) Error() string {
	if e.FellBack {
		return fmt.Sprintf("%s (after fallback): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the implementation error.
func (e *Error) Unwrap() error { return e.Cause }

// statusCoder is implemented by backend errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// Classify derives the kind of err. It returns nil for a nil error and keeps
// an *Error already present in the chain.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	return &Error{Kind: kindOf(err), Message: err.Error(), Cause: err}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUnauthorized):
		return KindAuth
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if kind, ok := kindForStatus(sc.StatusCode()); ok {
			return kind
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}

	return KindUnknown
}

func kindForStatus(status int) (Kind, bool) {
	switch {
	case status == http.StatusNotFound, status == http.StatusGone:
		return KindNotFound, true
	case status == http.StatusBadRequest, status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return KindValidation, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth, true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return KindTransient, true
	}
	return KindUnknown, false
}
