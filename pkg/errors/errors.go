package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// Kind classifies a failure for propagation and persistence decisions.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindNotFound          Kind = "not_found"
	KindProvider          Kind = "provider"
	KindCircuitOpen       Kind = "circuit_open"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindInternal          Kind = "internal"
)

// Error is the single error type surfaced by fern's core.
type Error struct {
	Kind       Kind
	Message    string
	Provider   string
	Field      string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// Retryable reports whether an automatic retry could succeed. Validation,
// conflict and not-found errors fail fast.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindProvider, KindCircuitOpen, KindRateLimitExceeded:
		return true
	}
	return false
}

func (e *Error) httpStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindProvider:
		return http.StatusBadGateway
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	message := e.Error()
	if e.Kind == KindInternal {
		// internal causes stay in the logs
		message = e.Message
	}
	httpErr := httperror.NewHTTPError(e.httpStatus(), message).AddMetaValue("kind", string(e.Kind))
	if e.Provider != "" {
		httpErr = httpErr.AddMetaValue("provider", e.Provider)
	}
	if e.Field != "" {
		httpErr = httpErr.AddMetaValue("field", e.Field)
	}
	if e.StatusCode != 0 {
		httpErr = httpErr.AddMetaValue("status_code", e.StatusCode)
	}
	return httpErr
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// Provider wraps an HTTP or network failure talking to provider. statusCode is
// zero when no response was received.
func Provider(provider string, statusCode int, err error) *Error {
	message := fmt.Sprintf("%s request failed", provider)
	if statusCode != 0 {
		message = fmt.Sprintf("%s request failed with status %d", provider, statusCode)
	}
	return &Error{Kind: KindProvider, Message: message, Provider: provider, StatusCode: statusCode, Err: err}
}

func CircuitOpen(provider string) *Error {
	return &Error{Kind: KindCircuitOpen, Message: fmt.Sprintf("circuit breaker for %s is open", provider), Provider: provider}
}

func RateLimitExceeded(provider string, err error) *Error {
	return &Error{Kind: KindRateLimitExceeded, Message: fmt.Sprintf("rate limit for %s exceeded", provider), Provider: provider, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

func IsValidation(err error) bool        { return Is(err, KindValidation) }
func IsConflict(err error) bool          { return Is(err, KindConflict) }
func IsNotFound(err error) bool          { return Is(err, KindNotFound) }
func IsProvider(err error) bool          { return Is(err, KindProvider) }
func IsCircuitOpen(err error) bool       { return Is(err, KindCircuitOpen) }
func IsRateLimitExceeded(err error) bool { return Is(err, KindRateLimitExceeded) }

// ToHTTPError converts any error into an ectoerror HTTP error, passing existing
// HTTP errors through untouched.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e.ToHTTPError()
	}
	if httperror.IsHTTPError(err) {
		return err
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
