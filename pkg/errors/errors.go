package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeForbidden   ErrorType = "forbidden"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Sentinels used with errors.Is across the engine.
var (
	ErrAuth            = errors.New("no authentication method succeeded")
	ErrForbidden       = errors.New("forbidden or logged out by remote service")
	ErrCancelled       = errors.New("cancellation requested")
	ErrJobRunning      = errors.New("a scrape job is already running")
	ErrUncleanShutdown = errors.New("job marker present without a running job")
	ErrNoMedia         = errors.New("no media could be downloaded")
)

// Error represents a classified failure with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the run-level sentinels by type.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Type == ErrorTypeAuth
	case ErrForbidden:
		return e.Type == ErrorTypeForbidden
	}
	return false
}

// New creates a typed error
func New(t ErrorType, code int, msg string) *Error {
	return &Error{Type: t, Code: code, Message: msg}
}

// Wrap creates a typed error around a cause
func Wrap(t ErrorType, err error, msg string) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

// NewAuthError is returned when every authentication strategy failed.
func NewAuthError(err error) *Error {
	msg := "all authentication methods failed"
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &Error{Type: ErrorTypeAuth, Message: msg, Code: http.StatusUnauthorized, Err: err}
}

// NewForbiddenError marks a forced logout or a hard 403 from the remote service.
func NewForbiddenError(msg string) *Error {
	return &Error{Type: ErrorTypeForbidden, Message: msg, Code: http.StatusForbidden}
}

// NewPersistenceError wraps a store failure for a single post.
func NewPersistenceError(err error, msg string) *Error {
	return &Error{Type: ErrorTypePersistence, Message: msg, Err: err}
}

// FromStatusCode classifies an HTTP response status
func FromStatusCode(code int, msg string) *Error {
	t := ErrorTypeUnknown
	switch {
	case code == http.StatusTooManyRequests:
		t = ErrorTypeRateLimit
	case code == http.StatusUnauthorized:
		t = ErrorTypeAuth
	case code == http.StatusForbidden:
		t = ErrorTypeForbidden
	case code == http.StatusNotFound:
		t = ErrorTypeNotFound
	case code >= 500:
		t = ErrorTypeServerError
	}
	return &Error{Type: t, Code: code, Message: msg}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case http.StatusTooManyRequests:
		return true
	default:
		return statusCode >= 500
	}
}

// IsTransient reports whether err is worth another attempt: timeouts,
// connection failures, 5xx and 429. Other 4xx and cancellation are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return false
	}

	var typed *Error
	if errors.As(err, &typed) {
		return IsRetryable(typed.Type)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// TypeOf returns the classified type of err, or unknown.
func TypeOf(err error) ErrorType {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeUnknown
}
