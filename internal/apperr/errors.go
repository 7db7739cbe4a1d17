package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeNotFound            = "NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeConfiguration       = "CONFIGURATION_ERROR"
	CodeDuplicateHost       = "DUPLICATE_HOST"
	CodeHostLimit           = "HOST_LIMIT"
	CodeDrawInProgress      = "DRAW_IN_PROGRESS"
	CodeDrawCancelled       = "DRAW_CANCELLED"
	CodeStore               = "STORE_ERROR"
)

// Error is the application error carried across service boundaries.
// Code identifies the kind and survives wrapping.
type Error struct {
	Message    string
	Code       string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithContext adds a key/value pair to the error context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(message, code string, statusCode int) *Error {
	return &Error{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
	}
}

func NewInvalidArgument(message, field string, value any) *Error {
	return newError(message, CodeInvalidArgument, http.StatusBadRequest).
		WithContext("field", field).
		WithContext("value", value)
}

func NewNotFound(message, key string) *Error {
	return newError(message, CodeNotFound, http.StatusNotFound).WithContext("key", key)
}

func NewUpstreamUnavailable(message string, cause error) *Error {
	return newError(message, CodeUpstreamUnavailable, http.StatusInternalServerError).WithCause(cause)
}

func NewConfigurationError(message string) *Error {
	return newError(message, CodeConfiguration, http.StatusInternalServerError)
}

func NewDuplicateHost(key string) *Error {
	return newError(fmt.Sprintf("host %q is already in the list", key), CodeDuplicateHost, http.StatusConflict).
		WithContext("key", key)
}

func NewHostLimit(limit int) *Error {
	return newError(fmt.Sprintf("at most %d hosts are allowed", limit), CodeHostLimit, http.StatusConflict).
		WithContext("limit", limit)
}

func NewDrawInProgress() *Error {
	return newError("a draw is already in progress", CodeDrawInProgress, http.StatusConflict)
}

func NewDrawCancelled() *Error {
	return newError("draw was cancelled", CodeDrawCancelled, http.StatusConflict)
}

func NewStoreError(message, operation, key string, cause error) *Error {
	return newError(message, CodeStore, http.StatusInternalServerError).
		WithContext("operation", operation).
		WithContext("key", key).
		WithCause(cause)
}

// Code returns the code of the first *Error in err's chain, or "" if none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err carries the given code.
func IsKind(err error, code string) bool {
	return err != nil && Code(err) == code
}

// StatusCode maps err to an HTTP status, defaulting to 500.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}
