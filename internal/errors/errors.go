// Package errors provides coded domain errors for the audio cache.
//
// Usage:
//
//	// In the catalog - return typed errors
//	if meta.Title == nil {
//	    return nil, errors.MissingTitle("title is required")
//	}
//
//	// In handlers - check with errors.Is
//	if errors.Is(err, errors.ErrMissingTitle) {
//	    // prompt the user for a title and retry
//	}
//
//	// Or group by failure class
//	if errors.IsValidation(err) {
//	    // never retried
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeValidation    Code = "VALIDATION"
	CodeNotAudio      Code = "NOT_AUDIO"
	CodeMissingTitle  Code = "MISSING_TITLE"
	CodeTooLong       Code = "TOO_LONG"
	CodeLiveSource    Code = "LIVE_SOURCE"
	CodeTransient     Code = "TRANSIENT"
	CodeIntegrity     Code = "INTEGRITY"
	CodeConflict      Code = "CONFLICT"
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeInternal      Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeNotAudio, CodeMissingTitle, CodeTooLong, CodeLiveSource:
		return http.StatusUnprocessableEntity
	case CodeTransient:
		return http.StatusServiceUnavailable
	case CodeIntegrity:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsValidation reports whether c describes a structural problem with the input.
func (c Code) IsValidation() bool {
	switch c {
	case CodeValidation, CodeNotAudio, CodeMissingTitle, CodeTooLong, CodeLiveSource:
		return true
	default:
		return false
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound      = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrValidation    = &Error{Code: CodeValidation, Message: "validation error"}
	ErrNotAudio      = &Error{Code: CodeNotAudio, Message: "not audio"}
	ErrMissingTitle  = &Error{Code: CodeMissingTitle, Message: "missing title"}
	ErrTooLong       = &Error{Code: CodeTooLong, Message: "exceeds maximum length"}
	ErrLiveSource    = &Error{Code: CodeLiveSource, Message: "live source"}
	ErrTransient     = &Error{Code: CodeTransient, Message: "transient failure"}
	ErrIntegrity     = &Error{Code: CodeIntegrity, Message: "integrity failure"}
	ErrConflict      = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInternal      = &Error{Code: CodeInternal, Message: "internal error"}
)

// CodeOf returns the code carried by err, or CodeInternal when err has none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsValidation reports whether err is a validation failure of any kind.
// Validation failures are permanent and must not be retried.
func IsValidation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code.IsValidation()
	}
	return false
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(msg string) *Error {
	return &Error{Code: CodeAlreadyExists, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// NotAudio creates an error for sources without a usable duration.
func NotAudio(msg string) *Error {
	return &Error{Code: CodeNotAudio, Message: msg}
}

// MissingTitle creates an error for sources that resolved without a title.
func MissingTitle(msg string) *Error {
	return &Error{Code: CodeMissingTitle, Message: msg}
}

// TooLongf creates a length-exceeded error with formatted message.
func TooLongf(format string, args ...any) *Error {
	return &Error{Code: CodeTooLong, Message: fmt.Sprintf(format, args...)}
}

// LiveSource creates an error for unbounded live streams.
func LiveSource(msg string) *Error {
	return &Error{Code: CodeLiveSource, Message: msg}
}

// Transientf creates a transient failure with formatted message.
func Transientf(format string, args ...any) *Error {
	return &Error{Code: CodeTransient, Message: fmt.Sprintf(format, args...)}
}

// Integrityf creates an integrity failure with formatted message.
func Integrityf(format string, args ...any) *Error {
	return &Error{Code: CodeIntegrity, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error.
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
