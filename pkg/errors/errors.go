// Package errors provides the typed application error shared by every layer of
// the service. Repositories and services return *AppError values; transports
// map the code to an HTTP or gRPC status.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies an application error.
type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeForbidden        ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeConflict         ErrorCode = "CONFLICT"
	ErrCodeConfiguration    ErrorCode = "CONFIGURATION"
	ErrCodeApproverNotFound ErrorCode = "APPROVER_NOT_FOUND"
	ErrCodeTransient        ErrorCode = "TRANSIENT"
	ErrCodeInternal         ErrorCode = "INTERNAL"
)

// AppError is an error carrying a code, a client-safe message and optional
// structured details.
type AppError struct {
	Code    ErrorCode
	Message string
	Field   string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair to the error and returns it.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps err with a code and message. Wrapping an *AppError keeps the
// inner code unless the inner code is INTERNAL.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	var inner *AppError
	if stderrors.As(err, &inner) && inner.Code != ErrCodeInternal {
		code = inner.Code
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: map[string]any{"resource": resource, "id": id},
	}
}

// InvalidInput reports a rejected input field.
func InvalidInput(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("invalid %s: %s", field, message),
		Field:   field,
	}
}

// Forbidden reports an actor acting outside their authority.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message}
}

// Configuration reports administrative misconfiguration (rule coverage,
// missing central unit, malformed chain).
func Configuration(message string) *AppError {
	return &AppError{Code: ErrCodeConfiguration, Message: message}
}

// ApproverNotFound reports that no active user holds role in unit.
func ApproverNotFound(role, unit string) *AppError {
	return &AppError{
		Code:    ErrCodeApproverNotFound,
		Message: fmt.Sprintf("no active approver with role %s in unit %s", role, unit),
		Details: map[string]any{"role": role, "unit": unit},
	}
}

// Transient marks err as retryable by the caller.
func Transient(err error, message string) *AppError {
	return &AppError{Code: ErrCodeTransient, Message: message, Err: err}
}

// CodeOf returns the code of the first AppError in err's chain, or INTERNAL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// As is stdlib errors.As, re-exported so callers need a single import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// HTTPStatus maps an error to the HTTP status returned to clients.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTransient:
		return http.StatusServiceUnavailable
	default:
		// CONFIGURATION and APPROVER_NOT_FOUND are server-side staffing or
		// rule-setup gaps.
		return http.StatusInternalServerError
	}
}
