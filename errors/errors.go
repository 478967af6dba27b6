package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the status the status server reports for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// InspectionFailed wraps a failure to enumerate containers from a backend.
func InspectionFailed(backend string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeInspectionFailed, Message: fmt.Sprintf("listing containers from %s failed", backend),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"backend": backend}, Cause: cause,
	}
}

// PublishFailed wraps a failure to write one key to the store.
func PublishFailed(backend, key string, cause error) *AppError {
	return &AppError{
		Code: ErrCodePublishFailed, Message: fmt.Sprintf("publishing %s to %s failed", key, backend),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"backend": backend, "key": key}, Cause: cause,
	}
}

// KeyConflict reports a key the store refuses to hand over. Only the one
// record is affected, and retrying within a tick does not help.
func KeyConflict(backend, key string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeKeyConflict, Message: fmt.Sprintf("key %s is held by another owner in %s", key, backend),
		HTTPStatus: http.StatusConflict, Retryable: false,
		Details: map[string]any{"backend": backend, "key": key}, Cause: cause,
	}
}

// QueryFailed wraps a failure to read published entries back.
func QueryFailed(backend, prefix string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeQueryFailed, Message: fmt.Sprintf("querying %s* from %s failed", prefix, backend),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"backend": backend, "prefix": prefix}, Cause: cause,
	}
}

// InvalidDeclaration reports a declaration that yielded no usable records.
func InvalidDeclaration(container string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeInvalidDeclaration, Message: fmt.Sprintf("container %s carries an invalid declaration", container),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
		Details: map[string]any{"container": container}, Cause: cause,
	}
}

// InvalidConfig reports a configuration value that failed validation.
func InvalidConfig(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("invalid configuration: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// UnknownProvider reports a backend name with no registered factory.
func UnknownProvider(kind, name string) *AppError {
	return &AppError{
		Code: ErrCodeUnknownProvider, Message: fmt.Sprintf("no %s registered under %q", kind, name),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"kind": kind, "name": name},
	}
}

// ConnectionFailed creates a new AppError for a failed connection to a backend.
func ConnectionFailed(service string) *AppError {
	return &AppError{
		Code: ErrCodeConnectionFailed, Message: fmt.Sprintf("unable to connect to %s", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// Internal creates a new AppError for an unexpected internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "an unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable reports whether err, or any AppError it wraps, is retryable.
// Errors that are not AppErrors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable
	}
	return true
}

// IsUnavailable reports whether err means a whole backend is unreachable
// rather than that a single operation was refused.
func IsUnavailable(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case ErrCodeConnectionFailed, ErrCodeServiceUnavailable, ErrCodeTimeout:
		return true
	}
	return false
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
