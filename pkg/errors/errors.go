package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the kind of failure reported to the caller
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "VALIDATION"
	ErrorTypeNotFound         ErrorType = "NOT_FOUND"
	ErrorTypeConflict         ErrorType = "CONFLICT"
	ErrorTypePrecondition     ErrorType = "PRECONDITION"
	ErrorTypeTransientStorage ErrorType = "TRANSIENT_STORAGE"
	ErrorTypeAuditFailure     ErrorType = "AUDIT_FAILURE"
	ErrorTypeForbidden        ErrorType = "FORBIDDEN"
	ErrorTypeUnauthorized     ErrorType = "UNAUTHORIZED"
	ErrorTypeRateLimited      ErrorType = "RATE_LIMITED"
	ErrorTypeInternal         ErrorType = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Violations []FieldViolation       `json:"violations,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	label := string(e.Type)
	if e.Code != "" {
		label = fmt.Sprintf("%s:%s", e.Type, e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", label, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", label, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError with the same type and, when set, the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && (t.Code == "" || e.Code == t.Code)
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetail adds a single detail
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// NewValidationError creates a validation error listing every violated field
func NewValidationError(message string, violations ...FieldViolation) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       CodeInvalidInput,
		Message:    message,
		Violations: violations,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewConflictError creates a uniqueness or state machine conflict
func NewConflictError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewPreconditionError creates an error for operations invalid in the current entity state
func NewPreconditionError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypePrecondition,
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusPreconditionFailed,
	}
}

// NewTransientStorageError creates a retryable storage error
func NewTransientStorageError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeTransientStorage,
		Code:       CodeStorageUnavailable,
		Message:    fmt.Sprintf("storage operation '%s' did not complete", operation),
		Retryable:  true,
		Cause:      err,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewAuditFailure creates the error returned when an audit entry could not be written.
// outcome is the error the operation would have returned otherwise, if any.
func NewAuditFailure(err error, outcome error) *AppError {
	appErr := &AppError{
		Type:       ErrorTypeAuditFailure,
		Code:       CodeAuditWriteFailed,
		Message:    "audit entry could not be recorded; operation rejected",
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
	}
	if outcome != nil {
		appErr.WithDetail("outcome", outcome.Error())
	}
	return appErr
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewRateLimitedError reports a caller that exceeded its request budget
func NewRateLimitedError() *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimited,
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded",
		Retryable:  true,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// HasCode checks if an error carries the given code
func HasCode(err error, code string) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsPrecondition checks if an error is a precondition error
func IsPrecondition(err error) bool {
	return IsType(err, ErrorTypePrecondition)
}

// IsTransientStorage checks if an error is a retryable storage error
func IsTransientStorage(err error) bool {
	return IsType(err, ErrorTypeTransientStorage)
}

// IsAuditFailure checks if an error is an audit failure
func IsAuditFailure(err error) bool {
	return IsType(err, ErrorTypeAuditFailure)
}

// IsForbidden checks if an error is a forbidden error
func IsForbidden(err error) bool {
	return IsType(err, ErrorTypeForbidden)
}

// CodeOf returns the code reported for err. Errors outside the taxonomy report CodeInternal.
func CodeOf(err error) string {
	if appErr := GetAppError(err); appErr != nil && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}

// Normalize guarantees the returned error belongs to the taxonomy
func Normalize(err error) error {
	if err == nil || IsAppError(err) {
		return err
	}
	return NewInternalError("unexpected failure").WithCause(err)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return err
	}
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
