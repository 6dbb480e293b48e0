package errors

import (
	"fmt"
	"net/http"
)

// Error code constants. Messages are English; clients key their UX off Code.

// Project error codes.
const (
	CodeProjectNotFound = "PROJECT_NOT_FOUND"
	CodeProjectExists   = "PROJECT_ALREADY_EXISTS"
)

// Status error codes.
const (
	CodeStatusNotFound          = "STATUS_NOT_FOUND"
	CodeStatusExists            = "STATUS_ALREADY_EXISTS"
	CodeStatusTransitionInvalid = "STATUS_TRANSITION_INVALID"
	CodeStatusCategoryInvalid   = "STATUS_CATEGORY_INVALID"
	CodeStatusCategoryForbidden = "STATUS_CATEGORY_FORBIDDEN"
	CodeStatusBatchEmpty        = "STATUS_BATCH_EMPTY"
	CodeStatusLockNotObtained   = "STATUS_LOCK_NOT_OBTAINED"
)

// Realtime error codes.
const (
	CodeRealtimeAuthRequired   = "REALTIME_AUTH_REQUIRED"
	CodeRealtimeAuthFailed     = "REALTIME_AUTH_FAILED"
	CodeRealtimeConnectFailed  = "REALTIME_CONNECT_FAILED"
	CodeRealtimeConnectionLost = "REALTIME_CONNECTION_LOST"
	CodeRealtimeMalformedEvent = "REALTIME_MALFORMED_EVENT"
	CodeRealtimeCapacity       = "REALTIME_CAPACITY_EXCEEDED"
)

// Auth error codes.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
	CodeForbidden    = "FORBIDDEN"
)

// Request error codes.
const (
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeValidationFailed    = "VALIDATION_FAILED"
)

// Convenience constructors using predefined codes.

// ErrProjectNotFoundf creates a project not found error.
func ErrProjectNotFoundf(projectID string) *AppError {
	return NotFound(CodeProjectNotFound, "project not found").
		WithParams(map[string]interface{}{"project_id": projectID})
}

// ErrStatusNotFoundf creates a status record not found error.
func ErrStatusNotFoundf(recordID string) *AppError {
	return NotFound(CodeStatusNotFound, "status update not found").
		WithParams(map[string]interface{}{"record_id": recordID})
}

// ErrProjectExistsf creates a conflict error for a duplicate project id.
func ErrProjectExistsf(projectID string) *AppError {
	return Conflict(CodeProjectExists, "project already exists").
		WithParams(map[string]interface{}{"project_id": projectID})
}

// ErrTransitionInvalidf creates a validation error carrying the validator's
// reason as the message, verbatim.
func ErrTransitionInvalidf(category, reason string) *AppError {
	return Invalid(CodeStatusTransitionInvalid, reason).
		WithParams(map[string]interface{}{"category": category})
}

// ErrCategoryForbiddenf creates an authorization error for a role/category pair.
func ErrCategoryForbiddenf(role, category string) *AppError {
	return Forbidden(CodeStatusCategoryForbidden,
		fmt.Sprintf("role %s may not update %s status", role, category)).
		WithParams(map[string]interface{}{"role": role, "category": category})
}

// ErrAuthenticationRequired is returned when a realtime connect has no credential.
func ErrAuthenticationRequired() *AppError {
	return Unauthorized(CodeRealtimeAuthRequired, "authentication token is required")
}

// ErrConnectFailedf wraps a transient realtime connect failure.
func ErrConnectFailedf(cause error) *AppError {
	return &AppError{
		Code:       CodeRealtimeConnectFailed,
		Message:    "realtime connection failed",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        fmt.Errorf("%w: %v", ErrConnection, cause),
	}
}

// ErrMalformedEventf wraps an inbound frame that failed to decode.
func ErrMalformedEventf(cause error) *AppError {
	return &AppError{
		Code:       CodeRealtimeMalformedEvent,
		Message:    "malformed realtime event",
		HTTPStatus: http.StatusBadRequest,
		Err:        fmt.Errorf("%w: %v", ErrMalformedEvent, cause),
	}
}
