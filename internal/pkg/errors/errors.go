// Package errors provides the error taxonomy shared by the tracker services.
//
// Every failure a caller can act on is an *AppError carrying a stable code and
// an HTTP status. AppErrors wrap one of the sentinel kinds below, so callers can
// branch with errors.Is without caring about the code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds.
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrForbidden      = errors.New("forbidden")
	ErrUnauthorized   = errors.New("authentication failed")
	ErrConnection     = errors.New("connection failed")
	ErrMalformedEvent = errors.New("malformed event")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal error")
	ErrServiceUnavail = errors.New("service unavailable")
)

// AppError is a structured application error with HTTP status and error code.
type AppError struct {
	// Code is a machine-readable error code (e.g. "PROJECT_NOT_FOUND").
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// HTTPStatus is the corresponding HTTP status code.
	HTTPStatus int `json:"-"`

	// Params carries structured context for the client.
	Params map[string]interface{} `json:"params,omitempty"`

	// Err is the wrapped underlying error, usually a sentinel kind.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error into an AppError.
func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// WithParams attaches structured parameters to the error.
func (e *AppError) WithParams(params map[string]interface{}) *AppError {
	if e == nil || len(params) == 0 {
		return e
	}
	e.Params = params
	return e
}

// WithParam sets a single parameter, keeping any already attached.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e == nil {
		return e
	}
	params := make(map[string]interface{}, len(e.Params)+1)
	for k, v := range e.Params {
		params[k] = v
	}
	params[key] = value
	e.Params = params
	return e
}

// Common error constructors. Each wraps the matching sentinel kind.

// NotFound creates a 404 error.
func NotFound(code, message string) *AppError {
	return Wrap(ErrNotFound, code, message, http.StatusNotFound)
}

// BadRequest creates a 400 error.
func BadRequest(code, message string) *AppError {
	return Wrap(ErrBadRequest, code, message, http.StatusBadRequest)
}

// Invalid creates a 422 validation error.
func Invalid(code, message string) *AppError {
	return Wrap(ErrValidation, code, message, http.StatusUnprocessableEntity)
}

// Unauthorized creates a 401 error.
func Unauthorized(code, message string) *AppError {
	return Wrap(ErrUnauthorized, code, message, http.StatusUnauthorized)
}

// Forbidden creates a 403 error.
func Forbidden(code, message string) *AppError {
	return Wrap(ErrForbidden, code, message, http.StatusForbidden)
}

// Conflict creates a 409 error.
func Conflict(code, message string) *AppError {
	return Wrap(ErrConflict, code, message, http.StatusConflict)
}

// Internal creates a 500 error.
func Internal(code, message string) *AppError {
	return Wrap(ErrInternal, code, message, http.StatusInternalServerError)
}

// Unavailable creates a 503 error.
func Unavailable(code, message string) *AppError {
	return Wrap(ErrServiceUnavail, code, message, http.StatusServiceUnavailable)
}

// IsAppError checks if an error is an AppError and returns it.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the AppError code of err, or "" when err is not an AppError.
func CodeOf(err error) string {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return ""
}
