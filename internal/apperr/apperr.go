// Package apperr implements the error taxonomy from spec.md §7: a closed set
// of error types, each with an HTTP status projection and a tool-envelope
// projection for errors surfaced back to the LLM inside the Fiche Runner.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Type is a member of the closed taxonomy in spec.md §7.
type Type string

const (
	ValidationError     Type = "validation_error"
	MissingContext      Type = "missing_context"
	NotFound            Type = "not_found"
	InvalidState        Type = "invalid_state"
	PermissionDenied    Type = "permission_denied"
	RateLimited         Type = "rate_limited"
	ExecutionError      Type = "execution_error"
	TransportException  Type = "transport_exception"
)

// Error is the typed sentinel all application errors wrap, modeled on the
// teacher's ErrModelUnavailable (internal/models/errors.go): a concrete
// struct carrying the taxonomy type plus enough detail to render both an
// HTTP response and a tool envelope, with Unwrap for errors.As/errors.Is.
type Error struct {
	ErrType     Type
	UserMessage string
	Details     map[string]any
	RetryAfter  int // seconds; only meaningful when ErrType == RateLimited
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrType, e.UserMessage, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrType, e.UserMessage)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given type.
func New(t Type, userMessage string, cause error) *Error {
	return &Error{ErrType: t, UserMessage: userMessage, Cause: cause}
}

// WithDetails attaches structured detail fields (e.g. field-level validation
// failures) and returns the same *Error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// HTTPStatus projects the taxonomy onto the status codes named in spec.md §7.
func (e *Error) HTTPStatus() int {
	switch e.ErrType {
	case ValidationError:
		return http.StatusUnprocessableEntity
	case MissingContext:
		return http.StatusInternalServerError
	case NotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusConflict
	case PermissionDenied:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case ExecutionError:
		return http.StatusInternalServerError
	case TransportException:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the `{ok:false, error_type, user_message, details}` shape
// returned to the LLM as a tool-role message (spec.md §4.3 step 6, §7).
type Envelope struct {
	OK          bool           `json:"ok"`
	ErrorType   Type           `json:"error_type"`
	UserMessage string         `json:"user_message"`
	Details     map[string]any `json:"details,omitempty"`
}

// ToEnvelope converts any error into a tool envelope. Non-*Error causes are
// folded into execution_error so every tool dispatch failure, however it
// originated, reaches the LLM in the same shape.
func ToEnvelope(err error) Envelope {
	var appErr *Error
	if errors.As(err, &appErr) {
		return Envelope{
			OK:          false,
			ErrorType:   appErr.ErrType,
			UserMessage: appErr.UserMessage,
			Details:     appErr.Details,
		}
	}
	return Envelope{
		OK:          false,
		ErrorType:   ExecutionError,
		UserMessage: err.Error(),
	}
}

// HTTPBody is the `{detail: <user_message>}` shape spec.md §7 mandates for
// direct HTTP callers.
type HTTPBody struct {
	Detail string `json:"detail"`
}

// ToHTTP converts any error into a status code + response body. Non-*Error
// causes default to 500 with the raw error string — callers at a trust
// boundary (httpapi) should prefer wrapping with New before this point so
// internal detail is not leaked, but this is a safe fallback.
func ToHTTP(err error) (status int, body HTTPBody) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus(), HTTPBody{Detail: appErr.UserMessage}
	}
	return http.StatusInternalServerError, HTTPBody{Detail: err.Error()}
}

// IsCritical reports whether the error type is one of the three spec.md §4.3
// names as requiring a dedicated helper so summarizers cannot report
// "success" when a tool actually failed: missing_context, not_found,
// invalid_state.
func IsCritical(err error) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.ErrType {
	case MissingContext, NotFound, InvalidState:
		return true
	default:
		return false
	}
}

// Is makes errors.Is(err, target) report true when target is an *Error with
// the same ErrType, so any *Error value of a type can act as a sentinel for
// that type. A bare Type constant is not an error and cannot be a target.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.ErrType == t.ErrType
	}
	return false
}
