// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates malformed or malicious input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeAuthentication indicates bad credentials or MFA failure (HTTP 401).
	// Client-facing messages stay generic; the precise cause goes to the audit log.
	TypeAuthentication ErrorType = "authentication"
	// TypeTokenInvalid collapses expired/blacklisted/session-inactive/bad-signature
	// failures into one client-facing error (HTTP 401)
	TypeTokenInvalid ErrorType = "token_invalid"
	// TypeRateLimited indicates a throttled request (HTTP 429)
	TypeRateLimited ErrorType = "rate_limited"
	// TypeGrant carries an OAuth2 wire error code verbatim (HTTP 400)
	TypeGrant ErrorType = "grant"
	// TypeForbidden indicates an access-control denial (HTTP 403)
	TypeForbidden ErrorType = "forbidden"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeEncryption indicates a missing key or auth-tag mismatch (HTTP 500, fails closed)
	TypeEncryption ErrorType = "encryption"
	// TypeKeyRotation indicates a key rotation failure (logged, retried on next tick)
	TypeKeyRotation ErrorType = "key_rotation"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// OAuth2 wire error codes (RFC 6749 §5.2). Preserved verbatim as a wire contract.
const (
	GrantInvalidRequest       = "invalid_request"
	GrantInvalidClient        = "invalid_client"
	GrantInvalidGrant         = "invalid_grant"
	GrantUnauthorizedClient   = "unauthorized_client"
	GrantUnsupportedGrantType = "unsupported_grant_type"
	GrantInvalidScope         = "invalid_scope"
	GrantAccessDenied         = "access_denied"
	GrantUnsupportedResponse  = "unsupported_response_type"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any

	// Code is the OAuth2 wire error code for TypeGrant errors.
	Code string
	// RetryAfter is surfaced to the caller for TypeRateLimited errors.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation, TypeGrant:
		return http.StatusBadRequest
	case TypeAuthentication, TypeTokenInvalid:
		return http.StatusUnauthorized
	case TypeForbidden:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeEncryption, TypeKeyRotation, TypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return &Error{
		Type:    TypeValidation,
		Message: message,
		Context: make(map[string]any),
	}
}

// AuthenticationError creates a generic authentication failure (HTTP 401).
// The message must not reveal whether the account exists.
func AuthenticationError(message string) *Error {
	return &Error{
		Type:    TypeAuthentication,
		Message: message,
		Context: make(map[string]any),
	}
}

// TokenInvalidError creates a collapsed token verification failure (HTTP 401).
func TokenInvalidError(cause error) *Error {
	return &Error{
		Type:    TypeTokenInvalid,
		Message: "token is invalid or has been revoked",
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// RateLimitedError creates a throttling error carrying the retry-after hint.
func RateLimitedError(retryAfter time.Duration) *Error {
	return &Error{
		Type:       TypeRateLimited,
		Message:    "too many requests",
		RetryAfter: retryAfter,
		Context:    make(map[string]any),
	}
}

// GrantErrorf creates an OAuth2 error whose wire code is preserved verbatim.
func GrantErrorf(code, format string, args ...any) *Error {
	return &Error{
		Type:    TypeGrant,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Context: make(map[string]any),
	}
}

// ForbiddenError creates an access-control denial (HTTP 403).
func ForbiddenError(message string) *Error {
	return &Error{
		Type:    TypeForbidden,
		Message: message,
		Context: make(map[string]any),
	}
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return &Error{
		Type:    TypeNotFound,
		Message: message,
		Context: make(map[string]any),
	}
}

// EncryptionError creates a fail-closed encryption error (HTTP 500).
func EncryptionError(message string, cause error) *Error {
	return &Error{
		Type:    TypeEncryption,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// KeyRotationError creates a key rotation failure for a single key.
func KeyRotationError(keyID string, cause error) *Error {
	err := &Error{
		Type:    TypeKeyRotation,
		Message: "key rotation failed",
		Cause:   cause,
		Context: make(map[string]any),
	}
	err.Context["key_id"] = keyID
	return err
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeInternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error      string         `json:"error"`
	Type       ErrorType      `json:"type,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	RetryAfter int64          `json:"retry_after,omitempty"`
}

// GrantResponse is the RFC 6749 error body for OAuth2 endpoints.
type GrantResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	resp := ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
	if e.Type == TypeRateLimited {
		resp.RetryAfter = int64(e.RetryAfter.Seconds())
	}
	return resp
}

// ToGrantResponse converts a TypeGrant error to its wire form.
func (e *Error) ToGrantResponse() GrantResponse {
	return GrantResponse{
		Error:            e.Code,
		ErrorDescription: e.Message,
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
