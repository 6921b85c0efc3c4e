// Package domain provides canonical error types for the bridge.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes an API error using the wire names of the
// client-facing protocol, so an error can be rendered without remapping.
type ErrorType string

const (
	// ErrorTypeAuthentication indicates a missing, invalid, or expired credential.
	ErrorTypeAuthentication ErrorType = "authentication_error"

	// ErrorTypeInvalidRequest indicates malformed or unsupported client input.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"

	// ErrorTypePermission indicates the caller is not allowed to use the backend.
	ErrorTypePermission ErrorType = "permission_error"

	// ErrorTypeUpstream indicates the backend returned a failure status or
	// an unparseable payload.
	ErrorTypeUpstream ErrorType = "api_error"

	// ErrorTypeOverloaded indicates the backend is overloaded.
	ErrorTypeOverloaded ErrorType = "overloaded_error"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeMissingToken          ErrorCode = "missing_token"
	ErrorCodeExchangeFailed        ErrorCode = "exchange_failed"
	ErrorCodeCredentialExpired     ErrorCode = "credential_expired"
	ErrorCodeInvalidInput          ErrorCode = "invalid_input"
	ErrorCodeUnsupportedToolChoice ErrorCode = "unsupported_tool_choice"
	ErrorCodeUpstreamStatus        ErrorCode = "upstream_status"
	ErrorCodeStreamAborted         ErrorCode = "stream_aborted"
)

// APIError is the canonical error carried through the translation core and
// rendered at the HTTP boundary as the client protocol's error envelope.
type APIError struct {
	// Type is the category of error.
	Type ErrorType `json:"type"`

	// Code is an optional specific error code.
	Code ErrorCode `json:"-"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// StatusCode is the suggested HTTP status code.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the HTTP status for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrMissingToken creates the fixed forbidden error returned when no usable
// long-lived token is available at all.
func ErrMissingToken(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message).
		WithCode(ErrorCodeMissingToken).
		WithStatusCode(http.StatusForbidden)
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrUpstream creates an upstream failure error.
func ErrUpstream(message string) *APIError {
	return NewAPIError(ErrorTypeUpstream, message)
}

// AsAPIError coerces an arbitrary error into an *APIError, wrapping unknown
// errors as upstream failures.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrUpstream(err.Error())
}

// errorEnvelope is the client protocol's error wire shape.
type errorEnvelope struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// WriteError renders err as the client protocol's error envelope.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := AsAPIError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatusCode())
	json.NewEncoder(w).Encode(errorEnvelope{Type: "error", Error: apiErr})
}
