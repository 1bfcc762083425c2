// Package domain provides canonical record and error types for the gateway.
package domain

import (
	"errors"
	"net/http"
)

var (
	// ErrRecordNotFound is returned by stores when a lookup matches no row.
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidAPIKey is returned when an API key matches no active key row.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// ErrorType is the coarse category of an APIError. It decides the HTTP
// status unless one is set explicitly.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeUpstream       ErrorType = "upstream"
	ErrorTypeServer         ErrorType = "server"
)

var statusByType = map[ErrorType]int{
	ErrorTypeInvalidRequest: http.StatusBadRequest,
	ErrorTypeAuthentication: http.StatusUnauthorized,
	ErrorTypeNotFound:       http.StatusNotFound,
	ErrorTypeConflict:       http.StatusConflict,
	ErrorTypeUpstream:       http.StatusBadGateway,
	ErrorTypeServer:         http.StatusInternalServerError,
}

// ErrorCode narrows an ErrorType for clients that branch on it.
type ErrorCode string

const (
	ErrorCodeMissingField   ErrorCode = "missing_field"
	ErrorCodeInvalidField   ErrorCode = "invalid_field"
	ErrorCodeInvalidAPIKey  ErrorCode = "invalid_api_key"
	ErrorCodeFunnelInactive ErrorCode = "funnel_inactive"
)

// APIError is an error that handlers render to clients as-is.
type APIError struct {
	Type       ErrorType `json:"type"`
	Code       ErrorCode `json:"code,omitempty"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"` // offending request field
	StatusCode int       `json:"-"`               // overrides the type's status
}

func (e *APIError) Error() string {
	msg := string(e.Type)
	if e.Code != "" {
		msg += " (" + string(e.Code) + ")"
	}
	return msg + ": " + e.Message
}

// HTTPStatusCode is the explicit status if set, otherwise the status for
// the error's type. Unknown types map to 500.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	if code, ok := statusByType[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func NewAPIError(t ErrorType, message string) *APIError {
	return &APIError{Type: t, Message: message}
}

// The With* setters mutate and return e so they chain off a constructor.

func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

func ErrInvalidRequest(message string) *APIError { return NewAPIError(ErrorTypeInvalidRequest, message) }
func ErrAuthentication(message string) *APIError { return NewAPIError(ErrorTypeAuthentication, message) }
func ErrNotFound(message string) *APIError       { return NewAPIError(ErrorTypeNotFound, message) }
func ErrConflict(message string) *APIError       { return NewAPIError(ErrorTypeConflict, message) }
func ErrServer(message string) *APIError         { return NewAPIError(ErrorTypeServer, message) }

// InternalMessage is the client-facing text for errors that are not APIErrors.
const InternalMessage = "internal server error"

// AsAPIError finds an APIError in err's chain. ErrRecordNotFound becomes a
// not_found error; anything else becomes a server error carrying only
// InternalMessage, so driver and network details stay in the logs.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrRecordNotFound):
		return ErrNotFound(err.Error())
	default:
		return ErrServer(InternalMessage)
	}
}
