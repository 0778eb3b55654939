package server

import (
	"fmt"
	"net/http"
)

// OAuth/OIDC error codes from RFC 6749 and OpenID Connect Core.
const (
	ErrorCodeInvalidRequest        = "invalid_request"
	ErrorCodeInvalidGrant          = "invalid_grant"
	ErrorCodeInvalidClient         = "invalid_client"
	ErrorCodeInvalidScope          = "invalid_scope"
	ErrorCodeInvalidToken          = "invalid_token"
	ErrorCodeUnauthorizedClient    = "unauthorized_client"
	ErrorCodeUnsupportedGrantType  = "unsupported_grant_type"
	ErrorCodeServerError           = "server_error"
	ErrorCodeAccessDenied          = "access_denied"
	ErrorCodeInvalidRedirectURI    = "invalid_redirect_uri"
	ErrorCodeInvalidClientMetadata = "invalid_client_metadata"
	ErrorCodeLoginRequired         = "login_required"
	ErrorCodeConsentRequired       = "consent_required"
	ErrorCodeInvalidRequestURI     = "invalid_request_uri"
	ErrorCodeRateLimitExceeded     = "rate_limit_exceeded"
)

// Error is the typed error result every processor returns instead of raising.
// State carries the client's state parameter so the handler can echo it back
// on error redirects per RFC 6749 Section 4.1.2.1.
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	State       string // Client state to echo on error redirects, may be empty
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithState returns a copy of the error carrying the client's state parameter.
func (e *Error) WithState(state string) *Error {
	out := *e
	out.State = state
	return &out
}

// NewError creates a new typed OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Constructors for the error vocabulary. Descriptions are deliberately
// generic on authentication paths; details go to logs and audit events only.
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid, duplicated, or unsupported
	ErrInvalidScope = func(desc string) *Error {
		return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *Error {
		return NewError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrUnauthorizedClient indicates the client is not authorized for the requested grant type
	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the resource owner or server denied the request
	ErrAccessDenied = func(desc string) *Error {
		return NewError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is invalid or not registered
	ErrInvalidRedirectURI = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
	}

	// ErrLoginRequired indicates prompt=none was requested but no session exists
	ErrLoginRequired = func(desc string) *Error {
		return NewError(ErrorCodeLoginRequired, desc, http.StatusBadRequest)
	}

	// ErrConsentRequired indicates prompt=none was requested but consent is missing
	ErrConsentRequired = func(desc string) *Error {
		return NewError(ErrorCodeConsentRequired, desc, http.StatusBadRequest)
	}

	// ErrInvalidRequestURI indicates the request_uri could not be fetched or parsed
	ErrInvalidRequestURI = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequestURI, desc, http.StatusBadRequest)
	}
)
