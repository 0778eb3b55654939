package oidc

import "github.com/giantswarm/oidc-engine/server"

// Error is the typed OAuth/OIDC error the engine returns. It is re-exported
// here so HTTP callers do not need to import the server package.
type Error = server.Error

// OAuth error codes, re-exported from the engine.
const (
	ErrorCodeInvalidRequest        = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant          = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient         = server.ErrorCodeInvalidClient
	ErrorCodeInvalidScope          = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken          = server.ErrorCodeInvalidToken
	ErrorCodeUnauthorizedClient    = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType  = server.ErrorCodeUnsupportedGrantType
	ErrorCodeServerError           = server.ErrorCodeServerError
	ErrorCodeAccessDenied          = server.ErrorCodeAccessDenied
	ErrorCodeInvalidRedirectURI    = server.ErrorCodeInvalidRedirectURI
	ErrorCodeInvalidRequestURI     = server.ErrorCodeInvalidRequestURI
	ErrorCodeInvalidClientMetadata = server.ErrorCodeInvalidClientMetadata
	ErrorCodeLoginRequired         = server.ErrorCodeLoginRequired
	ErrorCodeConsentRequired       = server.ErrorCodeConsentRequired
	ErrorCodeRateLimitExceeded     = server.ErrorCodeRateLimitExceeded
)

// NewError creates a new typed OAuth error
var NewError = server.NewError
