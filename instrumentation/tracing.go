package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never log actual sensitive values (access tokens, refresh tokens,
// authorization codes, client secrets, etc.) in traces or metrics. Only log metadata
// such as token types, expiry times, algorithms, and validation results.
//
// These constants define attribute key names for observability, not for logging
// sensitive credential values. Logging actual credentials would create critical
// security vulnerabilities as traces are often:
//   - Persisted for extended periods
//   - Accessible to wider audiences than production systems
//   - Replicated across monitoring infrastructure
//   - Subject to compliance requirements (GDPR, PCI-DSS, etc.)
const (
	// Protocol flow attributes - SAFE to use for metadata only
	AttrClientID         = "oidc.client_id"          // Client identifier (non-secret)
	AttrSubject          = "oidc.subject"            // Resource owner identifier (non-secret)
	AttrScope            = "oidc.scope"              // Requested scopes
	AttrPKCEMethod       = "oidc.pkce.method"        // PKCE method used (S256, plain)
	AttrCodeReuse        = "oidc.code.reuse"         // Whether code reuse was detected (boolean)
	AttrRefreshReuse     = "oidc.refresh.reuse"      //nolint:gosec // Whether refresh replay was detected (boolean)
	AttrGrantType        = "oidc.grant_type"         // Grant type at the token endpoint
	AttrResponseType     = "oidc.response_type"      // Response type at the authorization endpoint
	AttrResponseMode     = "oidc.response_mode"      // Response mode (query, fragment, form_post)
	AttrClientAuthMethod = "oidc.client_auth.method" // Client authentication method used
	AttrRedirectURI      = "oidc.redirect_uri"       // Redirect URI (may contain sensitive data)
	AttrState            = "oidc.state"              // Opaque client state parameter
	AttrTokenType        = "oidc.token_type"         //nolint:gosec // Token type (Bearer, etc.) - NOT the actual token
	AttrExpiresIn        = "oidc.expires_in"         // Token expiry duration
	AttrError            = "oidc.error"              // Protocol error code
	AttrErrorDescription = "oidc.error_description"  // Protocol error description

	// RESERVED - DO NOT USE: These are reserved for potential future metadata use only.
	// NEVER set these attributes to actual credential values.
	// Instead, use boolean flags like "token_present" or "code_validated".
	AttrAuthorizationCode = "oidc.authorization_code" // RESERVED - use "code_present" or "code_length" instead
	AttrAccessToken       = "oidc.access_token"       //nolint:gosec // RESERVED - use "token_type" or "token_present" instead
	AttrRefreshToken      = "oidc.refresh_token"      //nolint:gosec // RESERVED - use "refresh_present" or "refresh_rotated" instead

	// Key and token format attributes
	AttrSigningAlgorithm    = "jose.signing.algorithm"
	AttrEncryptionAlgorithm = "jose.encryption.algorithm"
	AttrContentEncryption   = "jose.encryption.enc"
	AttrKeyID               = "jose.key_id"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"
	AttrStorageKey       = "storage.key"

	// Security attributes
	AttrRateLimiterType     = "security.rate_limiter.type"
	AttrClientIP            = "security.client_ip"
	AttrAuditEventType      = "security.audit.event_type"
	AttrEncryptionOperation = "security.encryption.operation"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint     = "http.endpoint"
	AttrHTTPMethod       = "http.method"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPRequestSize  = "http.request.size"
	AttrHTTPResponseSize = "http.response.size"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
// This is a convenience wrapper that safely handles nil spans
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
// This is a convenience wrapper that safely handles nil spans
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGrantAttributes adds common grant processing attributes to a span (nil-safe)
func AddGrantAttributes(span trace.Span, clientID, subject, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if subject != "" {
		SetSpanAttributes(span, attribute.String(AttrSubject, subject))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddPKCEAttributes adds PKCE-related attributes to a span (nil-safe)
func AddPKCEAttributes(span trace.Span, method string) {
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

// AddTokenFormatAttributes adds signing/encryption metadata to a span (nil-safe)
func AddTokenFormatAttributes(span trace.Span, signingAlg, keyAlg, enc string) {
	if signingAlg != "" {
		SetSpanAttributes(span, attribute.String(AttrSigningAlgorithm, signingAlg))
	}
	if keyAlg != "" {
		SetSpanAttributes(span, attribute.String(AttrEncryptionAlgorithm, keyAlg))
	}
	if enc != "" {
		SetSpanAttributes(span, attribute.String(AttrContentEncryption, enc))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds security-related attributes to a span (nil-safe)
//
// PRIVACY NOTE: Client IP addresses may be considered Personally Identifiable Information (PII).
// Before calling this function, check if IP logging is enabled using instrumentation.ShouldLogClientIPs().
// Example:
//
//	if inst.ShouldLogClientIPs() {
//	    AddSecurityAttributes(span, clientIP)
//	}
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
