package oidc

import (
	"log/slog"
	"time"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/server"
)

// Config holds the HTTP provider configuration
// Structured using composition for better organization and maintainability
type Config struct {
	// Issuer is the provider's issuer identifier (base URL). It appears in
	// the discovery document and in every id_token's iss claim.
	Issuer string

	// SupportedScopes lists the scopes clients may request.
	// If empty, all scopes are allowed.
	SupportedScopes []string

	// Endpoints configures the paths the handler serves and redirects to
	Endpoints EndpointConfig

	// Tokens configures lifetimes and signing defaults
	Tokens TokenConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation provides OpenTelemetry tracing and metrics (optional).
	// When nil, a disabled no-op instrumentation is used.
	Instrumentation *instrumentation.Instrumentation
}

// EndpointConfig holds the paths served by the handler. All paths are
// relative to the issuer. Zero values get the conventional defaults.
type EndpointConfig struct {
	// Authorization is the authorization endpoint path. Default: /authorize
	Authorization string

	// Token is the token endpoint path. Default: /token
	Token string

	// JWKS is the key set endpoint path. Default: /jwks.json
	JWKS string

	// Revocation is the token revocation endpoint path. Default: /revoke
	Revocation string

	// Login is where unauthenticated authorization requests are redirected.
	// The original request is carried in the return_to query parameter.
	// Default: /login
	Login string

	// Consent is where authorization requests lacking consent are redirected.
	// Default: /consent
	Consent string
}

// TokenConfig holds token lifetime and signing configuration
type TokenConfig struct {
	// AuthorizationCodeTTL is how long authorization codes are valid.
	// Default: 10 minutes
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access tokens are valid.
	// Default: 1 hour
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long refresh tokens remain valid.
	// Default: 90 days
	RefreshTokenTTL time.Duration

	// AssertionMaxTTL bounds the validity window accepted on client
	// assertions (RFC 7523). Default: 5 minutes
	AssertionMaxTTL time.Duration

	// DefaultSigningAlgorithm signs id_tokens for clients without a
	// registered preference. Default: RS256
	DefaultSigningAlgorithm string

	// DisableRefreshTokenRotation disables automatic refresh token rotation.
	// WARNING: Violates OAuth 2.1. Stolen tokens remain valid indefinitely.
	DisableRefreshTokenRotation bool
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server. Used with TrustProxy to extract the client IP. Default: 1
	TrustedProxyCount int
}

// SecurityConfig holds security settings (secure by default)
type SecurityConfig struct {
	// EncryptionKey is the AES-256 key (32 bytes) for token encryption at rest.
	// Nil disables encryption. Generate with oidc.GenerateEncryptionKey().
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging.
	// Logs auth events, token operations, and violations (sensitive data hashed).
	EnableAuditLogging bool

	// AllowPKCEPlain permits the deprecated 'plain' code_challenge_method.
	// WARNING: Only for backward compatibility with legacy clients.
	AllowPKCEPlain bool

	// DisablePKCEEnforcement turns off mandatory PKCE for public clients.
	// WARNING: Public clients without PKCE are vulnerable to code interception.
	DisablePKCEEnforcement bool

	// AllowInsecureHTTP permits a non-localhost http:// issuer.
	// WARNING: Only for test environments; credentials travel in cleartext.
	AllowInsecureHTTP bool

	// AllowedCustomSchemes lists allowed custom redirect URI scheme regex
	// patterns (e.g., for myapp:// native clients).
	AllowedCustomSchemes []string

	// ClockSkewGracePeriod is the grace applied to token expiry checks.
	// Default: 5 seconds
	ClockSkewGracePeriod time.Duration
}

// GenerateEncryptionKey generates a random AES-256 key suitable for
// SecurityConfig.EncryptionKey.
func GenerateEncryptionKey() ([]byte, error) {
	return security.GenerateKey()
}

// engineConfig maps the HTTP-facing configuration onto the engine's.
func (c *Config) engineConfig() *server.Config {
	return &server.Config{
		Issuer:                    c.Issuer,
		TokenEndpoint:             c.Issuer + c.endpoints().Token,
		SupportedScopes:           c.SupportedScopes,
		AuthorizationCodeTTL:      int64(c.Tokens.AuthorizationCodeTTL / time.Second),
		AccessTokenTTL:            int64(c.Tokens.AccessTokenTTL / time.Second),
		RefreshTokenTTL:           int64(c.Tokens.RefreshTokenTTL / time.Second),
		AssertionMaxTTL:           int64(c.Tokens.AssertionMaxTTL / time.Second),
		DefaultSigningAlgorithm:   c.Tokens.DefaultSigningAlgorithm,
		AllowRefreshTokenRotation: !c.Tokens.DisableRefreshTokenRotation,
		RequirePKCE:               !c.Security.DisablePKCEEnforcement,
		AllowPKCEPlain:            c.Security.AllowPKCEPlain,
		AllowInsecureHTTP:         c.Security.AllowInsecureHTTP,
		AllowedCustomSchemes:      c.Security.AllowedCustomSchemes,
		ClockSkewGracePeriod:      int64(c.Security.ClockSkewGracePeriod / time.Second),
		TrustProxy:                c.RateLimit.TrustProxy,
		TrustedProxyCount:         c.RateLimit.TrustedProxyCount,
	}
}

// endpoints returns the endpoint paths with defaults applied.
func (c *Config) endpoints() EndpointConfig {
	e := c.Endpoints
	if e.Authorization == "" {
		e.Authorization = "/authorize"
	}
	if e.Token == "" {
		e.Token = "/token"
	}
	if e.JWKS == "" {
		e.JWKS = "/jwks.json"
	}
	if e.Revocation == "" {
		e.Revocation = "/revoke"
	}
	if e.Login == "" {
		e.Login = "/login"
	}
	if e.Consent == "" {
		e.Consent = "/consent"
	}
	return e
}
