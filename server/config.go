package server

import (
	"fmt"
	"log/slog"
	"net/url"
)

// Config holds the authorization and token engine configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It is stamped
	// into every id_token's iss claim and used for HTTPS enforcement.
	Issuer string

	// TokenEndpoint is the absolute URL of the token endpoint. Client
	// assertions (private_key_jwt, client_secret_jwt) must carry it as
	// their audience. Defaults to Issuer + "/token".
	TokenEndpoint string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// AssertionMaxTTL bounds the validity window the server accepts on a
	// client assertion's exp claim. Assertions claiming a longer life are
	// rejected to keep the jti replay window small.
	AssertionMaxTTL int64 // seconds, default: 300 (5 minutes)

	// AllowRefreshTokenRotation enables refresh token rotation
	// Default: true (secure by default)
	AllowRefreshTokenRotation bool // default: true

	// DefaultSigningAlgorithm is used for id_tokens when the client has no
	// registered preference. Default: RS256.
	DefaultSigningAlgorithm string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// When false, uses direct connection IP (secure by default)
	// Default: false
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Used with TrustProxy to correctly extract client IP from X-Forwarded-For
	// Default: 1
	TrustedProxyCount int // default: 1

	// ClockSkewGracePeriod is the grace period for token expiration checks (in seconds)
	// This prevents false expiration errors due to time synchronization issues
	// Default: 5 seconds
	ClockSkewGracePeriod int64 // seconds, default: 5

	// SupportedScopes lists the scopes that are allowed for clients
	// If empty, all scopes are allowed
	SupportedScopes []string

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// WARNING: The 'plain' method is insecure and deprecated in OAuth 2.1
	// Only enable for backward compatibility with legacy clients
	// When false, only S256 method is accepted (secure by default)
	// Default: false
	AllowPKCEPlain bool // default: false

	// RequirePKCE enforces PKCE on authorization-code requests from public
	// clients (token_endpoint_auth_method "none"). Confidential clients
	// opt in through their RequirePKCE registration flag, which holds even
	// when this server-wide switch is off.
	// Default: true
	RequirePKCE bool // default: true

	// AllowInsecureHTTP permits a non-localhost http:// issuer.
	// WARNING: Only for test environments; credentials travel in cleartext.
	// Default: false
	AllowInsecureHTTP bool

	// AllowedCustomSchemes is a list of allowed custom URI scheme patterns (regex)
	// Used for validating custom redirect URIs (e.g., myapp://, com.example.app://)
	// Empty list allows all RFC 3986 compliant schemes
	AllowedCustomSchemes []string
}

// applySecureDefaults applies secure-by-default configuration values
// This follows the principle: secure by default, opt-in for less secure options
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applySecurityDefaults(config, logger)

	if config.DefaultSigningAlgorithm == "" {
		config.DefaultSigningAlgorithm = "RS256"
	}
	if config.TokenEndpoint == "" && config.Issuer != "" {
		config.TokenEndpoint = config.Issuer + "/token"
	}

	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.AssertionMaxTTL == 0 {
		config.AssertionMaxTTL = 300 // 5 minutes
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
}

// applySecurityDefaults sets secure defaults for security-related configuration
// Uses a heuristic to detect if config is new (all security bools false) vs explicitly configured
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	// Heuristic: if all security bools are false, it's likely a fresh config
	isDefaultConfig := !config.AllowRefreshTokenRotation &&
		!config.RequirePKCE &&
		!config.AllowPKCEPlain &&
		!config.TrustProxy

	if isDefaultConfig {
		config.AllowRefreshTokenRotation = true
		config.RequirePKCE = true
		config.AllowPKCEPlain = false
		config.TrustProxy = false
		return
	}

	// User has explicitly configured security - log warnings for insecure settings
	logSecurityWarnings(config, logger)
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("⚠️  SECURITY WARNING: PKCE is DISABLED",
			"risk", "Authorization code interception attacks",
			"recommendation", "Set RequirePKCE=true for OAuth 2.1 compliance",
			"learn_more", "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-7.6")
	}
	if config.AllowPKCEPlain {
		logger.Warn("⚠️  SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if !config.AllowRefreshTokenRotation {
		logger.Warn("⚠️  SECURITY WARNING: Refresh token rotation is DISABLED",
			"risk", "Stolen refresh tokens stay valid until expiry",
			"recommendation", "Set AllowRefreshTokenRotation=true")
	}
}

// Validate checks the configuration for structural problems that would
// surface later as confusing runtime failures.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid issuer URL: %s", c.Issuer)
	}
	if c.TokenEndpoint != "" {
		if u, err := url.Parse(c.TokenEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid token endpoint URL: %s", c.TokenEndpoint)
		}
	}
	if c.AuthorizationCodeTTL < 0 || c.AccessTokenTTL < 0 || c.RefreshTokenTTL < 0 {
		return fmt.Errorf("TTL values must not be negative")
	}
	// Only algorithms the key set can actually sign with. ES would validate
	// here and then fail every token request, since the key set holds no EC
	// keys; HMAC needs a per-client shared secret and cannot be a server
	// default.
	switch c.DefaultSigningAlgorithm {
	case "", "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
	default:
		return fmt.Errorf("unsupported default signing algorithm: %s", c.DefaultSigningAlgorithm)
	}
	return nil
}
