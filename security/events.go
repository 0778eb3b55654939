package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a new token set is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked by the client
	EventTokenRevoked = "token_revoked"

	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventCodeReuseDetected is logged when an authorization code is presented twice (attack)
	EventCodeReuseDetected = "code_reuse_detected"

	// EventConsentGranted is logged when a resource owner grants consent to a client
	EventConsentGranted = "consent_granted"

	// Security violation events

	// EventAuthFailure is logged when client or resource owner authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidPKCE is logged when PKCE code_verifier validation fails
	EventInvalidPKCE = "invalid_pkce"

	// EventRefreshReuseDetected is logged when a rotated refresh token is replayed (theft)
	EventRefreshReuseDetected = "refresh_reuse_detected"

	// EventAssertionReplayDetected is logged when a client assertion jti is replayed
	EventAssertionReplayDetected = "assertion_replay_detected"

	// EventInvalidRedirect is logged when an unregistered redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a client requests scopes beyond its grant
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// Key management events

	// EventKeyRotated is logged when a signing key is rotated
	EventKeyRotated = "key_rotated"
)
