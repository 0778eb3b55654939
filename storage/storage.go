package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound indicates the requested record does not exist or expired
	ErrNotFound = errors.New("storage: not found")

	// ErrAssertionReplayed indicates a client-assertion jti was presented twice
	ErrAssertionReplayed = errors.New("storage: assertion jti already used")
)

// ClientStore manages registered OAuth/OIDC clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID; ErrNotFound when unknown
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)
}

// ConsentStore manages resource-owner consent records.
type ConsentStore interface {
	// SaveConsent records an approval granted by a resource owner
	SaveConsent(ctx context.Context, consent *Consent) error

	// GetConsentsBySubject returns every consent the subject has granted
	GetConsentsBySubject(ctx context.Context, subject string) ([]*Consent, error)

	// DeleteConsent removes a consent record
	DeleteConsent(ctx context.Context, id string) error
}

// CodeStore manages authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically retrieves and deletes a code.
	// The read-verify-delete sequence is a single logical operation: of two
	// concurrent redemptions of the same code exactly one succeeds and the
	// other gets ErrNotFound. Expired codes are treated as absent.
	// SECURITY: This operation MUST be atomic to prevent concurrent code
	// exchange attacks.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// TokenStore manages granted token sets.
type TokenStore interface {
	// SaveGrantedToken stores a minted token set, indexed by access token,
	// refresh token, and fingerprint
	SaveGrantedToken(ctx context.Context, token *GrantedToken) error

	// GetGrantedToken retrieves a token set by its access token value
	GetGrantedToken(ctx context.Context, accessToken string) (*GrantedToken, error)

	// GetGrantedTokenByFingerprint retrieves a cached token set by the
	// (scope, client, payload) fingerprint. A miss is always safe: callers
	// mint fresh tokens.
	GetGrantedTokenByFingerprint(ctx context.Context, fingerprint string) (*GrantedToken, error)

	// ConsumeRefreshToken atomically retrieves and invalidates a token set
	// by its refresh token value. At most one concurrent use of a given
	// refresh token succeeds; later attempts get ErrNotFound.
	ConsumeRefreshToken(ctx context.Context, refreshToken string) (*GrantedToken, error)

	// DeleteGrantedToken removes a token set by access or refresh token
	// value. Deleting an unknown token is not an error (RFC 7009).
	DeleteGrantedToken(ctx context.Context, token string) error
}

// ResourceOwnerStore manages end-user records for the password grant.
type ResourceOwnerStore interface {
	// SaveResourceOwner saves a resource owner record
	SaveResourceOwner(ctx context.Context, owner *ResourceOwner) error

	// GetResourceOwner retrieves a resource owner by subject
	GetResourceOwner(ctx context.Context, subject string) (*ResourceOwner, error)

	// GetResourceOwnerByUsername retrieves a resource owner by login name
	GetResourceOwnerByUsername(ctx context.Context, username string) (*ResourceOwner, error)
}

// AssertionReplayStore tracks client-assertion jti values so a signed
// assertion cannot be replayed within its validity window.
type AssertionReplayStore interface {
	// RegisterAssertion records a jti until expiresAt. Returns
	// ErrAssertionReplayed when the jti was already registered and has not
	// yet expired.
	RegisterAssertion(ctx context.Context, jti string, expiresAt time.Time) error
}
