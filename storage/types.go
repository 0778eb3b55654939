package storage

import (
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giantswarm/oidc-engine/jose"
)

// SecretType identifies how a client secret is represented.
type SecretType string

const (
	// SecretTypeShared is a plain shared secret compared in constant time
	SecretTypeShared SecretType = "shared_secret"
	// SecretTypeBcrypt is a bcrypt hash of a shared secret
	SecretTypeBcrypt SecretType = "bcrypt"
	// SecretTypeX509Thumbprint is the SHA-1 thumbprint of a client certificate
	SecretTypeX509Thumbprint SecretType = "x509_thumbprint"
)

// ClientSecret is one active credential of a client. A client may hold
// several active secrets at once to support secret rotation.
type ClientSecret struct {
	Type  SecretType
	Value string
}

// Client represents a registered OAuth/OIDC client
type Client struct {
	ClientID                string
	ClientName              string
	Secrets                 []ClientSecret
	RedirectURIs            []string
	TokenEndpointAuthMethod string // client_secret_basic, client_secret_post, client_secret_jwt, private_key_jwt, none
	GrantTypes              []string
	ResponseTypes           []string
	AllowedScopes           []string
	RequirePKCE             bool

	// Per-token-type algorithm preferences. Empty IDTokenSignedResponseAlg
	// means RS256; an encryption alg with no enc means A128CBC-HS256.
	IDTokenSignedResponseAlg    string
	IDTokenEncryptedResponseAlg string
	IDTokenEncryptedResponseEnc string

	// JSONWebKeys and JWKSURI hold the client's published keys, used to
	// verify private_key_jwt assertions and to encrypt id_tokens to the client.
	JSONWebKeys *gojose.JSONWebKeySet
	JWKSURI     string

	CreatedAt time.Time
}

// AllowedGrantTypes returns the client's registered grant types, lazily
// defaulting to authorization_code on first check when none are registered.
func (c *Client) AllowedGrantTypes() []string {
	if len(c.GrantTypes) == 0 {
		c.GrantTypes = []string{"authorization_code"}
	}
	return c.GrantTypes
}

// AllowedResponseTypes returns the client's registered response types,
// lazily defaulting to code on first check when none are registered.
func (c *Client) AllowedResponseTypes() []string {
	if len(c.ResponseTypes) == 0 {
		c.ResponseTypes = []string{"code"}
	}
	return c.ResponseTypes
}

// SupportsGrantType reports whether the client may use the grant type.
func (c *Client) SupportsGrantType(grantType string) bool {
	for _, gt := range c.AllowedGrantTypes() {
		if gt == grantType {
			return true
		}
	}
	return false
}

// SupportsResponseType reports whether every space-separated component of
// the requested response type is registered for the client. Registered
// entries may themselves be combinations ("code id_token"); each component
// counts individually.
func (c *Client) SupportsResponseType(responseType string) bool {
	registered := make(map[string]bool)
	for _, rt := range c.AllowedResponseTypes() {
		for _, component := range strings.Fields(rt) {
			registered[component] = true
		}
	}
	components := strings.Fields(responseType)
	if len(components) == 0 {
		return false
	}
	for _, component := range components {
		if !registered[component] {
			return false
		}
	}
	return true
}

// AuthorizationCode represents an issued authorization code. Created once
// per authorization grant, consumed exactly once by the token endpoint.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	Subject             string
	CodeChallenge       string
	CodeChallengeMethod string

	// Payload snapshots taken at authorization time so the token endpoint
	// can mint the id_token the resource owner actually consented to.
	IDTokenPayload  *jose.Claims
	UserInfoPayload *jose.Claims

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Consent records a resource owner's approval for a client. GrantedScopes
// and GrantedClaims are mutually exclusive matching modes: a consent matches
// a request only when the requested set equals the granted set exactly.
type Consent struct {
	ID            string
	ClientID      string
	Subject       string
	GrantedScopes []string
	GrantedClaims []string
	CreatedAt     time.Time
}

// GrantedToken is a complete token set minted by the grant dispatcher.
type GrantedToken struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresIn    int64 // seconds
	Scope        string
	ClientID     string
	Subject      string

	// Fingerprint identifies the (scope, client, payload) combination for
	// cache lookups by the token gateway.
	Fingerprint string

	// Raw payloads kept for introspection and refresh-grant reminting.
	IDTokenPayload  *jose.Claims
	UserInfoPayload *jose.Claims

	CreatedAt time.Time
}

// Expired reports whether the token's validity window has passed.
func (t *GrantedToken) Expired(now time.Time) bool {
	return now.After(t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second))
}

// ResourceOwner is an authenticated end user record.
type ResourceOwner struct {
	Subject      string
	Username     string
	PasswordHash string // bcrypt
	Claims       map[string]any
	CreatedAt    time.Time
}
