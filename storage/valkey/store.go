package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oidc:"

	// DefaultRefreshTokenTTL is how long a token set carrying a refresh token
	// is retained; the refresh token stays redeemable for this window.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	// tokenLogLength is the number of characters to include when logging token values
	tokenLogLength = 8

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength is the maximum allowed length for token strings (512 bytes)
	// This prevents DoS attacks via excessively large tokens
	MaxTokenLength = 512

	// MaxIDLength is the maximum allowed length for identifiers (subject, clientID, jti)
	MaxIDLength = 256
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oidc:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// RefreshTokenTTL is the retention window for token sets that carry a
	// refresh token (default 30 days)
	RefreshTokenTTL time.Duration
}

// Store is a Valkey-backed implementation of all storage interfaces.
// It implements ClientStore, ConsentStore, CodeStore, TokenStore,
// ResourceOwnerStore, and AssertionReplayStore.
type Store struct {
	client          valkeygo.Client
	prefix          string
	logger          *slog.Logger
	refreshTokenTTL time.Duration

	// encryptor provides optional token encryption at rest
	// Access must be synchronized via encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore          = (*Store)(nil)
	_ storage.ConsentStore         = (*Store)(nil)
	_ storage.CodeStore            = (*Store)(nil)
	_ storage.TokenStore           = (*Store)(nil)
	_ storage.ResourceOwnerStore   = (*Store)(nil)
	_ storage.AssertionReplayStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	// Build client options
	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:          client,
		prefix:          prefix,
		logger:          logger,
		refreshTokenTTL: refreshTTL,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the token encryptor for encryption at rest.
// When set, the id_token of each granted token set is encrypted before
// storing in Valkey and decrypted when retrieved.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Token encryption at rest enabled for Valkey storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe)
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// validateStringLength checks if a string exceeds the maximum allowed length
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, maxLen)
	}
	return nil
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// consentKey returns the key for a consent record: {prefix}consent:{id}
func (s *Store) consentKey(id string) string {
	return fmt.Sprintf("%sconsent:%s", s.prefix, id)
}

// consentSubjectKey returns the key for a subject's consent index:
// {prefix}consent:subject:{subject}
func (s *Store) consentSubjectKey(subject string) string {
	return fmt.Sprintf("%sconsent:subject:%s", s.prefix, subject)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// tokenKey returns the key for a granted token set: {prefix}token:{accessToken}
func (s *Store) tokenKey(accessToken string) string {
	return fmt.Sprintf("%stoken:%s", s.prefix, accessToken)
}

// refreshKey returns the refresh index key: {prefix}refresh:{refreshToken}
func (s *Store) refreshKey(refreshToken string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, refreshToken)
}

// fingerprintKey returns the fingerprint cache key: {prefix}fp:{fingerprint}
func (s *Store) fingerprintKey(fingerprint string) string {
	return fmt.Sprintf("%sfp:%s", s.prefix, fingerprint)
}

// ownerKey returns the key for a resource owner: {prefix}owner:{subject}
func (s *Store) ownerKey(subject string) string {
	return fmt.Sprintf("%sowner:%s", s.prefix, subject)
}

// ownerUsernameKey returns the username index key: {prefix}owner:username:{username}
func (s *Store) ownerUsernameKey(username string) string {
	return fmt.Sprintf("%sowner:username:%s", s.prefix, username)
}

// assertionKey returns the key for a client-assertion jti: {prefix}assertion:{jti}
func (s *Store) assertionKey(jti string) string {
	return fmt.Sprintf("%sassertion:%s", s.prefix, jti)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// These Lua scripts provide atomic operations for security-critical flows.
// Using Lua scripts ensures atomicity in Valkey, preventing race conditions
// that could lead to code replay or refresh token reuse attacks.

// luaConsumeRefreshToken atomically resolves a refresh token to its token
// set, deletes all three keys (refresh index, token set, fingerprint cache),
// and returns the token set data.
//
// Security: This operation MUST be atomic - of two concurrent rotations of
// the same refresh token exactly ONE succeeds; the other sees NOT_FOUND.
//
// KEYS[1] = refresh index key (e.g., "oidc:refresh:abc123")
// ARGV[1] = token key prefix (e.g., "oidc:token:")
// ARGV[2] = fingerprint key prefix (e.g., "oidc:fp:")
//
// Returns:
//   - Token set JSON if the refresh token was valid and consumed
//   - "NOT_FOUND" if the refresh token or its token set does not exist
const luaConsumeRefreshToken = `
local access = redis.call('GET', KEYS[1])
if not access then
    return 'NOT_FOUND'
end
redis.call('DEL', KEYS[1])

local tokenKey = ARGV[1] .. access
local data = redis.call('GET', tokenKey)
if not data then
    return 'NOT_FOUND'
end
redis.call('DEL', tokenKey)

local token = cjson.decode(data)
if token.fingerprint and token.fingerprint ~= '' then
    redis.call('DEL', ARGV[2] .. token.fingerprint)
end

return data
`

// ============================================================
// JSON codecs
// ============================================================

// clientSecretJSON is the JSON representation of one client credential
type clientSecretJSON struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// clientJSON is the JSON representation of a registered client
type clientJSON struct {
	ClientID                string             `json:"client_id"`
	ClientName              string             `json:"client_name,omitempty"`
	Secrets                 []clientSecretJSON `json:"secrets,omitempty"`
	RedirectURIs            []string           `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string             `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string           `json:"grant_types,omitempty"`
	ResponseTypes           []string           `json:"response_types,omitempty"`
	AllowedScopes           []string           `json:"allowed_scopes,omitempty"`
	RequirePKCE             bool               `json:"require_pkce,omitempty"`

	IDTokenSignedResponseAlg    string `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`

	JSONWebKeys json.RawMessage `json:"jwks,omitempty"`
	JWKSURI     string          `json:"jwks_uri,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

func toClientJSON(client *storage.Client) (*clientJSON, error) {
	j := &clientJSON{
		ClientID:                    client.ClientID,
		ClientName:                  client.ClientName,
		RedirectURIs:                client.RedirectURIs,
		TokenEndpointAuthMethod:     client.TokenEndpointAuthMethod,
		GrantTypes:                  client.GrantTypes,
		ResponseTypes:               client.ResponseTypes,
		AllowedScopes:               client.AllowedScopes,
		RequirePKCE:                 client.RequirePKCE,
		IDTokenSignedResponseAlg:    client.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg: client.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc: client.IDTokenEncryptedResponseEnc,
		JWKSURI:                     client.JWKSURI,
		CreatedAt:                   client.CreatedAt.Unix(),
	}
	for _, sec := range client.Secrets {
		j.Secrets = append(j.Secrets, clientSecretJSON{Type: string(sec.Type), Value: sec.Value})
	}
	if client.JSONWebKeys != nil {
		raw, err := json.Marshal(client.JSONWebKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal client jwks: %w", err)
		}
		j.JSONWebKeys = raw
	}
	return j, nil
}

func fromClientJSON(j *clientJSON) (*storage.Client, error) {
	client := &storage.Client{
		ClientID:                    j.ClientID,
		ClientName:                  j.ClientName,
		RedirectURIs:                j.RedirectURIs,
		TokenEndpointAuthMethod:     j.TokenEndpointAuthMethod,
		GrantTypes:                  j.GrantTypes,
		ResponseTypes:               j.ResponseTypes,
		AllowedScopes:               j.AllowedScopes,
		RequirePKCE:                 j.RequirePKCE,
		IDTokenSignedResponseAlg:    j.IDTokenSignedResponseAlg,
		IDTokenEncryptedResponseAlg: j.IDTokenEncryptedResponseAlg,
		IDTokenEncryptedResponseEnc: j.IDTokenEncryptedResponseEnc,
		JWKSURI:                     j.JWKSURI,
		CreatedAt:                   time.Unix(j.CreatedAt, 0),
	}
	for _, sec := range j.Secrets {
		client.Secrets = append(client.Secrets, storage.ClientSecret{
			Type:  storage.SecretType(sec.Type),
			Value: sec.Value,
		})
	}
	if len(j.JSONWebKeys) > 0 {
		if err := json.Unmarshal(j.JSONWebKeys, &client.JSONWebKeys); err != nil {
			return nil, fmt.Errorf("failed to unmarshal client jwks: %w", err)
		}
	}
	return client, nil
}

// consentJSON is the JSON representation of a consent record
type consentJSON struct {
	ID            string   `json:"id"`
	ClientID      string   `json:"client_id"`
	Subject       string   `json:"subject"`
	GrantedScopes []string `json:"granted_scopes,omitempty"`
	GrantedClaims []string `json:"granted_claims,omitempty"`
	CreatedAt     int64    `json:"created_at"`
}

func toConsentJSON(consent *storage.Consent) *consentJSON {
	return &consentJSON{
		ID:            consent.ID,
		ClientID:      consent.ClientID,
		Subject:       consent.Subject,
		GrantedScopes: consent.GrantedScopes,
		GrantedClaims: consent.GrantedClaims,
		CreatedAt:     consent.CreatedAt.Unix(),
	}
}

func fromConsentJSON(j *consentJSON) *storage.Consent {
	return &storage.Consent{
		ID:            j.ID,
		ClientID:      j.ClientID,
		Subject:       j.Subject,
		GrantedScopes: j.GrantedScopes,
		GrantedClaims: j.GrantedClaims,
		CreatedAt:     time.Unix(j.CreatedAt, 0),
	}
}

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code                string       `json:"code"`
	ClientID            string       `json:"client_id"`
	RedirectURI         string       `json:"redirect_uri,omitempty"`
	Scope               string       `json:"scope,omitempty"`
	Subject             string       `json:"subject"`
	CodeChallenge       string       `json:"code_challenge,omitempty"`
	CodeChallengeMethod string       `json:"code_challenge_method,omitempty"`
	IDTokenPayload      *jose.Claims `json:"id_token_payload,omitempty"`
	UserInfoPayload     *jose.Claims `json:"userinfo_payload,omitempty"`
	CreatedAt           int64        `json:"created_at"`
	ExpiresAt           int64        `json:"expires_at"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		RedirectURI:         code.RedirectURI,
		Scope:               code.Scope,
		Subject:             code.Subject,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		IDTokenPayload:      code.IDTokenPayload,
		UserInfoPayload:     code.UserInfoPayload,
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scope:               j.Scope,
		Subject:             j.Subject,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		IDTokenPayload:      j.IDTokenPayload,
		UserInfoPayload:     j.UserInfoPayload,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
	}
}

// grantedTokenJSON is the JSON representation of a granted token set.
// The fingerprint field name is referenced by luaConsumeRefreshToken.
type grantedTokenJSON struct {
	AccessToken     string       `json:"access_token"`
	RefreshToken    string       `json:"refresh_token,omitempty"`
	IDToken         string       `json:"id_token,omitempty"`
	TokenType       string       `json:"token_type"`
	ExpiresIn       int64        `json:"expires_in"`
	Scope           string       `json:"scope,omitempty"`
	ClientID        string       `json:"client_id"`
	Subject         string       `json:"subject,omitempty"`
	Fingerprint     string       `json:"fingerprint,omitempty"`
	IDTokenPayload  *jose.Claims `json:"id_token_payload,omitempty"`
	UserInfoPayload *jose.Claims `json:"userinfo_payload,omitempty"`
	CreatedAt       int64        `json:"created_at"`
}

func toGrantedTokenJSON(token *storage.GrantedToken) *grantedTokenJSON {
	return &grantedTokenJSON{
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
		IDToken:         token.IDToken,
		TokenType:       token.TokenType,
		ExpiresIn:       token.ExpiresIn,
		Scope:           token.Scope,
		ClientID:        token.ClientID,
		Subject:         token.Subject,
		Fingerprint:     token.Fingerprint,
		IDTokenPayload:  token.IDTokenPayload,
		UserInfoPayload: token.UserInfoPayload,
		CreatedAt:       token.CreatedAt.Unix(),
	}
}

func fromGrantedTokenJSON(j *grantedTokenJSON) *storage.GrantedToken {
	return &storage.GrantedToken{
		AccessToken:     j.AccessToken,
		RefreshToken:    j.RefreshToken,
		IDToken:         j.IDToken,
		TokenType:       j.TokenType,
		ExpiresIn:       j.ExpiresIn,
		Scope:           j.Scope,
		ClientID:        j.ClientID,
		Subject:         j.Subject,
		Fingerprint:     j.Fingerprint,
		IDTokenPayload:  j.IDTokenPayload,
		UserInfoPayload: j.UserInfoPayload,
		CreatedAt:       time.Unix(j.CreatedAt, 0),
	}
}

// resourceOwnerJSON is the JSON representation of a resource owner
type resourceOwnerJSON struct {
	Subject      string         `json:"subject"`
	Username     string         `json:"username,omitempty"`
	PasswordHash string         `json:"password_hash,omitempty"`
	Claims       map[string]any `json:"claims,omitempty"`
	CreatedAt    int64          `json:"created_at"`
}

func toResourceOwnerJSON(owner *storage.ResourceOwner) *resourceOwnerJSON {
	return &resourceOwnerJSON{
		Subject:      owner.Subject,
		Username:     owner.Username,
		PasswordHash: owner.PasswordHash,
		Claims:       owner.Claims,
		CreatedAt:    owner.CreatedAt.Unix(),
	}
}

func fromResourceOwnerJSON(j *resourceOwnerJSON) *storage.ResourceOwner {
	return &storage.ResourceOwner{
		Subject:      j.Subject,
		Username:     j.Username,
		PasswordHash: j.PasswordHash,
		Claims:       j.Claims,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
	}
}

// ============================================================
// Helper methods
// ============================================================

// getAndUnmarshal is a generic helper for fetching a key from Valkey,
// unmarshalling the JSON data, and converting to the target type.
// This reduces code duplication across GetClient, GetResourceOwner, etc.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// calculateTTL calculates the TTL for a key based on expiry time
// Returns 0 if the key has already expired
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
// Uses the valkey-go library's built-in nil detection for robustness.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
