package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/storage"
)

// Stores bundles the repository interfaces the engine operates on. All six
// are required; the memory and valkey backends implement every one.
type Stores struct {
	Clients        storage.ClientStore
	Codes          storage.CodeStore
	Tokens         storage.TokenStore
	Consents       storage.ConsentStore
	ResourceOwners storage.ResourceOwnerStore
	Assertions     storage.AssertionReplayStore
}

// Server implements the authorization processor, client authenticator,
// consent resolver, and token grant dispatcher over a jose.KeySet and the
// storage backends.
type Server struct {
	stores     Stores
	keySet     *jose.KeySet
	ownerAu    ResourceOwnerAuthenticator
	httpClient *http.Client // fetches request_uri objects

	Encryptor                *security.Encryptor
	Auditor                  *security.Auditor
	RateLimiter              *security.RateLimiter // IP-based rate limiter
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Metrics                  *instrumentation.Metrics
	Logger                   *slog.Logger
	Config                   *Config
}

// ResourceOwnerAuthenticator verifies resource-owner credentials for the
// password grant. The bcrypt implementation in this package is the default;
// deployments bridge LDAP or similar by providing their own.
type ResourceOwnerAuthenticator interface {
	// Authenticate returns the resource owner when the credentials are
	// valid, or an error that the dispatcher maps to invalid_grant.
	Authenticate(ctx context.Context, username, password string) (*storage.ResourceOwner, error)
}

// New creates a new engine instance
func New(stores Stores, keySet *jose.KeySet, config *Config, logger *slog.Logger) (*Server, error) {
	if stores.Clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if stores.Codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if stores.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if stores.Consents == nil {
		return nil, fmt.Errorf("consent store is required")
	}
	if stores.ResourceOwners == nil {
		return nil, fmt.Errorf("resource owner store is required")
	}
	if stores.Assertions == nil {
		return nil, fmt.Errorf("assertion replay store is required")
	}
	if keySet == nil {
		return nil, fmt.Errorf("key set is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Apply secure defaults
	config = applySecureDefaults(config, logger)

	srv := &Server{
		stores:     stores,
		keySet:     keySet,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		Config:     config,
		Logger:     logger,
	}
	srv.ownerAu = &bcryptOwnerAuthenticator{store: stores.ResourceOwners}

	// Validate HTTPS enforcement (OAuth 2.1 security requirement)
	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// KeySet exposes the signing/encryption key set for the JWKS endpoint.
func (s *Server) KeySet() *jose.KeySet {
	return s.keySet
}

// RotateKeys publishes a fresh signing and encryption keypair. Previous
// keys stay resolvable until they expire, so in-flight verification never
// breaks across a rotation.
func (s *Server) RotateKeys(ctx context.Context) error {
	if err := s.keySet.Rotate(); err != nil {
		return err
	}
	if s.Auditor != nil {
		s.Auditor.LogKeyRotated(s.keySet.CurrentSigningKID(), s.Config.DefaultSigningAlgorithm)
	}
	if s.Metrics != nil {
		s.Metrics.RecordKeyRotation(ctx)
	}
	s.Logger.Info("Signing keys rotated", "signing_kid", s.keySet.CurrentSigningKID())
	return nil
}

// SetEncryptor sets the at-rest encryptor for server and storage
func (s *Server) SetEncryptor(enc *security.Encryptor) {
	s.Encryptor = enc

	// Propagate to the token store when the backend supports it
	type encryptorSetter interface {
		SetEncryptor(*security.Encryptor)
	}
	if setter, ok := s.stores.Tokens.(encryptorSetter); ok {
		setter.SetEncryptor(enc)
	}
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents DoS attacks via log flooding from repeated security events
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetMetrics sets the instrumentation metrics recorder
func (s *Server) SetMetrics(m *instrumentation.Metrics) {
	s.Metrics = m
}

// SetResourceOwnerAuthenticator replaces the default bcrypt authenticator
// used by the password grant.
func (s *Server) SetResourceOwnerAuthenticator(a ResourceOwnerAuthenticator) {
	if a != nil {
		s.ownerAu = a
	}
}

// SetHTTPClient replaces the HTTP client used to fetch request_uri objects.
// Useful for adding custom timeouts, logging, or metrics.
func (s *Server) SetHTTPClient(c *http.Client) {
	if c != nil {
		s.httpClient = c
	}
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for tokens, codes, etc.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
