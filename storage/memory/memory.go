// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/storage"
)

const (
	// tokenLogLength is the number of characters to include when logging token values
	// This provides enough uniqueness for debugging while keeping logs secure
	tokenLogLength = 8
)

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, ConsentStore, CodeStore, TokenStore,
// ResourceOwnerStore, and AssertionReplayStore.
type Store struct {
	mu sync.RWMutex

	// Client storage
	clients map[string]*storage.Client

	// Consent storage (by consent ID)
	consents map[string]*storage.Consent

	// Authorization code storage (single-use, consumed under lock)
	codes map[string]*storage.AuthorizationCode

	// Token storage (encrypted at rest if encryptor is set).
	// tokens is keyed by access token; refreshIndex and fingerprints map
	// refresh token values and cache fingerprints back to the access token.
	tokens       map[string]*storage.GrantedToken
	refreshIndex map[string]string
	fingerprints map[string]string

	// Resource owner storage
	owners         map[string]*storage.ResourceOwner
	ownerUsernames map[string]string // username -> subject

	// Client assertion replay tracking (jti -> expiry)
	assertions map[string]time.Time

	// Security
	encryptor *security.Encryptor // Token encryption at rest (optional)

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic  atomic.Int64
	codesCountAtomic    atomic.Int64
	tokensCountAtomic   atomic.Int64
	consentsCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
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

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		consents:        make(map[string]*storage.Consent),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.GrantedToken),
		refreshIndex:    make(map[string]string),
		fingerprints:    make(map[string]string),
		owners:          make(map[string]*storage.ResourceOwner),
		ownerUsernames:  make(map[string]string),
		assertions:      make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEncryptor sets the token encryptor for encryption at rest
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Token encryption at rest enabled for storage")
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}

	// Initialize atomic counters with current counts
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.consentsCountAtomic.Store(int64(len(s.consents)))
	s.mu.Unlock()

	if inst != nil {
		// Register storage size callbacks using atomic counters (lock-free)
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
			func() int64 { return s.consentsCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil {
		err = fmt.Errorf("client cannot be nil")
		return err
	}
	if client.ClientID == "" {
		err = fmt.Errorf("client ID cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ClientID]
	s.clients[client.ClientID] = client
	if !existed {
		s.clientsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}
	return client, nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "list_clients")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "list_clients", nil, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	return clients, nil
}

// ============================================================
// ConsentStore Implementation
// ============================================================

// SaveConsent records an approval granted by a resource owner
func (s *Store) SaveConsent(ctx context.Context, consent *storage.Consent) error {
	ctx, span := s.startStorageSpan(ctx, "save_consent")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_consent", err, startTime)
	}()

	if consent == nil {
		err = fmt.Errorf("consent cannot be nil")
		return err
	}
	if consent.ID == "" {
		err = fmt.Errorf("consent ID cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.consents[consent.ID]
	s.consents[consent.ID] = consent
	if !existed {
		s.consentsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved consent",
		"consent_id", consent.ID,
		"client_id", consent.ClientID)
	return nil
}

// GetConsentsBySubject returns every consent the subject has granted
func (s *Store) GetConsentsBySubject(ctx context.Context, subject string) ([]*storage.Consent, error) {
	ctx, span := s.startStorageSpan(ctx, "get_consents_by_subject")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_consents_by_subject", nil, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var consents []*storage.Consent
	for _, consent := range s.consents {
		if consent.Subject == subject {
			consents = append(consents, consent)
		}
	}
	return consents, nil
}

// DeleteConsent removes a consent record
func (s *Store) DeleteConsent(ctx context.Context, id string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_consent")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_consent", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.consents[id]; existed {
		delete(s.consents, id)
		s.consentsCountAtomic.Add(-1)
	}
	return nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil {
		err = fmt.Errorf("authorization code cannot be nil")
		return err
	}
	if code.Code == "" {
		err = fmt.Errorf("authorization code value cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.codes[code.Code]
	s.codes[code.Code] = code
	if !existed {
		s.codesCountAtomic.Add(1)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenLogLength),
		"client_id", code.ClientID)
	return nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes a code.
// SECURITY: The lookup and delete happen under a single write lock so that
// of two concurrent redemptions exactly one succeeds.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}

	delete(s.codes, code)
	s.codesCountAtomic.Add(-1)

	// Expired codes are treated as absent
	if time.Now().After(authCode.ExpiresAt) {
		s.logger.Debug("Authorization code expired",
			"code_prefix", util.SafeTruncate(code, tokenLogLength))
		err = storage.ErrNotFound
		return nil, err
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenLogLength),
		"client_id", authCode.ClientID)
	return authCode, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveGrantedToken stores a minted token set with optional encryption at rest
func (s *Store) SaveGrantedToken(ctx context.Context, token *storage.GrantedToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_granted_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_granted_token", err, startTime)
	}()

	if token == nil {
		err = fmt.Errorf("token cannot be nil")
		return err
	}
	if token.AccessToken == "" {
		err = fmt.Errorf("access token cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := token
	if s.encryptor != nil && s.encryptor.IsEnabled() {
		stored, err = s.encryptGrantedToken(token)
		if err != nil {
			return err
		}
	}

	_, existed := s.tokens[token.AccessToken]
	s.tokens[token.AccessToken] = stored
	if !existed {
		s.tokensCountAtomic.Add(1)
	}

	if token.RefreshToken != "" {
		s.refreshIndex[token.RefreshToken] = token.AccessToken
	}
	if token.Fingerprint != "" {
		s.fingerprints[token.Fingerprint] = token.AccessToken
	}

	s.logger.Debug("Saved granted token",
		"token_prefix", util.SafeTruncate(token.AccessToken, tokenLogLength),
		"client_id", token.ClientID,
		"has_refresh", token.RefreshToken != "")
	return nil
}

// GetGrantedToken retrieves a token set by its access token value
func (s *Store) GetGrantedToken(ctx context.Context, accessToken string) (*storage.GrantedToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_granted_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_granted_token", err, startTime)
	}()

	s.mu.RLock()
	token, ok := s.tokens[accessToken]
	encryptor := s.encryptor
	s.mu.RUnlock()

	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}

	return s.decryptGrantedToken(token, encryptor)
}

// GetGrantedTokenByFingerprint retrieves a cached token set by fingerprint.
// Expired token sets are a cache miss: callers mint fresh tokens.
func (s *Store) GetGrantedTokenByFingerprint(ctx context.Context, fingerprint string) (*storage.GrantedToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_granted_token_by_fingerprint")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_granted_token_by_fingerprint", err, startTime)
	}()

	s.mu.RLock()
	accessToken, ok := s.fingerprints[fingerprint]
	var token *storage.GrantedToken
	if ok {
		token, ok = s.tokens[accessToken]
	}
	encryptor := s.encryptor
	s.mu.RUnlock()

	if !ok || token.Expired(time.Now()) {
		err = storage.ErrNotFound
		return nil, err
	}

	return s.decryptGrantedToken(token, encryptor)
}

// ConsumeRefreshToken atomically retrieves and invalidates a token set by
// its refresh token value.
// SECURITY: Lookup and delete happen under a single write lock so that at
// most one concurrent rotation of a given refresh token succeeds. A second
// use gets ErrNotFound, which callers should treat as a replay signal.
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (*storage.GrantedToken, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_refresh_token", err, startTime)
	}()

	s.mu.Lock()
	accessToken, ok := s.refreshIndex[refreshToken]
	var token *storage.GrantedToken
	if ok {
		token, ok = s.tokens[accessToken]
	}
	if ok {
		s.removeTokenLocked(token, accessToken)
	}
	encryptor := s.encryptor
	s.mu.Unlock()

	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}

	s.logger.Debug("Consumed refresh token",
		"token_prefix", util.SafeTruncate(refreshToken, tokenLogLength),
		"client_id", token.ClientID)
	return s.decryptGrantedToken(token, encryptor)
}

// DeleteGrantedToken removes a token set by access or refresh token value.
// Deleting an unknown token is not an error (RFC 7009).
func (s *Store) DeleteGrantedToken(ctx context.Context, tokenValue string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_granted_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_granted_token", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Try as access token first, then as refresh token
	accessToken := tokenValue
	token, ok := s.tokens[accessToken]
	if !ok {
		accessToken, ok = s.refreshIndex[tokenValue]
		if ok {
			token, ok = s.tokens[accessToken]
		}
	}
	if !ok {
		return nil
	}

	s.removeTokenLocked(token, accessToken)
	s.logger.Debug("Deleted granted token",
		"token_prefix", util.SafeTruncate(tokenValue, tokenLogLength),
		"client_id", token.ClientID)
	return nil
}

// removeTokenLocked removes a token set and all its index entries.
// Caller must hold the write lock.
func (s *Store) removeTokenLocked(token *storage.GrantedToken, accessToken string) {
	delete(s.tokens, accessToken)
	s.tokensCountAtomic.Add(-1)
	if token.RefreshToken != "" {
		delete(s.refreshIndex, token.RefreshToken)
	}
	if token.Fingerprint != "" && s.fingerprints[token.Fingerprint] == accessToken {
		delete(s.fingerprints, token.Fingerprint)
	}
}

// encryptGrantedToken encrypts the id_token in a token set.
// Returns a new token set with encrypted fields, leaving the original unchanged.
// SECURITY: The id_token carries resource owner PII and must not sit in
// storage in the clear. Access and refresh token values stay plaintext
// because they are the lookup keys.
func (s *Store) encryptGrantedToken(token *storage.GrantedToken) (*storage.GrantedToken, error) {
	encrypted := *token
	if encrypted.IDToken != "" {
		enc, err := s.encryptor.Encrypt(encrypted.IDToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt id_token: %w", err)
		}
		encrypted.IDToken = enc
	}
	return &encrypted, nil
}

// decryptGrantedToken decrypts the id_token in a token set.
// Returns a new token set with decrypted fields, leaving the stored copy unchanged.
func (s *Store) decryptGrantedToken(token *storage.GrantedToken, encryptor *security.Encryptor) (*storage.GrantedToken, error) {
	if encryptor == nil || !encryptor.IsEnabled() {
		return token, nil
	}

	decrypted := *token
	if decrypted.IDToken != "" {
		dec, err := encryptor.Decrypt(decrypted.IDToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt id_token: %w", err)
		}
		decrypted.IDToken = dec
	}
	return &decrypted, nil
}

// ============================================================
// ResourceOwnerStore Implementation
// ============================================================

// SaveResourceOwner saves a resource owner record
func (s *Store) SaveResourceOwner(ctx context.Context, owner *storage.ResourceOwner) error {
	ctx, span := s.startStorageSpan(ctx, "save_resource_owner")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_resource_owner", err, startTime)
	}()

	if owner == nil {
		err = fmt.Errorf("resource owner cannot be nil")
		return err
	}
	if owner.Subject == "" {
		err = fmt.Errorf("resource owner subject cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Keep the username index consistent on re-save
	if prev, ok := s.owners[owner.Subject]; ok && prev.Username != "" && prev.Username != owner.Username {
		delete(s.ownerUsernames, prev.Username)
	}

	s.owners[owner.Subject] = owner
	if owner.Username != "" {
		s.ownerUsernames[owner.Username] = owner.Subject
	}

	s.logger.Debug("Saved resource owner", "subject", owner.Subject)
	return nil
}

// GetResourceOwner retrieves a resource owner by subject
func (s *Store) GetResourceOwner(ctx context.Context, subject string) (*storage.ResourceOwner, error) {
	ctx, span := s.startStorageSpan(ctx, "get_resource_owner")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_resource_owner", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[subject]
	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}
	return owner, nil
}

// GetResourceOwnerByUsername retrieves a resource owner by login name
func (s *Store) GetResourceOwnerByUsername(ctx context.Context, username string) (*storage.ResourceOwner, error) {
	ctx, span := s.startStorageSpan(ctx, "get_resource_owner_by_username")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_resource_owner_by_username", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, ok := s.ownerUsernames[username]
	var owner *storage.ResourceOwner
	if ok {
		owner, ok = s.owners[subject]
	}
	if !ok {
		err = storage.ErrNotFound
		return nil, err
	}
	return owner, nil
}

// ============================================================
// AssertionReplayStore Implementation
// ============================================================

// RegisterAssertion records a client-assertion jti until expiresAt.
// SECURITY: A jti seen twice within its validity window indicates a replayed
// client assertion and is rejected with ErrAssertionReplayed.
func (s *Store) RegisterAssertion(ctx context.Context, jti string, expiresAt time.Time) error {
	ctx, span := s.startStorageSpan(ctx, "register_assertion")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "register_assertion", err, startTime)
	}()

	if jti == "" {
		err = fmt.Errorf("jti cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.assertions[jti]; ok && time.Now().Before(existing) {
		err = storage.ErrAssertionReplayed
		return err
	}

	s.assertions[jti] = expiresAt
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired records. Token sets carrying a refresh token are
// retained past access token expiry: the refresh token remains redeemable
// until consumed or revoked. Their fingerprint entries are dropped so the
// cache never returns an expired set.
func (s *Store) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiredCodes := 0
	for code, authCode := range s.codes {
		if now.After(authCode.ExpiresAt) {
			delete(s.codes, code)
			s.codesCountAtomic.Add(-1)
			expiredCodes++
		}
	}

	expiredTokens := 0
	for accessToken, token := range s.tokens {
		if !token.Expired(now) {
			continue
		}
		if token.Fingerprint != "" && s.fingerprints[token.Fingerprint] == accessToken {
			delete(s.fingerprints, token.Fingerprint)
		}
		if token.RefreshToken != "" {
			continue
		}
		delete(s.tokens, accessToken)
		s.tokensCountAtomic.Add(-1)
		expiredTokens++
	}

	expiredAssertions := 0
	for jti, expiresAt := range s.assertions {
		if now.After(expiresAt) {
			delete(s.assertions, jti)
			expiredAssertions++
		}
	}

	if expiredCodes > 0 || expiredTokens > 0 || expiredAssertions > 0 {
		s.logger.Debug("Cleaned up expired records",
			"codes", expiredCodes,
			"tokens", expiredTokens,
			"assertions", expiredAssertions)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

// startStorageSpan starts a trace span for a storage operation.
// Returns the original context and a no-op span when tracing is not configured.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics and span status for a completed operation
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
