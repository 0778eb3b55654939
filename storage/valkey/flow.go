package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/storage"
)

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code with a TTL derived
// from its expiry. An already-expired code is silently dropped.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}
	if err := validateStringLength(code.Code, MaxTokenLength, "authorization code"); err != nil {
		return err
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl == 0 {
		s.logger.Debug("Authorization code already expired, not saving",
			"code_prefix", util.SafeTruncate(code.Code, tokenLogLength))
		return nil
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	key := s.codeKey(code.Code)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Px(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenLogLength),
		"client_id", code.ClientID,
		"ttl", ttl)
	return nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes a code.
// SECURITY: GETDEL is a single atomic command, so of two concurrent
// redemptions of the same code exactly one succeeds. The key's TTL handles
// expiry; the timestamp is re-checked here to cover clock edge cases.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	key := s.codeKey(code)

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	authCode := fromAuthorizationCodeJSON(&j)
	if time.Now().After(authCode.ExpiresAt) {
		return nil, storage.ErrNotFound
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenLogLength),
		"client_id", authCode.ClientID)
	return authCode, nil
}

// ============================================================
// AssertionReplayStore Implementation
// ============================================================

// RegisterAssertion records a client-assertion jti until expiresAt.
// SECURITY: SET NX is a single atomic command: the first registration of a
// jti wins, any concurrent or later registration within the validity window
// gets ErrAssertionReplayed.
func (s *Store) RegisterAssertion(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("jti cannot be empty")
	}
	if err := validateStringLength(jti, MaxIDLength, "jti"); err != nil {
		return err
	}

	ttl := calculateTTL(expiresAt)
	if ttl == 0 {
		// An already-expired assertion can never be replayed
		return nil
	}

	key := s.assertionKey(jti)
	err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value("1").Nx().Px(ttl).Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			// NX failed: the jti is already registered
			return storage.ErrAssertionReplayed
		}
		return fmt.Errorf("failed to register assertion: %w", err)
	}

	return nil
}
