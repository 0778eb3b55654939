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
// TokenStore Implementation
// ============================================================

// SaveGrantedToken stores a minted token set, indexed by access token,
// refresh token, and fingerprint.
//
// TTLs: a token set without a refresh token lives exactly as long as its
// access token; one with a refresh token is retained for the configured
// refresh window so the refresh token stays redeemable after access expiry.
// The fingerprint cache entry always expires with the access token so the
// cache never serves an expired set.
func (s *Store) SaveGrantedToken(ctx context.Context, token *storage.GrantedToken) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("invalid granted token")
	}
	if err := validateStringLength(token.AccessToken, MaxTokenLength, "access token"); err != nil {
		return err
	}
	if err := validateStringLength(token.RefreshToken, MaxTokenLength, "refresh token"); err != nil {
		return err
	}

	stored := token
	if enc := s.getEncryptor(); enc != nil && enc.IsEnabled() {
		encrypted, err := s.encryptGrantedToken(token)
		if err != nil {
			return err
		}
		stored = encrypted
	}

	data, err := json.Marshal(toGrantedTokenJSON(stored))
	if err != nil {
		return fmt.Errorf("failed to marshal granted token: %w", err)
	}

	accessTTL := calculateTTL(token.CreatedAt.Add(time.Duration(token.ExpiresIn) * time.Second))
	tokenTTL := accessTTL
	if token.RefreshToken != "" {
		tokenTTL = s.refreshTokenTTL
	}
	if tokenTTL == 0 {
		s.logger.Debug("Granted token already expired, not saving",
			"token_prefix", util.SafeTruncate(token.AccessToken, tokenLogLength))
		return nil
	}

	key := s.tokenKey(token.AccessToken)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Px(tokenTTL).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save granted token: %w", err)
	}

	if token.RefreshToken != "" {
		refreshKey := s.refreshKey(token.RefreshToken)
		if err := s.client.Do(ctx,
			s.client.B().Set().Key(refreshKey).Value(token.AccessToken).Px(tokenTTL).Build(),
		).Error(); err != nil {
			return fmt.Errorf("failed to index refresh token: %w", err)
		}
	}

	if token.Fingerprint != "" && accessTTL > 0 {
		fpKey := s.fingerprintKey(token.Fingerprint)
		if err := s.client.Do(ctx,
			s.client.B().Set().Key(fpKey).Value(token.AccessToken).Px(accessTTL).Build(),
		).Error(); err != nil {
			return fmt.Errorf("failed to index token fingerprint: %w", err)
		}
	}

	s.logger.Debug("Saved granted token",
		"token_prefix", util.SafeTruncate(token.AccessToken, tokenLogLength),
		"client_id", token.ClientID,
		"has_refresh", token.RefreshToken != "")
	return nil
}

// GetGrantedToken retrieves a token set by its access token value
func (s *Store) GetGrantedToken(ctx context.Context, accessToken string) (*storage.GrantedToken, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(accessToken)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get granted token: %w", err)
	}

	return s.decodeGrantedToken(data)
}

// GetGrantedTokenByFingerprint retrieves a cached token set by fingerprint.
// Expired sets are a cache miss: the fingerprint key's TTL tracks the access
// token lifetime, and the expiry is re-checked after decoding.
func (s *Store) GetGrantedTokenByFingerprint(ctx context.Context, fingerprint string) (*storage.GrantedToken, error) {
	accessToken, err := s.client.Do(ctx, s.client.B().Get().Key(s.fingerprintKey(fingerprint)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve token fingerprint: %w", err)
	}

	token, err := s.GetGrantedToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if token.Expired(time.Now()) {
		return nil, storage.ErrNotFound
	}
	return token, nil
}

// ConsumeRefreshToken atomically retrieves and invalidates a token set by
// its refresh token value.
// SECURITY: This operation is atomic via Lua script - only ONE concurrent
// rotation can succeed. A second use gets ErrNotFound, which callers should
// treat as a replay signal.
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (*storage.GrantedToken, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeRefreshToken).
			Numkeys(1).
			Key(s.refreshKey(refreshToken)).
			Arg(s.tokenKey("")).
			Arg(s.fingerprintKey("")).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic refresh token operation: %w", err)
	}

	if result == "NOT_FOUND" {
		return nil, storage.ErrNotFound
	}

	token, err := s.decodeGrantedToken(result)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Consumed refresh token",
		"token_prefix", util.SafeTruncate(refreshToken, tokenLogLength),
		"client_id", token.ClientID)
	return token, nil
}

// DeleteGrantedToken removes a token set by access or refresh token value.
// Deleting an unknown token is not an error (RFC 7009).
func (s *Store) DeleteGrantedToken(ctx context.Context, tokenValue string) error {
	// Try as access token first, then as refresh token
	accessToken := tokenValue
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(accessToken)).Build()).ToString()
	if err != nil && isNilError(err) {
		accessToken, err = s.client.Do(ctx, s.client.B().Get().Key(s.refreshKey(tokenValue)).Build()).ToString()
		if err != nil {
			if isNilError(err) {
				return nil
			}
			return fmt.Errorf("failed to resolve token for deletion: %w", err)
		}
		data, err = s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(accessToken)).Build()).ToString()
		if err != nil && !isNilError(err) {
			return fmt.Errorf("failed to get token for deletion: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to get token for deletion: %w", err)
	}

	keys := []string{s.tokenKey(accessToken)}
	if data != "" {
		var j grantedTokenJSON
		if jsonErr := json.Unmarshal([]byte(data), &j); jsonErr == nil {
			if j.RefreshToken != "" {
				keys = append(keys, s.refreshKey(j.RefreshToken))
			}
			if j.Fingerprint != "" {
				keys = append(keys, s.fingerprintKey(j.Fingerprint))
			}
		}
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete granted token: %w", err)
	}

	s.logger.Debug("Deleted granted token",
		"token_prefix", util.SafeTruncate(tokenValue, tokenLogLength))
	return nil
}

// decodeGrantedToken unmarshals and decrypts a stored token set
func (s *Store) decodeGrantedToken(data string) (*storage.GrantedToken, error) {
	var j grantedTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal granted token: %w", err)
	}

	token := fromGrantedTokenJSON(&j)

	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() || token.IDToken == "" {
		return token, nil
	}

	dec, err := enc.Decrypt(token.IDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt id_token: %w", err)
	}
	token.IDToken = dec
	return token, nil
}

// encryptGrantedToken encrypts the id_token in a token set.
// Returns a new token set with encrypted fields, leaving the original unchanged.
// SECURITY: The id_token carries resource owner PII and must not sit in
// storage in the clear. Access and refresh token values stay plaintext
// because they are the lookup keys.
func (s *Store) encryptGrantedToken(token *storage.GrantedToken) (*storage.GrantedToken, error) {
	encrypted := *token
	if encrypted.IDToken != "" {
		val, err := s.getEncryptor().Encrypt(encrypted.IDToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt id_token: %w", err)
		}
		encrypted.IDToken = val
	}
	return &encrypted, nil
}
