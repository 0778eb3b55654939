package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/storage"
)

// GetValidToken looks up a previously minted token set by the fingerprint
// of (scope, client, payloads) and returns it only while it is still within
// its validity window. A nil return always means "mint fresh": the cache
// is an optimization, never a correctness requirement.
func (s *Server) GetValidToken(ctx context.Context, scope, clientID string, idTokenPayload, userInfoPayload *jose.Claims) *storage.GrantedToken {
	fingerprint := tokenFingerprint(scope, clientID, idTokenPayload, userInfoPayload)

	token, err := s.stores.Tokens.GetGrantedTokenByFingerprint(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Warn("Token fingerprint lookup failed", "error", err)
		}
		return nil
	}

	// A cached token about to expire is useless to the caller, so treat it
	// as stale once it enters the skew window.
	expiresAt := token.CreatedAt.Add(time.Duration(token.ExpiresIn) * time.Second)
	if security.ExpiringSoon(time.Now(), expiresAt, security.DefaultClockSkewGracePeriod) {
		// Evict so the next lookup does not hit the same stale entry.
		if err := s.stores.Tokens.DeleteGrantedToken(ctx, token.AccessToken); err != nil {
			s.Logger.Warn("Expired token eviction failed", "error", err)
		}
		return nil
	}
	return token
}

// ValidateAccessToken resolves an access token to its granted token set,
// enforcing the validity window. Used by introspection-style callers.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken string) (*storage.GrantedToken, *Error) {
	if accessToken == "" {
		return nil, ErrInvalidToken("access token is required")
	}
	token, err := s.stores.Tokens.GetGrantedToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken("access token is invalid or expired")
		}
		s.Logger.Error("Access token lookup failed", "error", err)
		return nil, ErrServerError("token validation failed")
	}
	expiresAt := token.CreatedAt.Add(time.Duration(token.ExpiresIn) * time.Second)
	skew := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	if security.ExpiredWithSkew(time.Now(), expiresAt, skew) {
		return nil, ErrInvalidToken("access token is invalid or expired")
	}
	return token, nil
}

// RevokeToken invalidates a token set by access or refresh token value
// (RFC 7009). Revoking an unknown token is not an error, and the caller
// must respond 200 either way so the endpoint cannot be used as an oracle.
//
// Ownership is checked when the token resolves as an access token; a token
// belonging to a different client is left untouched and silently ignored.
func (s *Server) RevokeToken(ctx context.Context, client *storage.Client, tokenValue, tokenTypeHint, ipAddress string) error {
	if tokenValue == "" {
		return nil
	}

	if existing, err := s.stores.Tokens.GetGrantedToken(ctx, tokenValue); err == nil {
		if existing.ClientID != client.ClientID {
			s.Logger.Warn("Revocation attempt for another client's token",
				"client_id", client.ClientID,
				"token_prefix", util.SafeTruncate(tokenValue, 8))
			return nil
		}
	}

	if err := s.stores.Tokens.DeleteGrantedToken(ctx, tokenValue); err != nil {
		return err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked("", client.ClientID, ipAddress, tokenTypeHint)
	}
	if s.Metrics != nil {
		s.Metrics.RecordTokenRevocation(ctx, client.ClientID)
	}
	s.Logger.Info("Token revoked",
		"client_id", client.ClientID,
		"token_type_hint", tokenTypeHint)
	return nil
}

// tokenFingerprint derives a stable identifier for a (scope, client,
// payload) combination. Claims serialization preserves insertion order, so
// identical payload snapshots always produce identical fingerprints.
func tokenFingerprint(scope, clientID string, idTokenPayload, userInfoPayload *jose.Claims) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(clientID))
	h.Write([]byte{0})
	if idTokenPayload != nil {
		if data, err := idTokenPayload.MarshalJSON(); err == nil {
			h.Write(data)
		}
	}
	h.Write([]byte{0})
	if userInfoPayload != nil {
		if data, err := userInfoPayload.MarshalJSON(); err == nil {
			h.Write(data)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
