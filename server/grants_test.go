package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/storage"
)

// issueCode runs the full authorization happy path and returns the code.
func issueCode(t *testing.T, srv *Server, client *storage.Client, mutate func(*AuthorizationRequest)) string {
	t.Helper()
	grantTestConsent(t, srv, client.ClientID, "alice", []string{"openid", "profile"})

	req := authRequest(client)
	if mutate != nil {
		mutate(req)
	}
	result, oerr := srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	require.Equal(t, RedirectToCallback, result.Type)
	require.NotEmpty(t, result.Code)
	return result.Code
}

func TestGrant_AuthorizationCode(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	saveTestOwner(t, store, "alice", "alice", "hunter2hunter2")
	code := issueCode(t, srv, client, nil)

	token, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType:   GrantTypeAuthorizationCode,
		Code:        code,
		RedirectURI: client.RedirectURIs[0],
	})
	require.Nil(t, oerr)
	assert.NotEmpty(t, token.AccessToken)
	assert.NotEmpty(t, token.RefreshToken, "client is registered for refresh_token")
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, int64(3600), token.ExpiresIn)
	assert.Equal(t, "openid profile", token.Scope)

	claims, header, err := jose.Verify(token.IDToken, srv.KeySet().ResolveVerification)
	require.NoError(t, err)
	assert.Equal(t, "RS256", header.Algorithm)
	assert.Equal(t, "alice", claims.Subject())
	assert.Equal(t, "https://auth.example.com", claims.Issuer())

	// Second redemption of the same code fails.
	_, oerr = srv.Grant(context.Background(), client, &TokenRequest{
		GrantType:   GrantTypeAuthorizationCode,
		Code:        code,
		RedirectURI: client.RedirectURIs[0],
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidGrant, oerr.Code)
}

func TestGrant_AuthorizationCode_ConcurrentRedemption(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	code := issueCode(t, srv, client, nil)

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, oerr := srv.Grant(context.Background(), client, &TokenRequest{
				GrantType:   GrantTypeAuthorizationCode,
				Code:        code,
				RedirectURI: client.RedirectURIs[0],
			})
			if oerr == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes, "exactly one concurrent redemption must win")
}

func TestGrant_AuthorizationCode_RedirectURIMismatch(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	code := issueCode(t, srv, client, nil)

	_, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType:   GrantTypeAuthorizationCode,
		Code:        code,
		RedirectURI: "https://app.example.com/other",
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidGrant, oerr.Code)
}

func TestGrant_AuthorizationCode_WrongClient(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	other := &storage.Client{
		ClientID:                "other",
		Secrets:                 []storage.ClientSecret{{Type: storage.SecretTypeShared, Value: "shhh"}},
		RedirectURIs:            []string{"https://app.example.com/callback"},
		TokenEndpointAuthMethod: AuthMethodSecretBasic,
		GrantTypes:              []string{GrantTypeAuthorizationCode},
	}
	saveTestClient(t, store, other)
	code := issueCode(t, srv, client, nil)

	_, oerr := srv.Grant(context.Background(), other, &TokenRequest{
		GrantType:   GrantTypeAuthorizationCode,
		Code:        code,
		RedirectURI: client.RedirectURIs[0],
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidGrant, oerr.Code)
}

func TestGrant_AuthorizationCode_PKCE(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk-0123456789"
	digest := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(digest[:])

	code := issueCode(t, srv, client, func(req *AuthorizationRequest) {
		req.CodeChallenge = challenge
		req.CodeChallengeMethod = PKCEMethodS256
	})

	// Wrong verifier fails.
	_, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  client.RedirectURIs[0],
		CodeVerifier: "wrong-verifier-wrong-verifier-wrong-verifier-wrong",
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidGrant, oerr.Code)

	// The code is consumed even by a failed PKCE attempt; issue a new one.
	code = issueCode(t, srv, client, func(req *AuthorizationRequest) {
		req.CodeChallenge = challenge
		req.CodeChallengeMethod = PKCEMethodS256
	})

	token, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  client.RedirectURIs[0],
		CodeVerifier: verifier,
	})
	require.Nil(t, oerr)
	assert.NotEmpty(t, token.AccessToken)
}

func TestGrant_Password(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	saveTestOwner(t, store, "alice", "alice", "hunter2hunter2")

	token, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "alice",
		Password:  "hunter2hunter2",
		Scope:     "openid profile",
	})
	require.Nil(t, oerr)
	assert.Equal(t, "alice", token.Subject)
	assert.NotEmpty(t, token.IDToken)
	assert.NotEmpty(t, token.RefreshToken)

	_, oerr = srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "alice",
		Password:  "wrong",
		Scope:     "openid",
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidGrant, oerr.Code)

	_, oerr = srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "nobody",
		Password:  "hunter2hunter2",
		Scope:     "openid",
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidGrant, oerr.Code, "unknown user and wrong password are indistinguishable")
}

func TestGrant_RefreshToken_Rotation(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	saveTestOwner(t, store, "alice", "alice", "hunter2hunter2")

	first, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "alice",
		Password:  "hunter2hunter2",
		Scope:     "openid profile",
	})
	require.Nil(t, oerr)

	second, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: first.RefreshToken,
	})
	require.Nil(t, oerr)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken, "rotation issues a new refresh token")
	assert.Equal(t, "openid profile", second.Scope)

	// The consumed refresh token is dead: reuse is an attack signal.
	_, oerr = srv.Grant(context.Background(), client, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: first.RefreshToken,
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidGrant, oerr.Code)
}

func TestGrant_RefreshToken_ScopeNarrowing(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	saveTestOwner(t, store, "alice", "alice", "hunter2hunter2")

	first, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "alice",
		Password:  "hunter2hunter2",
		Scope:     "openid profile",
	})
	require.Nil(t, oerr)

	narrowed, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: first.RefreshToken,
		Scope:        "openid",
	})
	require.Nil(t, oerr)
	assert.Equal(t, "openid", narrowed.Scope)

	_, oerr = srv.Grant(context.Background(), client, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: narrowed.RefreshToken,
		Scope:        "openid profile role",
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidScope, oerr.Code, "widening beyond the original grant is refused")
}

func TestGrant_RefreshToken_ConcurrentUse(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	saveTestOwner(t, store, "alice", "alice", "hunter2hunter2")

	first, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "alice",
		Password:  "hunter2hunter2",
		Scope:     "openid",
	})
	require.Nil(t, oerr)

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, oerr := srv.Grant(context.Background(), client, &TokenRequest{
				GrantType:    GrantTypeRefreshToken,
				RefreshToken: first.RefreshToken,
			})
			if oerr == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes, "at most one concurrent refresh use may succeed")
}

func TestGrant_ClientCredentials(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	token, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypeClientCredentials,
	})
	require.Nil(t, oerr)
	assert.Equal(t, client.ClientID, token.Subject)
	assert.Equal(t, "openid profile role", token.Scope, "defaults to the client's allowed scopes")
	assert.Empty(t, token.RefreshToken, "no refresh token for client_credentials")
	assert.Empty(t, token.IDToken, "no resource owner, no id_token")
}

func TestGrant_UnsupportedGrantType(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	_, oerr := srv.Grant(context.Background(), client, &TokenRequest{GrantType: "device_code"})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeUnsupportedGrantType, oerr.Code)
}

func TestGrant_ClientNotRegisteredForGrant(t *testing.T) {
	srv, store := newTestServer(t)
	client := &storage.Client{
		ClientID:                "code-only",
		Secrets:                 []storage.ClientSecret{{Type: storage.SecretTypeShared, Value: "shhh"}},
		RedirectURIs:            []string{"https://app.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodSecretBasic,
		GrantTypes:              []string{GrantTypeAuthorizationCode},
	}
	saveTestClient(t, store, client)

	_, oerr := srv.Grant(context.Background(), client, &TokenRequest{GrantType: GrantTypeClientCredentials})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeUnauthorizedClient, oerr.Code)
}

func TestGrant_HMACSignedIDToken(t *testing.T) {
	srv, store := newTestServer(t)
	client := &storage.Client{
		ClientID:                 "legacy",
		Secrets:                  []storage.ClientSecret{{Type: storage.SecretTypeShared, Value: "a-shared-secret-of-decent-length"}},
		RedirectURIs:             []string{"https://legacy.example.com/cb"},
		TokenEndpointAuthMethod:  AuthMethodSecretBasic,
		GrantTypes:               []string{GrantTypePassword},
		AllowedScopes:            []string{"openid"},
		IDTokenSignedResponseAlg: "HS256",
	}
	saveTestClient(t, store, client)
	saveTestOwner(t, store, "bob", "bob", "hunter2hunter2")

	token, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "bob",
		Password:  "hunter2hunter2",
		Scope:     "openid",
	})
	require.Nil(t, oerr)

	claims, header, err := jose.Verify(token.IDToken, func(h *jose.Header) (*jose.VerificationKey, error) {
		return &jose.VerificationKey{
			Algorithm: jose.HS256,
			Secret:    []byte("a-shared-secret-of-decent-length"),
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "HS256", header.Algorithm)
	assert.Equal(t, "bob", claims.Subject())
}

func TestGetValidToken_FingerprintCache(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	saveTestOwner(t, store, "alice", "alice", "hunter2hunter2")

	first, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "alice",
		Password:  "hunter2hunter2",
		Scope:     "openid profile",
	})
	require.Nil(t, oerr)

	cached := srv.GetValidToken(context.Background(), first.Scope, client.ClientID, first.IDTokenPayload, first.UserInfoPayload)
	require.NotNil(t, cached)
	assert.Equal(t, first.AccessToken, cached.AccessToken)

	assert.Nil(t, srv.GetValidToken(context.Background(), "openid email", client.ClientID, first.IDTokenPayload, first.UserInfoPayload),
		"a different scope is a different fingerprint")
}

func TestRevokeToken(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	saveTestOwner(t, store, "alice", "alice", "hunter2hunter2")

	token, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "alice",
		Password:  "hunter2hunter2",
		Scope:     "openid",
	})
	require.Nil(t, oerr)

	require.NoError(t, srv.RevokeToken(context.Background(), client, token.AccessToken, "access_token", "203.0.113.7"))
	_, verr := srv.ValidateAccessToken(context.Background(), token.AccessToken)
	require.NotNil(t, verr)
	assert.Equal(t, ErrorCodeInvalidToken, verr.Code)

	// Revoking a token that never existed is still a success (RFC 7009).
	assert.NoError(t, srv.RevokeToken(context.Background(), client, "no-such-token", "", "203.0.113.7"))
}

func TestRevokeToken_OtherClientsTokenUntouched(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	other := &storage.Client{
		ClientID:                "other",
		Secrets:                 []storage.ClientSecret{{Type: storage.SecretTypeShared, Value: "shhh"}},
		RedirectURIs:            []string{"https://other.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodSecretBasic,
		GrantTypes:              []string{GrantTypeClientCredentials},
	}
	saveTestClient(t, store, other)
	saveTestOwner(t, store, "alice", "alice", "hunter2hunter2")

	token, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  "alice",
		Password:  "hunter2hunter2",
		Scope:     "openid",
	})
	require.Nil(t, oerr)

	require.NoError(t, srv.RevokeToken(context.Background(), other, token.AccessToken, "access_token", "203.0.113.7"))

	validated, verr := srv.ValidateAccessToken(context.Background(), token.AccessToken)
	require.Nil(t, verr, "another client cannot revoke this token")
	assert.Equal(t, client.ClientID, validated.ClientID)
}

func TestGrant_ExpiredCode(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	expired := &storage.AuthorizationCode{
		Code:      "expired-code",
		ClientID:  client.ClientID,
		Scope:     "openid",
		Subject:   "alice",
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(-30 * time.Minute),
	}
	require.NoError(t, store.SaveAuthorizationCode(context.Background(), expired))

	_, oerr := srv.Grant(context.Background(), client, &TokenRequest{
		GrantType: GrantTypeAuthorizationCode,
		Code:      "expired-code",
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidGrant, oerr.Code)
}
