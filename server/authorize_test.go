package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/storage"
)

func authRequest(client *storage.Client) *AuthorizationRequest {
	return &AuthorizationRequest{
		ClientID:     client.ClientID,
		RedirectURI:  client.RedirectURIs[0],
		ResponseType: "code",
		Scope:        "openid profile",
		State:        "xyz",
		Subject:      "alice",
		AuthTime:     time.Now(),
		MaxAge:       -1,
	}
}

func grantTestConsent(t *testing.T, srv *Server, clientID, subject string, scopes []string) {
	t.Helper()
	_, err := srv.GrantConsent(context.Background(), clientID, subject, "203.0.113.7", scopes)
	require.NoError(t, err)
}

func TestAuthorize_UnknownClient(t *testing.T) {
	srv, _ := newTestServer(t)

	_, oerr := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:     "ghost",
		ResponseType: "code",
		State:        "xyz",
		MaxAge:       -1,
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidRequest, oerr.Code)
	assert.Empty(t, oerr.State, "pre-redirect-validation errors must not be redirectable")
}

func TestAuthorize_UnregisteredRedirectURI(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	req := authRequest(client)
	req.RedirectURI = "https://evil.example.com/callback"

	_, oerr := srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidRedirectURI, oerr.Code)
	assert.Empty(t, oerr.State)
}

func TestAuthorize_DuplicateScope(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	req := authRequest(client)
	req.Scope = "openid openid"

	_, oerr := srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidRequest, oerr.Code)
	assert.Contains(t, oerr.Description, "duplicate scope")
	assert.Equal(t, "xyz", oerr.State, "scope errors travel back to the client with state")
}

func TestAuthorize_ScopeNotAllowedForClient(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	req := authRequest(client)
	req.Scope = "openid email" // email is server-supported but not client-allowed

	_, oerr := srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidScope, oerr.Code)
	assert.NotContains(t, oerr.Description, "email", "scope enumeration must not leak")
}

func TestAuthorize_UnauthenticatedRedirectsToLogin(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	req := authRequest(client)
	req.Subject = ""

	result, oerr := srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	assert.Equal(t, RedirectToAction, result.Type)
	assert.Equal(t, ActionAuthenticate, result.Action)
	assert.Equal(t, "xyz", result.State)
}

func TestAuthorize_NoConsentRedirectsToConsent(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	result, oerr := srv.Authorize(context.Background(), authRequest(client))
	require.Nil(t, oerr)
	assert.Equal(t, RedirectToAction, result.Type)
	assert.Equal(t, ActionConsent, result.Action)
}

func TestAuthorize_ConsentedIssuesCode(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	grantTestConsent(t, srv, client.ClientID, "alice", []string{"openid", "profile"})

	result, oerr := srv.Authorize(context.Background(), authRequest(client))
	require.Nil(t, oerr)
	assert.Equal(t, RedirectToCallback, result.Type)
	assert.Equal(t, client.RedirectURIs[0], result.RedirectURI)
	assert.Equal(t, ResponseModeQuery, result.ResponseMode)
	assert.Equal(t, "xyz", result.State)
	assert.NotEmpty(t, result.Code)
	assert.Empty(t, result.AccessToken)
	assert.Empty(t, result.IDToken)
}

func TestAuthorize_ConsentIsExactSet(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	grantTestConsent(t, srv, client.ClientID, "alice", []string{"openid", "profile"})

	// A narrower request is NOT satisfied by the broader consent.
	req := authRequest(client)
	req.Scope = "openid"
	result, oerr := srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	assert.Equal(t, ActionConsent, result.Action)

	// A broader request is not satisfied either.
	req = authRequest(client)
	req.Scope = "openid profile role"
	result, oerr = srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	assert.Equal(t, ActionConsent, result.Action)
}

func TestAuthorize_PromptNone(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	req := authRequest(client)
	req.Subject = ""
	req.Prompt = PromptNone
	_, oerr := srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeLoginRequired, oerr.Code)
	assert.Equal(t, "xyz", oerr.State)

	req = authRequest(client)
	req.Prompt = PromptNone
	_, oerr = srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeConsentRequired, oerr.Code)
}

func TestAuthorize_PromptLoginForcesReauthentication(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	grantTestConsent(t, srv, client.ClientID, "alice", []string{"openid", "profile"})

	req := authRequest(client)
	req.Prompt = PromptLogin

	result, oerr := srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	assert.Equal(t, ActionAuthenticate, result.Action)
}

func TestAuthorize_PromptConsentForcesFreshConsent(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	grantTestConsent(t, srv, client.ClientID, "alice", []string{"openid", "profile"})

	req := authRequest(client)
	req.Prompt = PromptConsent

	result, oerr := srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	assert.Equal(t, ActionConsent, result.Action)
}

func TestAuthorize_MaxAgeForcesReauthentication(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	grantTestConsent(t, srv, client.ClientID, "alice", []string{"openid", "profile"})

	req := authRequest(client)
	req.AuthTime = time.Now().Add(-time.Hour)
	req.MaxAge = 60

	result, oerr := srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	assert.Equal(t, ActionAuthenticate, result.Action)
}

func TestAuthorize_PublicClientRequiresPKCE(t *testing.T) {
	srv, store := newTestServer(t)
	client := &storage.Client{
		ClientID:                "spa",
		RedirectURIs:            []string{"https://spa.example.com/callback"},
		TokenEndpointAuthMethod: AuthMethodNone,
		GrantTypes:              []string{GrantTypeAuthorizationCode},
		ResponseTypes:           []string{"code"},
		AllowedScopes:           []string{"openid", "profile"},
	}
	saveTestClient(t, store, client)

	req := authRequest(client)
	_, oerr := srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidRequest, oerr.Code)
	assert.Contains(t, oerr.Description, "code_challenge")

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk-extra-entropy"
	digest := sha256.Sum256([]byte(verifier))
	req.CodeChallenge = base64.RawURLEncoding.EncodeToString(digest[:])
	req.CodeChallengeMethod = PKCEMethodS256
	req.Subject = ""

	result, oerr := srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	assert.Equal(t, ActionAuthenticate, result.Action)
}

func TestAuthorize_ResponseModeQueryForbiddenForTokens(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	req := authRequest(client)
	req.ResponseType = "id_token token"
	req.ResponseMode = ResponseModeQuery
	req.Nonce = "n-0S6_WzA2Mj"

	_, oerr := srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidRequest, oerr.Code)
	assert.Equal(t, "xyz", oerr.State)
}

func TestAuthorize_ImplicitRequiresNonce(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)

	req := authRequest(client)
	req.ResponseType = "id_token"

	_, oerr := srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidRequest, oerr.Code)
	assert.Contains(t, oerr.Description, "nonce")
}

func TestAuthorize_ImplicitIssuesTokensInline(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	grantTestConsent(t, srv, client.ClientID, "alice", []string{"openid", "profile"})

	req := authRequest(client)
	req.ResponseType = "id_token token"
	req.Nonce = "n-0S6_WzA2Mj"

	result, oerr := srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	assert.Equal(t, RedirectToCallback, result.Type)
	assert.Equal(t, ResponseModeFragment, result.ResponseMode)
	assert.NotEmpty(t, result.AccessToken)
	assert.Equal(t, "Bearer", result.TokenType)
	assert.Equal(t, int64(3600), result.ExpiresIn)
	assert.Empty(t, result.Code)

	claims, _, err := jose.Verify(result.IDToken, srv.KeySet().ResolveVerification)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject())
	assert.Equal(t, "https://auth.example.com", claims.Issuer())
	assert.Equal(t, []string{client.ClientID}, claims.Audience())
	assert.Equal(t, "n-0S6_WzA2Mj", claims.GetString(jose.ClaimNonce))

	// at_hash binds the access token to the id_token.
	wantHash, err := jose.TokenHash(jose.RS256, result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, wantHash, claims.GetString(jose.ClaimAtHash))
	assert.False(t, claims.Has(jose.ClaimCHash))
}

func TestAuthorize_HybridIssuesCodeAndIDToken(t *testing.T) {
	srv, store := newTestServer(t)
	client := confidentialClient(t, store)
	grantTestConsent(t, srv, client.ClientID, "alice", []string{"openid", "profile"})

	req := authRequest(client)
	req.ResponseType = "code id_token"
	req.Nonce = "n-0S6_WzA2Mj"

	result, oerr := srv.Authorize(context.Background(), req)
	require.Nil(t, oerr)
	assert.NotEmpty(t, result.Code)
	assert.Empty(t, result.AccessToken)
	require.NotEmpty(t, result.IDToken)

	claims, _, err := jose.Verify(result.IDToken, srv.KeySet().ResolveVerification)
	require.NoError(t, err)

	wantHash, err := jose.TokenHash(jose.RS256, result.Code)
	require.NoError(t, err)
	assert.Equal(t, wantHash, claims.GetString(jose.ClaimCHash))
}

func TestAuthorize_UnsupportedResponseType(t *testing.T) {
	srv, store := newTestServer(t)
	client := &storage.Client{
		ClientID:                "code-only",
		Secrets:                 []storage.ClientSecret{{Type: storage.SecretTypeShared, Value: "shhh"}},
		RedirectURIs:            []string{"https://app.example.com/cb"},
		TokenEndpointAuthMethod: AuthMethodSecretBasic,
		ResponseTypes:           []string{"code"},
	}
	saveTestClient(t, store, client)

	req := authRequest(client)
	req.ResponseType = "token"
	_, oerr := srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeUnauthorizedClient, oerr.Code)

	req.ResponseType = "signature"
	_, oerr = srv.Authorize(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidRequest, oerr.Code)
}

func TestParsePrompt_NoneIsExclusive(t *testing.T) {
	_, oerr := parsePrompt("none login")
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidRequest, oerr.Code)

	prompts, oerr := parsePrompt("login consent")
	require.Nil(t, oerr)
	assert.True(t, prompts[PromptLogin])
	assert.True(t, prompts[PromptConsent])
}
