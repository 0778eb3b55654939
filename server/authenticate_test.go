package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/storage"
)

func TestAuthenticateClient_SecretBasic(t *testing.T) {
	srv, store := newTestServer(t)
	confidentialClient(t, store)

	client, oerr := srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID:     "website",
		ClientSecret: "s3cret",
		Method:       AuthMethodSecretBasic,
	})
	require.Nil(t, oerr)
	assert.Equal(t, "website", client.ClientID)
}

func TestAuthenticateClient_GenericFailures(t *testing.T) {
	srv, store := newTestServer(t)
	confidentialClient(t, store)

	tests := []struct {
		name  string
		creds *ClientCredentials
	}{
		{"unknown client", &ClientCredentials{ClientID: "ghost", ClientSecret: "s3cret", Method: AuthMethodSecretBasic}},
		{"wrong secret", &ClientCredentials{ClientID: "website", ClientSecret: "wrong", Method: AuthMethodSecretBasic}},
		{"empty secret", &ClientCredentials{ClientID: "website", Method: AuthMethodSecretBasic}},
		{"method mismatch", &ClientCredentials{ClientID: "website", ClientSecret: "s3cret", Method: AuthMethodSecretPost}},
		{"missing client_id", &ClientCredentials{ClientSecret: "s3cret", Method: AuthMethodSecretBasic}},
	}

	var descriptions []string
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, oerr := srv.AuthenticateClient(context.Background(), tc.creds)
			require.NotNil(t, oerr)
			assert.Equal(t, ErrorCodeInvalidClient, oerr.Code)
			descriptions = append(descriptions, oerr.Description)
		})
	}

	// SECURITY: every failure reads identically so the endpoint cannot be
	// used to enumerate client ids or probe secrets.
	for _, desc := range descriptions {
		assert.Equal(t, descriptions[0], desc)
	}
}

func TestAuthenticateClient_SecretRotation(t *testing.T) {
	srv, store := newTestServer(t)
	client := &storage.Client{
		ClientID: "rotating",
		Secrets: []storage.ClientSecret{
			{Type: storage.SecretTypeShared, Value: "old-secret"},
			{Type: storage.SecretTypeShared, Value: "new-secret"},
		},
		TokenEndpointAuthMethod: AuthMethodSecretPost,
	}
	saveTestClient(t, store, client)

	for _, secret := range []string{"old-secret", "new-secret"} {
		_, oerr := srv.AuthenticateClient(context.Background(), &ClientCredentials{
			ClientID:     "rotating",
			ClientSecret: secret,
			Method:       AuthMethodSecretPost,
		})
		assert.Nil(t, oerr, "both active secrets must authenticate during rotation")
	}
}

func TestAuthenticateClient_PublicClient(t *testing.T) {
	srv, store := newTestServer(t)
	saveTestClient(t, store, &storage.Client{
		ClientID:                "spa",
		TokenEndpointAuthMethod: AuthMethodNone,
	})

	client, oerr := srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID: "spa",
		Method:   AuthMethodNone,
	})
	require.Nil(t, oerr)
	assert.Equal(t, "spa", client.ClientID)

	// A public client presenting a secret is suspicious and rejected.
	_, oerr = srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID:     "spa",
		ClientSecret: "anything",
		Method:       AuthMethodNone,
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidClient, oerr.Code)
}

// signedAssertion builds a client_assertion JWT for the given key.
func signedAssertion(t *testing.T, key *jose.SigningKey, clientID, audience, jti string, exp time.Time) string {
	t.Helper()
	claims := jose.NewClaims()
	claims.Set(jose.ClaimIssuer, clientID)
	claims.Set(jose.ClaimSubject, clientID)
	claims.Set(jose.ClaimAudience, audience)
	claims.Set(jose.ClaimExpirationTime, exp.Unix())
	claims.Set(jose.ClaimIssuedAt, time.Now().Unix())
	claims.Set(jose.ClaimJTI, jti)

	token, err := jose.Sign(claims, key)
	require.NoError(t, err)
	return token
}

func TestAuthenticateClient_SecretJWT(t *testing.T) {
	srv, store := newTestServer(t)
	secret := "a-shared-secret-of-decent-length"
	saveTestClient(t, store, &storage.Client{
		ClientID:                "batch",
		Secrets:                 []storage.ClientSecret{{Type: storage.SecretTypeShared, Value: secret}},
		TokenEndpointAuthMethod: AuthMethodSecretJWT,
	})
	hmacKey := &jose.SigningKey{Algorithm: jose.HS256, Secret: []byte(secret)}

	assertion := signedAssertion(t, hmacKey, "batch", srv.Config.TokenEndpoint, "jti-1", time.Now().Add(2*time.Minute))
	client, oerr := srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID:            "batch",
		Method:              AuthMethodSecretJWT,
		ClientAssertionType: ClientAssertionTypeJWTBearer,
		ClientAssertion:     assertion,
	})
	require.Nil(t, oerr)
	assert.Equal(t, "batch", client.ClientID)

	// Replaying the same assertion (same jti) fails.
	_, oerr = srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID:            "batch",
		Method:              AuthMethodSecretJWT,
		ClientAssertionType: ClientAssertionTypeJWTBearer,
		ClientAssertion:     assertion,
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidClient, oerr.Code)
}

func TestAuthenticateClient_SecretJWT_Rejections(t *testing.T) {
	srv, store := newTestServer(t)
	secret := "a-shared-secret-of-decent-length"
	saveTestClient(t, store, &storage.Client{
		ClientID:                "batch",
		Secrets:                 []storage.ClientSecret{{Type: storage.SecretTypeShared, Value: secret}},
		TokenEndpointAuthMethod: AuthMethodSecretJWT,
	})
	hmacKey := &jose.SigningKey{Algorithm: jose.HS256, Secret: []byte(secret)}
	wrongKey := &jose.SigningKey{Algorithm: jose.HS256, Secret: []byte("a-completely-different-secret!!!")}

	tests := []struct {
		name      string
		assertion string
		authType  string
	}{
		{
			name:      "wrong signing key",
			assertion: signedAssertion(t, wrongKey, "batch", srv.Config.TokenEndpoint, "jti-a", time.Now().Add(time.Minute)),
			authType:  ClientAssertionTypeJWTBearer,
		},
		{
			name:      "wrong audience",
			assertion: signedAssertion(t, hmacKey, "batch", "https://elsewhere.example.com/token", "jti-b", time.Now().Add(time.Minute)),
			authType:  ClientAssertionTypeJWTBearer,
		},
		{
			name:      "expired",
			assertion: signedAssertion(t, hmacKey, "batch", srv.Config.TokenEndpoint, "jti-c", time.Now().Add(-time.Minute)),
			authType:  ClientAssertionTypeJWTBearer,
		},
		{
			name:      "lifetime beyond the cap",
			assertion: signedAssertion(t, hmacKey, "batch", srv.Config.TokenEndpoint, "jti-d", time.Now().Add(24*time.Hour)),
			authType:  ClientAssertionTypeJWTBearer,
		},
		{
			name:      "wrong assertion type",
			assertion: signedAssertion(t, hmacKey, "batch", srv.Config.TokenEndpoint, "jti-e", time.Now().Add(time.Minute)),
			authType:  "urn:example:wrong",
		},
		{
			name:      "issuer is another client",
			assertion: signedAssertion(t, hmacKey, "impostor", srv.Config.TokenEndpoint, "jti-f", time.Now().Add(time.Minute)),
			authType:  ClientAssertionTypeJWTBearer,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, oerr := srv.AuthenticateClient(context.Background(), &ClientCredentials{
				ClientID:            "batch",
				Method:              AuthMethodSecretJWT,
				ClientAssertionType: tc.authType,
				ClientAssertion:     tc.assertion,
			})
			require.NotNil(t, oerr)
			assert.Equal(t, ErrorCodeInvalidClient, oerr.Code)
		})
	}
}

func TestAuthenticateClient_PrivateKeyJWT(t *testing.T) {
	srv, store := newTestServer(t)

	private, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	saveTestClient(t, store, &storage.Client{
		ClientID:                "service",
		TokenEndpointAuthMethod: AuthMethodPrivateKeyJWT,
		JSONWebKeys: &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{{
			Key:       &private.PublicKey,
			KeyID:     "svc-key-1",
			Use:       "sig",
			Algorithm: "RS256",
		}}},
	})

	rsaKey := &jose.SigningKey{ID: "svc-key-1", Algorithm: jose.RS256, RSA: private}
	assertion := signedAssertion(t, rsaKey, "service", srv.Config.TokenEndpoint, "jti-rsa-1", time.Now().Add(2*time.Minute))

	client, oerr := srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID:            "service",
		Method:              AuthMethodPrivateKeyJWT,
		ClientAssertionType: ClientAssertionTypeJWTBearer,
		ClientAssertion:     assertion,
	})
	require.Nil(t, oerr)
	assert.Equal(t, "service", client.ClientID)

	// A different keypair signing for the same client fails verification.
	impostor, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged := signedAssertion(t, &jose.SigningKey{ID: "svc-key-1", Algorithm: jose.RS256, RSA: impostor},
		"service", srv.Config.TokenEndpoint, "jti-rsa-2", time.Now().Add(2*time.Minute))

	_, oerr = srv.AuthenticateClient(context.Background(), &ClientCredentials{
		ClientID:            "service",
		Method:              AuthMethodPrivateKeyJWT,
		ClientAssertionType: ClientAssertionTypeJWTBearer,
		ClientAssertion:     forged,
	})
	require.NotNil(t, oerr)
	assert.Equal(t, ErrorCodeInvalidClient, oerr.Code)
}
