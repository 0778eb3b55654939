package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/subtle"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/storage"
)

// Token endpoint authentication methods (RFC 7591 metadata vocabulary).
const (
	AuthMethodSecretBasic   = "client_secret_basic"
	AuthMethodSecretPost    = "client_secret_post"
	AuthMethodSecretJWT     = "client_secret_jwt"
	AuthMethodPrivateKeyJWT = "private_key_jwt"
	AuthMethodNone          = "none"
)

// ClientAssertionTypeJWTBearer is the only client_assertion_type supported
// (RFC 7523 Section 2.2).
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ClientCredentials carries everything the HTTP layer extracted from a token
// request for client authentication. Method records HOW the credentials
// arrived (basic header vs form body vs assertion), which must match the
// client's registered token_endpoint_auth_method.
type ClientCredentials struct {
	ClientID            string
	ClientSecret        string
	Method              string // how credentials were presented
	ClientAssertionType string
	ClientAssertion     string
	IPAddress           string
}

// AuthenticateClient authenticates a token-endpoint caller against its
// registered authentication method. Every failure path returns the same
// generic invalid_client error; the distinguishing detail goes to logs and
// audit events only, so the endpoint cannot be used as a credential oracle.
func (s *Server) AuthenticateClient(ctx context.Context, creds *ClientCredentials) (*storage.Client, *Error) {
	if creds == nil || creds.ClientID == "" {
		return nil, ErrInvalidClient("client authentication failed")
	}

	client, err := s.stores.Clients.GetClient(ctx, creds.ClientID)
	if err != nil {
		// SECURITY: Unknown client and wrong secret produce identical
		// responses to prevent client_id enumeration.
		s.logAuthFailure(creds, "unknown_client")
		return nil, ErrInvalidClient("client authentication failed")
	}

	method := client.TokenEndpointAuthMethod
	if method == "" {
		method = AuthMethodSecretBasic
	}

	switch method {
	case AuthMethodSecretBasic, AuthMethodSecretPost:
		if creds.Method != method {
			s.logAuthFailure(creds, fmt.Sprintf("auth_method_mismatch: registered=%s presented=%s", method, creds.Method))
			return nil, ErrInvalidClient("client authentication failed")
		}
		if !s.verifyClientSecret(client, creds.ClientSecret) {
			s.logAuthFailure(creds, "secret_mismatch")
			return nil, ErrInvalidClient("client authentication failed")
		}

	case AuthMethodSecretJWT, AuthMethodPrivateKeyJWT:
		if aerr := s.verifyClientAssertion(ctx, client, creds, method); aerr != nil {
			return nil, aerr
		}

	case AuthMethodNone:
		// Public client. Anything that looks like a credential is rejected
		// so a leaked secret cannot silently downgrade to no-auth.
		if creds.ClientSecret != "" || creds.ClientAssertion != "" {
			s.logAuthFailure(creds, "credentials_presented_for_public_client")
			return nil, ErrInvalidClient("client authentication failed")
		}

	default:
		s.logAuthFailure(creds, fmt.Sprintf("unsupported_auth_method: %s", method))
		return nil, ErrInvalidClient("client authentication failed")
	}

	return client, nil
}

// verifyClientSecret checks the presented secret against every active secret
// of the client. Comparison is constant time for shared secrets; bcrypt
// hashes are compared with bcrypt. A client with several active secrets
// accepts any of them, which is what makes zero-downtime rotation work.
func (s *Server) verifyClientSecret(client *storage.Client, presented string) bool {
	if presented == "" {
		return false
	}

	matched := false
	for _, secret := range client.Secrets {
		switch secret.Type {
		case storage.SecretTypeBcrypt:
			if bcrypt.CompareHashAndPassword([]byte(secret.Value), []byte(presented)) == nil {
				matched = true
			}
		case storage.SecretTypeShared:
			if subtle.ConstantTimeCompare([]byte(secret.Value), []byte(presented)) == 1 {
				matched = true
			}
		}
		// No early exit: every secret is checked so the comparison count
		// does not leak which entry matched.
	}
	return matched
}

// verifyClientAssertion validates a client_assertion JWT per RFC 7523:
// signature against the client's keys, iss == sub == client_id, audience
// equal to the token endpoint, bounded lifetime, and single-use jti.
func (s *Server) verifyClientAssertion(ctx context.Context, client *storage.Client, creds *ClientCredentials, method string) *Error {
	if creds.ClientAssertionType != ClientAssertionTypeJWTBearer {
		s.logAuthFailure(creds, "unsupported_assertion_type")
		return ErrInvalidClient("client authentication failed")
	}
	if creds.ClientAssertion == "" {
		s.logAuthFailure(creds, "missing_assertion")
		return ErrInvalidClient("client authentication failed")
	}

	claims, _, err := jose.Verify(creds.ClientAssertion, s.assertionKeyResolver(client, method))
	if err != nil {
		s.logAuthFailure(creds, fmt.Sprintf("assertion_verification_failed: %v", err))
		return ErrInvalidClient("client authentication failed")
	}

	// iss and sub must both equal the authenticating client_id
	if claims.Issuer() != client.ClientID || claims.Subject() != client.ClientID {
		s.logAuthFailure(creds, "assertion_issuer_mismatch")
		return ErrInvalidClient("client authentication failed")
	}

	// Audience must name our token endpoint (trailing-slash tolerant)
	if !s.assertionAudienceValid(claims.Audience()) {
		s.logAuthFailure(creds, "assertion_audience_mismatch")
		return ErrInvalidClient("client authentication failed")
	}

	now := time.Now()
	exp := claims.ExpiresAt()
	if exp.IsZero() || security.ExpiredWithSkew(now, exp, time.Duration(s.Config.ClockSkewGracePeriod)*time.Second) {
		s.logAuthFailure(creds, "assertion_expired")
		return ErrInvalidClient("client authentication failed")
	}
	if exp.After(now.Add(time.Duration(s.Config.AssertionMaxTTL) * time.Second)) {
		s.logAuthFailure(creds, "assertion_lifetime_too_long")
		return ErrInvalidClient("client authentication failed")
	}

	// jti single use within the assertion's validity window
	jti := claims.GetString(jose.ClaimJTI)
	if jti == "" {
		s.logAuthFailure(creds, "assertion_missing_jti")
		return ErrInvalidClient("client authentication failed")
	}
	if err := s.stores.Assertions.RegisterAssertion(ctx, jti, exp); err != nil {
		if err == storage.ErrAssertionReplayed {
			// SECURITY: A replayed assertion means the signed credential
			// leaked in transit or the client is broken. Either way the
			// request is rejected and the event is audited.
			if s.Auditor != nil {
				s.Auditor.LogAssertionReplay(client.ClientID, creds.IPAddress)
			}
			if s.Metrics != nil {
				s.Metrics.RecordAssertionReplayDetected(ctx)
			}
			s.Logger.Warn("Client assertion replay detected",
				"client_id", client.ClientID,
				"jti_prefix", util.SafeTruncate(jti, 8))
			return ErrInvalidClient("client authentication failed")
		}
		s.Logger.Warn("Failed to register assertion jti", "error", err)
		return ErrServerError("assertion tracking unavailable")
	}

	return nil
}

// assertionKeyResolver builds a verification key resolver for the client's
// registered keys. client_secret_jwt resolves to the client's shared secrets
// (HMAC); private_key_jwt resolves to the client's published JWKs.
func (s *Server) assertionKeyResolver(client *storage.Client, method string) jose.VerificationKeyResolver {
	return func(header *jose.Header) (*jose.VerificationKey, error) {
		alg := jose.SignatureAlgorithm(header.Algorithm)

		if method == AuthMethodSecretJWT {
			switch alg {
			case jose.HS256, jose.HS384, jose.HS512:
			default:
				return nil, jose.ErrAlgorithmMismatch
			}
			// Shared secrets double as HMAC keys. Only plain secrets work
			// here; a bcrypt hash cannot mac anything.
			for _, secret := range client.Secrets {
				if secret.Type == storage.SecretTypeShared {
					return &jose.VerificationKey{Algorithm: alg, Secret: []byte(secret.Value)}, nil
				}
			}
			return nil, jose.ErrNoUsableKey
		}

		// private_key_jwt: asymmetric algorithms only
		switch alg {
		case jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512,
			jose.ES256, jose.ES384, jose.ES512:
		default:
			return nil, jose.ErrAlgorithmMismatch
		}

		if client.JSONWebKeys == nil || len(client.JSONWebKeys.Keys) == 0 {
			return nil, jose.ErrNoUsableKey
		}

		for _, jwk := range client.JSONWebKeys.Keys {
			if header.KeyID != "" && jwk.KeyID != header.KeyID {
				continue
			}
			if jwk.Use != "" && jwk.Use != "sig" {
				continue
			}
			switch pub := jwk.Key.(type) {
			case *rsa.PublicKey:
				return &jose.VerificationKey{ID: jwk.KeyID, Algorithm: alg, RSA: pub}, nil
			case *ecdsa.PublicKey:
				return &jose.VerificationKey{ID: jwk.KeyID, Algorithm: alg, ECDSA: pub}, nil
			}
		}
		return nil, jose.ErrUnknownKey
	}
}

// assertionAudienceValid reports whether any audience entry names the token
// endpoint or the issuer (both accepted per RFC 7523 deployment practice).
func (s *Server) assertionAudienceValid(audience []string) bool {
	for _, aud := range audience {
		normalized := util.NormalizeURL(aud)
		if normalized == util.NormalizeURL(s.Config.TokenEndpoint) ||
			normalized == util.NormalizeURL(s.Config.Issuer) {
			return true
		}
	}
	return false
}

// logAuthFailure records a client authentication failure in logs, audit
// trail, and metrics under flood control.
func (s *Server) logAuthFailure(creds *ClientCredentials, reason string) {
	if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(creds.ClientID+":"+creds.IPAddress) {
		s.Logger.Debug("Client authentication failed",
			"client_id", creds.ClientID,
			"method", creds.Method,
			"reason", reason)
	}
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure("", creds.ClientID, creds.IPAddress, reason)
	}
	if s.Metrics != nil {
		s.Metrics.RecordClientAuthFailed(context.Background(), creds.Method)
	}
}
