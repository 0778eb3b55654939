package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/storage"
)

// maxRequestObjectSize bounds the response body accepted from a request_uri
// fetch. Request objects are small; anything larger is abuse.
const maxRequestObjectSize = 256 * 1024

// resolveRequestObject resolves a request object passed by value (request)
// or by reference (request_uri) and merges its parameters into req. Object
// parameters supersede the matching query parameters per OIDC Core
// section 6.1; client_id may not change.
func (s *Server) resolveRequestObject(ctx context.Context, client *storage.Client, req *AuthorizationRequest) *Error {
	if req.Request == "" && req.RequestURI == "" {
		return nil
	}
	if req.Request != "" && req.RequestURI != "" {
		return ErrInvalidRequest("request and request_uri are mutually exclusive")
	}

	token := req.Request
	if req.RequestURI != "" {
		fetched, oerr := s.fetchRequestObject(ctx, req.RequestURI)
		if oerr != nil {
			return oerr
		}
		token = fetched
	}

	claims, _, err := jose.Verify(token, s.requestObjectKeyResolver(client))
	if err != nil {
		s.Logger.Warn("Request object verification failed", "client_id", client.ClientID, "error", err)
		if req.RequestURI != "" {
			return ErrInvalidRequestURI("request object verification failed")
		}
		return ErrInvalidRequest("request object verification failed")
	}

	return applyRequestObject(claims, req)
}

// fetchRequestObject retrieves a request object by reference. Only https
// URLs are accepted; the object travels pre-signed, but fetching over
// cleartext would let an on-path attacker swap it before verification.
func (s *Server) fetchRequestObject(ctx context.Context, requestURI string) (string, *Error) {
	u, err := url.Parse(requestURI)
	if err != nil || u.Scheme != "https" {
		return "", ErrInvalidRequestURI("request_uri must be an https URL")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURI, nil)
	if err != nil {
		return "", ErrInvalidRequestURI("request_uri is not a valid URL")
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.Logger.Warn("Request object fetch failed", "request_uri", requestURI, "error", err)
		return "", ErrInvalidRequestURI("failed to fetch request object")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", ErrInvalidRequestURI(fmt.Sprintf("request object fetch returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestObjectSize+1))
	if err != nil {
		return "", ErrInvalidRequestURI("failed to read request object")
	}
	if len(body) > maxRequestObjectSize {
		return "", ErrInvalidRequestURI("request object too large")
	}

	return strings.TrimSpace(string(body)), nil
}

// requestObjectKeyResolver verifies request objects against the client's
// registered keys: HS algorithms use an active shared secret, asymmetric
// algorithms the client's JWKS.
func (s *Server) requestObjectKeyResolver(client *storage.Client) jose.VerificationKeyResolver {
	return func(header *jose.Header) (*jose.VerificationKey, error) {
		alg := jose.SignatureAlgorithm(header.Algorithm)

		switch alg {
		case jose.HS256, jose.HS384, jose.HS512:
			for _, secret := range client.Secrets {
				if secret.Type == storage.SecretTypeShared {
					return &jose.VerificationKey{Algorithm: alg, Secret: []byte(secret.Value)}, nil
				}
			}
			return nil, jose.ErrNoUsableKey

		case jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512,
			jose.ES256, jose.ES384, jose.ES512:
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

		default:
			return nil, jose.ErrAlgorithmMismatch
		}
	}
}

// applyRequestObject merges verified request object claims into req.
func applyRequestObject(claims *jose.Claims, req *AuthorizationRequest) *Error {
	if claims.Has("request") || claims.Has("request_uri") {
		return ErrInvalidRequest("request objects must not nest")
	}
	if id := claims.GetString("client_id"); id != "" && id != req.ClientID {
		return ErrInvalidRequest("request object client_id mismatch")
	}

	assign := func(name string, dst *string) {
		if claims.Has(name) {
			*dst = claims.GetString(name)
		}
	}
	assign("response_type", &req.ResponseType)
	assign("response_mode", &req.ResponseMode)
	assign("redirect_uri", &req.RedirectURI)
	assign("scope", &req.Scope)
	assign("state", &req.State)
	assign("nonce", &req.Nonce)
	assign("prompt", &req.Prompt)
	assign("code_challenge", &req.CodeChallenge)
	assign("code_challenge_method", &req.CodeChallengeMethod)

	if claims.Has("max_age") {
		req.MaxAge = claims.GetInt64("max_age")
	}
	if claims.Has("claims") {
		req.Claims = claims.GetStringSlice("claims")
	}

	return nil
}
