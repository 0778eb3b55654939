package server

import (
	"context"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/giantswarm/oidc-engine/jose"
	"github.com/giantswarm/oidc-engine/storage"
)

// Grant types (RFC 6749 section 4).
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// TokenRequest carries the parsed form fields of a token endpoint request.
// Client credentials are handled separately by AuthenticateClient before
// the dispatcher runs.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Username     string
	Password     string
	Scope        string
	IPAddress    string
}

// Grant dispatches a token request to its grant handler. The client has
// already been authenticated; the dispatcher enforces that the client is
// registered for the requested grant type before any handler runs.
func (s *Server) Grant(ctx context.Context, client *storage.Client, req *TokenRequest) (*storage.GrantedToken, *Error) {
	if req.GrantType == "" {
		return nil, s.grantError(ctx, req, ErrInvalidRequest("grant_type is required"))
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode, GrantTypePassword, GrantTypeRefreshToken, GrantTypeClientCredentials:
	default:
		return nil, s.grantError(ctx, req, ErrUnsupportedGrantType("unsupported grant_type: "+req.GrantType))
	}

	if !client.SupportsGrantType(req.GrantType) {
		return nil, s.grantError(ctx, req, ErrUnauthorizedClient("client is not registered for this grant type"))
	}

	var (
		token *storage.GrantedToken
		oerr  *Error
	)
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		token, oerr = s.grantAuthorizationCode(ctx, client, req)
	case GrantTypePassword:
		token, oerr = s.grantPassword(ctx, client, req)
	case GrantTypeRefreshToken:
		token, oerr = s.grantRefreshToken(ctx, client, req)
	case GrantTypeClientCredentials:
		token, oerr = s.grantClientCredentials(ctx, client, req)
	}
	if oerr != nil {
		return nil, s.grantError(ctx, req, oerr)
	}
	return token, nil
}

// grantError records the failure metric before returning the error upward.
func (s *Server) grantError(ctx context.Context, req *TokenRequest, oerr *Error) *Error {
	if s.Metrics != nil {
		s.Metrics.RecordGrantError(ctx, req.GrantType, oerr.Code)
	}
	return oerr
}

// grantAuthorizationCode redeems an authorization code. The code is consumed
// atomically so a second redemption, concurrent or later, always fails.
func (s *Server) grantAuthorizationCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*storage.GrantedToken, *Error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	authCode, err := s.stores.Codes.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// An already-consumed code and an unknown code are
			// indistinguishable once the store deletes on redemption, so
			// every failed redemption is audited as potential reuse.
			if s.Auditor != nil {
				s.Auditor.LogCodeReuse(client.ClientID, req.IPAddress)
			}
			if s.Metrics != nil {
				s.Metrics.RecordCodeReuseDetected(ctx)
			}
			return nil, ErrInvalidGrant("authorization code is invalid, expired, or already used")
		}
		s.Logger.Error("Authorization code lookup failed", "error", err)
		return nil, ErrServerError("token request failed")
	}

	if authCode.ClientID != client.ClientID {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ClientID, req.IPAddress, "authorization code issued to a different client")
		}
		return nil, ErrInvalidGrant("authorization code is invalid, expired, or already used")
	}

	// RFC 6749 section 4.1.3: redirect_uri must repeat the value from the
	// authorization request whenever one was sent there.
	if authCode.RedirectURI != "" && authCode.RedirectURI != req.RedirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if authCode.CodeChallenge == "" && client.TokenEndpointAuthMethod == AuthMethodNone {
		// Public client slipped through authorization without PKCE; fail
		// closed at redemption.
		return nil, ErrInvalidGrant("PKCE is required for public clients")
	}
	method := authCode.CodeChallengeMethod
	if method == "" && authCode.CodeChallenge != "" {
		method = PKCEMethodPlain
	}
	if err := s.validatePKCE(authCode.CodeChallenge, method, req.CodeVerifier); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogInvalidPKCE(client.ClientID, req.IPAddress, err.Error())
		}
		if s.Metrics != nil {
			s.Metrics.RecordPKCEValidationFailed(ctx, method)
		}
		return nil, ErrInvalidGrant("PKCE verification failed")
	}

	scopes, err := parseScope(authCode.Scope)
	if err != nil {
		return nil, ErrInvalidScope(err.Error())
	}

	return s.mintTokens(ctx, &mintRequest{
		Client:          client,
		Subject:         authCode.Subject,
		Scopes:          scopes,
		GrantType:       GrantTypeAuthorizationCode,
		IDTokenPayload:  authCode.IDTokenPayload,
		UserInfoPayload: authCode.UserInfoPayload,
		IncludeAccess:   true,
		IncludeIDToken:  hasOpenIDScope(scopes),
		IncludeRefresh:  client.SupportsGrantType(GrantTypeRefreshToken),
		IPAddress:       req.IPAddress,
	})
}

// grantPassword authenticates resource owner credentials and issues tokens
// for the validated scope.
func (s *Server) grantPassword(ctx context.Context, client *storage.Client, req *TokenRequest) (*storage.GrantedToken, *Error) {
	if req.Username == "" || req.Password == "" {
		return nil, ErrInvalidRequest("username and password are required")
	}

	owner, err := s.ownerAu.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(req.Username, client.ClientID, req.IPAddress, "resource owner authentication failed")
		}
		return nil, ErrInvalidGrant("invalid resource owner credentials")
	}

	if err := s.validateScopes(req.Scope); err != nil {
		return nil, scopeErrorFor(err)
	}
	if err := s.validateClientScopes(req.Scope, client.AllowedScopes); err != nil {
		return nil, scopeErrorFor(err)
	}
	scopes, _ := parseScope(req.Scope)

	idPayload, uiPayload, err := s.buildOwnerPayloads(ctx, owner.Subject, scopes, "", time.Now(), []string{"pwd"})
	if err != nil {
		s.Logger.Error("Resource owner payload build failed", "error", err)
		return nil, ErrServerError("token request failed")
	}

	return s.mintTokens(ctx, &mintRequest{
		Client:          client,
		Subject:         owner.Subject,
		Scopes:          scopes,
		GrantType:       GrantTypePassword,
		AMR:             []string{"pwd"},
		IDTokenPayload:  idPayload,
		UserInfoPayload: uiPayload,
		IncludeAccess:   true,
		IncludeIDToken:  hasOpenIDScope(scopes),
		IncludeRefresh:  client.SupportsGrantType(GrantTypeRefreshToken),
		IPAddress:       req.IPAddress,
	})
}

// grantRefreshToken exchanges a refresh token for a fresh token set. The
// refresh token is consumed atomically; with rotation enabled a new refresh
// token is issued, otherwise the presented one is carried forward.
func (s *Server) grantRefreshToken(ctx context.Context, client *storage.Client, req *TokenRequest) (*storage.GrantedToken, *Error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	previous, err := s.stores.Tokens.ConsumeRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if s.Auditor != nil {
				s.Auditor.LogRefreshReuse(client.ClientID, req.IPAddress)
			}
			if s.Metrics != nil {
				s.Metrics.RecordRefreshReuseDetected(ctx)
			}
			return nil, ErrInvalidGrant("refresh token is invalid, expired, or already used")
		}
		s.Logger.Error("Refresh token lookup failed", "error", err)
		return nil, ErrServerError("token request failed")
	}

	if previous.ClientID != client.ClientID {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(previous.Subject, client.ClientID, req.IPAddress, "refresh token issued to a different client")
		}
		return nil, ErrInvalidGrant("refresh token is invalid, expired, or already used")
	}

	// Scope narrowing: the new request may ask for a subset of the
	// original scope, never more.
	originalScopes, _ := parseScope(previous.Scope)
	scopes := originalScopes
	if req.Scope != "" {
		requested, err := parseScope(req.Scope)
		if err != nil {
			return nil, scopeErrorFor(err)
		}
		if !isScopeSubset(requested, originalScopes) {
			return nil, ErrInvalidScope("requested scope exceeds the originally granted scope")
		}
		scopes = requested
	}

	refresh := req.RefreshToken
	if s.Config.AllowRefreshTokenRotation {
		refresh = "" // mintTokens generates a fresh one
	}

	granted, oerr := s.mintTokens(ctx, &mintRequest{
		Client:          client,
		Subject:         previous.Subject,
		Scopes:          scopes,
		GrantType:       GrantTypeRefreshToken,
		IDTokenPayload:  previous.IDTokenPayload,
		UserInfoPayload: previous.UserInfoPayload,
		IncludeAccess:   true,
		IncludeIDToken:  previous.IDToken != "" && hasOpenIDScope(scopes),
		IncludeRefresh:  true,
		RefreshOverride: refresh,
		IPAddress:       req.IPAddress,
	})
	if oerr != nil {
		return nil, oerr
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(previous.Subject, client.ClientID, req.IPAddress)
	}
	if s.Metrics != nil {
		s.Metrics.RecordTokenRefresh(ctx, client.ClientID)
	}
	return granted, nil
}

// grantClientCredentials issues a token for the client itself. No resource
// owner is involved, so no id_token and no refresh token are issued.
func (s *Server) grantClientCredentials(ctx context.Context, client *storage.Client, req *TokenRequest) (*storage.GrantedToken, *Error) {
	scope := req.Scope
	if scope == "" {
		scope = joinScopes(client.AllowedScopes)
	}
	if err := s.validateScopes(scope); err != nil {
		return nil, scopeErrorFor(err)
	}
	if err := s.validateClientScopes(scope, client.AllowedScopes); err != nil {
		return nil, scopeErrorFor(err)
	}
	scopes, _ := parseScope(scope)

	return s.mintTokens(ctx, &mintRequest{
		Client:        client,
		Subject:       client.ClientID,
		Scopes:        scopes,
		GrantType:     GrantTypeClientCredentials,
		IncludeAccess: true,
		IPAddress:     req.IPAddress,
	})
}

// mintRequest is the input to the shared token-construction step every
// grant handler and the inline authorization flows funnel into.
type mintRequest struct {
	Client          *storage.Client
	Subject         string
	Scopes          []string
	GrantType       string
	Nonce           string
	AuthTime        time.Time
	AMR             []string
	IDTokenPayload  *jose.Claims
	UserInfoPayload *jose.Claims
	IncludeAccess   bool
	IncludeIDToken  bool
	IncludeRefresh  bool
	RefreshOverride string // carry an existing refresh token forward (rotation disabled)
	Code            string // adds c_hash to the id_token when set
	IPAddress       string
}

// mintTokens constructs a complete token set: consult the fingerprint
// cache, then mint the access token, sign (and optionally encrypt) the
// id_token with the client's registered algorithms, generate the refresh
// identifier, and persist the set.
func (s *Server) mintTokens(ctx context.Context, req *mintRequest) (*storage.GrantedToken, *Error) {
	scope := joinScopes(req.Scopes)

	// Cache consultation is an optimization; a miss always mints fresh.
	if req.IncludeAccess && req.RefreshOverride == "" {
		if cached := s.GetValidToken(ctx, scope, req.Client.ClientID, req.IDTokenPayload, req.UserInfoPayload); cached != nil {
			return cached, nil
		}
	}

	now := time.Now()
	granted := &storage.GrantedToken{
		TokenType:       "Bearer",
		ExpiresIn:       s.Config.AccessTokenTTL,
		Scope:           scope,
		ClientID:        req.Client.ClientID,
		Subject:         req.Subject,
		Fingerprint:     tokenFingerprint(scope, req.Client.ClientID, req.IDTokenPayload, req.UserInfoPayload),
		IDTokenPayload:  req.IDTokenPayload,
		UserInfoPayload: req.UserInfoPayload,
		CreatedAt:       now,
	}

	if req.IncludeAccess {
		granted.AccessToken = generateRandomToken()
	}
	if req.IncludeRefresh {
		granted.RefreshToken = generateRandomToken()
	}
	if req.RefreshOverride != "" {
		granted.RefreshToken = req.RefreshOverride
	}

	if req.IncludeIDToken {
		idToken, oerr := s.buildIDToken(ctx, req, granted.AccessToken, now)
		if oerr != nil {
			return nil, oerr
		}
		granted.IDToken = idToken
	}

	if granted.AccessToken != "" {
		if err := s.stores.Tokens.SaveGrantedToken(ctx, granted); err != nil {
			s.Logger.Error("Granted token save failed", "error", err)
			return nil, ErrServerError("token request failed")
		}
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(req.Subject, req.Client.ClientID, req.IPAddress, req.GrantType, scope)
	}
	if s.Metrics != nil {
		s.Metrics.RecordTokenIssued(ctx, req.Client.ClientID, req.GrantType)
	}
	s.Logger.Info("Token issued",
		"client_id", req.Client.ClientID,
		"grant_type", req.GrantType,
		"scope", scope,
		"id_token", granted.IDToken != "",
		"refresh_token", granted.RefreshToken != "")

	return granted, nil
}

// buildIDToken assembles, signs, and optionally encrypts the id_token per
// the client's registered algorithm preferences.
func (s *Server) buildIDToken(ctx context.Context, req *mintRequest, accessToken string, now time.Time) (string, *Error) {
	alg := jose.SignatureAlgorithm(req.Client.IDTokenSignedResponseAlg)
	if alg == "" {
		alg = jose.SignatureAlgorithm(s.Config.DefaultSigningAlgorithm)
	}
	if alg == "" {
		alg = jose.RS256
	}

	claims := jose.NewClaims()
	if req.IDTokenPayload != nil {
		claims = req.IDTokenPayload.Clone()
	}
	claims.Set(jose.ClaimIssuer, s.Config.Issuer)
	claims.Set(jose.ClaimSubject, req.Subject)
	claims.Set(jose.ClaimAudience, req.Client.ClientID)
	claims.Set(jose.ClaimAuthorizedParty, req.Client.ClientID)
	claims.Set(jose.ClaimExpirationTime, now.Add(time.Duration(s.Config.AccessTokenTTL)*time.Second).Unix())
	claims.Set(jose.ClaimIssuedAt, now.Unix())
	if req.Nonce != "" {
		claims.Set(jose.ClaimNonce, req.Nonce)
	}
	if !req.AuthTime.IsZero() {
		claims.Set(jose.ClaimAuthTime, req.AuthTime.Unix())
	}
	if len(req.AMR) > 0 {
		claims.Set(jose.ClaimAMR, req.AMR)
	}
	if accessToken != "" {
		hash, err := jose.TokenHash(alg, accessToken)
		if err != nil {
			return "", ErrServerError("token request failed")
		}
		claims.Set(jose.ClaimAtHash, hash)
	}
	if req.Code != "" {
		hash, err := jose.TokenHash(alg, req.Code)
		if err != nil {
			return "", ErrServerError("token request failed")
		}
		claims.Set(jose.ClaimCHash, hash)
	}

	key, oerr := s.signingKeyFor(req.Client, alg)
	if oerr != nil {
		return "", oerr
	}

	start := time.Now()
	idToken, err := jose.Sign(claims, key)
	if err != nil {
		s.Logger.Error("id_token signing failed", "error", err, "alg", string(alg))
		return "", ErrServerError("token request failed")
	}
	if s.Metrics != nil {
		s.Metrics.RecordSignOperation(ctx, string(alg), float64(time.Since(start).Milliseconds()))
	}

	if req.Client.IDTokenEncryptedResponseAlg == "" {
		return idToken, nil
	}
	return s.encryptIDToken(ctx, req.Client, idToken)
}

// signingKeyFor resolves the signing key: server keys for RSA-family
// algorithms, the client's shared secret for the HMAC family.
func (s *Server) signingKeyFor(client *storage.Client, alg jose.SignatureAlgorithm) (*jose.SigningKey, *Error) {
	switch alg {
	case jose.HS256, jose.HS384, jose.HS512:
		for _, secret := range client.Secrets {
			if secret.Type == storage.SecretTypeShared {
				return &jose.SigningKey{Algorithm: alg, Secret: []byte(secret.Value)}, nil
			}
		}
		return nil, ErrServerError("client has no shared secret for HMAC signing")
	default:
		key, err := s.keySet.SigningKey(alg)
		if err != nil {
			s.Logger.Error("Signing key resolution failed", "error", err, "alg", string(alg))
			return nil, ErrServerError("token request failed")
		}
		return key, nil
	}
}

// encryptIDToken wraps a signed id_token in a JWE addressed to the client's
// registered encryption key.
func (s *Server) encryptIDToken(ctx context.Context, client *storage.Client, idToken string) (string, *Error) {
	enc := jose.ContentEncryption(client.IDTokenEncryptedResponseEnc)
	if enc == "" {
		enc = jose.A128CBCHS256
	}

	key, err := clientEncryptionKey(client)
	if err != nil {
		s.Logger.Error("Client encryption key resolution failed", "error", err, "client_id", client.ClientID)
		return "", ErrServerError("token request failed")
	}

	start := time.Now()
	jwe, err := jose.Encrypt([]byte(idToken), enc, key)
	if err != nil {
		s.Logger.Error("id_token encryption failed", "error", err)
		return "", ErrServerError("token request failed")
	}
	if s.Metrics != nil {
		s.Metrics.RecordEncryptOperation(ctx, string(enc), float64(time.Since(start).Milliseconds()))
	}
	return jwe, nil
}

// clientEncryptionKey selects the client's published encryption key for its
// registered key management algorithm.
func clientEncryptionKey(client *storage.Client) (*jose.EncryptionKey, error) {
	alg := jose.KeyAlgorithm(client.IDTokenEncryptedResponseAlg)
	if !jose.IsKeyAlgorithm(string(alg)) {
		return nil, errors.New("unsupported encryption algorithm: " + string(alg))
	}

	if client.JSONWebKeys == nil {
		return nil, errors.New("client registered an encryption algorithm but published no keys")
	}
	for _, jwk := range client.JSONWebKeys.Keys {
		if jwk.Use != "" && jwk.Use != "enc" {
			continue
		}
		if pub, ok := jwk.Key.(*rsa.PublicKey); ok {
			return &jose.EncryptionKey{ID: jwk.KeyID, Algorithm: alg, RSA: pub}, nil
		}
	}
	return nil, errors.New("no usable encryption key in client JWKs")
}

// buildOwnerPayloads snapshots the resource owner's claims at authorization
// time so later minting reproduces exactly what was consented to. The
// id_token payload carries the authentication context; the userinfo payload
// carries the scope-selected profile claims.
func (s *Server) buildOwnerPayloads(ctx context.Context, subject string, scopes []string, nonce string, authTime time.Time, amr []string) (*jose.Claims, *jose.Claims, error) {
	idPayload := jose.NewClaims()
	idPayload.Set(jose.ClaimSubject, subject)
	if nonce != "" {
		idPayload.Set(jose.ClaimNonce, nonce)
	}
	if !authTime.IsZero() {
		idPayload.Set(jose.ClaimAuthTime, authTime.Unix())
	}
	if len(amr) > 0 {
		idPayload.Set(jose.ClaimAMR, amr)
	}

	uiPayload := jose.NewClaims()
	uiPayload.Set(jose.ClaimSubject, subject)

	owner, err := s.stores.ResourceOwners.GetResourceOwner(ctx, subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return idPayload, uiPayload, nil
		}
		return nil, nil, err
	}

	for _, scope := range scopes {
		for _, claim := range scopeClaims[scope] {
			if v, ok := owner.Claims[claim]; ok {
				uiPayload.Set(claim, v)
			}
		}
	}
	return idPayload, uiPayload, nil
}

// scopeClaims maps standard OIDC scopes to the userinfo claims they unlock
// (OIDC Core section 5.4). Immutable process-wide table.
var scopeClaims = map[string][]string{
	"profile": {
		"name", "family_name", "given_name", "middle_name", "nickname",
		"preferred_username", "profile", "picture", "website", "gender",
		"birthdate", "zoneinfo", "locale", "updated_at",
	},
	"email":   {"email", "email_verified"},
	"phone":   {"phone_number", "phone_number_verified"},
	"address": {"address"},
	"role":    {"role"},
}

// hasOpenIDScope reports whether the scope set requests OIDC semantics.
func hasOpenIDScope(scopes []string) bool {
	for _, scope := range scopes {
		if scope == "openid" {
			return true
		}
	}
	return false
}
