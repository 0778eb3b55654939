package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/giantswarm/oidc-engine/storage"
)

// Response type components (RFC 6749 section 3.1.1, OIDC Core section 3).
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
	ResponseTypeNone    = "none"
)

// Response modes (OAuth 2.0 Multiple Response Type Encoding Practices).
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// Prompt values (OIDC Core section 3.1.2.1).
const (
	PromptNone    = "none"
	PromptLogin   = "login"
	PromptConsent = "consent"
)

// AuthorizationRequest carries a parsed authorization endpoint request plus
// the session context the hosting application resolved for it. Session
// management is the host's concern: Subject is empty when no resource owner
// is authenticated, and AuthTime records when the current session began.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	ResponseMode        string
	Scope               string
	State               string
	Nonce               string
	Claims              []string // individual id_token/userinfo claims, when requested
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
	MaxAge              int64 // seconds; negative when absent

	// Request carries a request object JWT (OIDC Core section 6.1);
	// RequestURI references one by URL (section 6.2). At most one may be
	// set, and its parameters supersede the matching query parameters.
	Request    string
	RequestURI string

	Subject   string
	AuthTime  time.Time
	AMR       []string
	IPAddress string
}

// ResultType distinguishes the two terminal outcomes of authorization
// processing: a redirect back to the client's callback, or a redirect to a
// local interaction page (login or consent).
type ResultType int

const (
	// RedirectToCallback delivers parameters to the client's redirect URI
	RedirectToCallback ResultType = iota
	// RedirectToAction sends the resource owner to a local interaction page
	RedirectToAction
)

// Action names the local interaction page a RedirectToAction result targets.
type Action string

const (
	// ActionAuthenticate requires the resource owner to (re-)authenticate
	ActionAuthenticate Action = "authenticate"
	// ActionConsent requires the resource owner to approve the request
	ActionConsent Action = "consent"
)

// AuthorizationResult is the outcome of a successfully processed
// authorization request. For RedirectToCallback results the response mode
// decides how the parameters are attached to the redirect URI; that
// formatting happens at the HTTP boundary, never here.
type AuthorizationResult struct {
	Type   ResultType
	Action Action

	RedirectURI  string
	ResponseMode string
	State        string

	// Callback parameters, populated per response type.
	Code        string
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	IDToken     string
	Scope       string
}

// Authorize processes an authorization request through its full state
// machine: request validation, authentication check, consent resolution,
// and response construction per response type.
//
// Errors returned before the redirect URI is validated carry no State and
// must be rendered directly to the user agent; once the redirect URI is
// known-good, errors carry the request's state and are safe to deliver via
// redirect.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest) (*AuthorizationResult, *Error) {
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.stores.Clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidRequest("unknown client")
		}
		s.Logger.Error("Client lookup failed", "error", err)
		return nil, ErrServerError("client lookup failed")
	}

	// Request objects may carry the redirect URI and response type, so they
	// resolve before anything else is validated. Errors here are therefore
	// never redirect-safe.
	if oerr := s.resolveRequestObject(ctx, client, req); oerr != nil {
		return nil, oerr
	}

	redirectURI, oerr := s.resolveRedirectURI(client, req.RedirectURI)
	if oerr != nil {
		if s.Auditor != nil {
			s.Auditor.LogInvalidRedirect(client.ClientID, req.IPAddress, req.RedirectURI, oerr.Description)
		}
		return nil, oerr
	}

	// The redirect URI is validated; everything below is redirect-safe and
	// carries the client's state.

	components, oerr := parseResponseType(req.ResponseType)
	if oerr != nil {
		return nil, oerr.WithState(req.State)
	}
	if !client.SupportsResponseType(req.ResponseType) {
		return nil, ErrUnauthorizedClient("client is not registered for the requested response type").WithState(req.State)
	}

	mode, oerr := resolveResponseMode(req.ResponseMode, components)
	if oerr != nil {
		return nil, oerr.WithState(req.State)
	}

	if err := s.validateScopes(req.Scope); err != nil {
		return nil, scopeErrorFor(err).WithState(req.State)
	}
	if err := s.validateClientScopes(req.Scope, client.AllowedScopes); err != nil {
		return nil, scopeErrorFor(err).WithState(req.State)
	}
	scopes, _ := parseScope(req.Scope)

	if components[ResponseTypeCode] {
		if oerr := s.validateCodeChallenge(ctx, client, req); oerr != nil {
			return nil, oerr.WithState(req.State)
		}
	}

	// OIDC requires a nonce whenever an id_token is issued directly from
	// the authorization endpoint.
	if components[ResponseTypeIDToken] && req.Nonce == "" {
		return nil, ErrInvalidRequest("nonce is required for implicit and hybrid flows").WithState(req.State)
	}

	prompts, oerr := parsePrompt(req.Prompt)
	if oerr != nil {
		return nil, oerr.WithState(req.State)
	}

	if s.Metrics != nil {
		s.Metrics.RecordAuthorizationRequest(ctx, client.ClientID, req.ResponseType)
	}

	// Authentication state.
	if req.Subject == "" || prompts[PromptLogin] || maxAgeExceeded(req) {
		if prompts[PromptNone] {
			return nil, ErrLoginRequired("resource owner authentication is required").WithState(req.State)
		}
		return &AuthorizationResult{
			Type:   RedirectToAction,
			Action: ActionAuthenticate,
			State:  req.State,
		}, nil
	}

	// Consent state. prompt=consent forces a fresh approval even when an
	// exact match exists.
	consented := false
	if !prompts[PromptConsent] {
		consented, err = s.HasConsent(ctx, client.ClientID, req.Subject, scopes, req.Claims)
		if err != nil {
			s.Logger.Error("Consent lookup failed", "error", err)
			return nil, ErrServerError("consent lookup failed").WithState(req.State)
		}
	}
	if !consented {
		if prompts[PromptNone] {
			return nil, ErrConsentRequired("resource owner consent is required").WithState(req.State)
		}
		return &AuthorizationResult{
			Type:   RedirectToAction,
			Action: ActionConsent,
			State:  req.State,
		}, nil
	}

	return s.issueAuthorizationResponse(ctx, client, req, components, mode, redirectURI, scopes)
}

// issueAuthorizationResponse builds the terminal callback redirect: an
// authorization code, inline tokens, or both for hybrid response types.
func (s *Server) issueAuthorizationResponse(ctx context.Context, client *storage.Client, req *AuthorizationRequest, components map[string]bool, mode, redirectURI string, scopes []string) (*AuthorizationResult, *Error) {
	result := &AuthorizationResult{
		Type:         RedirectToCallback,
		RedirectURI:  redirectURI,
		ResponseMode: mode,
		State:        req.State,
	}

	if components[ResponseTypeNone] {
		return result, nil
	}

	idPayload, uiPayload, err := s.buildOwnerPayloads(ctx, req.Subject, scopes, req.Nonce, req.AuthTime, req.AMR)
	if err != nil {
		s.Logger.Error("Resource owner payload build failed", "error", err)
		return nil, ErrServerError("authorization failed").WithState(req.State)
	}

	if components[ResponseTypeCode] {
		code := generateRandomToken()
		now := time.Now()
		authCode := &storage.AuthorizationCode{
			Code:                code,
			ClientID:            client.ClientID,
			RedirectURI:         req.RedirectURI,
			Scope:               joinScopes(scopes),
			Subject:             req.Subject,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			IDTokenPayload:      idPayload,
			UserInfoPayload:     uiPayload,
			CreatedAt:           now,
			ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
		}
		if err := s.stores.Codes.SaveAuthorizationCode(ctx, authCode); err != nil {
			s.Logger.Error("Authorization code save failed", "error", err)
			return nil, ErrServerError("authorization failed").WithState(req.State)
		}
		result.Code = code
	}

	if components[ResponseTypeToken] || components[ResponseTypeIDToken] {
		granted, oerr := s.mintTokens(ctx, &mintRequest{
			Client:          client,
			Subject:         req.Subject,
			Scopes:          scopes,
			GrantType:       "implicit",
			Nonce:           req.Nonce,
			AuthTime:        req.AuthTime,
			AMR:             req.AMR,
			IDTokenPayload:  idPayload,
			UserInfoPayload: uiPayload,
			IncludeAccess:   components[ResponseTypeToken],
			IncludeIDToken:  components[ResponseTypeIDToken],
			Code:            result.Code,
			IPAddress:       req.IPAddress,
		})
		if oerr != nil {
			return nil, oerr.WithState(req.State)
		}
		if components[ResponseTypeToken] {
			result.AccessToken = granted.AccessToken
			result.TokenType = granted.TokenType
			result.ExpiresIn = granted.ExpiresIn
			result.Scope = granted.Scope
		}
		result.IDToken = granted.IDToken
	}

	return result, nil
}

// resolveRedirectURI validates the requested redirect URI against the
// client's registration. An absent redirect URI is accepted only when the
// client has registered exactly one.
func (s *Server) resolveRedirectURI(client *storage.Client, redirectURI string) (string, *Error) {
	if redirectURI == "" {
		if len(client.RedirectURIs) == 1 {
			redirectURI = client.RedirectURIs[0]
		} else {
			return "", ErrInvalidRequest("redirect_uri is required")
		}
	}
	if err := s.validateRedirectURI(client, redirectURI); err != nil {
		return "", ErrInvalidRedirectURI(err.Error())
	}
	return redirectURI, nil
}

// parseResponseType splits and validates the space-separated response type.
func parseResponseType(responseType string) (map[string]bool, *Error) {
	if responseType == "" {
		return nil, ErrInvalidRequest("response_type is required")
	}
	components := make(map[string]bool)
	for _, component := range strings.Fields(responseType) {
		switch component {
		case ResponseTypeCode, ResponseTypeToken, ResponseTypeIDToken, ResponseTypeNone:
		default:
			return nil, ErrInvalidRequest("unsupported response_type: " + component)
		}
		if components[component] {
			return nil, ErrInvalidRequest("duplicate response_type component: " + component)
		}
		components[component] = true
	}
	if components[ResponseTypeNone] && len(components) > 1 {
		return nil, ErrInvalidRequest("response_type none cannot be combined")
	}
	return components, nil
}

// resolveResponseMode applies the default response mode for the response
// type and rejects incompatible explicit choices. Token-bearing responses
// must never travel in a query string.
func resolveResponseMode(mode string, components map[string]bool) (string, *Error) {
	tokenBearing := components[ResponseTypeToken] || components[ResponseTypeIDToken]

	switch mode {
	case "":
		if tokenBearing {
			return ResponseModeFragment, nil
		}
		return ResponseModeQuery, nil
	case ResponseModeQuery:
		if tokenBearing {
			return "", ErrInvalidRequest("response_mode=query is not allowed for token-bearing response types")
		}
		return mode, nil
	case ResponseModeFragment, ResponseModeFormPost:
		return mode, nil
	default:
		return "", ErrInvalidRequest("unsupported response_mode: " + mode)
	}
}

// parsePrompt splits the prompt parameter; none is exclusive with the
// interactive values per OIDC Core.
func parsePrompt(prompt string) (map[string]bool, *Error) {
	prompts := make(map[string]bool)
	for _, p := range strings.Fields(prompt) {
		prompts[p] = true
	}
	if prompts[PromptNone] && len(prompts) > 1 {
		return nil, ErrInvalidRequest("prompt=none cannot be combined with other prompt values")
	}
	return prompts, nil
}

// maxAgeExceeded reports whether the session is older than the request's
// max_age and a re-authentication is needed.
func maxAgeExceeded(req *AuthorizationRequest) bool {
	if req.MaxAge < 0 || req.AuthTime.IsZero() {
		return false
	}
	return time.Since(req.AuthTime) > time.Duration(req.MaxAge)*time.Second
}

// validateCodeChallenge enforces the PKCE policy at authorization time:
// public clients always need a challenge, as do clients registered with
// RequirePKCE. A presented challenge must be well-formed regardless.
func (s *Server) validateCodeChallenge(ctx context.Context, client *storage.Client, req *AuthorizationRequest) *Error {
	required := client.RequirePKCE ||
		(s.Config.RequirePKCE && client.TokenEndpointAuthMethod == AuthMethodNone)

	if req.CodeChallenge == "" {
		if required {
			if s.Metrics != nil {
				s.Metrics.RecordPKCEValidationFailed(ctx, req.CodeChallengeMethod)
			}
			return ErrInvalidRequest("code_challenge is required for this client")
		}
		return nil
	}

	if len(req.CodeChallenge) < MinCodeVerifierLength || len(req.CodeChallenge) > MaxCodeVerifierLength {
		return ErrInvalidRequest("code_challenge length is out of range (RFC 7636)")
	}

	switch req.CodeChallengeMethod {
	case PKCEMethodS256:
		return nil
	case PKCEMethodPlain, "":
		// RFC 7636: absent method means plain.
		if !s.Config.AllowPKCEPlain {
			return ErrInvalidRequest("plain code_challenge_method is not allowed")
		}
		return nil
	default:
		return ErrInvalidRequest("unsupported code_challenge_method: " + req.CodeChallengeMethod)
	}
}

// scopeErrorFor maps scope validation failures onto the error vocabulary:
// duplicates are a malformed request, everything else is invalid_scope.
func scopeErrorFor(err error) *Error {
	if strings.HasPrefix(err.Error(), "duplicate scope") {
		return ErrInvalidRequest(err.Error())
	}
	return ErrInvalidScope(err.Error())
}
