package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/server"
	"github.com/giantswarm/oidc-engine/storage"
)

const tokenTypeBearer = "Bearer"

// Session describes the authenticated end-user session behind an
// authorization request. AuthTime records when the session was established,
// which drives max_age and prompt=login handling.
type Session struct {
	Subject  string
	AuthTime time.Time
	AMR      []string
}

// SessionResolver resolves the end-user session for an authorization
// request, typically from a session cookie. Returning (nil, nil) means no
// authenticated session exists and the user is sent to the login page.
type SessionResolver interface {
	Resolve(r *http.Request) (*Session, error)
}

// SessionResolverFunc adapts a function to the SessionResolver interface.
type SessionResolverFunc func(r *http.Request) (*Session, error)

// Resolve implements SessionResolver
func (f SessionResolverFunc) Resolve(r *http.Request) (*Session, error) {
	return f(r)
}

// Handler is a thin HTTP adapter for the provider. It parses requests,
// delegates to the engine for all protocol logic, and formats responses
// per the negotiated response mode.
type Handler struct {
	server   *Server
	sessions SessionResolver
	logger   *slog.Logger
	tracer   trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler. sessions may be nil, in which case
// every authorization request is treated as unauthenticated.
func NewHandler(server *Server, sessions SessionResolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		server:   server,
		sessions: sessions,
		logger:   logger,
		tracer:   server.insts.Tracer("http"),
	}
}

// RegisterRoutes registers all provider endpoints on the mux. Paths come
// from EndpointConfig; login and consent pages are the host's to serve.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	e := h.server.endpoints
	mux.Handle(e.Authorization, security.RequestIDMiddleware(http.HandlerFunc(h.ServeAuthorization)))
	mux.Handle(e.Token, security.RequestIDMiddleware(http.HandlerFunc(h.ServeToken)))
	mux.Handle(e.JWKS, security.RequestIDMiddleware(http.HandlerFunc(h.ServeJWKS)))
	mux.Handle(e.Revocation, security.RequestIDMiddleware(http.HandlerFunc(h.ServeTokenRevocation)))
	mux.Handle("/.well-known/openid-configuration", security.RequestIDMiddleware(http.HandlerFunc(h.ServeOpenIDConfiguration)))
}

// formPostPage renders the form_post response mode (OAuth 2.0 Form Post
// Response Mode): an auto-submitting form that delivers the authorization
// response parameters to the client's redirect URI as a POST body.
// All values pass through html/template escaping, so attacker-influenced
// state cannot break out of the attribute context.
const formPostPage = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Submitting authorization response</title>
</head>
<body onload="document.forms[0].submit()">
    <form method="post" action="{{.Action}}">
        {{- range $name, $values := .Params}}{{range $values}}
        <input type="hidden" name="{{$name}}" value="{{.}}">
        {{- end}}{{end}}
        <noscript><button type="submit">Continue</button></noscript>
    </form>
</body>
</html>
`

var formPostTemplate = template.Must(template.New("form_post").Parse(formPostPage))

// ServeAuthorization handles the authorization endpoint (GET and POST per
// OIDC Core section 3.1.2.1). Terminal outcomes are a redirect to the
// client's callback, a redirect to the local login or consent page, or a
// directly rendered error when no validated redirect URI exists yet.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oidc.http.authorization")
	defer span.End()
	r = r.WithContext(ctx)

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, clientIP, "authorization") {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "parse form failed")
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	req, perr := h.parseAuthorizationRequest(r, clientIP)
	if perr != nil {
		h.recordHTTPMetrics("authorization", r.Method, perr.Status, startTime)
		instrumentation.SetSpanError(span, perr.Code)
		h.writeError(w, perr.Code, perr.Description, perr.Status)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
	)

	result, oerr := h.server.engine.Authorize(ctx, req)
	if oerr != nil {
		h.recordHTTPMetrics("authorization", r.Method, oerr.Status, startTime)
		instrumentation.SetSpanError(span, oerr.Code)
		h.writeAuthorizationError(w, r, req, oerr)
		return
	}

	if result.Type == server.RedirectToAction {
		h.recordHTTPMetrics("authorization", r.Method, http.StatusFound, startTime)
		instrumentation.SetSpanSuccess(span)
		h.redirectToAction(w, r, result.Action)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrResponseMode, result.ResponseMode))

	h.recordHTTPMetrics("authorization", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeAuthorizationResult(w, r, result)
}

// parseAuthorizationRequest maps query/form parameters onto the engine's
// request type and resolves the end-user session.
func (h *Handler) parseAuthorizationRequest(r *http.Request, clientIP string) (*server.AuthorizationRequest, *Error) {
	claimNames, err := parseClaimsParameter(r.FormValue("claims"))
	if err != nil {
		return nil, server.ErrInvalidRequest("claims must be a JSON object with userinfo and/or id_token members")
	}

	req := &server.AuthorizationRequest{
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		ResponseType:        r.FormValue("response_type"),
		ResponseMode:        r.FormValue("response_mode"),
		Scope:               r.FormValue("scope"),
		State:               r.FormValue("state"),
		Nonce:               r.FormValue("nonce"),
		Claims:              claimNames,
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
		Prompt:              r.FormValue("prompt"),
		MaxAge:              -1,
		Request:             r.FormValue("request"),
		RequestURI:          r.FormValue("request_uri"),
		IPAddress:           clientIP,
	}

	if raw := r.FormValue("max_age"); raw != "" {
		maxAge, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || maxAge < 0 {
			return nil, server.ErrInvalidRequest("max_age must be a non-negative integer")
		}
		req.MaxAge = maxAge
	}

	if h.sessions != nil {
		session, err := h.sessions.Resolve(r)
		if err != nil {
			h.logger.Error("Session resolution failed", "ip", clientIP, "error", err)
			return nil, server.ErrServerError("Failed to resolve session")
		}
		if session != nil {
			req.Subject = session.Subject
			req.AuthTime = session.AuthTime
			req.AMR = session.AMR
		}
	}

	return req, nil
}

// parseClaimsParameter flattens the claims request parameter into the
// individual claim names it asks for. Per OpenID Connect Core section 5.5
// the value is a JSON object whose userinfo and id_token members map claim
// names to their requirements; only the names matter for consent matching
// and payload assembly, so the requirement objects are discarded. A bare
// space-separated list of names is still accepted for callers that predate
// the JSON form.
func parseClaimsParameter(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.HasPrefix(raw, "{") {
		return strings.Fields(raw), nil
	}

	var envelope struct {
		UserInfo map[string]json.RawMessage `json:"userinfo"`
		IDToken  map[string]json.RawMessage `json:"id_token"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("malformed claims parameter: %w", err)
	}

	seen := make(map[string]struct{}, len(envelope.UserInfo)+len(envelope.IDToken))
	var names []string
	for _, member := range []map[string]json.RawMessage{envelope.UserInfo, envelope.IDToken} {
		for name := range member {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// redirectToAction sends the user to the local login or consent page with
// the original authorization request carried in return_to, so the page can
// resume the flow after the interaction completes.
func (h *Handler) redirectToAction(w http.ResponseWriter, r *http.Request, action server.Action) {
	target := h.server.endpoints.Login
	if action == server.ActionConsent {
		target = h.server.endpoints.Consent
	}

	returnTo := r.URL.Path
	if q := r.URL.RawQuery; q != "" {
		returnTo += "?" + q
	}

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	http.Redirect(w, r, target+"?return_to="+url.QueryEscape(returnTo), http.StatusFound)
}

// writeAuthorizationError delivers an authorization error. Errors carrying
// the request's state were raised after redirect URI validation and are safe
// to send to the client's callback; everything else renders directly so an
// unvalidated URI never becomes an open redirect.
func (h *Handler) writeAuthorizationError(w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest, oerr *Error) {
	if oerr.State == "" || req.RedirectURI == "" {
		h.writeError(w, oerr.Code, oerr.Description, oerr.Status)
		return
	}

	params := url.Values{}
	params.Set("error", oerr.Code)
	if oerr.Description != "" {
		params.Set("error_description", oerr.Description)
	}
	params.Set("state", oerr.State)

	mode := req.ResponseMode
	if mode == "" {
		mode = server.ResponseModeQuery
		if h.tokenBearingResponseType(req.ResponseType) {
			mode = server.ResponseModeFragment
		}
	}

	h.redirectWithParams(w, r, req.RedirectURI, mode, params)
}

// tokenBearingResponseType reports whether the response type would place
// tokens in the response, which forces fragment encoding for errors too.
func (h *Handler) tokenBearingResponseType(responseType string) bool {
	for _, component := range strings.Fields(responseType) {
		if component == server.ResponseTypeToken || component == server.ResponseTypeIDToken {
			return true
		}
	}
	return false
}

// writeAuthorizationResult formats a successful authorization response per
// the negotiated response mode.
func (h *Handler) writeAuthorizationResult(w http.ResponseWriter, r *http.Request, result *server.AuthorizationResult) {
	params := url.Values{}
	if result.Code != "" {
		params.Set("code", result.Code)
	}
	if result.AccessToken != "" {
		params.Set("access_token", result.AccessToken)
		params.Set("token_type", result.TokenType)
		params.Set("expires_in", strconv.FormatInt(result.ExpiresIn, 10))
		if result.Scope != "" {
			params.Set("scope", result.Scope)
		}
	}
	if result.IDToken != "" {
		params.Set("id_token", result.IDToken)
	}
	if result.State != "" {
		params.Set("state", result.State)
	}

	h.redirectWithParams(w, r, result.RedirectURI, result.ResponseMode, params)
}

// redirectWithParams attaches params to the redirect URI per response mode
// and issues the redirect (or renders the form_post page).
func (h *Handler) redirectWithParams(w http.ResponseWriter, r *http.Request, redirectURI, mode string, params url.Values) {
	switch mode {
	case server.ResponseModeFragment:
		security.SetSecurityHeaders(w, h.server.config.Issuer)
		http.Redirect(w, r, redirectURI+"#"+params.Encode(), http.StatusFound)

	case server.ResponseModeFormPost:
		h.serveFormPost(w, redirectURI, params)

	default: // query
		target, err := url.Parse(redirectURI)
		if err != nil {
			// The engine validated this URI; a parse failure here is a bug.
			h.logger.Error("Validated redirect URI failed to parse", "redirect_uri", redirectURI, "error", err)
			h.writeError(w, ErrorCodeServerError, "Invalid redirect URI", http.StatusInternalServerError)
			return
		}
		query := target.Query()
		for name, values := range params {
			for _, value := range values {
				query.Add(name, value)
			}
		}
		target.RawQuery = query.Encode()
		security.SetSecurityHeaders(w, h.server.config.Issuer)
		http.Redirect(w, r, target.String(), http.StatusFound)
	}
}

// serveFormPost renders the auto-submitting form_post page.
func (h *Handler) serveFormPost(w http.ResponseWriter, redirectURI string, params url.Values) {
	security.SetSecurityHeaders(w, h.server.config.Issuer)
	// SECURITY: the page needs its inline submit handler and must be allowed
	// to POST to the client's origin, so the default deny-all policy is
	// relaxed for this response only. Every value is template-escaped.
	w.Header().Set("Content-Security-Policy",
		fmt.Sprintf("default-src 'none'; script-src 'unsafe-inline'; form-action %s; frame-ancestors 'none'", formActionOrigin(redirectURI)))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	data := struct {
		Action string
		Params url.Values
	}{Action: redirectURI, Params: params}

	if err := formPostTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render form_post page", "error", err)
	}
}

// formActionOrigin reduces a redirect URI to its origin for the CSP
// form-action directive.
func formActionOrigin(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Scheme == "" {
		return "'none'"
	}
	if u.Host == "" {
		// Custom schemes (native apps) have no host component.
		return u.Scheme + ":"
	}
	return u.Scheme + "://" + u.Host
}

// ServeToken handles the token endpoint (RFC 6749 section 3.2). The client
// is authenticated first; grant dispatch and all grant semantics live in
// the engine.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oidc.http.token_exchange")
	defer span.End()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, clientIP, "token") {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "parse form failed")
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	grantType := r.PostFormValue("grant_type")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantType))

	client, oerr := h.server.engine.AuthenticateClient(ctx, h.extractClientCredentials(r, clientIP))
	if oerr != nil {
		h.recordHTTPMetrics("token", http.MethodPost, oerr.Status, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeOAuthError(w, oerr)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientAuthMethod, client.TokenEndpointAuthMethod),
	)

	token, oerr := h.server.engine.Grant(ctx, client, &server.TokenRequest{
		GrantType:    grantType,
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		Scope:        r.PostFormValue("scope"),
		IPAddress:    clientIP,
	})
	if oerr != nil {
		h.recordHTTPMetrics("token", http.MethodPost, oerr.Status, startTime)
		instrumentation.SetSpanError(span, oerr.Code)
		h.writeOAuthError(w, oerr)
		return
	}

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token)
}

// extractClientCredentials pulls client credentials out of a token or
// revocation request: Basic header, form body secret, or a client
// assertion. The presentation method travels with the credentials so the
// engine can enforce the client's registered method.
func (h *Handler) extractClientCredentials(r *http.Request, clientIP string) *server.ClientCredentials {
	creds := &server.ClientCredentials{
		ClientID:            r.PostFormValue("client_id"),
		ClientAssertionType: r.PostFormValue("client_assertion_type"),
		ClientAssertion:     r.PostFormValue("client_assertion"),
		IPAddress:           clientIP,
	}

	if id, secret, ok := r.BasicAuth(); ok {
		creds.ClientID = id
		creds.ClientSecret = secret
		creds.Method = server.AuthMethodSecretBasic
		return creds
	}

	if secret := r.PostFormValue("client_secret"); secret != "" {
		creds.ClientSecret = secret
		creds.Method = server.AuthMethodSecretPost
		return creds
	}

	if creds.ClientAssertion != "" {
		// Assertion methods are resolved from the client's registration.
		return creds
	}

	creds.Method = server.AuthMethodNone
	return creds
}

// ServeTokenRevocation handles the RFC 7009 token revocation endpoint.
// Revocation of an unknown or foreign token still returns 200 so the
// endpoint cannot be used to probe token validity.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oidc.http.token_revocation")
	defer span.End()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, clientIP, "revocation") {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "parse form failed")
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	client, oerr := h.server.engine.AuthenticateClient(ctx, h.extractClientCredentials(r, clientIP))
	if oerr != nil {
		h.recordHTTPMetrics("revoke", http.MethodPost, oerr.Status, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeOAuthError(w, oerr)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ClientID))

	token := r.PostFormValue("token")
	hint := r.PostFormValue("token_type_hint")
	if err := h.server.engine.RevokeToken(ctx, client, token, hint, clientIP); err != nil {
		// RFC 7009 section 2.2: the client cannot act on a failure, so the
		// response stays 200 and the error goes to logs only.
		h.logger.Error("Token revocation failed", "client_id", client.ClientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
	}

	h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	security.SetSecurityHeaders(w, h.server.config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ServeJWKS handles the key set endpoint. GET returns the public JWKS for
// token verification; PUT rotates the signing key and reports whether the
// rotation took effect.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oidc.http.jwks")
	defer span.End()

	switch r.Method {
	case http.MethodGet:
		h.recordHTTPMetrics("jwks", http.MethodGet, http.StatusOK, startTime)
		instrumentation.SetSpanSuccess(span)
		security.SetSecurityHeaders(w, h.server.config.Issuer)
		// Keys are public and verifiers poll this endpoint; let them cache.
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.server.engine.KeySet().PublicJWKS())

	case http.MethodPut:
		rotated := true
		if err := h.server.RotateKeys(ctx); err != nil {
			h.logger.Error("Key rotation failed", "error", err)
			instrumentation.RecordError(span, err)
			rotated = false
		}
		status := http.StatusOK
		if !rotated {
			status = http.StatusInternalServerError
		}
		h.recordHTTPMetrics("jwks", http.MethodPut, status, startTime)
		instrumentation.SetSpanSuccess(span)
		security.SetSecurityHeaders(w, h.server.config.Issuer)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(rotated)

	default:
		h.recordHTTPMetrics("jwks", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ServeOpenIDConfiguration serves the OpenID Provider discovery document.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("discovery", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.recordHTTPMetrics("discovery", http.MethodGet, http.StatusOK, startTime)
	security.SetSecurityHeaders(w, h.server.config.Issuer)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.buildDiscoveryMetadata())
}

// buildDiscoveryMetadata assembles the discovery document from the static
// configuration. Everything listed here is implemented by this provider.
func (h *Handler) buildDiscoveryMetadata() *DiscoveryMetadata {
	issuer := h.server.config.Issuer
	e := h.server.endpoints

	return &DiscoveryMetadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + e.Authorization,
		TokenEndpoint:         issuer + e.Token,
		JWKSURI:               issuer + e.JWKS,
		RevocationEndpoint:    issuer + e.Revocation,
		ScopesSupported:       h.server.config.SupportedScopes,
		ResponseTypesSupported: []string{
			"code", "token", "id_token", "none",
			"code id_token", "code token", "id_token token", "code id_token token",
		},
		ResponseModesSupported: []string{"query", "fragment", "form_post"},
		GrantTypesSupported: []string{
			server.GrantTypeAuthorizationCode,
			server.GrantTypeRefreshToken,
			server.GrantTypeClientCredentials,
			server.GrantTypePassword,
		},
		SubjectTypesSupported: []string{"public"},
		// The server's key set signs with RSA keys; HMAC works off the
		// client's shared secret. ES is deliberately absent: the key set
		// generates no EC keys, so advertising it would break clients that
		// register for an algorithm no id_token can ever carry.
		IDTokenSigningAlgValuesSupported: []string{
			"RS256", "RS384", "RS512", "PS256", "PS384", "PS512",
			"HS256", "HS384", "HS512",
		},
		IDTokenEncryptionAlgValuesSupported: []string{"RSA-OAEP", "RSA-OAEP-256", "A128KW", "A192KW", "A256KW"},
		IDTokenEncryptionEncValuesSupported: []string{"A128CBC-HS256", "A192CBC-HS384", "A256CBC-HS512"},
		TokenEndpointAuthMethodsSupported: []string{
			server.AuthMethodSecretBasic,
			server.AuthMethodSecretPost,
			server.AuthMethodSecretJWT,
			server.AuthMethodPrivateKeyJWT,
			server.AuthMethodNone,
		},
		TokenEndpointAuthSigningAlgValuesSupported: []string{
			"RS256", "RS384", "RS512", "PS256", "PS384", "PS512",
			"ES256", "ES384", "ES512", "HS256", "HS384", "HS512",
		},
		CodeChallengeMethodsSupported: h.codeChallengeMethods(),
		ClaimsParameterSupported:      true,
		RequestParameterSupported:     true,
		RequestURIParameterSupported:  true,
	}
}

func (h *Handler) codeChallengeMethods() []string {
	if h.server.config.Security.AllowPKCEPlain {
		return []string{"S256", "plain"}
	}
	return []string{"S256"}
}

// clientIP extracts the client IP honoring the proxy trust configuration.
func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.config.RateLimit.TrustProxy, h.server.config.RateLimit.TrustedProxyCount)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, clientIP, endpoint string) bool {
	if h.server.rateLimiter == nil || h.server.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.server.insts.Metrics().RecordRateLimitExceeded(context.Background(), "ip")
	// The event limiter keeps a probe flood from drowning the audit log.
	if h.server.eventLimit == nil || h.server.eventLimit.Allow(clientIP) {
		h.server.auditor.LogRateLimitExceeded(clientIP, "")
	}
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// writeTokenResponse writes a successful token endpoint response.
func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *storage.GrantedToken) {
	security.SetSecurityHeaders(w, h.server.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
		RefreshToken: token.RefreshToken,
		IDToken:      token.IDToken,
		Scope:        token.Scope,
	})
}

// writeOAuthError writes a typed engine error as a JSON error response.
func (h *Handler) writeOAuthError(w http.ResponseWriter, oerr *Error) {
	h.writeError(w, oerr.Code, oerr.Description, oerr.Status)
}

// writeError writes an OAuth error JSON response (RFC 6749 section 5.2).
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.config.Issuer)

	if status == http.StatusUnauthorized {
		// RFC 6749 section 5.2: 401 responses to requests that may have
		// used the Authorization header carry a matching challenge.
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	durationMs := float64(time.Since(startTime)) / float64(time.Millisecond)
	h.server.insts.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, durationMs)
}
