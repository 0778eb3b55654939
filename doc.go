// Package oidc provides an embeddable OpenID Connect provider: the HTTP
// endpoints (authorization, token, JWKS, revocation, discovery) on top of
// the authorization and token engine in the server package.
//
// The package is the wiring layer. Protocol semantics live in server;
// JWS/JWE handling in jose; persistence behind the storage interfaces.
// The host application supplies the stores, the key set, and a
// SessionResolver that tells the handler who is logged in; login and
// consent pages remain the host's to render.
//
// Minimal setup:
//
//	store := memory.New()
//	keySet, _ := jose.NewKeySet(jose.KeySetConfig{}, logger)
//	srv, _ := oidc.NewServer(server.Stores{
//		Clients:        store,
//		Codes:          store,
//		Tokens:         store,
//		Consents:       store,
//		ResourceOwners: store,
//		Assertions:     store,
//	}, keySet, &oidc.Config{Issuer: "https://auth.example.com"})
//
//	handler := oidc.NewHandler(srv, sessions, logger)
//	mux := http.NewServeMux()
//	handler.RegisterRoutes(mux)
package oidc
