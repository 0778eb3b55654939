// Package server implements the core authorization and token engine.
//
// This package provides the OpenID Connect / OAuth 2.0 authorization server
// implementation: the authorization processor (code, implicit, and hybrid
// response types), the client authenticator (shared secrets and signed JWT
// assertions), the consent resolver, and the token grant dispatcher for the
// authorization_code, password, refresh_token, and client_credentials
// grants. Tokens are signed and optionally encrypted through the jose
// package, and all state lives behind the storage interfaces.
//
// The Server type delegates to specialized modules:
//   - Token signing and encryption (jose package)
//   - Client, code, token, and consent storage (storage package)
//   - Security features (security package)
//
// Key Features:
//   - PKCE with S256 (plain only when explicitly enabled)
//   - Single-use authorization codes with atomic redemption
//   - Refresh token rotation with reuse detection
//   - Client assertion (private_key_jwt / client_secret_jwt) replay tracking
//   - Exact-set consent matching
//   - Comprehensive security auditing
//   - Token encryption at rest
//
// Example usage:
//
//	store := memory.NewStore()
//	keySet, err := jose.NewKeySet(jose.KeySetConfig{}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	config := &server.Config{
//	    Issuer: "https://auth.example.com",
//	}
//
//	srv, err := server.New(server.Stores{
//	    Clients:        store,
//	    Codes:          store,
//	    Tokens:         store,
//	    Consents:       store,
//	    ResourceOwners: store,
//	    Assertions:     store,
//	}, keySet, config, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
