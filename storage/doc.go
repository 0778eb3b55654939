// Package storage provides interfaces and shared types for identity-provider persistence.
//
// The storage package defines the repository interfaces the authorization and
// token engine depends on:
//   - ClientStore: registered OAuth/OIDC clients
//   - ConsentStore: resource-owner consent records
//   - CodeStore: authorization codes (atomic single-use consumption)
//   - TokenStore: granted token sets with fingerprint lookup
//   - ResourceOwnerStore: resource-owner records for the password grant
//   - AssertionReplayStore: client-assertion jti replay tracking
//
// Backends provide their own internal consistency; the engine treats each
// call as an atomic request/response boundary and never holds locks across
// them. The single-use guarantees (authorization codes, refresh-token
// rotation) are delegated to the store's atomic consume operations.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
