// Package valkey provides a Valkey storage backend for the oidc-engine library.
//
// Valkey is a high-performance key-value store that is wire-compatible with Redis.
// This package implements all storage interfaces required by the oidc-engine
// library, making it suitable for production deployments that require:
//
//   - Distributed storage for horizontal scaling
//   - Persistence across server restarts
//   - Automatic TTL-based expiration
//   - High availability with clustering
//
// # Implemented Interfaces
//
// The Store type implements all required storage interfaces:
//
//   - [storage.ClientStore]: Registered client management
//   - [storage.ConsentStore]: Resource owner consent records
//   - [storage.CodeStore]: Single-use authorization codes
//   - [storage.TokenStore]: Granted token sets with refresh and fingerprint indexes
//   - [storage.ResourceOwnerStore]: End-user records for the password grant
//   - [storage.AssertionReplayStore]: Client-assertion jti replay protection
//
// # Key Schema
//
// All keys use a configurable prefix (default "oidc:") to avoid conflicts with
// other applications sharing the same Valkey instance:
//
//	{prefix}client:{clientID}          -> JSON(Client)
//	{prefix}consent:{id}               -> JSON(Consent)
//	{prefix}consent:subject:{subject}  -> SET of consent IDs
//	{prefix}code:{code}                -> JSON(AuthorizationCode) (with TTL)
//	{prefix}token:{accessToken}        -> JSON(GrantedToken) (with TTL)
//	{prefix}refresh:{refreshToken}     -> accessToken (with TTL)
//	{prefix}fp:{fingerprint}           -> accessToken (with TTL)
//	{prefix}owner:{subject}            -> JSON(ResourceOwner)
//	{prefix}owner:username:{username}  -> subject (for reverse lookup)
//	{prefix}assertion:{jti}            -> "1" (SET NX, with TTL)
//
// # Atomic Operations
//
// Certain operations must be atomic to prevent security issues:
//
//   - ConsumeAuthorizationCode uses GETDEL, preventing code replay attacks
//   - ConsumeRefreshToken uses a Lua script, preventing refresh token reuse
//   - RegisterAssertion uses SET NX, preventing client-assertion replay
//
// These provide the same guarantees as the in-memory implementation but with
// distributed storage benefits.
//
// # Configuration
//
// Basic usage:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oidc:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "valkey.example.com:6379",
//	    Password:  os.Getenv("VALKEY_PASSWORD"),
//	    TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
//	    KeyPrefix: "oidc:",
//	})
//
// # Security Considerations
//
//   - Codes, tokens, and assertion jtis are stored with TTLs to prevent unbounded growth
//   - Lua scripts and single-command operations ensure atomicity for security-critical flows
//   - TLS support enables encrypted connections to Valkey servers
//   - Optional id_token encryption at rest via SetEncryptor() using AES-256-GCM
//   - Input size validation prevents DoS attacks via oversized payloads
//   - Generic error messages prevent information leakage
//
// # Token Encryption at Rest
//
// The id_token of each granted token set carries resource owner PII and can
// be encrypted before storing in Valkey:
//
//	key, _ := security.GenerateKey()
//	encryptor, _ := security.NewEncryptor(key)
//	store.SetEncryptor(encryptor)
//
// When enabled, id_tokens are encrypted with AES-256-GCM before storage and
// automatically decrypted when retrieved.
//
// # Best Practices
//
//   - Always use TLS in production environments
//   - Set strong passwords for Valkey authentication
//   - Enable id_token encryption at rest for sensitive deployments
//   - Use dedicated Valkey instances or databases for token storage
//   - Monitor key count and memory usage for potential DoS attacks
//   - Configure the refresh retention window to match your session policy
package valkey
