// Package memory provides an in-memory implementation of the storage interfaces.
//
// This package implements ClientStore, ConsentStore, CodeStore, TokenStore,
// ResourceOwnerStore, and AssertionReplayStore using Go's built-in maps with
// mutex protection for thread safety. It is suitable for development, testing,
// and single-instance deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic single-use consumption of authorization codes and refresh tokens
//   - Automatic cleanup of expired codes, tokens, and assertion jtis
//   - Configurable cleanup intervals
//   - id_token encryption at rest via security.Encryptor
//
// For production deployments requiring persistence or multi-instance
// deployments, use the storage/valkey package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	// The store satisfies every storage interface the engine needs
//	srv, _ := server.New(server.Config{...}, store, store, store, store, store, store)
package memory
