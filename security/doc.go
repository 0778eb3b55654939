// Package security carries the cross-cutting protections the authorization
// and token endpoints depend on: per-IP rate limiting, at-rest encryption of
// token material, security audit logging, response header hardening, client
// IP resolution behind proxies, and request ID correlation.
//
// # Rate limiting
//
// RateLimiter keys a token bucket per identifier (normally the client IP).
// Because identifiers are attacker-controlled, the tracked set is bounded:
// the least recently seen bucket is evicted at capacity, and a background
// sweep reclaims buckets idle for half an hour.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
//	    return
//	}
//
// # Encryption at rest
//
// Encryptor seals token values with AES-256-GCM before they reach a storage
// backend. Built with an empty key it degrades to a pass-through, so storage
// code is indifferent to whether encryption is configured.
//
// # Audit logging
//
// Auditor emits structured security events (token issuance, code reuse,
// authentication failures, key rotation) on a dedicated logger so they can
// be routed to a SIEM separately from operational logs.
package security
