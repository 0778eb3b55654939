// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the oidc-engine library.
//
// This package enables comprehensive observability across all library layers through:
// - Metrics: Counters, histograms, and gauges for monitoring protocol operations
// - Traces: Distributed tracing for request flows across components
// - Logging: Structured logs with trace context integration
//
// # Quick Start
//
// Enable basic instrumentation (development):
//
//	import "github.com/giantswarm/oidc-engine/instrumentation"
//
//	// Initialize instrumentation
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-identity-provider",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	// Pass to server configuration
//	server.SetInstrumentation(inst)
//
// # Available Metrics
//
// HTTP Layer:
//   - oidc.http.requests.total{method, endpoint, status} - Total HTTP requests
//   - oidc.http.request.duration{endpoint} - Request duration in milliseconds
//
// Authorization and Token Flows:
//   - oidc.authorization.requests{client_id, response_type} - Authorization requests processed
//   - oidc.tokens.issued{client_id, grant_type} - Token responses issued
//   - oidc.token.refreshed{client_id} - Refresh token rotations
//   - oidc.token.revoked{client_id} - Tokens revoked
//   - oidc.grant.errors{grant_type, error_code} - Failed grant attempts
//   - oidc.consent.granted{client_id} - Consent decisions stored
//
// Security:
//   - oidc.rate_limit.exceeded{limiter_type} - Rate limit violations
//   - oidc.pkce.validation_failed{method} - PKCE validation failures
//   - oidc.code.reuse_detected - Authorization code replay attempts
//   - oidc.refresh.reuse_detected - Refresh token replay attempts
//   - oidc.client_auth.failed{method} - Client authentication failures
//   - oidc.assertion.replay_detected - Client assertion JTI replays
//
// Token Format (signing and encryption):
//   - oidc.jose.sign.operations{algorithm} - Signing operations
//   - oidc.jose.sign.duration{algorithm} - Signing duration in milliseconds
//   - oidc.jose.encrypt.operations{algorithm} - Encryption operations
//   - oidc.jose.encrypt.duration{algorithm} - Encryption duration in milliseconds
//   - oidc.jose.key.rotations - Signing key rotations
//
// Storage:
//   - storage.operation.total{operation, result} - Storage operations
//   - storage.operation.duration{operation} - Operation duration in milliseconds
//   - storage.size.clients - Registered clients in storage
//   - storage.size.codes - Pending authorization codes
//   - storage.size.tokens - Granted tokens in storage
//   - storage.size.consents - Stored consent decisions
//
// # Privacy
//
// Client IP addresses may be PII under GDPR and similar regulations. Set
// Config.LogClientIPs to false to omit IP attributes from all observability
// data. Actual credential material (tokens, codes, secrets) is never recorded;
// only metadata such as algorithms, expiry times, and validation results.
//
// # Zero Overhead When Disabled
//
// With Config.Enabled set to false the package wires OpenTelemetry no-op
// providers, so all recording calls compile down to cheap no-ops.
package instrumentation
