package instrumentation

import (
	"context"
	"sync"
	"testing"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	inst, err := New(Config{Enabled: true, ServiceName: "metrics-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst.Metrics()
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	tests := []struct {
		method   string
		endpoint string
		status   int
	}{
		{"GET", "/authorize", 302},
		{"POST", "/token", 200},
		{"POST", "/token", 400},
		{"GET", "/.well-known/jwks.json", 200},
		{"POST", "/revoke", 200},
	}

	for _, tt := range tests {
		m.RecordHTTPRequest(ctx, tt.method, tt.endpoint, tt.status, 5.0)
	}
}

func TestMetrics_RecordAuthorizationAndGrants(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAuthorizationRequest(ctx, "web-app", "code")
	m.RecordAuthorizationRequest(ctx, "spa", "id_token token")
	m.RecordTokenIssued(ctx, "web-app", "authorization_code")
	m.RecordTokenIssued(ctx, "daemon", "client_credentials")
	m.RecordTokenRefresh(ctx, "web-app")
	m.RecordTokenRevocation(ctx, "web-app")
	m.RecordGrantError(ctx, "authorization_code", "invalid_grant")
	m.RecordGrantError(ctx, "password", "invalid_client")
	m.RecordConsentGranted(ctx, "web-app")
}

func TestMetrics_RecordSecurityEvents(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRateLimitExceeded(ctx, "token_endpoint")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordRefreshReuseDetected(ctx)
	m.RecordClientAuthFailed(ctx, "client_secret_basic")
	m.RecordAssertionReplayDetected(ctx)
	m.RecordAuditEvent(ctx, "token_issued")
}

func TestMetrics_RecordSigningOperations(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSignOperation(ctx, "RS256", 2.1)
	m.RecordSignOperation(ctx, "ES256", 0.4)
	m.RecordEncryptOperation(ctx, "RSA-OAEP", 3.7)
	m.RecordKeyRotation(ctx)
}

func TestMetrics_RecordStorageOperations(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStorageOperation(ctx, "save_granted_token", "success", 0.2)
	m.RecordStorageOperation(ctx, "consume_authorization_code", "error", 0.1)
	m.RecordEncryptionOperation(ctx, "encrypt", 0.5)
	m.RecordEncryptionOperation(ctx, "decrypt", 0.4)
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordTokenIssued(ctx, "client", "refresh_token")
			m.RecordSignOperation(ctx, "PS256", 1.0)
			m.RecordStorageOperation(ctx, "get_client", "success", 0.1)
		}()
	}
	wg.Wait()
}

func TestMetrics_NoOpBehavior(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m := inst.Metrics()
	ctx := context.Background()

	// All recording calls must be safe no-ops when disabled
	m.RecordHTTPRequest(ctx, "POST", "/token", 200, 1.0)
	m.RecordTokenIssued(ctx, "client", "authorization_code")
	m.RecordGrantError(ctx, "authorization_code", "invalid_request")
	m.RecordCodeReuseDetected(ctx)
	m.RecordSignOperation(ctx, "RS256", 1.0)
	m.RecordKeyRotation(ctx)
	m.RecordStorageOperation(ctx, "save_client", "success", 0.3)
}
