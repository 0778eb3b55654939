package valkey

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oidc-engine/internal/testutil"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if VALKEY_TEST_ADDR is not set or connection fails.
// Each test gets a unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	// Generate a unique prefix for this test to ensure isolation
	// This prevents interference when tests run in parallel
	prefix := fmt.Sprintf("oidctest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	// Clean up test keys before and after test
	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestStore_ClientRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	got, err := store.GetClient(ctx, client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, client.ClientID)
	testutil.AssertEqual(t, got.TokenEndpointAuthMethod, client.TokenEndpointAuthMethod)
	testutil.AssertEqual(t, len(got.Secrets), len(client.Secrets))
	testutil.AssertEqual(t, got.Secrets[0].Type, client.Secrets[0].Type)
}

func TestStore_GetClient_NotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetClient(context.Background(), "nonexistent")
	if err != storage.ErrNotFound {
		t.Errorf("GetClient() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListClients(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"client-a", "client-b"} {
		client := testutil.GenerateTestClient()
		client.ClientID = id
		testutil.AssertNoError(t, store.SaveClient(ctx, client))
	}

	clients, err := store.ListClients(ctx)
	testutil.AssertNoError(t, err)
	if len(clients) != 2 {
		t.Errorf("ListClients() returned %d clients, want 2", len(clients))
	}
}

// ============================================================
// ConsentStore Tests
// ============================================================

func TestStore_ConsentRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	consent := testutil.GenerateTestConsent()
	testutil.AssertNoError(t, store.SaveConsent(ctx, consent))

	consents, err := store.GetConsentsBySubject(ctx, consent.Subject)
	testutil.AssertNoError(t, err)
	if len(consents) != 1 {
		t.Fatalf("GetConsentsBySubject() returned %d consents, want 1", len(consents))
	}
	testutil.AssertEqual(t, consents[0].ID, consent.ID)
	testutil.AssertEqual(t, len(consents[0].GrantedScopes), len(consent.GrantedScopes))

	testutil.AssertNoError(t, store.DeleteConsent(ctx, consent.ID))
	consents, err = store.GetConsentsBySubject(ctx, consent.Subject)
	testutil.AssertNoError(t, err)
	if len(consents) != 0 {
		t.Errorf("consent still present after delete")
	}
}

// ============================================================
// CodeStore Tests
// ============================================================

func TestStore_ConsumeAuthorizationCode(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	got, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, code.ClientID)
	testutil.AssertEqual(t, got.Subject, code.Subject)
	if got.IDTokenPayload == nil {
		t.Error("IDTokenPayload lost in round trip")
	}

	// Second consumption must fail: codes are single use
	_, err = store.ConsumeAuthorizationCode(ctx, code.Code)
	if err != storage.ErrNotFound {
		t.Errorf("second ConsumeAuthorizationCode() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ConsumeAuthorizationCode_Concurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	const attempts = 10
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeAuthorizationCode(ctx, code.Code); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("concurrent consumption succeeded %d times, want exactly 1", count)
	}
}

func TestStore_SaveAuthorizationCode_Expired(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	code.ExpiresAt = time.Now().Add(-time.Minute)
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	_, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	if err != storage.ErrNotFound {
		t.Errorf("ConsumeAuthorizationCode() of expired code error = %v, want ErrNotFound", err)
	}
}

// ============================================================
// TokenStore Tests
// ============================================================

func TestStore_GrantedTokenRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestGrantedToken()
	testutil.AssertNoError(t, store.SaveGrantedToken(ctx, token))

	got, err := store.GetGrantedToken(ctx, token.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Subject, token.Subject)
	testutil.AssertEqual(t, got.Scope, token.Scope)
	testutil.AssertEqual(t, got.RefreshToken, token.RefreshToken)
}

func TestStore_GetGrantedTokenByFingerprint(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestGrantedToken()
	testutil.AssertNoError(t, store.SaveGrantedToken(ctx, token))

	got, err := store.GetGrantedTokenByFingerprint(ctx, token.Fingerprint)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.AccessToken, token.AccessToken)
}

func TestStore_ConsumeRefreshToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestGrantedToken()
	testutil.AssertNoError(t, store.SaveGrantedToken(ctx, token))

	got, err := store.ConsumeRefreshToken(ctx, token.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.AccessToken, token.AccessToken)

	// The whole token set is gone after rotation
	if _, err := store.GetGrantedToken(ctx, token.AccessToken); err != storage.ErrNotFound {
		t.Errorf("GetGrantedToken() after rotation error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetGrantedTokenByFingerprint(ctx, token.Fingerprint); err != storage.ErrNotFound {
		t.Errorf("fingerprint lookup after rotation error = %v, want ErrNotFound", err)
	}

	// Second use is a replay
	if _, err := store.ConsumeRefreshToken(ctx, token.RefreshToken); err != storage.ErrNotFound {
		t.Errorf("second ConsumeRefreshToken() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ConsumeRefreshToken_Concurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestGrantedToken()
	testutil.AssertNoError(t, store.SaveGrantedToken(ctx, token))

	const attempts = 10
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeRefreshToken(ctx, token.RefreshToken); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("concurrent rotation succeeded %d times, want exactly 1", count)
	}
}

func TestStore_DeleteGrantedToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestGrantedToken()
	testutil.AssertNoError(t, store.SaveGrantedToken(ctx, token))

	// Delete by refresh token value removes the entire set
	testutil.AssertNoError(t, store.DeleteGrantedToken(ctx, token.RefreshToken))

	if _, err := store.GetGrantedToken(ctx, token.AccessToken); err != storage.ErrNotFound {
		t.Errorf("GetGrantedToken() after delete error = %v, want ErrNotFound", err)
	}

	// Unknown token is not an error (RFC 7009)
	testutil.AssertNoError(t, store.DeleteGrantedToken(ctx, "unknown"))
}

func TestStore_EncryptionAtRest(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	testutil.AssertNoError(t, err)
	enc, err := security.NewEncryptor(key)
	testutil.AssertNoError(t, err)
	store.SetEncryptor(enc)

	token := testutil.GenerateTestGrantedToken()
	token.IDToken = "eyJ.header.payload-with-pii"
	testutil.AssertNoError(t, store.SaveGrantedToken(ctx, token))

	// Raw stored value must not contain the plaintext id_token
	raw, err := store.client.Do(ctx, store.client.B().Get().Key(store.tokenKey(token.AccessToken)).Build()).ToString()
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, strings.Contains(raw, token.IDToken), "id_token stored in plaintext")

	// Read path transparently decrypts
	got, err := store.GetGrantedToken(ctx, token.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.IDToken, token.IDToken)
}

// ============================================================
// ResourceOwnerStore Tests
// ============================================================

func TestStore_ResourceOwnerRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	owner := testutil.GenerateTestResourceOwner()
	testutil.AssertNoError(t, store.SaveResourceOwner(ctx, owner))

	got, err := store.GetResourceOwner(ctx, owner.Subject)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Username, owner.Username)

	byName, err := store.GetResourceOwnerByUsername(ctx, owner.Username)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, byName.Subject, owner.Subject)
}

func TestStore_ResourceOwner_UsernameChange(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	owner := testutil.GenerateTestResourceOwner()
	testutil.AssertNoError(t, store.SaveResourceOwner(ctx, owner))

	renamed := *owner
	renamed.Username = "newname"
	testutil.AssertNoError(t, store.SaveResourceOwner(ctx, &renamed))

	if _, err := store.GetResourceOwnerByUsername(ctx, owner.Username); err != storage.ErrNotFound {
		t.Errorf("old username still resolves, error = %v, want ErrNotFound", err)
	}
}

// ============================================================
// AssertionReplayStore Tests
// ============================================================

func TestStore_RegisterAssertion(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	jti := testutil.GenerateRandomString(16)
	expiresAt := time.Now().Add(5 * time.Minute)

	testutil.AssertNoError(t, store.RegisterAssertion(ctx, jti, expiresAt))

	// Replay within the validity window is rejected
	err := store.RegisterAssertion(ctx, jti, expiresAt)
	if err != storage.ErrAssertionReplayed {
		t.Errorf("RegisterAssertion() replay error = %v, want ErrAssertionReplayed", err)
	}
}

func TestStore_RegisterAssertion_Expired(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// An already-expired assertion is a no-op, not a replay
	jti := testutil.GenerateRandomString(16)
	testutil.AssertNoError(t, store.RegisterAssertion(ctx, jti, time.Now().Add(-time.Minute)))
	testutil.AssertNoError(t, store.RegisterAssertion(ctx, jti, time.Now().Add(time.Minute)))
}
