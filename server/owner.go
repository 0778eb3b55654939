package server

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-engine/storage"
)

// bcryptOwnerAuthenticator is the default password-grant authenticator: it
// looks the resource owner up by username and compares the bcrypt hash.
type bcryptOwnerAuthenticator struct {
	store storage.ResourceOwnerStore
}

func (a *bcryptOwnerAuthenticator) Authenticate(ctx context.Context, username, password string) (*storage.ResourceOwner, error) {
	owner, err := a.store.GetResourceOwnerByUsername(ctx, username)
	if err != nil {
		// SECURITY: Burn a bcrypt comparison on unknown usernames so the
		// response time does not reveal whether the account exists.
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
			[]byte(password))
		return nil, fmt.Errorf("invalid credentials")
	}

	if bcrypt.CompareHashAndPassword([]byte(owner.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	return owner, nil
}
