package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/giantswarm/oidc-engine/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}
	if err := validateStringLength(client.ClientID, MaxIDLength, "client ID"); err != nil {
		return err
	}

	j, err := toClientJSON(client)
	if err != nil {
		return err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)

	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	key := s.clientKey(clientID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			// Generic error to prevent client enumeration attacks
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return fromClientJSON(&j)
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	// Use SCAN to iterate over all client keys
	pattern := s.clientKey("*")

	// Use a map to deduplicate results (SCAN can return duplicates across iterations)
	clientMap := make(map[string]*storage.Client)

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range result.Elements {
			if _, exists := clientMap[key]; exists {
				continue
			}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue // Key may have been deleted between SCAN and GET
				}
				return nil, fmt.Errorf("failed to get client %s: %w", key, err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Failed to unmarshal client, skipping",
					"key", key,
					"error", err)
				continue
			}

			client, err := fromClientJSON(&j)
			if err != nil {
				s.logger.Warn("Failed to decode client, skipping",
					"key", key,
					"error", err)
				continue
			}
			clientMap[key] = client
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	clients := make([]*storage.Client, 0, len(clientMap))
	for _, c := range clientMap {
		clients = append(clients, c)
	}

	return clients, nil
}

// ============================================================
// ConsentStore Implementation
// ============================================================

// SaveConsent records an approval granted by a resource owner.
// The consent is stored under its own key and indexed into a per-subject set
// so GetConsentsBySubject does not need to SCAN.
func (s *Store) SaveConsent(ctx context.Context, consent *storage.Consent) error {
	if consent == nil || consent.ID == "" {
		return fmt.Errorf("invalid consent")
	}

	data, err := json.Marshal(toConsentJSON(consent))
	if err != nil {
		return fmt.Errorf("failed to marshal consent: %w", err)
	}

	key := s.consentKey(consent.ID)
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}

	indexKey := s.consentSubjectKey(consent.Subject)
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(indexKey).Member(consent.ID).Build()).Error(); err != nil {
		return fmt.Errorf("failed to index consent: %w", err)
	}

	s.logger.Debug("Saved consent",
		"consent_id", consent.ID,
		"client_id", consent.ClientID)
	return nil
}

// GetConsentsBySubject returns every consent the subject has granted
func (s *Store) GetConsentsBySubject(ctx context.Context, subject string) ([]*storage.Consent, error) {
	indexKey := s.consentSubjectKey(subject)

	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(indexKey).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read consent index: %w", err)
	}

	var consents []*storage.Consent
	for _, id := range ids {
		consent, err := getAndUnmarshal[consentJSON](ctx, s, s.consentKey(id), fromConsentJSON)
		if err != nil {
			if err == storage.ErrNotFound {
				// Index entry outlived the consent; repair the index
				_ = s.client.Do(ctx, s.client.B().Srem().Key(indexKey).Member(id).Build()).Error()
				continue
			}
			return nil, err
		}
		consents = append(consents, consent)
	}

	return consents, nil
}

// DeleteConsent removes a consent record and its index entry
func (s *Store) DeleteConsent(ctx context.Context, id string) error {
	consent, err := getAndUnmarshal[consentJSON](ctx, s, s.consentKey(id), fromConsentJSON)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.consentKey(id)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete consent: %w", err)
	}

	indexKey := s.consentSubjectKey(consent.Subject)
	if err := s.client.Do(ctx, s.client.B().Srem().Key(indexKey).Member(id).Build()).Error(); err != nil {
		s.logger.Warn("Failed to remove consent from subject index",
			"consent_id", id,
			"error", err)
	}

	return nil
}

// ============================================================
// ResourceOwnerStore Implementation
// ============================================================

// SaveResourceOwner saves a resource owner record
func (s *Store) SaveResourceOwner(ctx context.Context, owner *storage.ResourceOwner) error {
	if owner == nil || owner.Subject == "" {
		return fmt.Errorf("invalid resource owner")
	}
	if err := validateStringLength(owner.Subject, MaxIDLength, "subject"); err != nil {
		return err
	}

	// Keep the username index consistent on re-save
	if prev, err := s.GetResourceOwner(ctx, owner.Subject); err == nil &&
		prev.Username != "" && prev.Username != owner.Username {
		if err := s.client.Do(ctx, s.client.B().Del().Key(s.ownerUsernameKey(prev.Username)).Build()).Error(); err != nil {
			s.logger.Warn("Failed to remove stale username index",
				"username", prev.Username,
				"error", err)
		}
	}

	data, err := json.Marshal(toResourceOwnerJSON(owner))
	if err != nil {
		return fmt.Errorf("failed to marshal resource owner: %w", err)
	}

	key := s.ownerKey(owner.Subject)
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save resource owner: %w", err)
	}

	if owner.Username != "" {
		usernameKey := s.ownerUsernameKey(owner.Username)
		if err := s.client.Do(ctx, s.client.B().Set().Key(usernameKey).Value(owner.Subject).Build()).Error(); err != nil {
			return fmt.Errorf("failed to index resource owner username: %w", err)
		}
	}

	s.logger.Debug("Saved resource owner", "subject", owner.Subject)
	return nil
}

// GetResourceOwner retrieves a resource owner by subject
func (s *Store) GetResourceOwner(ctx context.Context, subject string) (*storage.ResourceOwner, error) {
	return getAndUnmarshal[resourceOwnerJSON](ctx, s, s.ownerKey(subject), fromResourceOwnerJSON)
}

// GetResourceOwnerByUsername retrieves a resource owner by login name
func (s *Store) GetResourceOwnerByUsername(ctx context.Context, username string) (*storage.ResourceOwner, error) {
	subject, err := s.client.Do(ctx, s.client.B().Get().Key(s.ownerUsernameKey(username)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve username: %w", err)
	}

	return s.GetResourceOwner(ctx, subject)
}
