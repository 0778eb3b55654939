package server

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oidc-engine/storage"
)

// HasConsent reports whether the subject has previously granted this client
// exactly the requested scope set (or, when the request names individual
// claims, exactly the requested claim set). Matching is exact in both
// directions: a consent for a superset does NOT satisfy a narrower request,
// and vice versa. Order and repetition never matter because requests with
// duplicate scopes are rejected before consent resolution runs.
func (s *Server) HasConsent(ctx context.Context, clientID, subject string, requestedScopes, requestedClaims []string) (bool, error) {
	consents, err := s.stores.Consents.GetConsentsBySubject(ctx, subject)
	if err != nil {
		return false, err
	}

	// Claim-based matching takes over when the request names claims.
	claimMode := len(requestedClaims) > 0

	for _, consent := range consents {
		if consent.ClientID != clientID {
			continue
		}
		if claimMode {
			if scopeSetsEqual(consent.GrantedClaims, requestedClaims) {
				return true, nil
			}
			continue
		}
		if scopeSetsEqual(consent.GrantedScopes, requestedScopes) {
			return true, nil
		}
	}
	return false, nil
}

// GrantConsent records the subject's approval for a client and scope set.
// Previous consents for other scope sets stay in place so that narrowing a
// request later does not force a fresh consent screen for sets the subject
// already approved.
func (s *Server) GrantConsent(ctx context.Context, clientID, subject, ipAddress string, scopes []string) (*storage.Consent, error) {
	return s.grantConsent(ctx, clientID, subject, ipAddress, scopes, nil)
}

// GrantClaimsConsent records approval for an individual claim set, used when
// the authorization request named user-info/id-token claims instead of scopes.
func (s *Server) GrantClaimsConsent(ctx context.Context, clientID, subject, ipAddress string, claims []string) (*storage.Consent, error) {
	return s.grantConsent(ctx, clientID, subject, ipAddress, nil, claims)
}

func (s *Server) grantConsent(ctx context.Context, clientID, subject, ipAddress string, scopes, claims []string) (*storage.Consent, error) {
	consent := &storage.Consent{
		ID:            uuid.NewString(),
		ClientID:      clientID,
		Subject:       subject,
		GrantedScopes: append([]string(nil), scopes...),
		GrantedClaims: append([]string(nil), claims...),
		CreatedAt:     time.Now(),
	}

	if err := s.stores.Consents.SaveConsent(ctx, consent); err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogConsentGranted(subject, clientID, ipAddress, joinScopes(scopes))
	}
	if s.Metrics != nil {
		s.Metrics.RecordConsentGranted(ctx, clientID)
	}
	s.Logger.Info("Consent granted",
		"client_id", clientID,
		"scope_count", len(scopes))

	return consent, nil
}

// RevokeConsent removes a consent record by ID.
func (s *Server) RevokeConsent(ctx context.Context, consentID string) error {
	return s.stores.Consents.DeleteConsent(ctx, consentID)
}

// scopeSetsEqual compares two scope slices as sets of equal cardinality.
// Both sides are duplicate-free here, so sorting copies and comparing
// element-wise is an exact set equality check.
func scopeSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// joinScopes renders a scope slice back to its space-separated wire form.
func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
