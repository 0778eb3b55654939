package security

import "time"

// DefaultClockSkewGracePeriod bounds how far a verifier clock may lag the
// issuer clock before expiry checks start rejecting tokens that are still
// valid on the issuer's clock. Five seconds covers typical NTP drift.
const DefaultClockSkewGracePeriod = 5 * time.Second

// ExpiredWithSkew reports whether expiresAt has passed by more than skew at
// the given instant. A zero expiresAt means no expiration.
func ExpiredWithSkew(now, expiresAt time.Time, skew time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(skew))
}

// ExpiringSoon reports whether expiresAt falls within threshold of now.
// Callers use it to refuse handing out cached tokens that are about to die.
func ExpiringSoon(now, expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.Add(threshold).After(expiresAt)
}
