package security

import (
	"testing"
	"time"
)

func TestExpiredWithSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		skew      time.Duration
		want      bool
	}{
		{"well past expiry", now.Add(-10 * time.Minute), 5 * time.Second, true},
		{"well before expiry", now.Add(10 * time.Minute), 5 * time.Second, false},
		{"just expired, inside skew", now.Add(-2 * time.Second), 5 * time.Second, false},
		{"just expired, beyond skew", now.Add(-10 * time.Second), 5 * time.Second, true},
		{"zero skew is strict", now.Add(-1 * time.Second), 0, true},
		{"zero expiry never expires", time.Time{}, 5 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpiredWithSkew(now, tt.expiresAt, tt.skew); got != tt.want {
				t.Errorf("ExpiredWithSkew(%v, %v) = %v, want %v", tt.expiresAt, tt.skew, got, tt.want)
			}
		})
	}
}

func TestExpiringSoon(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		threshold time.Duration
		want      bool
	}{
		{"inside threshold", now.Add(1 * time.Minute), 5 * time.Minute, true},
		{"outside threshold", now.Add(10 * time.Minute), 5 * time.Minute, false},
		{"already expired", now.Add(-1 * time.Minute), 5 * time.Minute, true},
		{"zero expiry never expires", time.Time{}, 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpiringSoon(now, tt.expiresAt, tt.threshold); got != tt.want {
				t.Errorf("ExpiringSoon(%v, %v) = %v, want %v", tt.expiresAt, tt.threshold, got, tt.want)
			}
		})
	}
}
