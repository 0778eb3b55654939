package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		trustProxy bool
		proxyCount int
		want       string
	}{
		{
			name:       "direct connection uses peer address",
			remoteAddr: "203.0.113.9:54321",
			want:       "203.0.113.9",
		},
		{
			name:       "forwarding headers ignored without trust",
			remoteAddr: "10.0.0.1:54321",
			xff:        "203.0.113.1",
			xRealIP:    "203.0.113.2",
			want:       "10.0.0.1",
		},
		{
			name:       "single trusted proxy",
			remoteAddr: "10.0.0.1:54321",
			xff:        "203.0.113.1, 10.0.0.2",
			trustProxy: true,
			want:       "203.0.113.1",
		},
		{
			name:       "two trusted proxies skip two entries from the right",
			remoteAddr: "10.0.0.1:54321",
			xff:        "203.0.113.1, 10.0.0.2, 10.0.0.3",
			trustProxy: true,
			proxyCount: 2,
			want:       "203.0.113.1",
		},
		{
			name:       "short forwarding chain falls back to leftmost entry",
			remoteAddr: "10.0.0.1:54321",
			xff:        "203.0.113.1",
			trustProxy: true,
			proxyCount: 3,
			want:       "203.0.113.1",
		},
		{
			name:       "garbage forwarded entry falls through to X-Real-IP",
			remoteAddr: "10.0.0.1:54321",
			xff:        "not-an-ip, 10.0.0.2",
			xRealIP:    "203.0.113.4",
			trustProxy: true,
			want:       "203.0.113.4",
		},
		{
			name:       "garbage everywhere falls back to peer",
			remoteAddr: "10.0.0.1:54321",
			xff:        "nope",
			xRealIP:    "also-nope",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		{
			name:       "IPv6 forwarded client",
			remoteAddr: "10.0.0.1:54321",
			xff:        "2001:db8::1, 10.0.0.2",
			trustProxy: true,
			want:       "2001:db8::1",
		},
		{
			name:       "peer without port returned verbatim",
			remoteAddr: "203.0.113.9",
			want:       "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/token", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(r, tt.trustProxy, tt.proxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
