package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP resolves the originating client address for rate limiting and
// audit records.
//
// With trustProxy disabled the connection peer is the answer, full stop:
// forwarding headers are attacker-controlled on direct connections. With it
// enabled, the client address is read out of X-Forwarded-For counting
// trustedProxyCount hops from the right (each trusted proxy appends exactly
// one entry), falling back to X-Real-IP and then the peer address.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := forwardedClientIP(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return peerIP(r.RemoteAddr)
}

// forwardedClientIP picks the client entry out of an X-Forwarded-For list.
// The header reads left to right from client to proxies, so with N trusted
// proxies the client sits N+1 positions from the right. Entries further left
// were written by parties we do not trust and are ignored.
func forwardedClientIP(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies == 0 {
		proxies = 1
	}
	idx := len(hops) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	candidate := strings.TrimSpace(hops[idx])
	if net.ParseIP(candidate) == nil {
		return ""
	}
	return candidate
}

// peerIP strips the port from a RemoteAddr, tolerating bare addresses.
func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
