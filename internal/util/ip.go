package util

import "net"

// IPClassification buckets an address by how dangerous it is as a redirect
// or fetch target. Redirect URI validation and request object fetching use
// it to keep the engine from being steered at internal infrastructure.
type IPClassification int

const (
	// IPClassificationPublic is a routable public address.
	IPClassificationPublic IPClassification = iota
	// IPClassificationLoopback covers 127.0.0.0/8 and ::1. Permitted for
	// native-app redirect URIs per RFC 8252 Section 7.3.
	IPClassificationLoopback
	// IPClassificationPrivate covers RFC 1918 ranges and IPv6 ULA.
	IPClassificationPrivate
	// IPClassificationLinkLocal covers 169.254.0.0/16 and fe80::/10; this
	// is where cloud instance metadata services live.
	IPClassificationLinkLocal
	// IPClassificationUnspecified is 0.0.0.0 or ::.
	IPClassificationUnspecified
)

func (c IPClassification) String() string {
	switch c {
	case IPClassificationPublic:
		return "public"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationLinkLocal:
		return "link_local"
	case IPClassificationUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyIP buckets ip. A nil ip classifies as unspecified.
func ClassifyIP(ip net.IP) IPClassification {
	switch {
	case ip == nil || ip.IsUnspecified():
		return IPClassificationUnspecified
	case ip.IsLoopback():
		return IPClassificationLoopback
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return IPClassificationLinkLocal
	case ip.IsPrivate():
		return IPClassificationPrivate
	default:
		return IPClassificationPublic
	}
}

// IsLoopbackHostname reports whether hostname is textually a loopback
// address: "localhost", anything in 127.0.0.0/8, ::1, or the bracketed
// IPv6 form url.URL.Hostname sometimes leaves in place.
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		hostname = hostname[1 : len(hostname)-1]
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
