package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders applies the response header baseline for protocol
// endpoints. Everything these endpoints return is either JSON or a redirect,
// so the CSP forbids loading any resource at all; handlers that render HTML
// (form_post responses) relax it per response.
//
// HSTS is only emitted when the issuer itself is served over https, since
// the header is meaningless on plain-http development setups.
func SetSecurityHeaders(w http.ResponseWriter, issuerURL string) {
	h := w.Header()

	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")

	// Tokens and codes travel through these responses; nothing may be cached.
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")

	if parsed, err := url.Parse(issuerURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}
