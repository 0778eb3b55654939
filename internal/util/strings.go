package util

import "strings"

// SafeTruncate returns at most maxLen leading bytes of s. Log statements use
// it to show a recognizable prefix of a token or code without disclosing the
// whole value. Negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so audience and endpoint comparisons
// treat "https://idp.example.com/token" and "https://idp.example.com/token/"
// as the same identifier.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
