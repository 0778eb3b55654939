package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than limit", "abc", 10, "abc"},
		{"equal to limit", "0123456789", 10, "0123456789"},
		{"token prefix", "tok_4f3a9b1c2d8e7f6a", 8, "tok_4f3a"},
		{"empty input", "", 5, ""},
		{"zero limit", "anything", 0, ""},
		{"negative limit", "anything", -3, ""},
		{"multibyte input cut on byte boundary", "code世界", 6, "code\xe4\xb8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://idp.example.com/", "https://idp.example.com"},
		{"https://idp.example.com", "https://idp.example.com"},
		{"https://idp.example.com///", "https://idp.example.com"},
		{"https://idp.example.com:8443/token/", "https://idp.example.com:8443/token"},
		{"", ""},
		{"///", ""},
	}

	for _, tt := range tests {
		if got := NormalizeURL(tt.input); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeURL_AudienceComparison(t *testing.T) {
	pairs := [][2]string{
		{"https://idp.example.com/token", "https://idp.example.com/token/"},
		{"https://idp.example.com", "https://idp.example.com/"},
	}
	for _, p := range pairs {
		if NormalizeURL(p[0]) != NormalizeURL(p[1]) {
			t.Errorf("NormalizeURL(%q) != NormalizeURL(%q)", p[0], p[1])
		}
	}
}
