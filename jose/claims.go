package jose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Registered claim names used by the token engine (RFC 7519 section 4.1
// plus the OpenID Connect core claims the server emits).
const (
	ClaimIssuer          = "iss"
	ClaimSubject         = "sub"
	ClaimAudience        = "aud"
	ClaimExpirationTime  = "exp"
	ClaimIssuedAt        = "iat"
	ClaimNotBefore       = "nbf"
	ClaimJTI             = "jti"
	ClaimNonce           = "nonce"
	ClaimAuthorizedParty = "azp"
	ClaimAuthTime        = "auth_time"
	ClaimAMR             = "amr"
	ClaimScope           = "scope"
	ClaimAtHash          = "at_hash"
	ClaimCHash           = "c_hash"
)

// Claims is an ordered claim map. Claim insertion order is preserved through
// JSON serialization so that payload fingerprints are stable: the same claim
// set built in the same order always serializes to the same bytes.
type Claims struct {
	keys   []string
	values map[string]any
}

// NewClaims creates an empty claim set.
func NewClaims() *Claims {
	return &Claims{values: make(map[string]any)}
}

// Set adds or replaces a claim. Replacing keeps the original position.
func (c *Claims) Set(name string, value any) *Claims {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	if _, exists := c.values[name]; !exists {
		c.keys = append(c.keys, name)
	}
	c.values[name] = value
	return c
}

// Get returns the raw claim value, or nil when absent.
func (c *Claims) Get(name string) any {
	if c == nil || c.values == nil {
		return nil
	}
	return c.values[name]
}

// Has reports whether the claim is present.
func (c *Claims) Has(name string) bool {
	if c == nil || c.values == nil {
		return false
	}
	_, ok := c.values[name]
	return ok
}

// Delete removes a claim if present.
func (c *Claims) Delete(name string) {
	if c == nil || c.values == nil {
		return
	}
	if _, ok := c.values[name]; !ok {
		return
	}
	delete(c.values, name)
	for i, k := range c.keys {
		if k == name {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of claims.
func (c *Claims) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Names returns the claim names in insertion order.
func (c *Claims) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Clone returns a shallow copy; claim values are shared, ordering is copied.
func (c *Claims) Clone() *Claims {
	if c == nil {
		return NewClaims()
	}
	out := &Claims{
		keys:   make([]string, len(c.keys)),
		values: make(map[string]any, len(c.values)),
	}
	copy(out.keys, c.keys)
	for k, v := range c.values {
		out.values[k] = v
	}
	return out
}

// GetString returns a string claim, or "" when absent or not a string.
func (c *Claims) GetString(name string) string {
	if s, ok := c.Get(name).(string); ok {
		return s
	}
	return ""
}

// GetInt64 returns a numeric claim as int64. JSON numbers decode as float64,
// so both representations are accepted.
func (c *Claims) GetInt64(name string) int64 {
	switch v := c.Get(name).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// GetStringSlice returns a claim that is either a string or an array of
// strings (the two JSON shapes "aud" and "amr" take).
func (c *Claims) GetStringSlice(name string) []string {
	switch v := c.Get(name).(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Issuer returns the iss claim.
func (c *Claims) Issuer() string { return c.GetString(ClaimIssuer) }

// Subject returns the sub claim.
func (c *Claims) Subject() string { return c.GetString(ClaimSubject) }

// Audience returns the aud claim as a slice.
func (c *Claims) Audience() []string { return c.GetStringSlice(ClaimAudience) }

// ExpiresAt returns the exp claim as a time, or the zero time when absent.
func (c *Claims) ExpiresAt() time.Time {
	if v := c.GetInt64(ClaimExpirationTime); v != 0 {
		return time.Unix(v, 0)
	}
	return time.Time{}
}

// IssuedAt returns the iat claim as a time, or the zero time when absent.
func (c *Claims) IssuedAt() time.Time {
	if v := c.GetInt64(ClaimIssuedAt); v != 0 {
		return time.Unix(v, 0)
	}
	return time.Time{}
}

// MarshalJSON serializes claims in insertion order.
func (c *Claims) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal claim %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes claims preserving the document's key order.
func (c *Claims) UnmarshalJSON(data []byte) error {
	c.keys = nil
	c.values = make(map[string]any)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("jose: claims must be a JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("jose: invalid claim name")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("jose: decode claim %q: %w", key, err)
		}
		c.Set(key, value)
	}
	// Consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
