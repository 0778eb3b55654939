package jose

import (
	"crypto"
	"crypto/elliptic"
	"encoding/base64"
	"fmt"

	// Register the SHA-2 hashes used by every signature and content
	// encryption algorithm in the tables below.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// SignatureAlgorithm identifies a JWS "alg" header value (RFC 7518 section 3.1).
type SignatureAlgorithm string

// Supported JWS signature algorithms.
const (
	HS256 SignatureAlgorithm = "HS256"
	HS384 SignatureAlgorithm = "HS384"
	HS512 SignatureAlgorithm = "HS512"
	RS256 SignatureAlgorithm = "RS256"
	RS384 SignatureAlgorithm = "RS384"
	RS512 SignatureAlgorithm = "RS512"
	PS256 SignatureAlgorithm = "PS256"
	PS384 SignatureAlgorithm = "PS384"
	PS512 SignatureAlgorithm = "PS512"
	ES256 SignatureAlgorithm = "ES256"
	ES384 SignatureAlgorithm = "ES384"
	ES512 SignatureAlgorithm = "ES512"
	// AlgNone is the unsecured JWS algorithm. Only valid when a client has
	// explicitly registered it; never accepted during verification.
	AlgNone SignatureAlgorithm = "none"
)

// KeyAlgorithm identifies a JWE "alg" header value (key management, RFC 7518 section 4.1).
type KeyAlgorithm string

// Supported JWE key management algorithms.
const (
	RSA1_5     KeyAlgorithm = "RSA1_5"
	RSAOAEP    KeyAlgorithm = "RSA-OAEP"
	RSAOAEP256 KeyAlgorithm = "RSA-OAEP-256"
	A128KW     KeyAlgorithm = "A128KW"
	A192KW     KeyAlgorithm = "A192KW"
	A256KW     KeyAlgorithm = "A256KW"
)

// ContentEncryption identifies a JWE "enc" header value (RFC 7518 section 5.1).
type ContentEncryption string

// Supported JWE content encryption algorithms (AES-CBC with HMAC-SHA2).
const (
	A128CBCHS256 ContentEncryption = "A128CBC-HS256"
	A192CBCHS384 ContentEncryption = "A192CBC-HS384"
	A256CBCHS512 ContentEncryption = "A256CBC-HS512"
)

// signatureHash maps signature algorithms to their hash functions.
// Immutable process-wide table; never mutated after init.
var signatureHash = map[SignatureAlgorithm]crypto.Hash{
	HS256: crypto.SHA256,
	HS384: crypto.SHA384,
	HS512: crypto.SHA512,
	RS256: crypto.SHA256,
	RS384: crypto.SHA384,
	RS512: crypto.SHA512,
	PS256: crypto.SHA256,
	PS384: crypto.SHA384,
	PS512: crypto.SHA512,
	ES256: crypto.SHA256,
	ES384: crypto.SHA384,
	ES512: crypto.SHA512,
}

// ecdsaCurve maps ECDSA signature algorithms to their required curves.
var ecdsaCurve = map[SignatureAlgorithm]elliptic.Curve{
	ES256: elliptic.P256(),
	ES384: elliptic.P384(),
	ES512: elliptic.P521(),
}

// cekParams describes the composite AES-CBC-HMAC parameters per RFC 7518
// section 5.2: total CEK size, per-half key size, the HMAC hash, and the
// truncated tag length.
type cekParams struct {
	cekLen  int
	keyLen  int // per half: MAC key and AES key
	hash    crypto.Hash
	tagLen  int
}

var contentEncryptionParams = map[ContentEncryption]cekParams{
	A128CBCHS256: {cekLen: 32, keyLen: 16, hash: crypto.SHA256, tagLen: 16},
	A192CBCHS384: {cekLen: 48, keyLen: 24, hash: crypto.SHA384, tagLen: 24},
	A256CBCHS512: {cekLen: 64, keyLen: 32, hash: crypto.SHA512, tagLen: 32},
}

// keyWrapSize maps AES key wrap algorithms to their KEK size in bytes.
var keyWrapSize = map[KeyAlgorithm]int{
	A128KW: 16,
	A192KW: 24,
	A256KW: 32,
}

// IsSignatureAlgorithm reports whether alg names a supported JWS algorithm.
func IsSignatureAlgorithm(alg string) bool {
	_, ok := signatureHash[SignatureAlgorithm(alg)]
	return ok
}

// IsKeyAlgorithm reports whether alg names a supported JWE key management algorithm.
func IsKeyAlgorithm(alg string) bool {
	switch KeyAlgorithm(alg) {
	case RSA1_5, RSAOAEP, RSAOAEP256, A128KW, A192KW, A256KW:
		return true
	}
	return false
}

// IsContentEncryption reports whether enc names a supported JWE content encryption.
func IsContentEncryption(enc string) bool {
	_, ok := contentEncryptionParams[ContentEncryption(enc)]
	return ok
}

// TokenHash computes the OIDC at_hash / c_hash value for a token: the left
// half of the token's digest under the signing algorithm's hash function,
// base64url-encoded without padding (OpenID Connect Core section 3.1.3.6).
func TokenHash(alg SignatureAlgorithm, token string) (string, error) {
	hash, ok := signatureHash[alg]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
	h := hash.New()
	h.Write([]byte(token))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
