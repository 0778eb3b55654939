package jose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Header is the JOSE protected header shared by JWS and JWE compact tokens.
type Header struct {
	Algorithm   string `json:"alg"`
	KeyID       string `json:"kid,omitempty"`
	Type        string `json:"typ,omitempty"`
	Encryption  string `json:"enc,omitempty"` // JWE only
	ContentType string `json:"cty,omitempty"`
}

// TokenKind distinguishes the two compact serializations by segment count.
type TokenKind int

const (
	// KindUnknown means the string is not a compact JOSE token
	KindUnknown TokenKind = iota
	// KindJWS is a three-segment signed token
	KindJWS
	// KindJWE is a five-segment encrypted token
	KindJWE
)

// DetectKind classifies a compact token by its dot-separated segment count:
// three segments is a JWS, five is a JWE.
func DetectKind(token string) TokenKind {
	switch strings.Count(token, ".") {
	case 2:
		return KindJWS
	case 4:
		return KindJWE
	default:
		return KindUnknown
	}
}

// SigningKey holds the private material for one JWS signing operation.
// Exactly one of RSA, ECDSA, or Secret must be set, matching the algorithm family.
type SigningKey struct {
	ID        string
	Algorithm SignatureAlgorithm
	RSA       *rsa.PrivateKey
	ECDSA     *ecdsa.PrivateKey
	Secret    []byte
}

// VerificationKey holds the public (or shared) material for JWS verification.
type VerificationKey struct {
	ID        string
	Algorithm SignatureAlgorithm
	RSA       *rsa.PublicKey
	ECDSA     *ecdsa.PublicKey
	Secret    []byte
}

// VerificationKeyResolver resolves the verification key for a parsed header.
// Implementations must honor the kid when present and fail closed when the
// key cannot be identified unambiguously.
type VerificationKeyResolver func(header *Header) (*VerificationKey, error)

// Sign serializes claims into a compact JWS signed with the given key.
func Sign(claims *Claims, key *SigningKey) (string, error) {
	if key == nil {
		return "", ErrNoUsableKey
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("jose: marshal payload: %w", err)
	}
	return SignBytes(payload, key)
}

// SignBytes signs an arbitrary payload into a compact JWS. Used for request
// objects and client assertions where the payload is not owned by this package.
func SignBytes(payload []byte, key *SigningKey) (string, error) {
	header := Header{
		Algorithm: string(key.Algorithm),
		KeyID:     key.ID,
		Type:      "JWT",
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("jose: marshal header: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(payload)

	sig, err := computeSignature([]byte(signingInput), key)
	if err != nil {
		return "", err
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// computeSignature produces the raw signature bytes for the signing input.
func computeSignature(signingInput []byte, key *SigningKey) ([]byte, error) {
	hash, ok := signatureHash[key.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, key.Algorithm)
	}

	switch key.Algorithm {
	case HS256, HS384, HS512:
		if len(key.Secret) == 0 {
			return nil, fmt.Errorf("%w: HMAC key missing", ErrNoUsableKey)
		}
		mac := hmac.New(hash.New, key.Secret)
		mac.Write(signingInput)
		return mac.Sum(nil), nil

	case RS256, RS384, RS512:
		if key.RSA == nil {
			return nil, fmt.Errorf("%w: RSA key missing", ErrNoUsableKey)
		}
		digest := hashBytes(hash, signingInput)
		return rsa.SignPKCS1v15(rand.Reader, key.RSA, hash, digest)

	case PS256, PS384, PS512:
		if key.RSA == nil {
			return nil, fmt.Errorf("%w: RSA key missing", ErrNoUsableKey)
		}
		digest := hashBytes(hash, signingInput)
		// RFC 7518 section 3.5: salt length equals the hash output length
		return rsa.SignPSS(rand.Reader, key.RSA, hash, digest, &rsa.PSSOptions{
			SaltLength: hash.Size(),
			Hash:       hash,
		})

	case ES256, ES384, ES512:
		if key.ECDSA == nil {
			return nil, fmt.Errorf("%w: ECDSA key missing", ErrNoUsableKey)
		}
		curve := ecdsaCurve[key.Algorithm]
		if key.ECDSA.Curve != curve {
			return nil, fmt.Errorf("%w: key curve %s does not match %s",
				ErrAlgorithmMismatch, key.ECDSA.Curve.Params().Name, key.Algorithm)
		}
		digest := hashBytes(hash, signingInput)
		r, s, err := ecdsa.Sign(rand.Reader, key.ECDSA, digest)
		if err != nil {
			return nil, err
		}
		// RFC 7518 section 3.4: R||S, each left-padded to the curve byte size
		byteLen := (curve.Params().BitSize + 7) / 8
		sig := make([]byte, 2*byteLen)
		r.FillBytes(sig[:byteLen])
		s.FillBytes(sig[byteLen:])
		return sig, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, key.Algorithm)
}

// Verify parses a compact JWS, resolves its verification key, checks the
// signature, and returns the decoded claims. All failures are terminal.
func Verify(token string, resolve VerificationKeyResolver) (*Claims, *Header, error) {
	payload, header, err := VerifyBytes(token, resolve)
	if err != nil {
		return nil, nil, err
	}
	claims := NewClaims()
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, nil, fmt.Errorf("%w: payload is not a claim set", ErrMalformedToken)
	}
	return claims, header, nil
}

// VerifyBytes verifies a compact JWS and returns the raw payload bytes.
func VerifyBytes(token string, resolve VerificationKeyResolver) ([]byte, *Header, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, nil, ErrMalformedToken
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}

	// Unsecured tokens are never accepted for verification
	if header.Algorithm == string(AlgNone) || header.Algorithm == "" {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, header.Algorithm)
	}
	if !IsSignatureAlgorithm(header.Algorithm) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, header.Algorithm)
	}

	key, err := resolve(&header)
	if err != nil {
		return nil, nil, err
	}
	if key == nil {
		return nil, nil, ErrUnknownKey
	}
	if key.Algorithm != SignatureAlgorithm(header.Algorithm) {
		return nil, nil, fmt.Errorf("%w: header %s, key %s",
			ErrAlgorithmMismatch, header.Algorithm, key.Algorithm)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}

	signingInput := []byte(parts[0] + "." + parts[1])
	if err := verifySignature(signingInput, sig, key); err != nil {
		return nil, nil, err
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	return payload, &header, nil
}

// verifySignature checks a raw signature against the signing input.
func verifySignature(signingInput, sig []byte, key *VerificationKey) error {
	hash, ok := signatureHash[key.Algorithm]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, key.Algorithm)
	}

	switch key.Algorithm {
	case HS256, HS384, HS512:
		if len(key.Secret) == 0 {
			return ErrNoUsableKey
		}
		mac := hmac.New(hash.New, key.Secret)
		mac.Write(signingInput)
		// Constant-time comparison; a direct byte compare would leak
		// how many tag bytes matched.
		if !hmac.Equal(mac.Sum(nil), sig) {
			return ErrVerificationFailed
		}
		return nil

	case RS256, RS384, RS512:
		if key.RSA == nil {
			return ErrNoUsableKey
		}
		digest := hashBytes(hash, signingInput)
		if err := rsa.VerifyPKCS1v15(key.RSA, hash, digest, sig); err != nil {
			return ErrVerificationFailed
		}
		return nil

	case PS256, PS384, PS512:
		if key.RSA == nil {
			return ErrNoUsableKey
		}
		digest := hashBytes(hash, signingInput)
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: hash}
		if err := rsa.VerifyPSS(key.RSA, hash, digest, sig, opts); err != nil {
			return ErrVerificationFailed
		}
		return nil

	case ES256, ES384, ES512:
		if key.ECDSA == nil {
			return ErrNoUsableKey
		}
		curve := ecdsaCurve[key.Algorithm]
		byteLen := (curve.Params().BitSize + 7) / 8
		if key.ECDSA.Curve != curve || len(sig) != 2*byteLen {
			return ErrVerificationFailed
		}
		digest := hashBytes(hash, signingInput)
		r := new(big.Int).SetBytes(sig[:byteLen])
		s := new(big.Int).SetBytes(sig[byteLen:])
		if !ecdsa.Verify(key.ECDSA, digest, r, s) {
			return ErrVerificationFailed
		}
		return nil
	}

	return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, key.Algorithm)
}

// hashBytes computes hash(data). All registered signature hashes are linked
// into the binary via their crypto/shaNNN imports in the jwe codec.
func hashBytes(hash crypto.Hash, data []byte) []byte {
	h := hash.New()
	h.Write(data)
	return h.Sum(nil)
}
