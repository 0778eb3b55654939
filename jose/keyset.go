package jose

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"golang.org/x/oauth2"
)

const (
	// KeyUseSignature marks a key intended for JWS signing
	KeyUseSignature = "sig"
	// KeyUseEncryption marks a key intended for JWE key management
	KeyUseEncryption = "enc"

	// DefaultKeyBits is the RSA modulus size for generated keys
	DefaultKeyBits = 2048

	// DefaultRetirePrevious is how long previous keys stay resolvable after
	// rotation. Tokens signed moments before a rotation must keep verifying.
	DefaultRetirePrevious = 24 * time.Hour
)

// Key is one server keypair. Immutable once published: rotation creates new
// keys and retires old ones, it never mutates key material in place.
type Key struct {
	ID        string
	Use       string
	Algorithm string
	Private   *rsa.PrivateKey
	CreatedAt time.Time

	// NotAfter is the retirement deadline. Zero means the key is current.
	NotAfter time.Time
}

// expired reports whether the key has passed its retirement deadline.
func (k *Key) expired(now time.Time) bool {
	return !k.NotAfter.IsZero() && now.After(k.NotAfter)
}

// keySnapshot is an immutable view of the key set. Readers load the current
// snapshot atomically; rotation builds a new snapshot and swaps the pointer,
// so concurrent readers always observe a complete, consistent key set.
type keySnapshot struct {
	signing    *Key
	encryption *Key
	all        []*Key
}

// KeySetConfig configures key generation and retirement.
type KeySetConfig struct {
	// KeyBits is the RSA modulus size. Default: 2048.
	KeyBits int

	// RetirePrevious is how long rotated-out keys remain resolvable.
	// Default: 24 hours.
	RetirePrevious time.Duration

	// SigningAlgorithm is the advertised alg for the signing key. Default RS256.
	SigningAlgorithm SignatureAlgorithm

	// EncryptionAlgorithm is the advertised alg for the encryption key.
	// Default RSA-OAEP.
	EncryptionAlgorithm KeyAlgorithm
}

// KeySet manages the server's signing and encryption keys with on-demand
// rotation. Rotation is copy-on-write: the previous snapshot stays valid for
// in-flight verifications and retired keys keep resolving until they expire.
type KeySet struct {
	mu      sync.Mutex // serializes rotation; reads are lock-free
	current atomic.Pointer[keySnapshot]
	config  KeySetConfig
	logger  *slog.Logger
}

// NewKeySet generates the initial signing and encryption keypairs.
func NewKeySet(config KeySetConfig, logger *slog.Logger) (*KeySet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.KeyBits == 0 {
		config.KeyBits = DefaultKeyBits
	}
	if config.RetirePrevious == 0 {
		config.RetirePrevious = DefaultRetirePrevious
	}
	if config.SigningAlgorithm == "" {
		config.SigningAlgorithm = RS256
	}
	if config.EncryptionAlgorithm == "" {
		config.EncryptionAlgorithm = RSAOAEP
	}

	ks := &KeySet{config: config, logger: logger}

	signing, err := ks.generateKey(KeyUseSignature, string(config.SigningAlgorithm))
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	encryption, err := ks.generateKey(KeyUseEncryption, string(config.EncryptionAlgorithm))
	if err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}

	ks.current.Store(&keySnapshot{
		signing:    signing,
		encryption: encryption,
		all:        []*Key{signing, encryption},
	})
	return ks, nil
}

// generateKey creates one RSA keypair with an RFC 7638 thumbprint key id.
func (ks *KeySet) generateKey(use, alg string) (*Key, error) {
	private, err := rsa.GenerateKey(rand.Reader, ks.config.KeyBits)
	if err != nil {
		return nil, err
	}

	kid, err := thumbprintKID(&private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("compute key thumbprint: %w", err)
	}

	return &Key{
		ID:        kid,
		Use:       use,
		Algorithm: alg,
		Private:   private,
		CreatedAt: time.Now(),
	}, nil
}

// thumbprintKID computes the RFC 7638 SHA-256 thumbprint of the public key,
// base64url encoded, for use as the kid.
func thumbprintKID(pub *rsa.PublicKey) (string, error) {
	jwk := gojose.JSONWebKey{Key: pub}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// Rotate generates fresh signing and encryption keypairs and publishes them
// under new kids. Previous keys are retained with a retirement deadline so
// verification of already-issued tokens keeps working; keys past their
// deadline are dropped from the new snapshot.
func (ks *KeySet) Rotate() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	signing, err := ks.generateKey(KeyUseSignature, string(ks.config.SigningAlgorithm))
	if err != nil {
		return fmt.Errorf("rotate signing key: %w", err)
	}
	encryption, err := ks.generateKey(KeyUseEncryption, string(ks.config.EncryptionAlgorithm))
	if err != nil {
		return fmt.Errorf("rotate encryption key: %w", err)
	}

	now := time.Now()
	retireAt := now.Add(ks.config.RetirePrevious)

	prev := ks.current.Load()
	all := []*Key{signing, encryption}
	for _, k := range prev.all {
		if k.expired(now) {
			continue
		}
		retired := *k
		if retired.NotAfter.IsZero() {
			retired.NotAfter = retireAt
		}
		all = append(all, &retired)
	}

	ks.current.Store(&keySnapshot{
		signing:    signing,
		encryption: encryption,
		all:        all,
	})

	ks.logger.Info("Key set rotated",
		"signing_kid", signing.ID,
		"encryption_kid", encryption.ID,
		"retained_keys", len(all)-2)
	return nil
}

// SigningKey returns the current signing key for the requested algorithm.
// Only RSA-family algorithms can be served from the key set; HMAC signing
// uses client secrets and never touches server keys.
func (ks *KeySet) SigningKey(alg SignatureAlgorithm) (*SigningKey, error) {
	switch alg {
	case RS256, RS384, RS512, PS256, PS384, PS512:
	default:
		return nil, fmt.Errorf("%w: key set cannot sign %s", ErrUnsupportedAlgorithm, alg)
	}
	snap := ks.current.Load()
	return &SigningKey{
		ID:        snap.signing.ID,
		Algorithm: alg,
		RSA:       snap.signing.Private,
	}, nil
}

// CurrentSigningKID returns the kid tokens are currently signed under.
func (ks *KeySet) CurrentSigningKID() string {
	return ks.current.Load().signing.ID
}

// ResolveVerification resolves a server verification key for a JWS header.
// The kid header wins when present; without a kid, resolution succeeds only
// when exactly one signature key exists. Anything else fails closed.
func (ks *KeySet) ResolveVerification(header *Header) (*VerificationKey, error) {
	key, err := ks.resolve(header.KeyID, KeyUseSignature)
	if err != nil {
		return nil, err
	}
	alg := SignatureAlgorithm(header.Algorithm)
	switch alg {
	case RS256, RS384, RS512, PS256, PS384, PS512:
	default:
		return nil, fmt.Errorf("%w: server keys cannot verify %s", ErrAlgorithmMismatch, alg)
	}
	return &VerificationKey{
		ID:        key.ID,
		Algorithm: alg,
		RSA:       &key.Private.PublicKey,
	}, nil
}

// ResolveDecryption resolves a server decryption key for a JWE header.
func (ks *KeySet) ResolveDecryption(header *Header) (*DecryptionKey, error) {
	key, err := ks.resolve(header.KeyID, KeyUseEncryption)
	if err != nil {
		return nil, err
	}
	alg := KeyAlgorithm(header.Algorithm)
	switch alg {
	case RSA1_5, RSAOAEP, RSAOAEP256:
	default:
		return nil, fmt.Errorf("%w: server keys cannot unwrap %s", ErrAlgorithmMismatch, alg)
	}
	return &DecryptionKey{
		ID:        key.ID,
		Algorithm: alg,
		RSA:       key.Private,
	}, nil
}

// resolve finds one key by kid, or the single non-retired candidate for the
// use when no kid is present.
func (ks *KeySet) resolve(kid, use string) (*Key, error) {
	snap := ks.current.Load()
	now := time.Now()

	if kid != "" {
		for _, k := range snap.all {
			if k.ID == kid && k.Use == use && !k.expired(now) {
				return k, nil
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}

	var candidate *Key
	for _, k := range snap.all {
		if k.Use != use || k.expired(now) {
			continue
		}
		if candidate != nil {
			return nil, fmt.Errorf("%w: %d candidates for use %q and no kid",
				ErrNoUsableKey, 2, use)
		}
		candidate = k
	}
	if candidate == nil {
		return nil, ErrNoUsableKey
	}
	return candidate, nil
}

// PublicJWKS returns the public half of every non-expired key, current and
// retiring, as an RFC 7517 key set.
func (ks *KeySet) PublicJWKS() gojose.JSONWebKeySet {
	snap := ks.current.Load()
	now := time.Now()

	set := gojose.JSONWebKeySet{}
	for _, k := range snap.all {
		if k.expired(now) {
			continue
		}
		set.Keys = append(set.Keys, gojose.JSONWebKey{
			Key:       &k.Private.PublicKey,
			KeyID:     k.ID,
			Use:       k.Use,
			Algorithm: k.Algorithm,
		})
	}
	return set
}

// GenerateTokenID returns a cryptographically random identifier for opaque
// tokens and jti claims, using the same generator as PKCE verifiers.
func GenerateTokenID() string {
	return oauth2.GenerateVerifier()
}
