package jose

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
)

// EncryptionKey holds the recipient key material for one JWE operation.
// RSA algorithms use the public key; A*KW algorithms use the symmetric KEK.
type EncryptionKey struct {
	ID        string
	Algorithm KeyAlgorithm
	RSA       *rsa.PublicKey
	KEK       []byte
}

// DecryptionKey holds the private material for JWE decryption.
type DecryptionKey struct {
	ID        string
	Algorithm KeyAlgorithm
	RSA       *rsa.PrivateKey
	KEK       []byte
}

// DecryptionKeyResolver resolves the decryption key for a parsed JWE header.
type DecryptionKeyResolver func(header *Header) (*DecryptionKey, error)

// Encrypt produces a compact JWE wrapping the plaintext, typically a nested
// compact JWS. Per RFC 7516 the content type header is set to "JWT" so
// consumers know to unwrap a nested token.
//
// A fresh content encryption key is generated per call, wrapped for the
// recipient with the key management algorithm, and split per RFC 7518
// section 5.2 into an HMAC key (first half) and an AES-CBC key (second half).
func Encrypt(plaintext []byte, enc ContentEncryption, key *EncryptionKey) (string, error) {
	if key == nil {
		return "", ErrNoUsableKey
	}
	params, ok := contentEncryptionParams[enc]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, enc)
	}

	header := Header{
		Algorithm:   string(key.Algorithm),
		Encryption:  string(enc),
		KeyID:       key.ID,
		Type:        "JWT",
		ContentType: "JWT",
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("jose: marshal header: %w", err)
	}
	protected := base64.RawURLEncoding.EncodeToString(headerJSON)

	// Random CEK, wrapped for the recipient
	cek := make([]byte, params.cekLen)
	if _, err := rand.Read(cek); err != nil {
		return "", fmt.Errorf("jose: generate CEK: %w", err)
	}
	wrappedCEK, err := wrapKey(cek, key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("jose: generate IV: %w", err)
	}

	ciphertext, tag, err := encryptCBCHMAC(plaintext, cek, iv, []byte(protected), params)
	if err != nil {
		return "", err
	}

	return strings.Join([]string{
		protected,
		base64.RawURLEncoding.EncodeToString(wrappedCEK),
		base64.RawURLEncoding.EncodeToString(iv),
		base64.RawURLEncoding.EncodeToString(ciphertext),
		base64.RawURLEncoding.EncodeToString(tag),
	}, "."), nil
}

// Decrypt parses a compact JWE, resolves the recipient key, and returns the
// plaintext. Integrity failures and malformed input are terminal errors.
func Decrypt(token string, resolve DecryptionKeyResolver) ([]byte, *Header, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
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
	params, ok := contentEncryptionParams[ContentEncryption(header.Encryption)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: enc %q", ErrUnsupportedAlgorithm, header.Encryption)
	}
	if !IsKeyAlgorithm(header.Algorithm) {
		return nil, nil, fmt.Errorf("%w: alg %q", ErrUnsupportedAlgorithm, header.Algorithm)
	}

	key, err := resolve(&header)
	if err != nil {
		return nil, nil, err
	}
	if key == nil {
		return nil, nil, ErrUnknownKey
	}
	if key.Algorithm != KeyAlgorithm(header.Algorithm) {
		return nil, nil, fmt.Errorf("%w: header %s, key %s",
			ErrAlgorithmMismatch, header.Algorithm, key.Algorithm)
	}

	wrappedCEK, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encrypted key: %v", ErrMalformedToken, err)
	}
	iv, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: iv: %v", ErrMalformedToken, err)
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedToken, err)
	}
	tag, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: tag: %v", ErrMalformedToken, err)
	}

	cek, err := unwrapKey(wrappedCEK, key, params.cekLen)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := decryptCBCHMAC(ciphertext, tag, cek, iv, []byte(parts[0]), params)
	if err != nil {
		return nil, nil, err
	}
	return plaintext, &header, nil
}

// wrapKey wraps the CEK with the recipient's key management algorithm.
func wrapKey(cek []byte, key *EncryptionKey) ([]byte, error) {
	switch key.Algorithm {
	case RSA1_5:
		if key.RSA == nil {
			return nil, ErrNoUsableKey
		}
		return rsa.EncryptPKCS1v15(rand.Reader, key.RSA, cek)
	case RSAOAEP:
		if key.RSA == nil {
			return nil, ErrNoUsableKey
		}
		return rsa.EncryptOAEP(sha1.New(), rand.Reader, key.RSA, cek, nil)
	case RSAOAEP256:
		if key.RSA == nil {
			return nil, ErrNoUsableKey
		}
		return rsa.EncryptOAEP(sha256.New(), rand.Reader, key.RSA, cek, nil)
	case A128KW, A192KW, A256KW:
		if len(key.KEK) != keyWrapSize[key.Algorithm] {
			return nil, fmt.Errorf("%w: %s requires a %d-byte KEK",
				ErrNoUsableKey, key.Algorithm, keyWrapSize[key.Algorithm])
		}
		return aesKeyWrap(key.KEK, cek)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, key.Algorithm)
}

// unwrapKey unwraps the CEK and validates its length for the content encryption.
func unwrapKey(wrapped []byte, key *DecryptionKey, cekLen int) ([]byte, error) {
	var cek []byte
	var err error

	switch key.Algorithm {
	case RSA1_5:
		if key.RSA == nil {
			return nil, ErrNoUsableKey
		}
		cek, err = rsa.DecryptPKCS1v15(rand.Reader, key.RSA, wrapped)
	case RSAOAEP:
		if key.RSA == nil {
			return nil, ErrNoUsableKey
		}
		cek, err = rsa.DecryptOAEP(sha1.New(), rand.Reader, key.RSA, wrapped, nil)
	case RSAOAEP256:
		if key.RSA == nil {
			return nil, ErrNoUsableKey
		}
		cek, err = rsa.DecryptOAEP(sha256.New(), rand.Reader, key.RSA, wrapped, nil)
	case A128KW, A192KW, A256KW:
		if len(key.KEK) != keyWrapSize[key.Algorithm] {
			return nil, fmt.Errorf("%w: %s requires a %d-byte KEK",
				ErrNoUsableKey, key.Algorithm, keyWrapSize[key.Algorithm])
		}
		cek, err = aesKeyUnwrap(key.KEK, wrapped)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, key.Algorithm)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: key unwrap: %v", ErrDecryptionFailed, err)
	}
	if len(cek) != cekLen {
		return nil, fmt.Errorf("%w: CEK length %d, want %d", ErrDecryptionFailed, len(cek), cekLen)
	}
	return cek, nil
}

// encryptCBCHMAC implements the AES_CBC_HMAC_SHA2 composite algorithm from
// RFC 7518 section 5.2. The authentication tag is the truncated HMAC over
// AAD || IV || ciphertext || AL, where AL is the AAD bit length as a 64-bit
// big-endian integer.
func encryptCBCHMAC(plaintext, cek, iv, aad []byte, params cekParams) (ciphertext, tag []byte, err error) {
	macKey := cek[:params.keyLen]
	encKey := cek[params.keyLen:]

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, nil, fmt.Errorf("jose: aes cipher: %w", err)
	}

	padded := padPKCS7(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	tag = computeAuthTag(macKey, aad, iv, ciphertext, params)
	return ciphertext, tag, nil
}

// decryptCBCHMAC reverses encryptCBCHMAC. The tag is checked in constant
// time before any decryption output is examined.
func decryptCBCHMAC(ciphertext, tag, cek, iv, aad []byte, params cekParams) ([]byte, error) {
	if len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrDecryptionFailed
	}

	macKey := cek[:params.keyLen]
	encKey := cek[params.keyLen:]

	expected := computeAuthTag(macKey, aad, iv, ciphertext, params)
	if subtle.ConstantTimeCompare(expected, tag) != 1 {
		return nil, fmt.Errorf("%w: authentication tag mismatch", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("jose: aes cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return unpadPKCS7(plaintext, aes.BlockSize)
}

// computeAuthTag computes the truncated HMAC tag over AAD || IV || C || AL.
func computeAuthTag(macKey, aad, iv, ciphertext []byte, params cekParams) []byte {
	al := make([]byte, 8)
	binary.BigEndian.PutUint64(al, uint64(len(aad))*8)

	mac := hmac.New(params.hash.New, macKey)
	mac.Write(aad)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(al)
	return mac.Sum(nil)[:params.tagLen]
}

// padPKCS7 applies PKCS #7 padding to a full block multiple.
func padPKCS7(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// unpadPKCS7 strips and validates PKCS #7 padding.
func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrDecryptionFailed
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrDecryptionFailed
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrDecryptionFailed
		}
	}
	return data[:len(data)-padLen], nil
}

// aesKeyWrapIV is the initial value from RFC 3394 section 2.2.3.
var aesKeyWrapIV = []byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// aesKeyWrap implements the RFC 3394 AES key wrap used by the A*KW algorithms.
func aesKeyWrap(kek, cek []byte) ([]byte, error) {
	if len(cek)%8 != 0 || len(cek) < 16 {
		return nil, fmt.Errorf("jose: key wrap input must be a multiple of 8 bytes")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}

	n := len(cek) / 8
	r := make([][]byte, n)
	for i := range r {
		r[i] = make([]byte, 8)
		copy(r[i], cek[i*8:])
	}

	a := make([]byte, 8)
	copy(a, aesKeyWrapIV)
	buf := make([]byte, 16)

	for j := 0; j < 6; j++ {
		for i := 0; i < n; i++ {
			copy(buf[:8], a)
			copy(buf[8:], r[i])
			block.Encrypt(buf, buf)
			t := uint64(n*j + i + 1)
			copy(a, buf[:8])
			for k := 0; k < 8; k++ {
				a[7-k] ^= byte(t >> (8 * k))
			}
			copy(r[i], buf[8:])
		}
	}

	out := make([]byte, 8+len(cek))
	copy(out, a)
	for i, ri := range r {
		copy(out[8+i*8:], ri)
	}
	return out, nil
}

// aesKeyUnwrap implements the RFC 3394 unwrap with integrity check.
func aesKeyUnwrap(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, fmt.Errorf("jose: wrapped key must be a multiple of 8 bytes")
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}

	n := len(wrapped)/8 - 1
	a := make([]byte, 8)
	copy(a, wrapped[:8])
	r := make([][]byte, n)
	for i := range r {
		r[i] = make([]byte, 8)
		copy(r[i], wrapped[8+i*8:])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n - 1; i >= 0; i-- {
			t := uint64(n*j + i + 1)
			copy(buf[:8], a)
			for k := 0; k < 8; k++ {
				buf[7-k] ^= byte(t >> (8 * k))
			}
			copy(buf[8:], r[i])
			block.Decrypt(buf, buf)
			copy(a, buf[:8])
			copy(r[i], buf[8:])
		}
	}

	if subtle.ConstantTimeCompare(a, aesKeyWrapIV) != 1 {
		return nil, ErrDecryptionFailed
	}

	out := make([]byte, n*8)
	for i, ri := range r {
		copy(out[i*8:], ri)
	}
	return out, nil
}
