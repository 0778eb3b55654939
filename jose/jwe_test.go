package jose

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticDecryptionResolver(key *DecryptionKey) DecryptionKeyResolver {
	return func(_ *Header) (*DecryptionKey, error) {
		return key, nil
	}
}

func TestEncryptDecryptRSA(t *testing.T) {
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	algs := []KeyAlgorithm{RSA1_5, RSAOAEP, RSAOAEP256}
	encs := []ContentEncryption{A128CBCHS256, A192CBCHS384, A256CBCHS512}
	plaintext := []byte(`{"iss":"https://issuer.example","sub":"user-1"}`)

	for _, alg := range algs {
		for _, enc := range encs {
			t.Run(string(alg)+"/"+string(enc), func(t *testing.T) {
				token, err := Encrypt(plaintext, enc, &EncryptionKey{
					ID: "enc-1", Algorithm: alg, RSA: &private.PublicKey,
				})
				require.NoError(t, err)
				require.Equal(t, KindJWE, DetectKind(token))

				decrypted, header, err := Decrypt(token, staticDecryptionResolver(&DecryptionKey{
					ID: "enc-1", Algorithm: alg, RSA: private,
				}))
				require.NoError(t, err)
				assert.Equal(t, plaintext, decrypted)
				assert.Equal(t, string(alg), header.Algorithm)
				assert.Equal(t, string(enc), header.Encryption)
				assert.Equal(t, "enc-1", header.KeyID)
			})
		}
	}
}

func TestEncryptDecryptAESKeyWrap(t *testing.T) {
	tests := []struct {
		alg    KeyAlgorithm
		kekLen int
	}{
		{A128KW, 16},
		{A192KW, 24},
		{A256KW, 32},
	}
	plaintext := []byte("a nested compact JWS would go here")

	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			kek := make([]byte, tt.kekLen)
			_, err := rand.Read(kek)
			require.NoError(t, err)

			token, err := Encrypt(plaintext, A128CBCHS256, &EncryptionKey{
				Algorithm: tt.alg, KEK: kek,
			})
			require.NoError(t, err)

			decrypted, _, err := Decrypt(token, staticDecryptionResolver(&DecryptionKey{
				Algorithm: tt.alg, KEK: kek,
			}))
			require.NoError(t, err)
			assert.Equal(t, plaintext, decrypted)
		})
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	token, err := Encrypt([]byte("payload"), A128CBCHS256, &EncryptionKey{
		Algorithm: RSAOAEP, RSA: &private.PublicKey,
	})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	ct := []byte(parts[3])
	if ct[0] == 'A' {
		ct[0] = 'B'
	} else {
		ct[0] = 'A'
	}
	parts[3] = string(ct)
	tampered := strings.Join(parts, ".")

	_, _, err = Decrypt(tampered, staticDecryptionResolver(&DecryptionKey{
		Algorithm: RSAOAEP, RSA: private,
	}))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsTamperedTag(t *testing.T) {
	kek := make([]byte, 16)
	_, err := rand.Read(kek)
	require.NoError(t, err)

	token, err := Encrypt([]byte("payload"), A128CBCHS256, &EncryptionKey{
		Algorithm: A128KW, KEK: kek,
	})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	tag := []byte(parts[4])
	if tag[0] == 'A' {
		tag[0] = 'B'
	} else {
		tag[0] = 'A'
	}
	parts[4] = string(tag)

	_, _, err = Decrypt(strings.Join(parts, "."), staticDecryptionResolver(&DecryptionKey{
		Algorithm: A128KW, KEK: kek,
	}))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsWrongSegmentCount(t *testing.T) {
	_, _, err := Decrypt("a.b.c", staticDecryptionResolver(nil))
	assert.ErrorIs(t, err, ErrMalformedToken)
}

// RFC 3394 section 4.1 test vector: 128-bit key data wrapped with a 128-bit KEK.
func TestAESKeyWrapRFC3394Vector(t *testing.T) {
	kek, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	keyData, err := hex.DecodeString("00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	expected, err := hex.DecodeString("1fa68b0a8112b447aef34bd8fb5a7b829d3e862371d2cfe5")
	require.NoError(t, err)

	wrapped, err := aesKeyWrap(kek, keyData)
	require.NoError(t, err)
	assert.Equal(t, expected, wrapped)

	unwrapped, err := aesKeyUnwrap(kek, wrapped)
	require.NoError(t, err)
	assert.Equal(t, keyData, unwrapped)
}

func TestAESKeyUnwrapRejectsCorruptedIntegrityValue(t *testing.T) {
	kek := make([]byte, 16)
	cek := make([]byte, 32)
	wrapped, err := aesKeyWrap(kek, cek)
	require.NoError(t, err)

	wrapped[0] ^= 0x01
	_, err = aesKeyUnwrap(kek, wrapped)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestPKCS7Padding(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}
		padded := padPKCS7(data, 16)
		require.Zero(t, len(padded)%16)

		unpadded, err := unpadPKCS7(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, data, unpadded)
	}
}

func TestUnpadPKCS7RejectsInvalidPadding(t *testing.T) {
	// Last byte claims 17 bytes of padding in a 16-byte block
	block := make([]byte, 16)
	block[15] = 17
	_, err := unpadPKCS7(block, 16)
	require.Error(t, err)

	// Inconsistent padding bytes
	block = make([]byte, 16)
	block[15] = 2
	block[14] = 3
	_, err = unpadPKCS7(block, 16)
	require.Error(t, err)
}
