package jose

import "errors"

// Cryptographic failures are terminal: callers must map them to
// invalid_request/invalid_token, never downgrade them to empty claims.
var (
	// ErrMalformedToken indicates the compact serialization could not be parsed
	ErrMalformedToken = errors.New("jose: malformed compact serialization")

	// ErrUnknownKey indicates no key could be resolved for the token's kid
	ErrUnknownKey = errors.New("jose: no key found for kid")

	// ErrAlgorithmMismatch indicates the header algorithm does not match the resolved key
	ErrAlgorithmMismatch = errors.New("jose: algorithm does not match resolved key")

	// ErrUnsupportedAlgorithm indicates the requested algorithm is not supported
	ErrUnsupportedAlgorithm = errors.New("jose: unsupported algorithm")

	// ErrVerificationFailed indicates the signature or HMAC did not verify
	ErrVerificationFailed = errors.New("jose: signature verification failed")

	// ErrDecryptionFailed indicates JWE decryption or integrity check failed
	ErrDecryptionFailed = errors.New("jose: decryption failed")

	// ErrNoUsableKey indicates key resolution found zero or multiple candidates
	// without a kid header to disambiguate. Resolution fails closed.
	ErrNoUsableKey = errors.New("jose: no single usable key for operation")
)
