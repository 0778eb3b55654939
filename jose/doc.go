// Package jose implements the JSON Web Signature (RFC 7515), JSON Web
// Encryption (RFC 7516) and JSON Web Key (RFC 7517) operations used by the
// authorization server: compact JWS signing and verification, compact JWE
// encryption and decryption, and a rotating key set published as a JWKS.
//
// The compact codecs are bit-exact implementations of the RFC 7518
// algorithms the server supports. Interoperability with third-party clients
// depends on the exact byte layout of the composite AES-CBC-HMAC
// construction, so the primitives are built directly on the standard
// library's crypto packages; JWK serialization and thumbprints are handled
// by github.com/go-jose/go-jose/v4.
package jose
