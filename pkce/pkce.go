// Package pkce implements the Proof Key for Code Exchange (RFC 7636)
// verifier/challenge pair with the S256 transform.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// verifierBytes is the number of random bytes in a code verifier. 32 bytes
// gives 256 bits of entropy and encodes to 43 base64url characters, the
// RFC 7636 minimum.
const verifierBytes = 32

// Generate returns a fresh (verifier, challenge) pair.
func Generate() (verifier, challenge string, err error) {
	raw := make([]byte, verifierBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("[pkce.Generate] random: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	return verifier, Challenge(verifier), nil
}

// Challenge computes the S256 challenge for a verifier.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// Verify reports whether verifier hashes to challenge. The comparison is
// constant time.
func Verify(verifier, challenge string) bool {
	computed := Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// GenerateState returns a random value suitable for the OAuth state
// parameter or an OIDC nonce.
func GenerateState() (string, error) {
	raw := make([]byte, verifierBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("[pkce.GenerateState] random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
