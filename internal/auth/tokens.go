package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// secureToken returns a URL-safe, cryptographically random token with at
// least 32 bytes of entropy (spec.md §4.7).
func secureToken(prefix string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hash stored alongside an access token; only the
// hash is ever persisted, never the plaintext (spec.md §4.7, §3).
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
