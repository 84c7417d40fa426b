package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// OpaqueTokenBytes is the entropy of refresh and reset tokens (256 bits).
const OpaqueTokenBytes = 32

// NewOpaqueToken returns a random URL-safe token and the hash to persist for it.
func NewOpaqueToken() (raw, hash string, err error) {
	b := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashToken(raw), nil
}

// HashToken returns a SHA-256 hash of the token string, hex-encoded.
// Refresh and reset tokens are stored and looked up by this hash; the raw value is never persisted.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
