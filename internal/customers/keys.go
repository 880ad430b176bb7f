// internal/customers/keys.go
package customers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// KeyPrefix marks every API key this service issues. Keys without it are
// rejected before any store round-trip.
const KeyPrefix = "soc_"

// GenerateAPIKey returns a fresh raw key, its sha256 hex hash and the short
// prefix kept for display. The raw key is never persisted.
func GenerateAPIKey() (raw, hash, prefix string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process is unusable
		panic(err)
	}
	raw = KeyPrefix + base64.RawURLEncoding.EncodeToString(b)
	return raw, HashAPIKey(raw), raw[:8]
}

// HashAPIKey returns the irreversible digest stored in place of the raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ValidKeyFormat reports whether raw could have been issued by this service.
func ValidKeyFormat(raw string) bool {
	return strings.HasPrefix(raw, KeyPrefix) && len(raw) > len(KeyPrefix)
}
