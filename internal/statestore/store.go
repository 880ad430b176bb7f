// internal/statestore/store.go
package statestore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// ErrNotFound is returned when a token is absent, expired or already consumed.
var ErrNotFound = errors.New("state token not found")

// Store holds the OAuth redirect context behind a one-shot CSRF state token.
// Consume is atomic: under concurrent callbacks racing on the same token,
// exactly one caller gets the redirect URI.
type Store interface {
	Issue(redirectURI string) (string, error)
	Consume(token string) (string, error)
}

// newToken returns a URL-safe token with 32 bytes of entropy.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
