// Package session implements the session authenticator: an opaque,
// unsigned token layer with no claims, generated with crypto/rand and
// compared byte-for-byte by the persistence layer that stores it.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// minTokenBytes is the random-byte floor a session token must carry
// (≥ 50 bytes before URL-safe base64 encoding).
const minTokenBytes = 50

// GenerateToken returns a fresh, unpredictable session token. The encoded
// length is longer than minTokenBytes since base64 expands 3 bytes into 4
// characters; callers only need the documented floor on entropy, not on
// string length.
func GenerateToken() (string, error) {
	buf := make([]byte, minTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
