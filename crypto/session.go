// Package crypto implements the protocol's cryptographic primitives: RSA-OAEP
// transport of session keys, the symmetric payload cipher, and the transfer
// integrity checksum.
package crypto

import (
	"crypto/rand"
	"fmt"
)

// SessionKeySize is the symmetric session key length in bytes (AES-128).
const SessionKeySize = 16

// NewSessionKey generates a fresh random symmetric session key.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}
