package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	// ErrInvalidPublicKey indicates the peer-supplied public key could not be parsed.
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")
)

// ParsePublicKey parses a peer-supplied RSA public key in DER (PKIX or PKCS#1)
// or PEM form. Only public material is ever accepted from the peer.
func ParsePublicKey(raw []byte) (*rsa.PublicKey, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidPublicKey
	}

	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}

	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
		}
		return rsaKey, nil
	}

	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}

	return nil, ErrInvalidPublicKey
}

// EncryptSessionKey wraps a session key under the peer's public key using
// RSA-OAEP with SHA-1, the digest the deployed clients decrypt with.
func EncryptSessionKey(publicKey *rsa.PublicKey, sessionKey []byte) ([]byte, error) {
	if publicKey == nil {
		return nil, ErrInvalidPublicKey
	}

	encrypted, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, publicKey, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt session key: %w", err)
	}
	return encrypted, nil
}
