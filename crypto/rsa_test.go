package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate RSA key failed: %v", err)
	}
	return key
}

func TestEncryptSessionKeyRoundTrip(t *testing.T) {
	privateKey := testRSAKey(t)
	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key failed: %v", err)
	}

	publicKey, err := ParsePublicKey(der)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}

	sessionKey, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey failed: %v", err)
	}

	encrypted, err := EncryptSessionKey(publicKey, sessionKey)
	if err != nil {
		t.Fatalf("EncryptSessionKey failed: %v", err)
	}
	if bytes.Contains(encrypted, sessionKey) {
		t.Fatalf("session key must never appear in cleartext")
	}

	decrypted, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, privateKey, encrypted, nil)
	if err != nil {
		t.Fatalf("client-side decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, sessionKey) {
		t.Fatalf("session key round trip mismatch")
	}
}

func TestParsePublicKeyAcceptsPEM(t *testing.T) {
	privateKey := testRSAKey(t)
	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key failed: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	if _, err := ParsePublicKey(pemBytes); err != nil {
		t.Fatalf("ParsePublicKey rejected PEM: %v", err)
	}
}

func TestParsePublicKeyAcceptsPKCS1(t *testing.T) {
	privateKey := testRSAKey(t)
	der := x509.MarshalPKCS1PublicKey(&privateKey.PublicKey)

	if _, err := ParsePublicKey(der); err != nil {
		t.Fatalf("ParsePublicKey rejected PKCS#1 DER: %v", err)
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, []byte("not a key"), bytes.Repeat([]byte{0xFF}, 160)} {
		if _, err := ParsePublicKey(raw); !errors.Is(err, ErrInvalidPublicKey) {
			t.Fatalf("expected ErrInvalidPublicKey for %d bytes, got %v", len(raw), err)
		}
	}
}
