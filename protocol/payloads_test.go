package protocol

import (
	"bytes"
	"errors"
	"testing"

	"govault/models"
)

func TestNameFieldRoundTrip(t *testing.T) {
	field, err := EncodeName("backup-client")
	if err != nil {
		t.Fatalf("EncodeName failed: %v", err)
	}
	if len(field) != NameFieldSize {
		t.Fatalf("name field must be %d bytes, got %d", NameFieldSize, len(field))
	}
	if got := DecodeName(field); got != "backup-client" {
		t.Fatalf("name round trip mismatch: %q", got)
	}
}

func TestEncodeNameTooLong(t *testing.T) {
	if _, err := EncodeName(string(bytes.Repeat([]byte{'a'}, NameFieldSize+1))); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestParseRegisterPayloadNameOnly(t *testing.T) {
	field, _ := EncodeName("alice")
	payload, err := ParseRegisterPayload(field)
	if err != nil {
		t.Fatalf("ParseRegisterPayload failed: %v", err)
	}
	if payload.Name != "alice" || payload.PublicKey != nil {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestParseRegisterPayloadWithPublicKey(t *testing.T) {
	field, _ := EncodeName("bob")
	raw := append(field, []byte("DER-KEY-BYTES")...)

	payload, err := ParseRegisterPayload(raw)
	if err != nil {
		t.Fatalf("ParseRegisterPayload failed: %v", err)
	}
	if payload.Name != "bob" {
		t.Fatalf("unexpected name: %q", payload.Name)
	}
	if !bytes.Equal(payload.PublicKey, []byte("DER-KEY-BYTES")) {
		t.Fatalf("unexpected public key: %q", payload.PublicKey)
	}
}

func TestParseRegisterPayloadRejectsEmpty(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, {0, 0, 0}} {
		if _, err := ParseRegisterPayload(raw); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected ErrMalformedPayload for %v, got %v", raw, err)
		}
	}
}

func TestParseKeyExchangePayloadRequiresKey(t *testing.T) {
	field, _ := EncodeName("carol")
	if _, err := ParseKeyExchangePayload(field); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload without key bytes, got %v", err)
	}

	payload, err := ParseKeyExchangePayload(append(field, 0x30, 0x82))
	if err != nil {
		t.Fatalf("ParseKeyExchangePayload failed: %v", err)
	}
	if payload.Name != "carol" || len(payload.PublicKey) != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestBeginTransferPayloadRoundTrip(t *testing.T) {
	raw, err := BuildBeginTransferPayload(1024, "backup.tar", 0xDEADBEEF)
	if err != nil {
		t.Fatalf("BuildBeginTransferPayload failed: %v", err)
	}

	payload, err := ParseBeginTransferPayload(raw)
	if err != nil {
		t.Fatalf("ParseBeginTransferPayload failed: %v", err)
	}
	if payload.DeclaredSize != 1024 || payload.Filename != "backup.tar" || payload.Checksum != 0xDEADBEEF {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestParseBeginTransferPayloadRejectsWrongLength(t *testing.T) {
	if _, err := ParseBeginTransferPayload(make([]byte, 10)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestKeyAcceptedPayloadRoundTrip(t *testing.T) {
	id := models.ClientIDFromBytes([]byte("fedcba9876543210"))
	encrypted := bytes.Repeat([]byte{0x42}, 128)

	raw := BuildKeyAcceptedPayload(id, encrypted)
	gotID, gotKey, err := ParseKeyAcceptedPayload(raw)
	if err != nil {
		t.Fatalf("ParseKeyAcceptedPayload failed: %v", err)
	}
	if gotID != id {
		t.Fatalf("client id mismatch: got %s want %s", gotID, id)
	}
	if !bytes.Equal(gotKey, encrypted) {
		t.Fatalf("encrypted key mismatch")
	}
}

func TestFileReceivedPayloadRoundTrip(t *testing.T) {
	id := models.ClientIDFromBytes([]byte("0123456789abcdef"))
	raw, err := BuildFileReceivedPayload(id, 4096, "photo.jpg", 0xCAFEBABE)
	if err != nil {
		t.Fatalf("BuildFileReceivedPayload failed: %v", err)
	}

	payload, err := ParseFileReceivedPayload(raw)
	if err != nil {
		t.Fatalf("ParseFileReceivedPayload failed: %v", err)
	}
	if payload.ClientID != id || payload.Size != 4096 || payload.Filename != "photo.jpg" || payload.Checksum != 0xCAFEBABE {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
