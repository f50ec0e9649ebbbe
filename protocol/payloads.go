package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"govault/models"
)

var (
	// ErrMalformedPayload indicates a payload does not match its declared layout.
	ErrMalformedPayload = errors.New("protocol: malformed payload")
)

// EncodeName pads a name into the fixed 255-byte null-padded field.
func EncodeName(name string) ([]byte, error) {
	raw := []byte(name)
	if len(raw) > NameFieldSize {
		return nil, fmt.Errorf("%w: name longer than %d bytes", ErrMalformedPayload, NameFieldSize)
	}
	out := make([]byte, NameFieldSize)
	copy(out, raw)
	return out, nil
}

// DecodeName trims null padding and surrounding whitespace from a name field.
func DecodeName(field []byte) string {
	trimmed := bytes.TrimRight(field, "\x00")
	return strings.TrimSpace(string(trimmed))
}

// RegisterPayload is the decoded Register request payload.
type RegisterPayload struct {
	Name string
	// PublicKey is optional at registration; most clients deliver the key in a
	// later KeyExchange request instead.
	PublicKey []byte
}

// ParseRegisterPayload decodes a Register request payload.
func ParseRegisterPayload(payload []byte) (RegisterPayload, error) {
	if len(payload) == 0 {
		return RegisterPayload{}, fmt.Errorf("parse register payload: %w", ErrMalformedPayload)
	}

	var out RegisterPayload
	if len(payload) <= NameFieldSize {
		out.Name = DecodeName(payload)
	} else {
		out.Name = DecodeName(payload[:NameFieldSize])
		out.PublicKey = append([]byte(nil), payload[NameFieldSize:]...)
	}
	if out.Name == "" {
		return RegisterPayload{}, fmt.Errorf("parse register payload: empty name: %w", ErrMalformedPayload)
	}
	return out, nil
}

// KeyExchangePayload is the decoded KeyExchange request payload.
type KeyExchangePayload struct {
	Name      string
	PublicKey []byte
}

// ParseKeyExchangePayload decodes a KeyExchange request payload.
func ParseKeyExchangePayload(payload []byte) (KeyExchangePayload, error) {
	if len(payload) <= NameFieldSize {
		return KeyExchangePayload{}, fmt.Errorf("parse key exchange payload: %w", ErrMalformedPayload)
	}
	return KeyExchangePayload{
		Name:      DecodeName(payload[:NameFieldSize]),
		PublicKey: append([]byte(nil), payload[NameFieldSize:]...),
	}, nil
}

// ParseReconnectPayload decodes a Reconnect request payload (a name field).
func ParseReconnectPayload(payload []byte) (string, error) {
	if len(payload) == 0 || len(payload) > NameFieldSize {
		return "", fmt.Errorf("parse reconnect payload: %w", ErrMalformedPayload)
	}
	name := DecodeName(payload)
	if name == "" {
		return "", fmt.Errorf("parse reconnect payload: empty name: %w", ErrMalformedPayload)
	}
	return name, nil
}

// BeginTransferPayload is the decoded BeginTransfer request payload.
type BeginTransferPayload struct {
	DeclaredSize uint32
	Filename     string
	Checksum     uint32
}

// beginTransferPayloadSize is 4B size + 255B name + 4B checksum.
const beginTransferPayloadSize = 4 + NameFieldSize + 4

// ParseBeginTransferPayload decodes a BeginTransfer request payload.
func ParseBeginTransferPayload(payload []byte) (BeginTransferPayload, error) {
	if len(payload) != beginTransferPayloadSize {
		return BeginTransferPayload{}, fmt.Errorf("parse begin transfer payload: %w", ErrMalformedPayload)
	}

	out := BeginTransferPayload{
		DeclaredSize: binary.LittleEndian.Uint32(payload[:4]),
		Filename:     DecodeName(payload[4 : 4+NameFieldSize]),
		Checksum:     binary.LittleEndian.Uint32(payload[4+NameFieldSize:]),
	}
	if out.Filename == "" {
		return BeginTransferPayload{}, fmt.Errorf("parse begin transfer payload: empty filename: %w", ErrMalformedPayload)
	}
	return out, nil
}

// BuildBeginTransferPayload encodes a BeginTransfer request payload.
func BuildBeginTransferPayload(declaredSize uint32, filename string, checksum uint32) ([]byte, error) {
	nameField, err := EncodeName(filename)
	if err != nil {
		return nil, err
	}

	out := make([]byte, beginTransferPayloadSize)
	binary.LittleEndian.PutUint32(out[:4], declaredSize)
	copy(out[4:], nameField)
	binary.LittleEndian.PutUint32(out[4+NameFieldSize:], checksum)
	return out, nil
}

// BuildKeyAcceptedPayload encodes the KeyAccepted/ReconnectAccepted payload:
// the client identifier followed by the encrypted session key.
func BuildKeyAcceptedPayload(id models.ClientID, encryptedSessionKey []byte) []byte {
	out := make([]byte, 0, len(id)+len(encryptedSessionKey))
	out = append(out, id[:]...)
	return append(out, encryptedSessionKey...)
}

// ParseKeyAcceptedPayload splits a KeyAccepted/ReconnectAccepted payload.
func ParseKeyAcceptedPayload(payload []byte) (models.ClientID, []byte, error) {
	if len(payload) <= models.ClientIDSize {
		return models.ClientID{}, nil, fmt.Errorf("parse key accepted payload: %w", ErrMalformedPayload)
	}
	id := models.ClientIDFromBytes(payload[:models.ClientIDSize])
	key := append([]byte(nil), payload[models.ClientIDSize:]...)
	return id, key, nil
}

// BuildFileReceivedPayload encodes the FileReceived payload: client id,
// cleartext size, null-padded filename and the server-computed checksum.
func BuildFileReceivedPayload(id models.ClientID, size uint32, filename string, checksum uint32) ([]byte, error) {
	nameField, err := EncodeName(filename)
	if err != nil {
		return nil, err
	}

	out := make([]byte, models.ClientIDSize+beginTransferPayloadSize)
	copy(out, id[:])
	binary.LittleEndian.PutUint32(out[models.ClientIDSize:], size)
	copy(out[models.ClientIDSize+4:], nameField)
	binary.LittleEndian.PutUint32(out[models.ClientIDSize+4+NameFieldSize:], checksum)
	return out, nil
}

// FileReceivedPayload is the decoded FileReceived response payload.
type FileReceivedPayload struct {
	ClientID models.ClientID
	Size     uint32
	Filename string
	Checksum uint32
}

// ParseFileReceivedPayload decodes a FileReceived response payload.
func ParseFileReceivedPayload(payload []byte) (FileReceivedPayload, error) {
	if len(payload) != models.ClientIDSize+beginTransferPayloadSize {
		return FileReceivedPayload{}, fmt.Errorf("parse file received payload: %w", ErrMalformedPayload)
	}
	return FileReceivedPayload{
		ClientID: models.ClientIDFromBytes(payload[:models.ClientIDSize]),
		Size:     binary.LittleEndian.Uint32(payload[models.ClientIDSize:]),
		Filename: DecodeName(payload[models.ClientIDSize+4 : models.ClientIDSize+4+NameFieldSize]),
		Checksum: binary.LittleEndian.Uint32(payload[models.ClientIDSize+4+NameFieldSize:]),
	}, nil
}
