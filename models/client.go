package models

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ClientIDSize is the fixed width of a client identifier on the wire and in storage.
const ClientIDSize = 16

// ClientID is the opaque 16-byte identifier assigned to a client at registration.
type ClientID [ClientIDSize]byte

// NewClientID generates a fresh random client identifier.
func NewClientID() ClientID {
	return ClientID(uuid.New())
}

// ClientIDFromBytes copies up to ClientIDSize bytes into a ClientID.
func ClientIDFromBytes(raw []byte) ClientID {
	var id ClientID
	copy(id[:], raw)
	return id
}

// IsZero reports whether the identifier is all zero bytes.
func (id ClientID) IsZero() bool {
	return id == ClientID{}
}

// String returns the identifier as lowercase hex.
func (id ClientID) String() string {
	return hex.EncodeToString(id[:])
}

// Client represents one registered client identity.
//
// PublicKey and SessionKey are nil until the client has completed a key
// exchange; a session key only ever exists alongside a public key.
type Client struct {
	ID         ClientID
	Name       string
	PublicKey  []byte
	SessionKey []byte
	LastSeen   time.Time
}
