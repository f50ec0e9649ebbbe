package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"govault/crypto"
	"govault/models"
	"govault/protocol"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// State is the session's position in the protocol state machine.
type State int

// Session states. Registering and AwaitingKeyExchange are the transient
// counterparts of Unauthenticated and Registered; the transition table treats
// them identically so a handler interrupted mid-step resumes cleanly.
const (
	StateUnauthenticated State = iota
	StateRegistering
	StateRegistered
	StateAwaitingKeyExchange
	StateKeyEstablished
	StateTransferInProgress
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateAwaitingKeyExchange:
		return "awaiting_key_exchange"
	case StateKeyEstablished:
		return "key_established"
	case StateTransferInProgress:
		return "transfer_in_progress"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Session owns the ephemeral per-connection protocol state: the current
// client identity once known, the in-flight transfer if any, and the state
// machine position. Operations on one Session are never concurrent; the
// protocol is strictly request-then-response.
type Session struct {
	registry Registry
	files    FileStore

	state    State
	client   *models.Client
	transfer *Transfer
}

// Cfg configures a Session.
type Cfg func(*Session) error

// WithFileStore sets the store that persists decrypted file contents. Without
// one, only file metadata is recorded.
func WithFileStore(files FileStore) Cfg {
	return func(s *Session) error {
		s.files = files
		return nil
	}
}

// NewSession creates a Session in the Unauthenticated state.
func NewSession(registry Registry, cfgs ...Cfg) (*Session, error) {
	if registry == nil {
		return nil, errors.New("vault: registry is required")
	}
	session := &Session{
		registry: registry,
		state:    StateUnauthenticated,
	}
	for _, cfg := range cfgs {
		if err := cfg(session); err != nil {
			return nil, fmt.Errorf("apply Session cfg failed: %w", err)
		}
	}
	return session, nil
}

// State returns the current state machine position.
func (s *Session) State() State {
	return s.state
}

// ClientID returns the current client identifier, or the zero identifier if
// the session is unauthenticated.
func (s *Session) ClientID() models.ClientID {
	if s.client == nil {
		return models.ClientID{}
	}
	return s.client.ID
}

type handlerFunc func(*Session, protocol.Request) protocol.Response

// supersede aborts the in-flight transfer before running next. Partial
// transfers are discarded, never persisted.
func supersede(next handlerFunc) handlerFunc {
	return func(s *Session, req protocol.Request) protocol.Response {
		s.abortTransfer()
		s.state = StateKeyEstablished
		logger.WithFields(logrus.Fields{
			"client": s.ClientID().String(),
			"code":   req.Code.String(),
		}).Warning("transfer superseded by new request")
		return next(s, req)
	}
}

// transitions is the explicit state × code table. A (state, code) pair absent
// here yields InvalidState with no side effect.
var transitions = map[State]map[protocol.RequestCode]handlerFunc{
	StateUnauthenticated: {
		protocol.CodeRegister:  (*Session).handleRegister,
		protocol.CodeReconnect: (*Session).handleReconnect,
	},
	StateRegistering: {
		protocol.CodeRegister:  (*Session).handleRegister,
		protocol.CodeReconnect: (*Session).handleReconnect,
	},
	StateRegistered: {
		protocol.CodeKeyExchange: (*Session).handleKeyExchange,
	},
	StateAwaitingKeyExchange: {
		protocol.CodeKeyExchange: (*Session).handleKeyExchange,
	},
	StateKeyEstablished: {
		protocol.CodeBeginTransfer: (*Session).handleBeginTransfer,
	},
	StateTransferInProgress: {
		protocol.CodeTransferChunk: (*Session).handleTransferChunk,
		protocol.CodeRegister:      supersede((*Session).handleRegister),
		protocol.CodeReconnect:     supersede((*Session).handleReconnect),
	},
}

// Handle consumes one decoded request and produces exactly one response.
func (s *Session) Handle(req protocol.Request) protocol.Response {
	handlers, ok := transitions[s.state]
	if !ok {
		return s.respond(protocol.CodeInvalidState, nil)
	}
	handler, ok := handlers[req.Code]
	if !ok {
		logger.WithFields(logrus.Fields{
			"state":  s.state.String(),
			"code":   req.Code.String(),
			"client": s.ClientID().String(),
		}).Info("request not valid in current state")
		return s.respond(protocol.CodeInvalidState, nil)
	}
	return handler(s, req)
}

// FramingErrorResponse builds the generic error response for a frame that
// could not be decoded, echoing the peer's version when it was recovered.
func FramingErrorResponse(version byte) protocol.Response {
	if version == 0 {
		version = protocol.Version
	}
	return protocol.Response{
		Version: version,
		Code:    protocol.CodeFramingError,
		Payload: []byte("general server error or invalid request code"),
	}
}

// Close tears the session down: any in-flight transfer is aborted and its
// buffers released. Called by the connection handler on every disconnect path.
func (s *Session) Close() {
	if s.transfer != nil {
		logger.WithField("client", s.ClientID().String()).Warning("session closed mid-transfer, discarding partial data")
	}
	s.abortTransfer()
	s.client = nil
	s.state = StateUnauthenticated
}

func (s *Session) handleRegister(req protocol.Request) protocol.Response {
	payload, err := protocol.ParseRegisterPayload(req.Payload)
	if err != nil {
		return FramingErrorResponse(req.Version)
	}

	existing, err := s.registry.FindClientByName(payload.Name)
	switch {
	case err == nil && existing.ID != req.ClientID:
		logger.WithField("name", payload.Name).Info("registration rejected, name taken")
		return s.respond(protocol.CodeDuplicateName, nil)
	case err != nil && !errors.Is(err, ErrNotFound):
		return FramingErrorResponse(req.Version)
	}

	client := models.Client{
		Name:      payload.Name,
		PublicKey: payload.PublicKey,
		LastSeen:  time.Now(),
	}
	if err == nil {
		// Re-registration by the holder of the name keeps the identifier.
		client.ID = existing.ID
	} else {
		client.ID = models.NewClientID()
	}

	if err := s.registry.UpsertClient(client); err != nil {
		logger.WithField("name", payload.Name).WithError(err).Error("registry upsert failed")
		return FramingErrorResponse(req.Version)
	}

	s.client = &client
	s.state = StateRegistered
	s.transfer = nil
	logger.WithFields(logrus.Fields{
		"client": client.ID.String(),
		"name":   client.Name,
	}).Info("client registered")
	return s.respond(protocol.CodeRegistrationAccepted, client.ID[:])
}

func (s *Session) handleReconnect(req protocol.Request) protocol.Response {
	name, err := protocol.ParseReconnectPayload(req.Payload)
	if err != nil {
		return FramingErrorResponse(req.Version)
	}

	reject := func(reason string) protocol.Response {
		logger.WithFields(logrus.Fields{
			"client": req.ClientID.String(),
			"name":   name,
			"reason": reason,
		}).Info("reconnect rejected")
		s.client = nil
		s.state = StateUnauthenticated
		return s.respond(protocol.CodeUnknownClient, []byte("restart as new client"))
	}

	client, err := s.registry.FindClient(req.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject("unknown identifier")
		}
		return FramingErrorResponse(req.Version)
	}
	if client.Name != name {
		return reject("name mismatch")
	}
	if len(client.PublicKey) == 0 {
		return reject("no stored public key")
	}

	publicKey, err := crypto.ParsePublicKey(client.PublicKey)
	if err != nil {
		return reject("stored public key unusable")
	}

	sessionKey, err := crypto.NewSessionKey()
	if err != nil {
		return FramingErrorResponse(req.Version)
	}
	encryptedKey, err := crypto.EncryptSessionKey(publicKey, sessionKey)
	if err != nil {
		return reject("session key wrap failed")
	}

	client.SessionKey = sessionKey
	client.LastSeen = time.Now()
	if err := s.registry.UpsertClient(client); err != nil {
		logger.WithField("client", client.ID.String()).WithError(err).Error("registry upsert failed")
		return FramingErrorResponse(req.Version)
	}

	s.client = &client
	s.state = StateKeyEstablished
	logger.WithFields(logrus.Fields{
		"client": client.ID.String(),
		"name":   client.Name,
	}).Info("client reconnected, fresh session key issued")
	return s.respond(protocol.CodeReconnectAccepted, protocol.BuildKeyAcceptedPayload(client.ID, encryptedKey))
}

func (s *Session) handleKeyExchange(req protocol.Request) protocol.Response {
	payload, err := protocol.ParseKeyExchangePayload(req.Payload)
	if err != nil {
		return FramingErrorResponse(req.Version)
	}
	if s.client == nil || req.ClientID != s.client.ID {
		return s.respond(protocol.CodeUnknownClient, nil)
	}

	publicKey, err := crypto.ParsePublicKey(payload.PublicKey)
	if err != nil {
		logger.WithField("client", s.client.ID.String()).Info("key exchange rejected, unparseable public key")
		return FramingErrorResponse(req.Version)
	}

	sessionKey, err := crypto.NewSessionKey()
	if err != nil {
		return FramingErrorResponse(req.Version)
	}
	encryptedKey, err := crypto.EncryptSessionKey(publicKey, sessionKey)
	if err != nil {
		return FramingErrorResponse(req.Version)
	}

	client := *s.client
	client.PublicKey = payload.PublicKey
	client.SessionKey = sessionKey
	client.LastSeen = time.Now()
	if err := s.registry.UpsertClient(client); err != nil {
		logger.WithField("client", client.ID.String()).WithError(err).Error("registry upsert failed")
		return FramingErrorResponse(req.Version)
	}

	s.client = &client
	s.state = StateKeyEstablished
	logger.WithField("client", client.ID.String()).Info("public key stored, session key issued")
	return s.respond(protocol.CodeKeyAccepted, protocol.BuildKeyAcceptedPayload(client.ID, encryptedKey))
}

func (s *Session) handleBeginTransfer(req protocol.Request) protocol.Response {
	payload, err := protocol.ParseBeginTransferPayload(req.Payload)
	if err != nil {
		return FramingErrorResponse(req.Version)
	}
	if payload.DeclaredSize == 0 {
		return FramingErrorResponse(req.Version)
	}

	s.transfer = newTransfer(payload.Filename, payload.DeclaredSize, payload.Checksum)
	s.state = StateTransferInProgress
	logger.WithFields(logrus.Fields{
		"client":   s.client.ID.String(),
		"filename": payload.Filename,
		"size":     payload.DeclaredSize,
	}).Info("transfer started")
	return s.respond(protocol.CodeSuccess, nil)
}

func (s *Session) handleTransferChunk(req protocol.Request) protocol.Response {
	cleartext, err := crypto.Decrypt(s.client.SessionKey, req.Payload)
	if err != nil {
		// A bad key state cannot be recovered within the same transfer.
		logger.WithField("client", s.client.ID.String()).WithError(err).Warning("chunk decryption failed, aborting transfer")
		return s.abortWithResponse()
	}

	result, err := s.transfer.accept(cleartext)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"client":   s.client.ID.String(),
			"filename": s.transfer.filename,
		}).WithError(err).Warning("aborting transfer")
		return s.abortWithResponse()
	}
	if result == transferIncomplete {
		return s.respond(protocol.CodeSuccess, nil)
	}

	if !s.transfer.matches() {
		if exhausted := s.transfer.fail(); exhausted {
			logger.WithFields(logrus.Fields{
				"client":   s.client.ID.String(),
				"filename": s.transfer.filename,
				"attempts": s.transfer.attempts,
			}).Warning("checksum retries exhausted, aborting transfer")
			return s.abortWithResponse()
		}
		logger.WithFields(logrus.Fields{
			"client":   s.client.ID.String(),
			"filename": s.transfer.filename,
			"attempt":  s.transfer.attempts,
		}).Info("checksum mismatch, awaiting client re-send")
		return s.respond(protocol.CodeChecksumMismatchRetry, nil)
	}

	return s.completeTransfer(req)
}

func (s *Session) completeTransfer(req protocol.Request) protocol.Response {
	transfer := s.transfer
	checksum := transfer.checksum()

	storedPath := ""
	if s.files != nil {
		path, err := s.files.Save(s.client.ID, transfer.filename, transfer.bytes())
		if err != nil {
			logger.WithFields(logrus.Fields{
				"client":   s.client.ID.String(),
				"filename": transfer.filename,
			}).WithError(err).Error("persist file contents failed, aborting transfer")
			return s.abortWithResponse()
		}
		storedPath = path
	}

	file := models.File{
		ClientID:   s.client.ID,
		Filename:   transfer.filename,
		Size:       transfer.declaredSize,
		Checksum:   checksum,
		StoredPath: storedPath,
		ReceivedAt: time.Now(),
	}
	if err := s.registry.RecordFile(file); err != nil {
		logger.WithField("client", s.client.ID.String()).WithError(err).Error("record file failed, aborting transfer")
		return s.abortWithResponse()
	}

	s.client.LastSeen = time.Now()
	if err := s.registry.UpsertClient(*s.client); err != nil {
		logger.WithField("client", s.client.ID.String()).WithError(err).Warning("last seen update failed")
	}

	responsePayload, err := protocol.BuildFileReceivedPayload(s.client.ID, transfer.declaredSize, transfer.filename, checksum)
	if err != nil {
		return s.abortWithResponse()
	}

	s.transfer = nil
	s.state = StateKeyEstablished
	logger.WithFields(logrus.Fields{
		"client":   s.client.ID.String(),
		"filename": file.Filename,
		"size":     file.Size,
		"checksum": fmt.Sprintf("%08x", file.Checksum),
	}).Info("file received and verified")
	return s.respond(protocol.CodeFileReceived, responsePayload)
}

func (s *Session) abortWithResponse() protocol.Response {
	s.abortTransfer()
	s.state = StateKeyEstablished
	return s.respond(protocol.CodeTransferAborted, nil)
}

func (s *Session) abortTransfer() {
	if s.transfer != nil {
		s.transfer.abort()
		s.transfer = nil
	}
}

func (s *Session) respond(code protocol.ResponseCode, payload []byte) protocol.Response {
	return protocol.Response{
		Version: protocol.Version,
		Code:    code,
		Payload: payload,
	}
}
