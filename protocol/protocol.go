// Package protocol implements the binary wire format shared by clients and
// the server: fixed-header request/response frames and their payload layouts.
// The codec is a pure transform over bytes and carries no session semantics.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"govault/models"
)

const (
	// Version is the current wire protocol version.
	Version = 3
	// RequestHeaderSize is the fixed request header length in bytes.
	RequestHeaderSize = models.ClientIDSize + 1 + 2 + 4
	// ResponseHeaderSize is the fixed response header length in bytes.
	ResponseHeaderSize = 1 + 2 + 4
	// MaxPayloadSize is the maximum accepted frame payload size (16 MiB).
	// A declared size beyond this is a framing error and is rejected before
	// any allocation.
	MaxPayloadSize = 16 * 1024 * 1024
	// NameFieldSize is the fixed width of null-padded name fields in payloads.
	NameFieldSize = 255
)

var (
	// ErrTruncated indicates the byte window ends before the declared frame does.
	ErrTruncated = errors.New("protocol: truncated frame")
	// ErrUnknownCode indicates the frame header carries an unrecognized code.
	// The decoded header, including the version byte, is still returned so the
	// caller can answer with a generic error response.
	ErrUnknownCode = errors.New("protocol: unknown request code")
	// ErrPayloadTooLarge indicates the declared payload size exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds max size")
)

// RequestCode identifies the operation a request frame asks for.
type RequestCode uint16

// Request codes.
const (
	CodeRegister      RequestCode = 1025
	CodeKeyExchange   RequestCode = 1026
	CodeReconnect     RequestCode = 1027
	CodeBeginTransfer RequestCode = 1028
	CodeTransferChunk RequestCode = 1029
)

// Valid reports whether the code belongs to the recognized request set.
func (c RequestCode) Valid() bool {
	switch c {
	case CodeRegister, CodeKeyExchange, CodeReconnect, CodeBeginTransfer, CodeTransferChunk:
		return true
	default:
		return false
	}
}

func (c RequestCode) String() string {
	switch c {
	case CodeRegister:
		return "register"
	case CodeKeyExchange:
		return "key_exchange"
	case CodeReconnect:
		return "reconnect"
	case CodeBeginTransfer:
		return "begin_transfer"
	case CodeTransferChunk:
		return "transfer_chunk"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

// ResponseCode identifies the outcome reported by a response frame.
type ResponseCode uint16

// Response codes.
const (
	CodeRegistrationAccepted  ResponseCode = 2100
	CodeDuplicateName         ResponseCode = 2101
	CodeKeyAccepted           ResponseCode = 2102
	CodeFileReceived          ResponseCode = 2103
	CodeSuccess               ResponseCode = 2104
	CodeReconnectAccepted     ResponseCode = 2105
	CodeUnknownClient         ResponseCode = 2106
	CodeFramingError          ResponseCode = 2107
	CodeChecksumMismatchRetry ResponseCode = 2108
	CodeTransferAborted       ResponseCode = 2109
	CodeInvalidState          ResponseCode = 2110
)

func (c ResponseCode) String() string {
	switch c {
	case CodeRegistrationAccepted:
		return "registration_accepted"
	case CodeDuplicateName:
		return "duplicate_name"
	case CodeKeyAccepted:
		return "key_accepted"
	case CodeFileReceived:
		return "file_received"
	case CodeSuccess:
		return "success"
	case CodeReconnectAccepted:
		return "reconnect_accepted"
	case CodeUnknownClient:
		return "unknown_client"
	case CodeFramingError:
		return "framing_error"
	case CodeChecksumMismatchRetry:
		return "checksum_mismatch_retry"
	case CodeTransferAborted:
		return "transfer_aborted"
	case CodeInvalidState:
		return "invalid_state"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

// Request is one decoded request frame.
type Request struct {
	ClientID models.ClientID
	Version  byte
	Code     RequestCode
	Payload  []byte
}

// PayloadSize returns the payload length. It is always derived, never stored.
func (r Request) PayloadSize() uint32 {
	return uint32(len(r.Payload))
}

// Encode serializes the request into its wire representation.
func (r Request) Encode() []byte {
	out := make([]byte, RequestHeaderSize+len(r.Payload))
	copy(out, r.ClientID[:])
	out[models.ClientIDSize] = r.Version
	binary.LittleEndian.PutUint16(out[models.ClientIDSize+1:], uint16(r.Code))
	binary.LittleEndian.PutUint32(out[models.ClientIDSize+3:], r.PayloadSize())
	copy(out[RequestHeaderSize:], r.Payload)
	return out
}

// Response is one response frame awaiting encoding.
type Response struct {
	Version byte
	Code    ResponseCode
	Payload []byte
}

// PayloadSize returns the payload length. It is always derived, never stored.
func (r Response) PayloadSize() uint32 {
	return uint32(len(r.Payload))
}

// Encode serializes the response into its wire representation.
func (r Response) Encode() []byte {
	out := make([]byte, ResponseHeaderSize+len(r.Payload))
	out[0] = r.Version
	binary.LittleEndian.PutUint16(out[1:], uint16(r.Code))
	binary.LittleEndian.PutUint32(out[3:], r.PayloadSize())
	copy(out[ResponseHeaderSize:], r.Payload)
	return out
}

// DecodeRequest decodes one request frame from the front of buf.
//
// It returns the decoded request and the number of bytes consumed. When the
// window is shorter than the declared frame, ErrTruncated is returned and the
// caller must wait for more bytes. When the code is unrecognized, the fully
// decoded frame is returned together with ErrUnknownCode.
func DecodeRequest(buf []byte) (Request, int, error) {
	if len(buf) < RequestHeaderSize {
		return Request{}, 0, ErrTruncated
	}

	var req Request
	req.ClientID = models.ClientIDFromBytes(buf[:models.ClientIDSize])
	req.Version = buf[models.ClientIDSize]
	req.Code = RequestCode(binary.LittleEndian.Uint16(buf[models.ClientIDSize+1:]))
	payloadSize := binary.LittleEndian.Uint32(buf[models.ClientIDSize+3:])

	if payloadSize > MaxPayloadSize {
		return Request{}, 0, ErrPayloadTooLarge
	}

	total := RequestHeaderSize + int(payloadSize)
	if len(buf) < total {
		return Request{}, 0, ErrTruncated
	}

	if payloadSize > 0 {
		req.Payload = make([]byte, payloadSize)
		copy(req.Payload, buf[RequestHeaderSize:total])
	}

	if !req.Code.Valid() {
		return req, total, ErrUnknownCode
	}
	return req, total, nil
}

// ReadRequest reads exactly one request frame from r.
//
// An unrecognized code still consumes the whole frame and returns it alongside
// ErrUnknownCode, keeping the stream in sync for the next frame. An oversized
// payload declaration returns the decoded header with ErrPayloadTooLarge so
// the caller can echo the peer's version before severing.
func ReadRequest(r io.Reader) (Request, error) {
	header := make([]byte, RequestHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Request{}, fmt.Errorf("read request header: %w", ErrTruncated)
		}
		return Request{}, err
	}

	var req Request
	req.ClientID = models.ClientIDFromBytes(header[:models.ClientIDSize])
	req.Version = header[models.ClientIDSize]
	req.Code = RequestCode(binary.LittleEndian.Uint16(header[models.ClientIDSize+1:]))
	payloadSize := binary.LittleEndian.Uint32(header[models.ClientIDSize+3:])

	if payloadSize > MaxPayloadSize {
		return req, ErrPayloadTooLarge
	}
	if payloadSize > 0 {
		req.Payload = make([]byte, payloadSize)
		if _, err := io.ReadFull(r, req.Payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Request{}, fmt.Errorf("read request payload: %w", ErrTruncated)
			}
			return Request{}, err
		}
	}

	if !req.Code.Valid() {
		return req, ErrUnknownCode
	}
	return req, nil
}

// WriteResponse encodes resp and writes it to w in full.
func WriteResponse(w io.Writer, resp Response) error {
	if len(resp.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	if _, err := w.Write(resp.Encode()); err != nil {
		return fmt.Errorf("write response frame: %w", err)
	}
	return nil
}

// ReadResponse reads exactly one response frame from r. It is the client-side
// counterpart of WriteResponse and is used by tests and tooling.
func ReadResponse(r io.Reader) (Response, error) {
	header := make([]byte, ResponseHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Response{}, fmt.Errorf("read response header: %w", ErrTruncated)
		}
		return Response{}, err
	}

	var resp Response
	resp.Version = header[0]
	resp.Code = ResponseCode(binary.LittleEndian.Uint16(header[1:]))
	payloadSize := binary.LittleEndian.Uint32(header[3:])

	if payloadSize > MaxPayloadSize {
		return Response{}, ErrPayloadTooLarge
	}
	if payloadSize > 0 {
		resp.Payload = make([]byte, payloadSize)
		if _, err := io.ReadFull(r, resp.Payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Response{}, fmt.Errorf("read response payload: %w", ErrTruncated)
			}
			return Response{}, err
		}
	}

	return resp, nil
}
