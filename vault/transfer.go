package vault

import (
	"bytes"
	"errors"
	"fmt"

	"govault/crypto"
)

// MaxTransferAttempts bounds checksum-mismatch retries per transfer. The
// fourth failed attempt aborts the transfer.
const MaxTransferAttempts = 4

var (
	// ErrOversize indicates a chunk would push the accumulated cleartext past
	// the declared total size. The transfer aborts immediately, no retry.
	ErrOversize = errors.New("vault: chunk exceeds declared transfer size")
)

// Transfer accumulates decrypted chunks for one in-flight file transfer.
type Transfer struct {
	filename     string
	declaredSize uint32
	expectedCRC  uint32

	buf      bytes.Buffer
	attempts int
}

func newTransfer(filename string, declaredSize, expectedCRC uint32) *Transfer {
	return &Transfer{
		filename:     filename,
		declaredSize: declaredSize,
		expectedCRC:  expectedCRC,
	}
}

// Complete reports whether the accumulated cleartext has reached the declared size.
type acceptResult int

const (
	transferIncomplete acceptResult = iota
	transferComplete
)

// accept appends one decrypted chunk. It returns transferComplete once the
// accumulated size reaches the declared total, and ErrOversize if the chunk
// would exceed it.
func (t *Transfer) accept(cleartext []byte) (acceptResult, error) {
	if uint64(t.buf.Len())+uint64(len(cleartext)) > uint64(t.declaredSize) {
		return transferIncomplete, fmt.Errorf("%w: declared %d, got %d",
			ErrOversize, t.declaredSize, t.buf.Len()+len(cleartext))
	}

	t.buf.Write(cleartext)
	if uint32(t.buf.Len()) == t.declaredSize {
		return transferComplete, nil
	}
	return transferIncomplete, nil
}

// checksum computes the CRC over the accumulated cleartext.
func (t *Transfer) checksum() uint32 {
	return crypto.Checksum(t.buf.Bytes())
}

// matches reports whether the accumulated content matches the client-declared checksum.
func (t *Transfer) matches() bool {
	return t.checksum() == t.expectedCRC
}

// bytes returns the accumulated cleartext.
func (t *Transfer) bytes() []byte {
	return t.buf.Bytes()
}

// fail records one checksum-mismatch attempt, discarding the accumulated
// cleartext so the client can re-send from the first chunk. It reports whether
// the retry bound has been exhausted.
func (t *Transfer) fail() (exhausted bool) {
	t.attempts++
	t.buf.Reset()
	return t.attempts >= MaxTransferAttempts
}

// abort releases the accumulated buffer. Nothing from an aborted transfer is
// ever persisted.
func (t *Transfer) abort() {
	t.buf.Reset()
}
