package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

var (
	// ErrDecryptFailed indicates the ciphertext could not be decrypted with the
	// given session key. Within a transfer this is fatal: a bad key state cannot
	// be recovered by re-sending.
	ErrDecryptFailed = errors.New("crypto: decryption failed")
)

// Encrypt encrypts plaintext with AES-CBC under the session key.
//
// The cipher uses a zero IV and PKCS#7 padding: the wire contract requires
// deterministic, round-trip-exact encryption, and both ends fix the IV.
// Confidentiality of repeated blocks is accepted as a known protocol property.
func Encrypt(sessionKey, plaintext []byte) ([]byte, error) {
	block, err := newBlockCipher(sessionKey)
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	iv := make([]byte, block.BlockSize())
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt decrypts AES-CBC ciphertext produced by Encrypt's parameters.
func Decrypt(sessionKey, ciphertext []byte) ([]byte, error) {
	block, err := newBlockCipher(sessionKey)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a block multiple", ErrDecryptFailed, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	iv := make([]byte, block.BlockSize())
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	return unpad(out, block.BlockSize())
}

func newBlockCipher(sessionKey []byte) (cipher.Block, error) {
	if len(sessionKey) != SessionKeySize {
		return nil, fmt.Errorf("invalid session key length: got %d want %d", len(sessionKey), SessionKeySize)
	}

	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	return block, nil
}

func pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecryptFailed)
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryptFailed)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: invalid padding", ErrDecryptFailed)
		}
	}
	return data[:len(data)-padLen], nil
}
