package crypto

import "hash/crc32"

// Checksum computes the CRC-32 (IEEE polynomial) of cleartext data.
//
// This is the transfer integrity check both ends compute over the decrypted
// payload. It guards against transmission corruption only; it is not an
// authentication tag.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
