package util

import "hash/crc32"

// CalculateCRC32 calculates a standard IEEE CRC32 checksum, used to
// verify a firmware image's integrity before it is programmed.
func CalculateCRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
