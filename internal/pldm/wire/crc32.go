package wire

import "hash/crc32"

// Checksum computes the payload checksum used to validate a firmware
// package's integrity area. DSP0267 packages with a format revision of 3 or
// higher carry a CRC-32 over every byte of the package up to (but not
// including) the 4-byte checksum field itself; this is bit-for-bit the
// IEEE 802.3 polynomial (0xEDB88320) that hash/crc32 implements as
// crc32.IEEE, so there is no third-party CRC library to reach for here.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
