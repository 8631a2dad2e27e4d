package pkgparser

import "encoding/binary"

// fixedHeaderLength is the size, in bytes, of package_header_information
// up to and including the version string type byte: a 16-byte identifier
// UUID, a 1-byte format revision, a 2-byte header size, a 13-byte release
// timestamp, a 2-byte component bitmap bit length, and a 1-byte version
// string type.
const fixedHeaderLength = 16 + 1 + 2 + 13 + 2 + 1

type packageHeader struct {
	formatRevision           uint8
	headerSize               uint16
	componentBitmapBitLength uint16
	versionString            string
}

// parseHeader's second result is the byte offset immediately following the
// header, i.e. where the FD identification area begins.
func parseHeader(pkg []byte) (packageHeader, int, error) {
	if len(pkg) < fixedHeaderLength+1 {
		return packageHeader{}, 0, invalidf("package shorter than fixed header")
	}

	h := packageHeader{
		formatRevision:           pkg[16],
		headerSize:               binary.LittleEndian.Uint16(pkg[17:19]),
		componentBitmapBitLength: binary.LittleEndian.Uint16(pkg[32:34]),
	}

	verLen := int(pkg[35])
	end := fixedHeaderLength + 1 + verLen
	if len(pkg) < end {
		return packageHeader{}, 0, invalidf("truncated package version string")
	}
	h.versionString = string(pkg[fixedHeaderLength+1 : end])

	if h.componentBitmapBitLength == 0 || h.componentBitmapBitLength%8 != 0 {
		return packageHeader{}, 0, invalidf("component bitmap bit length %d not a multiple of 8", h.componentBitmapBitLength)
	}

	return h, end, nil
}
