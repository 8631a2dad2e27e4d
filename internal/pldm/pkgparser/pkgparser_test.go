package pkgparser

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
)

// buildPackage assembles a minimal, valid DSP0267 package of the given
// format revision with a single FDR carrying one UUID descriptor and one
// applicable component, and a single component image info entry. Format
// revision 2 and later get an empty downstream area; checksummed appends
// the CRC-32 trailer.
func buildPackage(t *testing.T, formatRevision uint8, compSize uint32, checksummed bool) []byte {
	t.Helper()

	var pkg []byte
	pkg = append(pkg, make([]byte, 16)...) // identifier UUID, unused by this core
	pkg = append(pkg, formatRevision)

	headerSizePos := len(pkg)
	pkg = append(pkg, 0, 0) // headerSize placeholder, unused by parser
	pkg = append(pkg, make([]byte, 13)...) // release timestamp
	bitmapLenPos := len(pkg)
	pkg = binary.LittleEndian.AppendUint16(pkg, 8) // component_bitmap_bit_length = 8
	pkg = append(pkg, 1)                            // version string type
	pkgVersion := "1.0"
	pkg = append(pkg, byte(len(pkgVersion)))
	pkg = append(pkg, pkgVersion...)
	_ = headerSizePos
	_ = bitmapLenPos

	// FD identification area: 1 record.
	pkg = append(pkg, 1)

	uuid := []byte{0x12, 0x44, 0xD2, 0x64, 0x8D, 0x7D, 0x47, 0x18, 0xA0, 0x30, 0xFC, 0x8A, 0x56, 0x58, 0x7D, 0x5B}
	fdVersion := "fw-1.0"
	descriptorBytes := append([]byte{}, []byte{0x02, 0x00}...) // type = UUID
	descriptorBytes = binary.LittleEndian.AppendUint16(descriptorBytes, uint16(len(uuid)))
	descriptorBytes = append(descriptorBytes, uuid...)

	fdBody := []byte{}
	fdBody = append(fdBody, 1)                 // descriptorCount
	fdBody = binary.LittleEndian.AppendUint32(fdBody, 0) // updateOptionFlags
	fdBody = append(fdBody, 1)                 // version string type
	fdBody = append(fdBody, byte(len(fdVersion)))
	fdBody = binary.LittleEndian.AppendUint16(fdBody, 0) // fwPkgDataLen
	fdBody = append(fdBody, fdVersion...)
	fdBody = append(fdBody, 0x01) // applicable components bitmap, bit 0 set
	// no package data
	fdBody = append(fdBody, descriptorBytes...)

	recordLength := 2 + len(fdBody)
	fdRecord := binary.LittleEndian.AppendUint16(nil, uint16(recordLength))
	fdRecord = append(fdRecord, fdBody...)
	pkg = append(pkg, fdRecord...)

	if formatRevision >= 2 {
		pkg = append(pkg, 0) // zero downstream records
	}

	// Component image information area: 1 entry.
	pkg = binary.LittleEndian.AppendUint16(pkg, 1)

	compVersion := "comp-1.0"
	headerEnd := len(pkg) + (2 + 2 + 4 + 2 + 2 + 4 + 4 + 1 + 1) + len(compVersion)

	comp := binary.LittleEndian.AppendUint16(nil, 0x0a)     // classification
	comp = binary.LittleEndian.AppendUint16(comp, 0x1234)   // identifier
	comp = binary.LittleEndian.AppendUint32(comp, 0xFFFFFFFF) // comparison stamp
	comp = binary.LittleEndian.AppendUint16(comp, 0)        // options
	comp = binary.LittleEndian.AppendUint16(comp, 0)        // activation methods
	comp = binary.LittleEndian.AppendUint32(comp, uint32(headerEnd)) // offset
	comp = binary.LittleEndian.AppendUint32(comp, compSize) // size
	comp = append(comp, 1)                                  // version string type
	comp = append(comp, byte(len(compVersion)))
	comp = append(comp, compVersion...)
	pkg = append(pkg, comp...)

	pkg = append(pkg, make([]byte, compSize)...)

	if checksummed {
		sum := wire.Checksum(pkg)
		pkg = binary.LittleEndian.AppendUint32(pkg, sum)
	}

	return pkg
}

func TestParseSingleComponentSuccess(t *testing.T) {
	pkg := buildPackage(t, 1, 1024, false)

	p, err := Parse(pkg)
	require.NoError(t, err)
	require.Len(t, p.FirmwareDeviceIDRecords, 1)
	require.Len(t, p.ComponentImageInfos, 1)
	require.Equal(t, ApplicableComponents{0}, p.FirmwareDeviceIDRecords[0].ApplicableComponents)
	require.EqualValues(t, 1024, p.ComponentImageInfos[0].Size)

	uuidDesc, ok := p.FirmwareDeviceIDRecords[0].Descriptors[DescriptorTypeUUID]
	require.True(t, ok)
	require.Len(t, uuidDesc.Data, 16)
}

func TestParseRejectsComponentSizeMismatch(t *testing.T) {
	pkg := buildPackage(t, 1, 1024, false)
	pkg = append(pkg, 0x00) // one extra trailing byte

	_, err := Parse(pkg)
	require.ErrorIs(t, err, ErrInvalidPackage)
}

func TestParseValidatesChecksumForRevision3(t *testing.T) {
	pkg := buildPackage(t, 3, 64, true)

	p, err := Parse(pkg)
	require.NoError(t, err)
	require.EqualValues(t, 3, p.FormatRevision)
}

func TestParseRejectsBadChecksumForRevision3(t *testing.T) {
	pkg := buildPackage(t, 3, 64, true)
	pkg[len(pkg)-1] ^= 0xFF // corrupt the stored checksum

	_, err := Parse(pkg)
	require.ErrorIs(t, err, ErrInvalidPackage)
}

func TestParseSkipsChecksumForRevision1(t *testing.T) {
	pkg := buildPackage(t, 1, 64, false)
	p, err := Parse(pkg)
	require.NoError(t, err)
	require.EqualValues(t, 1, p.FormatRevision)
}

func TestDecodeApplicableComponentsBoundaryLengths(t *testing.T) {
	eightBit := decodeApplicableComponents([]byte{0xFF})
	require.Len(t, eightBit, 8)

	oneTwentyEightBit := decodeApplicableComponents(make([]byte, 16))
	require.Empty(t, oneTwentyEightBit)

	mixed := decodeApplicableComponents([]byte{0b00000001, 0b00000001})
	require.Equal(t, ApplicableComponents{0, 8}, mixed)
}

func TestStreamReaderRead(t *testing.T) {
	data := []byte("the quick brown fox")
	r := NewStreamReader(data)

	buf := make([]byte, 5)
	require.NoError(t, r.Read(buf, 4, 5))
	require.Equal(t, "quick", string(buf))

	err := r.Read(buf, uint32(len(data)), 1)
	require.Error(t, err)
}
