package sim

import (
	"encoding/binary"
	"fmt"

	"cloupeer.io/pldmfwupdate/internal/pldm/pkgparser"
	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
)

// ComponentSpec describes one component image to place in a built package.
type ComponentSpec struct {
	Classification uint16
	Identifier     uint16
	Version        string
	Payload        []byte
}

// PackageSpec describes the package BuildPackage assembles: one FD record
// identified by UUID, applicable to every component listed.
type PackageSpec struct {
	// UUID is the FD record's sole descriptor. Must be 16 bytes.
	UUID []byte

	// Version is the package version string.
	Version string

	// ImageSetVersion is the FD record's component image set version.
	ImageSetVersion string

	Components []ComponentSpec
}

// DemoUUID is the descriptor BuildDemoPackage stamps on its FD record.
var DemoUUID = []byte{
	0x12, 0x44, 0xD2, 0x64, 0x8D, 0x7D, 0x47, 0x18,
	0xA0, 0x30, 0xFC, 0x8A, 0x56, 0x58, 0x7D, 0x5B,
}

// BuildDemoPackage assembles a two-component demonstration package whose
// FD record matches DemoUUID.
func BuildDemoPackage() []byte {
	bootPayload := make([]byte, 8*1024)
	appPayload := make([]byte, 16*1024)
	for i := range bootPayload {
		bootPayload[i] = byte(i)
	}
	for i := range appPayload {
		appPayload[i] = byte(i * 7)
	}

	pkg, err := BuildPackage(PackageSpec{
		UUID:            DemoUUID,
		Version:         "demo-pkg-1.0",
		ImageSetVersion: "demo-set-1.0",
		Components: []ComponentSpec{
			{Classification: 0x0a, Identifier: 0x0001, Version: "boot-1.1", Payload: bootPayload},
			{Classification: 0x0a, Identifier: 0x0002, Version: "app-2.3", Payload: appPayload},
		},
	})
	if err != nil {
		// The demo spec is fixed and valid; an error here is a programming
		// mistake, not an input condition.
		panic(err)
	}
	return pkg
}

// BuildPackage assembles a format-revision-3 package (empty downstream
// area, CRC-32 payload checksum trailer) from spec. The result parses
// cleanly with pkgparser.Parse.
func BuildPackage(spec PackageSpec) ([]byte, error) {
	if len(spec.UUID) != 16 {
		return nil, fmt.Errorf("sim: UUID must be 16 bytes, got %d", len(spec.UUID))
	}
	if len(spec.Components) == 0 {
		return nil, fmt.Errorf("sim: at least one component required")
	}
	for _, c := range spec.Components {
		if len(c.Payload) == 0 {
			return nil, fmt.Errorf("sim: component %#x has empty payload", c.Identifier)
		}
	}

	bitmapBits := ((len(spec.Components) + 7) / 8) * 8
	bitmapLen := bitmapBits / 8

	// The component image offsets depend on the total length of every
	// area preceding the payloads, so size the areas arithmetically
	// before assembling anything.
	headerLen := 36 + len(spec.Version)
	fdRecordLen := 11 + len(spec.ImageSetVersion) + bitmapLen + (4 + 16)
	fdAreaLen := 1 + fdRecordLen
	downstreamAreaLen := 1
	compAreaLen := 2
	for _, c := range spec.Components {
		compAreaLen += 22 + len(c.Version)
	}
	headerEnd := headerLen + fdAreaLen + downstreamAreaLen + compAreaLen

	var pkg []byte

	// package_header_information
	pkg = append(pkg, make([]byte, 16)...) // format identifier UUID
	pkg = append(pkg, 3)                   // format revision
	pkg = binary.LittleEndian.AppendUint16(pkg, uint16(headerEnd))
	pkg = append(pkg, make([]byte, 13)...) // release timestamp
	pkg = binary.LittleEndian.AppendUint16(pkg, uint16(bitmapBits))
	pkg = append(pkg, 1) // version string type: ASCII
	pkg = append(pkg, byte(len(spec.Version)))
	pkg = append(pkg, spec.Version...)

	// FD identification area: one record.
	pkg = append(pkg, 1)
	pkg = binary.LittleEndian.AppendUint16(pkg, uint16(fdRecordLen))
	pkg = append(pkg, 1)                          // descriptor count
	pkg = binary.LittleEndian.AppendUint32(pkg, 0) // update option flags
	pkg = append(pkg, 1)                          // image set version type: ASCII
	pkg = append(pkg, byte(len(spec.ImageSetVersion)))
	pkg = binary.LittleEndian.AppendUint16(pkg, 0) // fw device package data length
	pkg = append(pkg, spec.ImageSetVersion...)

	bitmap := make([]byte, bitmapLen)
	for i := range spec.Components {
		bitmap[i/8] |= 1 << uint(i%8)
	}
	pkg = append(pkg, bitmap...)

	pkg = binary.LittleEndian.AppendUint16(pkg, uint16(pkgparser.DescriptorTypeUUID))
	pkg = binary.LittleEndian.AppendUint16(pkg, 16)
	pkg = append(pkg, spec.UUID...)

	// Downstream device identification area: empty.
	pkg = append(pkg, 0)

	// Component image information area.
	pkg = binary.LittleEndian.AppendUint16(pkg, uint16(len(spec.Components)))
	offset := uint32(headerEnd)
	for _, c := range spec.Components {
		pkg = binary.LittleEndian.AppendUint16(pkg, c.Classification)
		pkg = binary.LittleEndian.AppendUint16(pkg, c.Identifier)
		pkg = binary.LittleEndian.AppendUint32(pkg, 0xFFFFFFFF) // comparison stamp not used
		pkg = binary.LittleEndian.AppendUint16(pkg, 0)          // options
		pkg = binary.LittleEndian.AppendUint16(pkg, 0)          // requested activation methods
		pkg = binary.LittleEndian.AppendUint32(pkg, offset)
		pkg = binary.LittleEndian.AppendUint32(pkg, uint32(len(c.Payload)))
		pkg = append(pkg, 1) // version string type: ASCII
		pkg = append(pkg, byte(len(c.Version)))
		pkg = append(pkg, c.Version...)
		offset += uint32(len(c.Payload))
	}

	if len(pkg) != headerEnd {
		return nil, fmt.Errorf("sim: header sizing mismatch: assembled %d, computed %d", len(pkg), headerEnd)
	}

	for _, c := range spec.Components {
		pkg = append(pkg, c.Payload...)
	}

	pkg = binary.LittleEndian.AppendUint32(pkg, wire.Checksum(pkg))
	return pkg, nil
}
