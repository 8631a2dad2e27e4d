package pkgparser

import "cloupeer.io/pldmfwupdate/internal/pldm/wire"

// checksumLength is the size, in bytes, of the trailing payload checksum
// word present in format revision >= 3 packages.
const checksumLength = 4

// minFormatRevisionForChecksum is the lowest format revision that carries
// a mandatory payload checksum.
const minFormatRevisionForChecksum = 3

// Parse decodes and validates a complete DSP0267 package. pkg must be the
// entire package as a contiguous read-only byte range; this function does
// no I/O of its own (the caller may mmap a file and pass the mapped
// region directly).
func Parse(pkg []byte) (*Package, error) {
	hdr, afterHeader, err := parseHeader(pkg)
	if err != nil {
		return nil, err
	}

	fdRecords, afterFD, err := parseFDIdentificationArea(pkg, afterHeader, hdr.componentBitmapBitLength)
	if err != nil {
		return nil, err
	}

	downstreamRecords, afterDownstream, err := parseDownstreamDeviceIdArea(pkg, afterFD, hdr.componentBitmapBitLength, hdr.formatRevision)
	if err != nil {
		return nil, err
	}

	compInfos, afterComps, err := parseCompImageInfoArea(pkg, afterDownstream)
	if err != nil {
		return nil, err
	}

	p := &Package{
		FormatRevision:            hdr.formatRevision,
		ComponentBitmapBitLength:  hdr.componentBitmapBitLength,
		VersionString:             hdr.versionString,
		FirmwareDeviceIDRecords:   fdRecords,
		DownstreamDeviceIDRecords: downstreamRecords,
		ComponentImageInfos:       compInfos,
	}

	trailer := 0
	if hdr.formatRevision >= minFormatRevisionForChecksum {
		trailer = checksumLength
	}

	if err := validateApplicableComponents(p); err != nil {
		return nil, err
	}
	if err := validateComponentLayout(pkg, p, afterComps, trailer); err != nil {
		return nil, err
	}
	if hdr.formatRevision >= minFormatRevisionForChecksum {
		if err := validateChecksum(pkg); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// validateApplicableComponents rejects any FDR or downstream record whose
// applicable-components bitmap sets a bit outside [0, component_count).
func validateApplicableComponents(p *Package) error {
	n := p.ComponentCount()
	for i, rec := range p.FirmwareDeviceIDRecords {
		for _, idx := range rec.ApplicableComponents {
			if idx < 0 || idx >= n {
				return invalidf("FD record %d references component index %d outside [0, %d)", i, idx, n)
			}
		}
	}
	for i, rec := range p.DownstreamDeviceIDRecords {
		for _, idx := range rec.ApplicableComponents {
			if idx < 0 || idx >= n {
				return invalidf("downstream record %d references component index %d outside [0, %d)", i, idx, n)
			}
		}
	}
	return nil
}

// validateComponentLayout enforces that component offsets form the
// running sum of (header size + prior component sizes) and that the
// total matches the package length.
func validateComponentLayout(pkg []byte, p *Package, headerEnd int, trailer int) error {
	expected := uint32(headerEnd)
	for i, c := range p.ComponentImageInfos {
		if c.LocationOffset != expected {
			return invalidf("component %d offset %d does not match expected %d", i, c.LocationOffset, expected)
		}
		expected += c.Size
	}
	if int(expected)+trailer != len(pkg) {
		return invalidf("package size mismatch: computed %d, actual %d", int(expected)+trailer, len(pkg))
	}
	return nil
}

// validateChecksum verifies the trailing CRC-32 payload checksum carried
// by format revision >= 3 packages. The checksum covers every byte of the
// package up to, but not including, the 4-byte checksum word itself,
// which is the package's last 4 bytes.
func validateChecksum(pkg []byte) error {
	if len(pkg) < checksumLength {
		return invalidf("package too short to carry a payload checksum")
	}
	body := pkg[:len(pkg)-checksumLength]
	stored := binaryLittleEndianUint32(pkg[len(pkg)-checksumLength:])
	if got := wire.Checksum(body); got != stored {
		return invalidf("payload checksum mismatch: computed %#x, stored %#x", got, stored)
	}
	return nil
}

func binaryLittleEndianUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
