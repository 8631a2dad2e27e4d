package pkgparser

import "encoding/binary"

// parseFDIdentificationArea reads the FD identification area starting at
// pkg[offset]: a 1-byte record count followed by that many FDRs, each
// self-delimited by a leading record-length field. Returns the decoded
// records and the offset immediately following the area.
func parseFDIdentificationArea(pkg []byte, offset int, bitmapBitLength uint16) ([]FirmwareDeviceIDRecord, int, error) {
	if len(pkg)-offset < 1 {
		return nil, 0, invalidf("truncated FD identification area count")
	}
	count := int(pkg[offset])
	offset++

	bitmapLen := int(bitmapBitLength / 8)
	records := make([]FirmwareDeviceIDRecord, 0, count)

	for i := 0; i < count; i++ {
		rec, consumed, err := parseOneFDRecord(pkg[offset:], bitmapLen)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
		offset += consumed
	}

	return records, offset, nil
}

func parseOneFDRecord(src []byte, bitmapLen int) (FirmwareDeviceIDRecord, int, error) {
	const fixedLen = 2 + 1 + 4 + 1 + 1 + 2
	if len(src) < fixedLen {
		return FirmwareDeviceIDRecord{}, 0, invalidf("truncated FD record header")
	}

	recordLength := int(binary.LittleEndian.Uint16(src[0:2]))
	descriptorCount := int(src[2])
	updateOptionFlags := binary.LittleEndian.Uint32(src[3:7])
	// src[7] is the version string type byte; this core only emits/reads
	// ASCII version strings, so it is not separately tracked.
	versionStrLen := int(src[8])
	fwPkgDataLen := int(binary.LittleEndian.Uint16(src[9:11]))

	if recordLength < fixedLen || len(src) < recordLength {
		return FirmwareDeviceIDRecord{}, 0, invalidf("FD record length %d out of bounds", recordLength)
	}

	pos := fixedLen
	if len(src)-pos < versionStrLen {
		return FirmwareDeviceIDRecord{}, 0, invalidf("truncated FD component image set version string")
	}
	versionStr := string(src[pos : pos+versionStrLen])
	pos += versionStrLen

	if len(src)-pos < bitmapLen {
		return FirmwareDeviceIDRecord{}, 0, invalidf("truncated FD applicable components bitmap")
	}
	applicable := decodeApplicableComponents(src[pos : pos+bitmapLen])
	pos += bitmapLen

	if len(src)-pos < fwPkgDataLen {
		return FirmwareDeviceIDRecord{}, 0, invalidf("truncated FD package data")
	}
	pkgData := append([]byte(nil), src[pos:pos+fwPkgDataLen]...)
	pos += fwPkgDataLen

	descriptors, consumed, err := parseDescriptors(src[pos:recordLength], descriptorCount)
	if err != nil {
		return FirmwareDeviceIDRecord{}, 0, err
	}
	pos += consumed

	if pos != recordLength {
		return FirmwareDeviceIDRecord{}, 0, invalidf("FD record declared length %d, decoded %d", recordLength, pos)
	}

	return FirmwareDeviceIDRecord{
		DeviceUpdateOptionFlags:   updateOptionFlags,
		ApplicableComponents:      applicable,
		ComponentImageSetVersion:  versionStr,
		Descriptors:               descriptors,
		FirmwareDevicePackageData: pkgData,
	}, recordLength, nil
}
