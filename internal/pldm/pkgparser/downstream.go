package pkgparser

import "encoding/binary"

// downstreamAreaPresent reports whether a package of this format revision
// carries a downstream device identification area at all. Revision 1
// packages predate the downstream-device extension.
func downstreamAreaPresent(formatRevision uint8) bool {
	return formatRevision >= 2
}

// parseDownstreamDeviceIdArea mirrors parseFDIdentificationArea for
// downstream (host-bridged) device records. Present only when
// downstreamAreaPresent reports true for the package's format revision.
func parseDownstreamDeviceIdArea(pkg []byte, offset int, bitmapBitLength uint16, formatRevision uint8) ([]DownstreamDeviceIDRecord, int, error) {
	if !downstreamAreaPresent(formatRevision) {
		return nil, offset, nil
	}

	if len(pkg)-offset < 1 {
		return nil, 0, invalidf("truncated downstream device identification area count")
	}
	count := int(pkg[offset])
	offset++

	bitmapLen := int(bitmapBitLength / 8)
	records := make([]DownstreamDeviceIDRecord, 0, count)

	for i := 0; i < count; i++ {
		rec, consumed, err := parseOneDownstreamRecord(pkg[offset:], bitmapLen)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
		offset += consumed
	}

	return records, offset, nil
}

func parseOneDownstreamRecord(src []byte, bitmapLen int) (DownstreamDeviceIDRecord, int, error) {
	const fixedLen = 2 + 1 + 4 + 1 + 1 + 2
	if len(src) < fixedLen {
		return DownstreamDeviceIDRecord{}, 0, invalidf("truncated downstream record header")
	}

	recordLength := int(binary.LittleEndian.Uint16(src[0:2]))
	descriptorCount := int(src[2])
	updateOptionFlags := binary.LittleEndian.Uint32(src[3:7])
	versionStrLen := int(src[8])
	pkgDataLen := int(binary.LittleEndian.Uint16(src[9:11]))

	if recordLength < fixedLen || len(src) < recordLength {
		return DownstreamDeviceIDRecord{}, 0, invalidf("downstream record length %d out of bounds", recordLength)
	}

	pos := fixedLen
	if len(src)-pos < versionStrLen {
		return DownstreamDeviceIDRecord{}, 0, invalidf("truncated downstream min version string")
	}
	versionStr := string(src[pos : pos+versionStrLen])
	pos += versionStrLen

	if len(src)-pos < bitmapLen {
		return DownstreamDeviceIDRecord{}, 0, invalidf("truncated downstream applicable components bitmap")
	}
	applicable := decodeApplicableComponents(src[pos : pos+bitmapLen])
	pos += bitmapLen

	if len(src)-pos < pkgDataLen {
		return DownstreamDeviceIDRecord{}, 0, invalidf("truncated downstream package data")
	}
	pkgData := append([]byte(nil), src[pos:pos+pkgDataLen]...)
	pos += pkgDataLen

	descriptors, consumed, err := parseDescriptors(src[pos:recordLength], descriptorCount)
	if err != nil {
		return DownstreamDeviceIDRecord{}, 0, err
	}
	pos += consumed

	if pos != recordLength {
		return DownstreamDeviceIDRecord{}, 0, invalidf("downstream record declared length %d, decoded %d", recordLength, pos)
	}

	return DownstreamDeviceIDRecord{
		UpdateOptionFlags:                 updateOptionFlags,
		ApplicableComponents:              applicable,
		SelfContainedActivationMinVersion: versionStr,
		Descriptors:                       descriptors,
		PackageData:                       pkgData,
	}, recordLength, nil
}
