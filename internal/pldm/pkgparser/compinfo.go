package pkgparser

import "encoding/binary"

// parseCompImageInfoArea reads the component image information area
// starting at pkg[offset]: a 2-byte entry count followed by that many
// fixed-plus-version-string entries.
func parseCompImageInfoArea(pkg []byte, offset int) ([]ComponentImageInfo, int, error) {
	if len(pkg)-offset < 2 {
		return nil, 0, invalidf("truncated component image information count")
	}
	count := int(binary.LittleEndian.Uint16(pkg[offset : offset+2]))
	offset += 2

	infos := make([]ComponentImageInfo, 0, count)
	for i := 0; i < count; i++ {
		info, consumed, err := parseOneComponentImageInfo(pkg[offset:])
		if err != nil {
			return nil, 0, err
		}
		infos = append(infos, info)
		offset += consumed
	}

	return infos, offset, nil
}

func parseOneComponentImageInfo(src []byte) (ComponentImageInfo, int, error) {
	const fixedLen = 2 + 2 + 4 + 2 + 2 + 4 + 4 + 1 + 1
	if len(src) < fixedLen {
		return ComponentImageInfo{}, 0, invalidf("truncated component image information entry")
	}

	info := ComponentImageInfo{
		Classification:    binary.LittleEndian.Uint16(src[0:2]),
		Identifier:        binary.LittleEndian.Uint16(src[2:4]),
		ComparisonStamp:   binary.LittleEndian.Uint32(src[4:8]),
		Options:           binary.LittleEndian.Uint16(src[8:10]),
		ActivationMethods: binary.LittleEndian.Uint16(src[10:12]),
		LocationOffset:    binary.LittleEndian.Uint32(src[12:16]),
		Size:              binary.LittleEndian.Uint32(src[16:20]),
	}
	// src[20] is the version string type byte, not separately tracked.
	versionLen := int(src[21])

	if len(src)-fixedLen < versionLen {
		return ComponentImageInfo{}, 0, invalidf("truncated component version string")
	}
	info.VersionString = string(src[fixedLen : fixedLen+versionLen])

	return info, fixedLen + versionLen, nil
}
