package pkgparser

import "encoding/binary"

// expectedDescriptorLength returns the fixed length a descriptor of typ
// must carry, or -1 when typ's length is variable (vendor-defined).
func expectedDescriptorLength(typ DescriptorType) int {
	switch typ {
	case DescriptorTypeUUID:
		return 16
	case DescriptorTypeIANAEnterpriseID:
		return 4
	case DescriptorTypePCIVendorID, DescriptorTypePCIDeviceID,
		DescriptorTypePCISubsystemVendorID, DescriptorTypePCISubsystemID:
		return 2
	case DescriptorTypeVendorDefined:
		return -1
	default:
		return -1
	}
}

// parseDescriptors reads count type-length-value descriptors starting at
// src[0], returning the decoded set and the number of bytes consumed.
func parseDescriptors(src []byte, count int) (DescriptorSet, int, error) {
	set := make(DescriptorSet, count)
	pos := 0

	for i := 0; i < count; i++ {
		if len(src)-pos < 4 {
			return nil, 0, invalidf("truncated descriptor header at index %d", i)
		}
		typ := DescriptorType(binary.LittleEndian.Uint16(src[pos : pos+2]))
		length := int(binary.LittleEndian.Uint16(src[pos+2 : pos+4]))
		pos += 4

		if len(src)-pos < length {
			return nil, 0, invalidf("truncated descriptor data for type %#x", typ)
		}

		d := Descriptor{Type: typ}
		if typ == DescriptorTypeVendorDefined {
			if length < 1 {
				return nil, 0, invalidf("vendor-defined descriptor missing title length")
			}
			titleLen := int(src[pos])
			if length < 1+titleLen {
				return nil, 0, invalidf("vendor-defined descriptor title exceeds declared length")
			}
			d.Title = string(src[pos+1 : pos+1+titleLen])
			d.Data = append([]byte(nil), src[pos+1+titleLen:pos+length]...)
		} else {
			if want := expectedDescriptorLength(typ); want >= 0 && length != want {
				return nil, 0, invalidf("descriptor type %#x has length %d, want %d", typ, length, want)
			}
			d.Data = append([]byte(nil), src[pos:pos+length]...)
		}

		set[typ] = d
		pos += length
	}

	return set, pos, nil
}
