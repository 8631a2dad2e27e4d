// Package match decides which firmware device identification record in a
// parsed package applies to which discovered device, by descriptor
// subset inclusion.
package match

import (
	"bytes"

	"cloupeer.io/pldmfwupdate/internal/pldm/pkgparser"
)

// Device is the minimal view of a discovered device this package needs:
// its endpoint and the descriptor set it advertised at discovery.
type Device struct {
	Endpoint    uint8
	Descriptors pkgparser.DescriptorSet
}

// Association is one resolved (endpoint, FD-record-index) pair.
type Association struct {
	Endpoint    uint8
	RecordIndex int
}

// Match returns, for each device whose descriptor set includes some FDR's
// descriptor set as a subset, the first (lowest index) matching FDR.
// Devices with no match are omitted. A single FDR may match more than one
// device.
func Match(records []pkgparser.FirmwareDeviceIDRecord, devices []Device) []Association {
	var out []Association
	for _, dev := range devices {
		if idx, ok := firstMatch(records, dev.Descriptors); ok {
			out = append(out, Association{Endpoint: dev.Endpoint, RecordIndex: idx})
		}
	}
	return out
}

func firstMatch(records []pkgparser.FirmwareDeviceIDRecord, deviceDescriptors pkgparser.DescriptorSet) (int, bool) {
	for i, rec := range records {
		if isSubset(rec.Descriptors, deviceDescriptors) {
			return i, true
		}
	}
	return 0, false
}

// isSubset reports whether every descriptor in r also appears in d, with
// an exact type and payload match. An empty r matches no device.
func isSubset(r, d pkgparser.DescriptorSet) bool {
	if len(r) == 0 {
		return false
	}
	for typ, want := range r {
		got, ok := d[typ]
		if !ok {
			return false
		}
		if want.Type == pkgparser.DescriptorTypeVendorDefined {
			if want.Title != got.Title {
				return false
			}
		}
		if !bytes.Equal(want.Data, got.Data) {
			return false
		}
	}
	return true
}
