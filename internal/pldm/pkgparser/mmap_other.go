//go:build !linux

package pkgparser

import (
	"fmt"
	"os"
)

// MappedPackage is a package byte buffer. On non-Linux platforms this
// core falls back to a full read rather than mmap.
type MappedPackage struct {
	data []byte
}

// MapFile reads path fully into memory and returns its contents as a byte
// slice suitable for Parse and NewStreamReader.
func MapFile(path string) (*MappedPackage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pkgparser: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("pkgparser: %s is empty", path)
	}
	return &MappedPackage{data: data}, nil
}

// Bytes returns the package contents.
func (m *MappedPackage) Bytes() []byte {
	return m.data
}

// Close releases the in-memory copy.
func (m *MappedPackage) Close() error {
	m.data = nil
	return nil
}
