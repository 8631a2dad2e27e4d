//go:build linux

package pkgparser

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MappedPackage is a package byte buffer backed by an mmap'd file. Close
// must be called once the package's activation session has terminated.
type MappedPackage struct {
	data []byte
}

// MapFile memory-maps path read-only and returns its contents as a byte
// slice suitable for Parse and NewStreamReader. The mapping is not copied;
// the returned MappedPackage must be closed when the package is no longer
// needed.
func MapFile(path string) (*MappedPackage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pkgparser: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("pkgparser: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("pkgparser: %s is empty", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pkgparser: mmap %s: %w", path, err)
	}

	return &MappedPackage{data: data}, nil
}

// Bytes returns the mapped package contents. The returned slice is valid
// only until Close is called.
func (m *MappedPackage) Bytes() []byte {
	return m.data
}

// Close unmaps the package's backing memory.
func (m *MappedPackage) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
