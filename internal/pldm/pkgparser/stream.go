package pkgparser

import "fmt"

// StreamReader is a random-access read-only view over a package's bytes.
// It is safe for concurrent use by multiple DeviceUpdaters: Read takes no
// internal offset, so there is nothing to interleave.
type StreamReader struct {
	data []byte
}

// NewStreamReader wraps pkg, which must outlive the returned reader. pkg
// is never copied or mutated.
func NewStreamReader(pkg []byte) *StreamReader {
	return &StreamReader{data: pkg}
}

// Read copies length bytes starting at offset into into, which must be at
// least length bytes long. It returns an error if the requested range
// falls outside the package.
func (r *StreamReader) Read(into []byte, offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(r.data)) {
		return fmt.Errorf("pkgparser: read [%d, %d) out of range for package of length %d", offset, offset+length, len(r.data))
	}
	if uint32(len(into)) < length {
		return fmt.Errorf("pkgparser: destination buffer shorter than requested length %d", length)
	}
	copy(into[:length], r.data[offset:offset+length])
	return nil
}

// Len reports the total size of the wrapped package in bytes.
func (r *StreamReader) Len() int {
	return len(r.data)
}
