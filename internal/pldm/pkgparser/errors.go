// Package pkgparser decodes a DSP0267 firmware-update package byte buffer
// into firmware device identification records, downstream device
// identification records, and the component image information table, and
// validates the structural and checksum invariants the rest of this core
// depends on.
package pkgparser

import (
	"errors"
	"fmt"
)

// ErrInvalidPackage is the sentinel every parse failure wraps. Callers
// that only care whether the package was rejected should use errors.Is;
// the wrapped message carries the specific reason for logs.
var ErrInvalidPackage = errors.New("pkgparser: invalid package")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPackage, fmt.Sprintf(format, args...))
}
