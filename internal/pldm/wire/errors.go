package wire

import "errors"

// Decode errors returned by every Decode* function in this package. Callers
// that need to distinguish them should use errors.Is.
var (
	// ErrInvalidLength is returned when a message buffer is too short to
	// hold the fields the command defines.
	ErrInvalidLength = errors.New("pldm: invalid length")

	// ErrInvalidData is returned when a field decodes to a value outside
	// its defined enumeration (e.g. an unrecognized transfer flag).
	ErrInvalidData = errors.New("pldm: invalid data")

	// ErrInvalidInstanceID is returned by DecodeHeader/EncodeHeader when
	// the instance id does not fit in 5 bits.
	ErrInvalidInstanceID = errors.New("pldm: instance id must be in [0, 32)")
)
