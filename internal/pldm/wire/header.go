// Package wire implements the DSP0267 PLDM firmware-update wire codec: the
// 3-byte message header shared by every command, the per-command
// encode/decode pairs, and the package payload checksum.
//
// All multi-byte integers on the wire are little-endian, per DSP0267.
package wire

import "encoding/binary"

// PLDM type carried in every header for this core. DSP0267 firmware update
// messages all use this type code.
const TypeFirmwareUpdate uint8 = 0x05

// Command codes for the subset of PLDM firmware-update commands this core
// speaks.
const (
	CmdRequestUpdate       uint8 = 0x10
	CmdPassComponentTable  uint8 = 0x13
	CmdUpdateComponent     uint8 = 0x14
	CmdActivateFirmware    uint8 = 0x1A
	CmdRequestFirmwareData uint8 = 0x15
	CmdTransferComplete    uint8 = 0x16
	CmdVerifyComplete      uint8 = 0x17
	CmdApplyComplete       uint8 = 0x18
)

// HeaderLength is the fixed size, in bytes, of a PLDM message header.
const HeaderLength = 3

// MaxInstanceID is the largest value an instance id may take; instance ids
// are a 5-bit field on the wire.
const MaxInstanceID = 31

// BaselineTransferSize is the DSP0267-defined minimum length, in bytes, a
// device may request in a single RequestFirmwareData call.
const BaselineTransferSize = 32

// Header is the common 3-byte PLDM message header.
type Header struct {
	// Request is true for a request message, false for a response.
	Request bool

	// InstanceID correlates a response with the request that produced it.
	// Valid range is [0, 32).
	InstanceID uint8

	// Type is the PLDM message type. This core only ever sets
	// TypeFirmwareUpdate.
	Type uint8

	// Command identifies the operation within Type.
	Command uint8
}

// EncodeHeader writes h to the first HeaderLength bytes of dst, which must
// be at least that long.
func EncodeHeader(h Header, dst []byte) error {
	if len(dst) < HeaderLength {
		return ErrInvalidLength
	}
	if h.InstanceID > MaxInstanceID {
		return ErrInvalidInstanceID
	}

	dst[0] = h.InstanceID & 0x1F
	if h.Request {
		dst[0] |= 0x80
	}
	dst[1] = h.Type & 0x3F
	dst[2] = h.Command
	return nil
}

// DecodeHeader reads a Header from the first HeaderLength bytes of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderLength {
		return Header{}, ErrInvalidLength
	}

	instanceID := src[0] & 0x1F
	if instanceID > MaxInstanceID {
		return Header{}, ErrInvalidInstanceID
	}

	return Header{
		Request:    src[0]&0x80 != 0,
		InstanceID: instanceID,
		Type:       src[1] & 0x3F,
		Command:    src[2],
	}, nil
}

func putUint16(dst []byte, v uint16) { binary.LittleEndian.PutUint16(dst, v) }
func putUint32(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func getUint16(src []byte) uint16    { return binary.LittleEndian.Uint16(src) }
func getUint32(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }

// newMessage allocates a buffer of HeaderLength+bodyLen bytes, encodes h
// into the header portion, and returns the full buffer along with the body
// slice for the caller to fill in.
func newMessage(h Header, bodyLen int) (msg, body []byte, err error) {
	msg = make([]byte, HeaderLength+bodyLen)
	if err := EncodeHeader(h, msg); err != nil {
		return nil, nil, err
	}
	return msg, msg[HeaderLength:], nil
}

// splitMessage decodes the header from msg and returns it along with the
// remaining body bytes.
func splitMessage(msg []byte) (Header, []byte, error) {
	h, err := DecodeHeader(msg)
	if err != nil {
		return Header{}, nil, err
	}
	return h, msg[HeaderLength:], nil
}
