// Package sim provides an in-memory firmware device for exercising the
// update core end to end without an MCTP transport: a Device that plays
// the FD side of the DSP0267 exchange, and a builder for well-formed
// demonstration packages.
package sim

import (
	"sync"

	"cloupeer.io/pldmfwupdate/internal/pldm/loop"
	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
	"cloupeer.io/pldmfwupdate/pkg/pldmlog"
)

// Inbound is where the device delivers its messages: responses to UA
// requests and its own device-initiated commands. UpdateManager.OnMessage
// satisfies this.
type Inbound interface {
	OnMessage(endpoint uint8, msg []byte)
}

// Device simulates one well-behaved firmware device. It doubles as the
// session's transport: the UA's outbound sends land in Send, and
// everything the device says back is routed through the attached Inbound
// on the shared event loop.
type Device struct {
	endpoint  uint8
	loop      *loop.Loop
	log       pldmlog.Logger
	chunkSize uint32

	mu       sync.Mutex
	inbound  Inbound
	compSize uint32
	offset   uint32
	nextID   uint8

	activateOnce sync.Once
	activated    chan struct{}
}

// NewDevice creates a simulated device that pulls firmware data in chunks
// of chunkSize bytes. Attach must be called before any traffic flows.
func NewDevice(endpoint uint8, l *loop.Loop, log pldmlog.Logger, chunkSize uint32) *Device {
	return &Device{
		endpoint:  endpoint,
		loop:      l,
		log:       log,
		chunkSize: chunkSize,
		activated: make(chan struct{}),
	}
}

// Attach wires the device to the manager it talks back to. Separate from
// NewDevice because the manager needs the device as its transport before
// the device can know the manager.
func (d *Device) Attach(in Inbound) {
	d.mu.Lock()
	d.inbound = in
	d.mu.Unlock()
}

// Activated is closed once the device has answered ActivateFirmware.
func (d *Device) Activated() <-chan struct{} {
	return d.activated
}

// Send implements the transport contract: it receives every message the
// UA puts on the wire for this device and reacts as a compliant FD.
func (d *Device) Send(endpoint uint8, data []byte) error {
	msg := append([]byte(nil), data...)
	h, err := wire.DecodeHeader(msg)
	if err != nil {
		d.log.Warn("device received malformed message", "err", err)
		return nil
	}

	if h.Request {
		d.handleRequest(h, msg)
	} else {
		d.handleResponse(h, msg)
	}
	return nil
}

func (d *Device) handleRequest(h wire.Header, msg []byte) {
	switch h.Command {
	case wire.CmdRequestUpdate:
		d.reply(func() ([]byte, error) {
			return wire.EncodeRequestUpdateResponse(h.InstanceID, wire.RequestUpdateResponse{CompletionCode: wire.CcSuccess})
		})

	case wire.CmdPassComponentTable:
		d.reply(func() ([]byte, error) {
			return wire.EncodePassComponentTableResponse(h.InstanceID, wire.PassComponentTableResponse{
				CompletionCode:    wire.CcSuccess,
				ComponentResponse: wire.ComponentCanBeUpdated,
			})
		})

	case wire.CmdUpdateComponent:
		_, req, err := wire.DecodeUpdateComponentRequest(msg)
		if err != nil {
			d.log.Warn("device could not decode UpdateComponent", "err", err)
			return
		}
		d.mu.Lock()
		d.compSize = req.ComponentImageSize
		d.offset = 0
		d.mu.Unlock()
		d.log.Info("device accepting component", "identifier", req.ComponentIdentifier, "size", req.ComponentImageSize)

		d.reply(func() ([]byte, error) {
			return wire.EncodeUpdateComponentResponse(h.InstanceID, wire.UpdateComponentResponse{
				CompletionCode:         wire.CcSuccess,
				ComponentCompatibility: wire.ComponentCanBeUpdated,
			})
		})
		d.pullNextChunk()

	case wire.CmdActivateFirmware:
		d.log.Info("device activating firmware")
		d.reply(func() ([]byte, error) {
			return wire.EncodeActivateFirmwareResponse(h.InstanceID, wire.ActivateFirmwareResponse{CompletionCode: wire.CcSuccess})
		})
		d.activateOnce.Do(func() { close(d.activated) })
	}
}

func (d *Device) handleResponse(h wire.Header, msg []byte) {
	switch h.Command {
	case wire.CmdRequestFirmwareData:
		_, resp, err := wire.DecodeRequestFirmwareDataResponse(msg)
		if err != nil || resp.CompletionCode != wire.CcSuccess {
			d.log.Warn("firmware data pull rejected", "err", err, "cc", resp.CompletionCode)
			return
		}

		d.mu.Lock()
		d.offset += uint32(len(resp.Data))
		done := d.offset >= d.compSize
		d.mu.Unlock()

		if done {
			d.command(func(id uint8) ([]byte, error) {
				return wire.EncodeTransferCompleteRequest(id, wire.TransferCompleteRequest{TransferResult: wire.TransferSuccess})
			})
		} else {
			d.pullNextChunk()
		}

	case wire.CmdTransferComplete:
		d.command(func(id uint8) ([]byte, error) {
			return wire.EncodeVerifyCompleteRequest(id, wire.VerifyCompleteRequest{VerifyResult: wire.VerifySuccess})
		})

	case wire.CmdVerifyComplete:
		d.command(func(id uint8) ([]byte, error) {
			return wire.EncodeApplyCompleteRequest(id, wire.ApplyCompleteRequest{ApplyResult: wire.ApplySuccess})
		})

	case wire.CmdApplyComplete:
		// Acknowledged; the UA decides whether the next component or
		// ActivateFirmware follows.
	}
}

func (d *Device) pullNextChunk() {
	d.mu.Lock()
	offset := d.offset
	length := d.chunkSize
	if offset+length > d.compSize {
		length = d.compSize - offset
	}
	if length < wire.BaselineTransferSize {
		length = wire.BaselineTransferSize
	}
	d.mu.Unlock()

	d.command(func(id uint8) ([]byte, error) {
		return wire.EncodeRequestFirmwareDataRequest(id, wire.RequestFirmwareDataRequest{Offset: offset, Length: length})
	})
}

// reply encodes and delivers a response to a UA-initiated request.
func (d *Device) reply(encode func() ([]byte, error)) {
	msg, err := encode()
	if err != nil {
		d.log.Error(err, "device failed to encode response")
		return
	}
	d.deliver(msg)
}

// command encodes and delivers a device-initiated request with the
// device's own instance id.
func (d *Device) command(encode func(id uint8) ([]byte, error)) {
	d.mu.Lock()
	id := d.nextID
	d.nextID = (d.nextID + 1) % (wire.MaxInstanceID + 1)
	d.mu.Unlock()

	msg, err := encode(id)
	if err != nil {
		d.log.Error(err, "device failed to encode command")
		return
	}
	d.deliver(msg)
}

func (d *Device) deliver(msg []byte) {
	d.mu.Lock()
	in := d.inbound
	d.mu.Unlock()
	if in == nil {
		d.log.Warn("device has no inbound sink attached, dropping message")
		return
	}
	d.loop.Defer(func() { in.OnMessage(d.endpoint, msg) })
}
