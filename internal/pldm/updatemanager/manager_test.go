package updatemanager

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cloupeer.io/pldmfwupdate/internal/pldm/deviceupdater"
	"cloupeer.io/pldmfwupdate/internal/pldm/loop"
	"cloupeer.io/pldmfwupdate/internal/pldm/pkgparser"
	"cloupeer.io/pldmfwupdate/internal/pldm/requester"
	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
	"cloupeer.io/pldmfwupdate/pkg/pldmlog"
)

const testEndpoint uint8 = 9

var testUUID = []byte{0x12, 0x44, 0xD2, 0x64, 0x8D, 0x7D, 0x47, 0x18, 0xA0, 0x30, 0xFC, 0x8A, 0x56, 0x58, 0x7D, 0x5B}

// buildSingleComponentPackage builds a minimal package: one FDR (UUID
// descriptor, applicable component bit 0), one component image of
// compSize bytes.
func buildSingleComponentPackage(t *testing.T, uuid []byte, compSize uint32) []byte {
	t.Helper()

	var pkg []byte
	pkg = append(pkg, make([]byte, 16)...)
	pkg = append(pkg, 1) // format revision 1: no checksum trailer
	pkg = append(pkg, 0, 0)
	pkg = append(pkg, make([]byte, 13)...)
	pkg = binary.LittleEndian.AppendUint16(pkg, 8) // component_bitmap_bit_length
	pkg = append(pkg, 1)
	pkgVersion := "1.0"
	pkg = append(pkg, byte(len(pkgVersion)))
	pkg = append(pkg, pkgVersion...)

	pkg = append(pkg, 1) // one FDR

	descriptorBytes := []byte{0x02, 0x00}
	descriptorBytes = binary.LittleEndian.AppendUint16(descriptorBytes, uint16(len(uuid)))
	descriptorBytes = append(descriptorBytes, uuid...)

	fdVersion := "fw-1.0"
	var fdBody []byte
	fdBody = append(fdBody, 1)
	fdBody = binary.LittleEndian.AppendUint32(fdBody, 0)
	fdBody = append(fdBody, 1)
	fdBody = append(fdBody, byte(len(fdVersion)))
	fdBody = binary.LittleEndian.AppendUint16(fdBody, 0)
	fdBody = append(fdBody, fdVersion...)
	fdBody = append(fdBody, 0x01) // applicable components: bit 0
	fdBody = append(fdBody, descriptorBytes...)

	fdRecord := binary.LittleEndian.AppendUint16(nil, uint16(2+len(fdBody)))
	fdRecord = append(fdRecord, fdBody...)
	pkg = append(pkg, fdRecord...)

	pkg = binary.LittleEndian.AppendUint16(pkg, 1) // one component image

	compVersion := "comp-1.0"
	headerEnd := len(pkg) + (2 + 2 + 4 + 2 + 2 + 4 + 4 + 1 + 1) + len(compVersion)

	var comp []byte
	comp = binary.LittleEndian.AppendUint16(comp, 0x0a)
	comp = binary.LittleEndian.AppendUint16(comp, 0x1234)
	comp = binary.LittleEndian.AppendUint32(comp, 0xFFFFFFFF)
	comp = binary.LittleEndian.AppendUint16(comp, 0)
	comp = binary.LittleEndian.AppendUint16(comp, 0)
	comp = binary.LittleEndian.AppendUint32(comp, uint32(headerEnd))
	comp = binary.LittleEndian.AppendUint32(comp, compSize)
	comp = append(comp, 1)
	comp = append(comp, byte(len(compVersion)))
	comp = append(comp, compVersion...)
	pkg = append(pkg, comp...)

	pkg = append(pkg, make([]byte, compSize)...)
	return pkg
}

// deviceSim is a fake transport that plays the device side of the DSP0267
// exchange: it answers every UA-initiated request with a success response,
// then drives the RequestFirmwareData pull/TransferComplete/VerifyComplete/
// ApplyComplete sequence on its own initiative, exactly as a real FD would.
type deviceSim struct {
	t    *testing.T
	mu   sync.Mutex
	loop *loop.Loop
	mgr  *Manager

	chunkSize    uint32
	componentLen uint32
	offset       uint32
	nextReqID    uint8

	activated chan struct{}
}

func (d *deviceSim) Send(endpoint uint8, data []byte) error {
	msg := append([]byte(nil), data...)
	h, err := wire.DecodeHeader(msg)
	require.NoError(d.t, err)

	switch h.Command {
	case wire.CmdRequestUpdate:
		resp, err := wire.EncodeRequestUpdateResponse(h.InstanceID, wire.RequestUpdateResponse{CompletionCode: wire.CcSuccess})
		require.NoError(d.t, err)
		d.deliver(endpoint, resp)

	case wire.CmdPassComponentTable:
		resp, err := wire.EncodePassComponentTableResponse(h.InstanceID, wire.PassComponentTableResponse{
			CompletionCode:    wire.CcSuccess,
			ComponentResponse: wire.ComponentCanBeUpdated,
		})
		require.NoError(d.t, err)
		d.deliver(endpoint, resp)

	case wire.CmdUpdateComponent:
		_, req, err := wire.DecodeUpdateComponentRequest(msg)
		require.NoError(d.t, err)
		d.mu.Lock()
		d.componentLen = req.ComponentImageSize
		d.offset = 0
		d.mu.Unlock()

		resp, err := wire.EncodeUpdateComponentResponse(h.InstanceID, wire.UpdateComponentResponse{
			CompletionCode:         wire.CcSuccess,
			ComponentCompatibility: wire.ComponentCanBeUpdated,
		})
		require.NoError(d.t, err)
		d.deliver(endpoint, resp)
		d.requestNextChunk(endpoint)

	case wire.CmdRequestFirmwareData:
		_, resp, err := wire.DecodeRequestFirmwareDataResponse(msg)
		require.NoError(d.t, err)
		require.Equal(d.t, wire.CcSuccess, resp.CompletionCode)

		d.mu.Lock()
		d.offset += uint32(len(resp.Data))
		done := d.offset >= d.componentLen
		d.mu.Unlock()

		if done {
			d.sendRequest(endpoint, func(id uint8) ([]byte, error) {
				return wire.EncodeTransferCompleteRequest(id, wire.TransferCompleteRequest{TransferResult: wire.TransferSuccess})
			})
		} else {
			d.requestNextChunk(endpoint)
		}

	case wire.CmdTransferComplete:
		d.sendRequest(endpoint, func(id uint8) ([]byte, error) {
			return wire.EncodeVerifyCompleteRequest(id, wire.VerifyCompleteRequest{VerifyResult: wire.VerifySuccess})
		})

	case wire.CmdVerifyComplete:
		d.sendRequest(endpoint, func(id uint8) ([]byte, error) {
			return wire.EncodeApplyCompleteRequest(id, wire.ApplyCompleteRequest{ApplyResult: wire.ApplySuccess})
		})

	case wire.CmdApplyComplete:
		// Acknowledged; the device has nothing further to do here. The
		// DeviceUpdater itself decides whether to move to the next
		// component or to ActivateFirmware.

	case wire.CmdActivateFirmware:
		resp, err := wire.EncodeActivateFirmwareResponse(h.InstanceID, wire.ActivateFirmwareResponse{CompletionCode: wire.CcSuccess})
		require.NoError(d.t, err)
		d.deliver(endpoint, resp)
		close(d.activated)
	}

	return nil
}

func (d *deviceSim) requestNextChunk(endpoint uint8) {
	d.mu.Lock()
	offset := d.offset
	length := d.chunkSize
	if offset+length > d.componentLen {
		length = d.componentLen - offset
	}
	d.mu.Unlock()

	d.sendRequest(endpoint, func(id uint8) ([]byte, error) {
		return wire.EncodeRequestFirmwareDataRequest(id, wire.RequestFirmwareDataRequest{Offset: offset, Length: length})
	})
}

func (d *deviceSim) sendRequest(endpoint uint8, encode func(id uint8) ([]byte, error)) {
	d.mu.Lock()
	id := d.nextReqID
	d.nextReqID = (d.nextReqID + 1) % 32
	d.mu.Unlock()

	msg, err := encode(id)
	require.NoError(d.t, err)
	d.deliver(endpoint, msg)
}

func (d *deviceSim) deliver(endpoint uint8, msg []byte) {
	d.loop.Defer(func() { d.mgr.OnMessage(endpoint, msg) })
}

func newTestManager(t *testing.T, chunkSize uint32) (*Manager, *deviceSim, *loop.Loop) {
	t.Helper()
	l := loop.New()
	go l.Run()
	t.Cleanup(l.Stop)

	sim := &deviceSim{t: t, loop: l, chunkSize: chunkSize, activated: make(chan struct{})}

	bus := requester.New(l, sim, pldmlog.NewNopLogger(), requester.Options{
		Retries: 2, ResponseTimeout: 50 * time.Millisecond, InstanceIDExpiry: time.Second,
	})

	mgr := New(l, bus, sim, pldmlog.NewNopLogger(), deviceupdater.Options{UAT2: time.Second}, 512)
	sim.mgr = mgr
	return mgr, sim, l
}

func TestAcceptActivateSingleComponentSuccess(t *testing.T) {
	mgr, sim, l := newTestManager(t, 512)

	pkg := buildSingleComponentPackage(t, testUUID, 1024)

	errCh := make(chan error, 1)
	l.Defer(func() {
		errCh <- mgr.AcceptPackage(pkg, map[uint8]DeviceCapabilities{
			testEndpoint: {Descriptors: pkgparser.DescriptorSet{
				pkgparser.DescriptorTypeUUID: {Type: pkgparser.DescriptorTypeUUID, Data: testUUID},
			}},
		})
	})
	require.NoError(t, <-errCh)
	require.Equal(t, PhaseReady, mgr.Phase())

	l.Defer(func() { errCh <- mgr.Activate() })
	require.NoError(t, <-errCh)

	select {
	case <-sim.activated:
	case <-time.After(2 * time.Second):
		t.Fatal("activation never completed")
	}

	require.Eventually(t, func() bool { return mgr.Phase() == PhaseActive }, time.Second, 5*time.Millisecond)
	require.Equal(t, 100, mgr.Progress())
}

func TestAcceptPackageDescriptorMismatchIsInvalid(t *testing.T) {
	mgr, _, l := newTestManager(t, 512)
	pkg := buildSingleComponentPackage(t, testUUID, 64)

	mismatched := append([]byte(nil), testUUID...)
	mismatched[len(mismatched)-1] ^= 0xFF

	errCh := make(chan error, 1)
	l.Defer(func() {
		errCh <- mgr.AcceptPackage(pkg, map[uint8]DeviceCapabilities{
			testEndpoint: {Descriptors: pkgparser.DescriptorSet{
				pkgparser.DescriptorTypeUUID: {Type: pkgparser.DescriptorTypeUUID, Data: mismatched},
			}},
		})
	})

	err := <-errCh
	require.ErrorIs(t, err, ErrNoMatchingDevice)
	require.Equal(t, PhaseInvalid, mgr.Phase())
}

func TestAcceptPackageRejectsMalformedPackage(t *testing.T) {
	mgr, _, l := newTestManager(t, 512)

	errCh := make(chan error, 1)
	l.Defer(func() {
		errCh <- mgr.AcceptPackage([]byte{0x01, 0x02}, nil)
	})

	require.Error(t, <-errCh)
	require.Equal(t, PhaseInvalid, mgr.Phase())
}

func TestAcceptPackageBusyWhileActivating(t *testing.T) {
	mgr, sim, l := newTestManager(t, 512)
	pkg := buildSingleComponentPackage(t, testUUID, 64)
	devices := map[uint8]DeviceCapabilities{
		testEndpoint: {Descriptors: pkgparser.DescriptorSet{
			pkgparser.DescriptorTypeUUID: {Type: pkgparser.DescriptorTypeUUID, Data: testUUID},
		}},
	}

	errCh := make(chan error, 1)
	l.Defer(func() { errCh <- mgr.AcceptPackage(pkg, devices) })
	require.NoError(t, <-errCh)
	// The second AcceptPackage runs in the same loop task as Activate, so
	// no device traffic can finish the session before it is checked.
	activateErr := make(chan error, 1)
	l.Defer(func() {
		activateErr <- mgr.Activate()
		errCh <- mgr.AcceptPackage(pkg, devices)
	})
	require.NoError(t, <-activateErr)
	require.ErrorIs(t, <-errCh, ErrBusy)

	<-sim.activated
}
