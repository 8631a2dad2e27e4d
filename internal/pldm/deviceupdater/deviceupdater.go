package deviceupdater

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"cloupeer.io/pldmfwupdate/internal/pldm/loop"
	"cloupeer.io/pldmfwupdate/internal/pldm/pkgparser"
	"cloupeer.io/pldmfwupdate/internal/pldm/requester"
	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
	fsmutil "cloupeer.io/pldmfwupdate/internal/pkg/util/fsm"
	"cloupeer.io/pldmfwupdate/internal/pkg/metrics"
	"cloupeer.io/pldmfwupdate/pkg/pldmlog"
)

// DeviceUpdater drives one device's update session end to end. It must
// only be used from the event loop goroutine it was constructed with.
type DeviceUpdater struct {
	*fsm.FSM

	endpoint  uint8
	loop      *loop.Loop
	bus       *requester.Bus
	transport requester.Transport
	stream    *pkgparser.StreamReader
	manager   ManagerCallback
	opts      Options
	log       pldmlog.Logger

	record     pkgparser.FirmwareDeviceIDRecord
	components []pkgparser.ComponentImageInfo
	info       ComponentInfo

	maxTransferSize uint32

	// applicable is the sorted list of component image indices this
	// record marks as applicable; cursors below index into it.
	applicable []int

	passCursor  int // index into applicable, for the PassComponentTable loop
	applyCursor int // index into applicable, for the UpdateComponent/apply loop

	currentComponentSize uint32
	bytesServed          uint32 // bytes served for the active component, excluding zero pad

	watchdog *loop.Timer
}

// New constructs a DeviceUpdater for one endpoint using one FDR. The
// caller must call Start to begin the exchange.
func New(endpoint uint8, l *loop.Loop, bus *requester.Bus, transport requester.Transport, stream *pkgparser.StreamReader,
	record pkgparser.FirmwareDeviceIDRecord, components []pkgparser.ComponentImageInfo,
	info ComponentInfo, maxTransferSize uint32, manager ManagerCallback, opts Options, log pldmlog.Logger,
) *DeviceUpdater {
	applicable := append([]int(nil), record.ApplicableComponents...)

	d := &DeviceUpdater{
		endpoint:        endpoint,
		loop:            l,
		bus:             bus,
		transport:       transport,
		stream:          stream,
		manager:         manager,
		opts:            opts.withDefaults(),
		log:             log.WithValues("endpoint", endpoint),
		record:          record,
		components:      components,
		info:            info,
		maxTransferSize: maxTransferSize,
		applicable:      applicable,
	}

	events := fsm.Events{
		{Name: evStart, Src: []string{StateIdle}, Dst: StateAwaitingRequestUpdate},

		{Name: evRequestUpdateSucceeded, Src: []string{StateAwaitingRequestUpdate}, Dst: StateAwaitingPassCompTable},
		{Name: evRequestUpdateFailed, Src: []string{StateAwaitingRequestUpdate}, Dst: StateDoneFailure},

		{Name: evPassCompTableContinue, Src: []string{StateAwaitingPassCompTable}, Dst: StateAwaitingPassCompTable},
		{Name: evPassCompTableAllDone, Src: []string{StateAwaitingPassCompTable}, Dst: StateAwaitingUpdateComponent},
		{Name: evPassCompTableFailed, Src: []string{StateAwaitingPassCompTable}, Dst: StateDoneFailure},

		{Name: evUpdateComponentSucceeded, Src: []string{StateAwaitingUpdateComponent}, Dst: StateTransferring},
		{Name: evUpdateComponentFailed, Src: []string{StateAwaitingUpdateComponent}, Dst: StateDoneFailure},

		{Name: evTransferComplete, Src: []string{StateTransferring}, Dst: StateVerifying},
		{Name: evTransferFailed, Src: []string{StateTransferring}, Dst: StateDoneFailure},

		{Name: evVerifyComplete, Src: []string{StateVerifying}, Dst: StateApplying},
		{Name: evVerifyFailed, Src: []string{StateVerifying}, Dst: StateDoneFailure},

		{Name: evApplyCompleteMore, Src: []string{StateApplying}, Dst: StateAwaitingUpdateComponent},
		{Name: evApplyCompleteLast, Src: []string{StateApplying}, Dst: StateAwaitingActivate},
		{Name: evApplyFailed, Src: []string{StateApplying}, Dst: StateDoneFailure},

		{Name: evActivateSucceeded, Src: []string{StateAwaitingActivate}, Dst: StateDoneSuccess},
		{Name: evActivateFailed, Src: []string{StateAwaitingActivate}, Dst: StateDoneFailure},
	}

	callbacks := fsm.Callbacks{
		"enter_" + StateAwaitingRequestUpdate:    fsmutil.WrapEvent(d.actionSendRequestUpdate),
		"enter_" + StateAwaitingPassCompTable:    fsmutil.WrapEvent(d.actionSendPassComponentTable),
		"enter_" + StateAwaitingUpdateComponent:  fsmutil.WrapEvent(d.actionSendUpdateComponent),
		"enter_" + StateTransferring:             fsmutil.WrapEvent(d.actionEnterTransferring),
		"enter_" + StateAwaitingActivate:         fsmutil.WrapEvent(d.actionSendActivateFirmware),
		"enter_" + StateDoneSuccess:              d.actionDone(true),
		"enter_" + StateDoneFailure:              d.actionDone(false),

		// The continue event is a self-transition, so the enter callback
		// above does not re-fire for it; the after-event hook is what
		// issues PassComponentTable for the second and later components.
		"after_" + evPassCompTableContinue: fsmutil.WrapEvent(d.actionSendPassComponentTable),
	}

	d.FSM = fsm.NewFSM(StateIdle, events, callbacks)
	return d
}

// Endpoint returns the device endpoint this updater drives.
func (d *DeviceUpdater) Endpoint() uint8 {
	return d.endpoint
}

// Cancel stops this updater's transfer watchdog, if any, without
// transitioning the state machine. Per the session cancellation model, any
// instance id this updater has outstanding through the RequesterBus is
// left to expire naturally; UpdateManager drops its reference to this
// updater once every device's Cancel has returned.
func (d *DeviceUpdater) Cancel() {
	if d.watchdog != nil {
		d.watchdog.Stop()
	}
}

// Start begins the update exchange: RequestUpdate is sent on the event
// loop's next iteration.
func (d *DeviceUpdater) Start() error {
	return d.Event(context.Background(), evStart)
}

// fire wraps FSM.Event, swallowing fsm.NoTransitionError and
// fsm.InvalidEventError and logging any other error. NoTransitionError is
// returned for every evPassCompTableContinue self-transition;
// InvalidEventError occurs when a stray response or watchdog expiry
// arrives in a state the event does not apply to.
func (d *DeviceUpdater) fire(event string, args ...any) {
	if err := d.Event(context.Background(), event, args...); err != nil {
		if _, ok := err.(fsm.InvalidEventError); ok {
			return
		}
		if _, ok := err.(fsm.NoTransitionError); ok {
			return
		}
		d.log.Warn("fsm event failed", "event", event, "err", err)
	}
}

// --- Actions (enter_<state> callbacks). Every outbound send happens
// through loop.Defer, never synchronously from inside a response
// handler, per the sequencing requirement. ---

func (d *DeviceUpdater) actionSendRequestUpdate(ctx context.Context, e *fsm.Event) error {
	d.loop.Defer(func() {
		req := wire.RequestUpdateRequest{
			MaxTransferSize:                d.maxTransferSize,
			NumberOfComponents:              uint16(len(d.applicable)),
			MaxOutstandingTransferRequests:  1,
			PackageDataLength:               uint16(len(d.record.FirmwareDevicePackageData)),
			ComponentImageSetVersionString:  d.record.ComponentImageSetVersion,
		}
		body, err := encodeBody(func(instanceID uint8) ([]byte, error) {
			return wire.EncodeRequestUpdateRequest(instanceID, req)
		})
		if err != nil {
			d.log.Error(err, "failed to encode RequestUpdate")
			d.fire(evRequestUpdateFailed)
			return
		}
		d.sendWithInstanceID(wire.CmdRequestUpdate, body, func(resp requester.Response) {
			d.handleRequestUpdateResponse(resp)
		})
	})
	return nil
}

func (d *DeviceUpdater) actionSendPassComponentTable(ctx context.Context, e *fsm.Event) error {
	d.loop.Defer(func() {
		idx := d.applicable[d.passCursor]
		comp := d.components[idx]
		flag := transferFlagFor(d.passCursor, len(d.applicable))

		req := wire.PassComponentTableRequest{
			TransferFlag:                 flag,
			ComponentClassification:      comp.Classification,
			ComponentIdentifier:          comp.Identifier,
			ComponentClassificationIndex: d.classificationIndex(comp),
			ComponentComparisonStamp:     comp.ComparisonStamp,
			ComponentVersionString:       comp.VersionString,
		}
		body, err := encodeBody(func(instanceID uint8) ([]byte, error) {
			return wire.EncodePassComponentTableRequest(instanceID, req)
		})
		if err != nil {
			d.log.Error(err, "failed to encode PassComponentTable")
			d.fire(evPassCompTableFailed)
			return
		}
		d.sendWithInstanceID(wire.CmdPassComponentTable, body, func(resp requester.Response) {
			d.handlePassComponentTableResponse(resp)
		})
	})
	return nil
}

func (d *DeviceUpdater) actionSendUpdateComponent(ctx context.Context, e *fsm.Event) error {
	d.loop.Defer(func() {
		idx := d.applicable[d.applyCursor]
		comp := d.components[idx]

		req := wire.UpdateComponentRequest{
			ComponentClassification:      comp.Classification,
			ComponentIdentifier:          comp.Identifier,
			ComponentClassificationIndex: d.classificationIndex(comp),
			ComponentComparisonStamp:     comp.ComparisonStamp,
			ComponentImageSize:           comp.Size,
			UpdateOptionFlags:            d.record.DeviceUpdateOptionFlags,
			ComponentVersionString:       comp.VersionString,
		}
		body, err := encodeBody(func(instanceID uint8) ([]byte, error) {
			return wire.EncodeUpdateComponentRequest(instanceID, req)
		})
		if err != nil {
			d.log.Error(err, "failed to encode UpdateComponent")
			d.fire(evUpdateComponentFailed)
			return
		}
		d.currentComponentSize = comp.Size
		d.bytesServed = 0
		d.sendWithInstanceID(wire.CmdUpdateComponent, body, func(resp requester.Response) {
			d.handleUpdateComponentResponse(resp)
		})
	})
	return nil
}

func (d *DeviceUpdater) actionEnterTransferring(ctx context.Context, e *fsm.Event) error {
	idx := d.applicable[d.applyCursor]
	d.log.Info("message-registry event", "event", "TransferringToComponent", "component", idx)
	d.resetWatchdog()
	return nil
}

func (d *DeviceUpdater) actionSendActivateFirmware(ctx context.Context, e *fsm.Event) error {
	d.log.Info("message-registry event", "event", "AwaitToActivate")
	d.loop.Defer(func() {
		idx := d.applicable[d.applyCursor]
		comp := d.components[idx]
		req := wire.ActivateFirmwareRequest{
			SelfContainedActivationRequest: shouldRequestSelfContainedActivation(d.opts.HonorSelfContainedActivation, comp.ActivationMethods),
		}
		body, err := encodeBody(func(instanceID uint8) ([]byte, error) {
			return wire.EncodeActivateFirmwareRequest(instanceID, req)
		})
		if err != nil {
			d.log.Error(err, "failed to encode ActivateFirmware")
			d.fire(evActivateFailed)
			return
		}
		d.sendWithInstanceID(wire.CmdActivateFirmware, body, func(resp requester.Response) {
			d.handleActivateFirmwareResponse(resp)
		})
	})
	return nil
}

func (d *DeviceUpdater) actionDone(success bool) fsm.Callback {
	return fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
		if d.watchdog != nil {
			d.watchdog.Stop()
		}
		if success {
			d.log.Info("message-registry event", "event", "UpdateSuccessful")
			metrics.DeviceResult.WithLabelValues(fmt.Sprint(d.endpoint), "success").Inc()
		} else {
			metrics.DeviceResult.WithLabelValues(fmt.Sprint(d.endpoint), "failure").Inc()
		}
		d.manager.DeviceFinished(d.endpoint, success)
		return nil
	})
}

// classificationIndex looks up the device-reported classification index
// for comp, defaulting to 0 when the device never reported one (a device
// that accepted a component without assigning it an index is unusual but
// not itself a protocol error this core should reject).
func (d *DeviceUpdater) classificationIndex(comp pkgparser.ComponentImageInfo) uint8 {
	key := ComponentKey{Classification: comp.Classification, Identifier: comp.Identifier}
	return d.info[key]
}

// transferFlagFor reports the PassComponentTable transfer flag for
// position i of n components.
func transferFlagFor(i, n int) wire.TransferFlag {
	switch {
	case n == 1:
		return wire.TransferFlagStartAndEnd
	case i == 0:
		return wire.TransferFlagStart
	case i == n-1:
		return wire.TransferFlagEnd
	default:
		return wire.TransferFlagMiddle
	}
}

func (d *DeviceUpdater) resetWatchdog() {
	if d.watchdog != nil {
		d.watchdog.Stop()
	}
	d.watchdog = d.loop.After(d.opts.UAT2, func() {
		d.log.Info("message-registry event", "event", "TransferFailed", "reason", "UA_T2 watchdog expired")
		if d.Current() == StateTransferring {
			metrics.TimeoutsTotal.WithLabelValues(fmt.Sprint(d.endpoint), "ua_t2").Inc()
		}
		d.fire(evTransferFailed)
	})
}

// sendWithInstanceID issues command via the RequesterBus. body is a full
// wire message built by encodeBody with a placeholder instance id of 0;
// its header is sliced off and Send writes a new header carrying the
// instance id the bus allocates.
func (d *DeviceUpdater) sendWithInstanceID(command uint8, body []byte, onResponse func(requester.Response)) {
	if err := d.bus.Send(d.endpoint, wire.TypeFirmwareUpdate, command, body[wire.HeaderLength:], onResponse); err != nil {
		d.log.Error(err, "send failed", "command", command)
		d.failCurrentStage(err)
	}
}

// failCurrentStage routes a synchronous send failure to the right
// terminal event for whatever stage is currently in flight.
func (d *DeviceUpdater) failCurrentStage(err error) {
	switch d.Current() {
	case StateAwaitingRequestUpdate:
		d.fire(evRequestUpdateFailed)
	case StateAwaitingPassCompTable:
		d.fire(evPassCompTableFailed)
	case StateAwaitingUpdateComponent:
		d.fire(evUpdateComponentFailed)
	case StateAwaitingActivate:
		d.fire(evActivateFailed)
	}
}

// encodeBody builds a full wire message using instance id 0 as a
// placeholder (the real id is assigned by the RequesterBus when the
// message is actually sent) and returns it so the caller can slice off
// the body past the header.
func encodeBody(encode func(instanceID uint8) ([]byte, error)) ([]byte, error) {
	return encode(0)
}
