package deviceupdater

import (
	"cloupeer.io/pldmfwupdate/internal/pldm/requester"
	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
)

// --- Outbound response handlers: these run as the onResponse callback
// registered with the RequesterBus, always on the loop goroutine. ---

func (d *DeviceUpdater) handleRequestUpdateResponse(resp requester.Response) {
	if resp.Message == nil {
		d.log.Info("message-registry event", "event", "TransferFailed", "reason", "RequestUpdate timed out")
		d.fire(evRequestUpdateFailed)
		return
	}

	_, body, err := wire.DecodeRequestUpdateResponse(resp.Message)
	if err != nil || !completionCodeOK(body.CompletionCode) {
		d.log.Info("message-registry event", "event", "TransferFailed", "reason", "RequestUpdate rejected")
		d.fire(evRequestUpdateFailed)
		return
	}

	d.log.Info("message-registry event", "event", "TargetDetermined")
	d.fire(evRequestUpdateSucceeded)
}

func (d *DeviceUpdater) handlePassComponentTableResponse(resp requester.Response) {
	if resp.Message == nil {
		d.log.Info("message-registry event", "event", "TransferFailed", "reason", "PassComponentTable timed out")
		d.fire(evPassCompTableFailed)
		return
	}

	_, body, err := wire.DecodePassComponentTableResponse(resp.Message)
	if err != nil || !completionCodeOK(body.CompletionCode) {
		d.log.Info("message-registry event", "event", "TransferFailed", "reason", "PassComponentTable rejected")
		d.fire(evPassCompTableFailed)
		return
	}

	accept := body.ComponentResponse == wire.ComponentCanBeUpdated ||
		(body.ComponentResponse == wire.ComponentMayBeUpdateable && shouldProceedOnMayBeUpdateable(d.opts.ProceedOnMayBeUpdateable))
	if !accept {
		d.log.Info("message-registry event", "event", "TransferFailed", "reason", "component not accepted", "response_code", body.ComponentResponseCode)
		d.fire(evPassCompTableFailed)
		return
	}

	d.passCursor++
	if d.passCursor >= len(d.applicable) {
		d.fire(evPassCompTableAllDone)
		return
	}
	d.fire(evPassCompTableContinue)
}

func (d *DeviceUpdater) handleUpdateComponentResponse(resp requester.Response) {
	if resp.Message == nil {
		d.log.Info("message-registry event", "event", "TransferFailed", "reason", "UpdateComponent timed out")
		d.fire(evUpdateComponentFailed)
		return
	}

	_, body, err := wire.DecodeUpdateComponentResponse(resp.Message)
	if err != nil || !completionCodeOK(body.CompletionCode) {
		d.log.Info("message-registry event", "event", "TransferFailed", "reason", "UpdateComponent rejected")
		d.fire(evUpdateComponentFailed)
		return
	}

	accept := body.ComponentCompatibility == wire.ComponentCanBeUpdated ||
		(body.ComponentCompatibility == wire.ComponentMayBeUpdateable && shouldProceedOnMayBeUpdateable(d.opts.ProceedOnMayBeUpdateable))
	if !accept {
		d.log.Info("message-registry event", "event", "TransferFailed", "reason", "component not accepted", "response_code", body.ComponentResponseCode)
		d.fire(evUpdateComponentFailed)
		return
	}

	d.fire(evUpdateComponentSucceeded)
}

func (d *DeviceUpdater) handleActivateFirmwareResponse(resp requester.Response) {
	if resp.Message == nil {
		d.log.Info("message-registry event", "event", "ActivateFailed", "reason", "ActivateFirmware timed out")
		d.fire(evActivateFailed)
		return
	}

	_, body, err := wire.DecodeActivateFirmwareResponse(resp.Message)
	if err != nil || !completionCodeOK(body.CompletionCode) {
		d.log.Info("message-registry event", "event", "ActivateFailed")
		d.fire(evActivateFailed)
		return
	}

	d.fire(evActivateSucceeded)
}

// --- Inbound device-initiated request handlers. UpdateManager routes to
// these by endpoint; this updater replies directly through transport,
// bypassing the RequesterBus (these are responses to device-initiated
// requests, not outbound requests of our own). ---

// HandleRequestFirmwareData serves one chunk of the active component's
// payload, or the documented error completion codes when the request
// does not fit. It resets the transfer watchdog on every call received in
// the Transferring state.
func (d *DeviceUpdater) HandleRequestFirmwareData(msg []byte) {
	h, req, err := wire.DecodeRequestFirmwareDataRequest(msg)
	if err != nil {
		return
	}
	if d.Current() != StateTransferring {
		d.replyRequestFirmwareData(h.InstanceID, wire.CcCommandNotExpected, nil)
		return
	}
	d.resetWatchdog()

	if req.Length < baselineTransferSize || req.Length > d.maxTransferSize {
		d.replyRequestFirmwareData(h.InstanceID, wire.CcInvalidTransferLength, nil)
		return
	}
	if uint64(req.Offset)+uint64(req.Length) > uint64(d.currentComponentSize)+baselineTransferSize {
		d.replyRequestFirmwareData(h.InstanceID, wire.CcDataOutOfRange, nil)
		return
	}

	idx := d.applicable[d.applyCursor]
	comp := d.components[idx]

	data := make([]byte, req.Length)
	copyLen := req.Length
	if uint64(req.Offset)+uint64(req.Length) > uint64(d.currentComponentSize) {
		copyLen = d.currentComponentSize - req.Offset
	}
	if copyLen > 0 {
		if err := d.stream.Read(data[:copyLen], comp.LocationOffset+req.Offset, copyLen); err != nil {
			d.log.Error(err, "failed to read component payload range")
			d.replyRequestFirmwareData(h.InstanceID, wire.CcDataOutOfRange, nil)
			return
		}
		d.bytesServed += copyLen
	}

	d.replyRequestFirmwareData(h.InstanceID, wire.CcSuccess, data)
}

func (d *DeviceUpdater) replyRequestFirmwareData(instanceID uint8, cc wire.CompletionCode, data []byte) {
	msg, err := wire.EncodeRequestFirmwareDataResponse(instanceID, wire.RequestFirmwareDataResponse{CompletionCode: cc, Data: data})
	if err != nil {
		d.log.Error(err, "failed to encode RequestFirmwareData response")
		return
	}
	if err := d.transport.Send(d.endpoint, msg); err != nil {
		d.log.Error(err, "failed to send RequestFirmwareData response")
	}
}

// HandleTransferComplete acknowledges the device's TransferComplete
// command and advances (or fails) the state machine according to the
// carried result.
func (d *DeviceUpdater) HandleTransferComplete(msg []byte) {
	h, req, err := wire.DecodeTransferCompleteRequest(msg)
	if err != nil {
		return
	}
	if d.Current() != StateTransferring {
		d.ackSimple(wire.CmdTransferComplete, h.InstanceID, wire.CcCommandNotExpected)
		return
	}

	d.ackSimple(wire.CmdTransferComplete, h.InstanceID, wire.CcSuccess)
	if req.TransferResult == wire.TransferSuccess {
		d.fire(evTransferComplete)
		return
	}
	d.log.Info("message-registry event", "event", "TransferFailed", "result", req.TransferResult)
	d.fire(evTransferFailed)
}

// HandleVerifyComplete acknowledges the device's VerifyComplete command.
func (d *DeviceUpdater) HandleVerifyComplete(msg []byte) {
	h, req, err := wire.DecodeVerifyCompleteRequest(msg)
	if err != nil {
		return
	}
	if d.Current() != StateVerifying {
		d.ackSimple(wire.CmdVerifyComplete, h.InstanceID, wire.CcCommandNotExpected)
		return
	}

	d.ackSimple(wire.CmdVerifyComplete, h.InstanceID, wire.CcSuccess)
	if req.VerifyResult == wire.VerifySuccess {
		d.fire(evVerifyComplete)
		return
	}
	d.log.Info("message-registry event", "event", "VerificationFailed", "result", req.VerifyResult)
	d.fire(evVerifyFailed)
}

// HandleApplyComplete acknowledges the device's ApplyComplete command and
// advances to the next component or to activation.
func (d *DeviceUpdater) HandleApplyComplete(msg []byte) {
	h, req, err := wire.DecodeApplyCompleteRequest(msg)
	if err != nil {
		return
	}
	if d.Current() != StateApplying {
		d.ackSimple(wire.CmdApplyComplete, h.InstanceID, wire.CcCommandNotExpected)
		return
	}

	d.ackSimple(wire.CmdApplyComplete, h.InstanceID, wire.CcSuccess)

	success := req.ApplyResult == wire.ApplySuccess || req.ApplyResult == wire.ApplySuccessWithActivationMethod
	if !success {
		d.log.Info("message-registry event", "event", "ApplyFailed", "result", req.ApplyResult)
		d.fire(evApplyFailed)
		return
	}
	if req.ApplyResult == wire.ApplySuccessWithActivationMethod {
		d.log.Info("device requests modified activation method",
			"component", d.applicable[d.applyCursor], "methods", req.ComponentActivationMethodsModification)
	}

	d.manager.ProgressTick()

	if d.applyCursor >= len(d.applicable)-1 {
		d.fire(evApplyCompleteLast)
		return
	}
	d.applyCursor++
	d.fire(evApplyCompleteMore)
}

// ackSimple replies to a device-initiated command that has no body
// beyond a completion code.
func (d *DeviceUpdater) ackSimple(command uint8, instanceID uint8, cc wire.CompletionCode) {
	var msg []byte
	var err error
	switch command {
	case wire.CmdTransferComplete:
		msg, err = wire.EncodeTransferCompleteResponse(instanceID, wire.TransferCompleteResponse{CompletionCode: cc})
	case wire.CmdVerifyComplete:
		msg, err = wire.EncodeVerifyCompleteResponse(instanceID, wire.VerifyCompleteResponse{CompletionCode: cc})
	case wire.CmdApplyComplete:
		msg, err = wire.EncodeApplyCompleteResponse(instanceID, wire.ApplyCompleteResponse{CompletionCode: cc})
	}
	if err != nil {
		d.log.Error(err, "failed to encode ack", "command", command)
		return
	}
	if err := d.transport.Send(d.endpoint, msg); err != nil {
		d.log.Error(err, "failed to send ack", "command", command)
	}
}
