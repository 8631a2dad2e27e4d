package wire

// ActivateFirmwareRequest asks the device to activate the firmware most
// recently applied.
type ActivateFirmwareRequest struct {
	// SelfContainedActivationRequest, when true, asks the device to
	// activate only those components that support self-contained
	// activation, without requiring a full device reset.
	SelfContainedActivationRequest bool
}

// EncodeActivateFirmwareRequest encodes req as an ActivateFirmware request
// message.
func EncodeActivateFirmwareRequest(instanceID uint8, req ActivateFirmwareRequest) ([]byte, error) {
	msg, body, err := newMessage(Header{
		Request:    true,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdActivateFirmware,
	}, 1)
	if err != nil {
		return nil, err
	}
	if req.SelfContainedActivationRequest {
		body[0] = 1
	}
	return msg, nil
}

// DecodeActivateFirmwareRequest decodes an ActivateFirmware request
// message.
func DecodeActivateFirmwareRequest(msg []byte) (Header, ActivateFirmwareRequest, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, ActivateFirmwareRequest{}, err
	}
	if len(body) < 1 {
		return Header{}, ActivateFirmwareRequest{}, ErrInvalidLength
	}
	return h, ActivateFirmwareRequest{SelfContainedActivationRequest: body[0] != 0}, nil
}

// ActivateFirmwareResponse reports whether activation succeeded and, if so,
// how long the device expects activation to take.
type ActivateFirmwareResponse struct {
	CompletionCode           CompletionCode
	EstimatedTimeForActivation uint16
}

// EncodeActivateFirmwareResponse encodes resp as an ActivateFirmware
// response message.
func EncodeActivateFirmwareResponse(instanceID uint8, resp ActivateFirmwareResponse) ([]byte, error) {
	bodyLen := 1
	if resp.CompletionCode == CcSuccess {
		bodyLen += 2
	}
	msg, body, err := newMessage(Header{
		Request:    false,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdActivateFirmware,
	}, bodyLen)
	if err != nil {
		return nil, err
	}
	body[0] = uint8(resp.CompletionCode)
	if resp.CompletionCode == CcSuccess {
		putUint16(body[1:3], resp.EstimatedTimeForActivation)
	}
	return msg, nil
}

// DecodeActivateFirmwareResponse decodes an ActivateFirmware response
// message.
func DecodeActivateFirmwareResponse(msg []byte) (Header, ActivateFirmwareResponse, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, ActivateFirmwareResponse{}, err
	}
	if len(body) < 1 {
		return Header{}, ActivateFirmwareResponse{}, ErrInvalidLength
	}
	resp := ActivateFirmwareResponse{CompletionCode: CompletionCode(body[0])}
	if resp.CompletionCode != CcSuccess {
		return h, resp, nil
	}
	if len(body) < 3 {
		return Header{}, ActivateFirmwareResponse{}, ErrInvalidLength
	}
	resp.EstimatedTimeForActivation = getUint16(body[1:3])
	return h, resp, nil
}
