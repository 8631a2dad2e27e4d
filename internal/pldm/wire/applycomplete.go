package wire

// ApplyCompleteRequest is sent by the device once it has finished applying
// the verified component image.
type ApplyCompleteRequest struct {
	ApplyResult ApplyResult

	// ComponentActivationMethodsModification lists which activation
	// methods, among those the device advertised as supported, this
	// particular apply actually requires. Only meaningful when ApplyResult
	// is ApplySuccessWithActivationMethod.
	ComponentActivationMethodsModification uint16
}

// DecodeApplyCompleteRequest decodes an ApplyComplete request message.
func DecodeApplyCompleteRequest(msg []byte) (Header, ApplyCompleteRequest, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, ApplyCompleteRequest{}, err
	}
	if len(body) < 3 {
		return Header{}, ApplyCompleteRequest{}, ErrInvalidLength
	}
	return h, ApplyCompleteRequest{
		ApplyResult:                             ApplyResult(body[0]),
		ComponentActivationMethodsModification: getUint16(body[1:3]),
	}, nil
}

// EncodeApplyCompleteRequest encodes req as an ApplyComplete request
// message. Provided for FD-side test coverage; the UA path never sends it.
func EncodeApplyCompleteRequest(instanceID uint8, req ApplyCompleteRequest) ([]byte, error) {
	msg, body, err := newMessage(Header{
		Request:    true,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdApplyComplete,
	}, 3)
	if err != nil {
		return nil, err
	}
	body[0] = uint8(req.ApplyResult)
	putUint16(body[1:3], req.ComponentActivationMethodsModification)
	return msg, nil
}

// ApplyCompleteResponse simply acknowledges an ApplyComplete request.
type ApplyCompleteResponse struct {
	CompletionCode CompletionCode
}

// EncodeApplyCompleteResponse encodes resp as an ApplyComplete response
// message.
func EncodeApplyCompleteResponse(instanceID uint8, resp ApplyCompleteResponse) ([]byte, error) {
	msg, body, err := newMessage(Header{
		Request:    false,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdApplyComplete,
	}, 1)
	if err != nil {
		return nil, err
	}
	body[0] = uint8(resp.CompletionCode)
	return msg, nil
}

// DecodeApplyCompleteResponse decodes an ApplyComplete response message.
func DecodeApplyCompleteResponse(msg []byte) (Header, ApplyCompleteResponse, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, ApplyCompleteResponse{}, err
	}
	if len(body) < 1 {
		return Header{}, ApplyCompleteResponse{}, ErrInvalidLength
	}
	return h, ApplyCompleteResponse{CompletionCode: CompletionCode(body[0])}, nil
}
