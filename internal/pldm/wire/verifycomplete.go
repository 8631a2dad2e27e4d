package wire

// VerifyCompleteRequest is sent by the device once it has finished
// verifying the component image it received.
type VerifyCompleteRequest struct {
	VerifyResult VerifyResult
}

// DecodeVerifyCompleteRequest decodes a VerifyComplete request message.
func DecodeVerifyCompleteRequest(msg []byte) (Header, VerifyCompleteRequest, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, VerifyCompleteRequest{}, err
	}
	if len(body) < 1 {
		return Header{}, VerifyCompleteRequest{}, ErrInvalidLength
	}
	return h, VerifyCompleteRequest{VerifyResult: VerifyResult(body[0])}, nil
}

// EncodeVerifyCompleteRequest encodes req as a VerifyComplete request
// message. Provided for FD-side test coverage; the UA path never sends it.
func EncodeVerifyCompleteRequest(instanceID uint8, req VerifyCompleteRequest) ([]byte, error) {
	msg, body, err := newMessage(Header{
		Request:    true,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdVerifyComplete,
	}, 1)
	if err != nil {
		return nil, err
	}
	body[0] = uint8(req.VerifyResult)
	return msg, nil
}

// VerifyCompleteResponse simply acknowledges a VerifyComplete request.
type VerifyCompleteResponse struct {
	CompletionCode CompletionCode
}

// EncodeVerifyCompleteResponse encodes resp as a VerifyComplete response
// message.
func EncodeVerifyCompleteResponse(instanceID uint8, resp VerifyCompleteResponse) ([]byte, error) {
	msg, body, err := newMessage(Header{
		Request:    false,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdVerifyComplete,
	}, 1)
	if err != nil {
		return nil, err
	}
	body[0] = uint8(resp.CompletionCode)
	return msg, nil
}

// DecodeVerifyCompleteResponse decodes a VerifyComplete response message.
func DecodeVerifyCompleteResponse(msg []byte) (Header, VerifyCompleteResponse, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, VerifyCompleteResponse{}, err
	}
	if len(body) < 1 {
		return Header{}, VerifyCompleteResponse{}, ErrInvalidLength
	}
	return h, VerifyCompleteResponse{CompletionCode: CompletionCode(body[0])}, nil
}
