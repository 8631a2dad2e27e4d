package wire

// TransferCompleteRequest is sent by the device once it has received every
// byte of the current component's image.
type TransferCompleteRequest struct {
	TransferResult TransferResult
}

// DecodeTransferCompleteRequest decodes a TransferComplete request message.
func DecodeTransferCompleteRequest(msg []byte) (Header, TransferCompleteRequest, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, TransferCompleteRequest{}, err
	}
	if len(body) < 1 {
		return Header{}, TransferCompleteRequest{}, ErrInvalidLength
	}
	return h, TransferCompleteRequest{TransferResult: TransferResult(body[0])}, nil
}

// EncodeTransferCompleteRequest encodes req as a TransferComplete request
// message. Provided for FD-side test coverage; the UA path never sends it.
func EncodeTransferCompleteRequest(instanceID uint8, req TransferCompleteRequest) ([]byte, error) {
	msg, body, err := newMessage(Header{
		Request:    true,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdTransferComplete,
	}, 1)
	if err != nil {
		return nil, err
	}
	body[0] = uint8(req.TransferResult)
	return msg, nil
}

// TransferCompleteResponse simply acknowledges a TransferComplete request.
type TransferCompleteResponse struct {
	CompletionCode CompletionCode
}

// EncodeTransferCompleteResponse encodes resp as a TransferComplete
// response message.
func EncodeTransferCompleteResponse(instanceID uint8, resp TransferCompleteResponse) ([]byte, error) {
	msg, body, err := newMessage(Header{
		Request:    false,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdTransferComplete,
	}, 1)
	if err != nil {
		return nil, err
	}
	body[0] = uint8(resp.CompletionCode)
	return msg, nil
}

// DecodeTransferCompleteResponse decodes a TransferComplete response
// message.
func DecodeTransferCompleteResponse(msg []byte) (Header, TransferCompleteResponse, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, TransferCompleteResponse{}, err
	}
	if len(body) < 1 {
		return Header{}, TransferCompleteResponse{}, ErrInvalidLength
	}
	return h, TransferCompleteResponse{CompletionCode: CompletionCode(body[0])}, nil
}
