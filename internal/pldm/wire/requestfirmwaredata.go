package wire

// RequestFirmwareDataRequest is sent by the device (the FD) to pull one
// chunk of the component image currently being transferred. This core is
// the requester's UA side, so it only ever decodes this request and
// encodes the matching response.
type RequestFirmwareDataRequest struct {
	Offset uint32
	Length uint32
}

// DecodeRequestFirmwareDataRequest decodes a RequestFirmwareData request
// message.
func DecodeRequestFirmwareDataRequest(msg []byte) (Header, RequestFirmwareDataRequest, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, RequestFirmwareDataRequest{}, err
	}
	if len(body) < 8 {
		return Header{}, RequestFirmwareDataRequest{}, ErrInvalidLength
	}
	return h, RequestFirmwareDataRequest{
		Offset: getUint32(body[0:4]),
		Length: getUint32(body[4:8]),
	}, nil
}

// EncodeRequestFirmwareDataRequest encodes req as a RequestFirmwareData
// request message. Provided for completeness and for tests exercising the
// FD side of the wire format; the UA path in this core never sends it.
func EncodeRequestFirmwareDataRequest(instanceID uint8, req RequestFirmwareDataRequest) ([]byte, error) {
	msg, body, err := newMessage(Header{
		Request:    true,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdRequestFirmwareData,
	}, 8)
	if err != nil {
		return nil, err
	}
	putUint32(body[0:4], req.Offset)
	putUint32(body[4:8], req.Length)
	return msg, nil
}

// RequestFirmwareDataResponse carries one chunk of component image data, or
// a failing completion code when the request could not be satisfied.
type RequestFirmwareDataResponse struct {
	CompletionCode CompletionCode
	Data           []byte
}

// EncodeRequestFirmwareDataResponse encodes resp as a RequestFirmwareData
// response message. Data is copied verbatim after the completion code; it
// is the caller's responsibility to have already validated the requested
// offset and length against the component image size and against the
// session's negotiated max transfer size (returning CcInvalidTransferLength
// or CcDataOutOfRange instead of calling this function with data when the
// request does not fit).
func EncodeRequestFirmwareDataResponse(instanceID uint8, resp RequestFirmwareDataResponse) ([]byte, error) {
	bodyLen := 1
	if resp.CompletionCode == CcSuccess {
		bodyLen += len(resp.Data)
	}
	msg, body, err := newMessage(Header{
		Request:    false,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdRequestFirmwareData,
	}, bodyLen)
	if err != nil {
		return nil, err
	}
	body[0] = uint8(resp.CompletionCode)
	if resp.CompletionCode == CcSuccess {
		copy(body[1:], resp.Data)
	}
	return msg, nil
}

// DecodeRequestFirmwareDataResponse decodes a RequestFirmwareData response
// message.
func DecodeRequestFirmwareDataResponse(msg []byte) (Header, RequestFirmwareDataResponse, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, RequestFirmwareDataResponse{}, err
	}
	if len(body) < 1 {
		return Header{}, RequestFirmwareDataResponse{}, ErrInvalidLength
	}
	resp := RequestFirmwareDataResponse{CompletionCode: CompletionCode(body[0])}
	if resp.CompletionCode == CcSuccess {
		resp.Data = body[1:]
	}
	return h, resp, nil
}
