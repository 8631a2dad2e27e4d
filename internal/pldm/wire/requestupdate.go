package wire

// RequestUpdateRequest is the body of a RequestUpdate command, which opens
// an update session with a device.
type RequestUpdateRequest struct {
	// MaxTransferSize is the largest size, in bytes, of a single
	// RequestFirmwareData transfer this requester will send. Must be >= 64.
	MaxTransferSize uint32

	// NumberOfComponents is the number of components this session will
	// offer to the device via PassComponentTable.
	NumberOfComponents uint16

	// MaxOutstandingTransferRequests bounds how many RequestFirmwareData
	// requests the device may have in flight at once. Must be >= 1.
	MaxOutstandingTransferRequests uint8

	// PackageDataLength is the size, in bytes, of this package's vendor
	// defined package data that will accompany RequestUpdate out of band.
	PackageDataLength uint16

	// ComponentImageSetVersionString identifies the overall component
	// image set being offered.
	ComponentImageSetVersionString string
}

// EncodeRequestUpdateRequest encodes req as a RequestUpdate request message.
func EncodeRequestUpdateRequest(instanceID uint8, req RequestUpdateRequest) ([]byte, error) {
	if req.MaxTransferSize < 64 {
		return nil, ErrInvalidData
	}
	if req.MaxOutstandingTransferRequests < 1 {
		return nil, ErrInvalidData
	}

	fixed := 4 + 2 + 1 + 2 + 1
	msg, body, err := newMessage(Header{
		Request:    true,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdRequestUpdate,
	}, fixed)
	if err != nil {
		return nil, err
	}

	putUint32(body[0:4], req.MaxTransferSize)
	putUint16(body[4:6], req.NumberOfComponents)
	body[6] = req.MaxOutstandingTransferRequests
	putUint16(body[7:9], req.PackageDataLength)
	body[9] = uint8(len(req.ComponentImageSetVersionString))

	msg = append(msg, req.ComponentImageSetVersionString...)
	return msg, nil
}

// DecodeRequestUpdateRequest decodes a RequestUpdate request message.
func DecodeRequestUpdateRequest(msg []byte) (Header, RequestUpdateRequest, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, RequestUpdateRequest{}, err
	}
	if len(body) < 10 {
		return Header{}, RequestUpdateRequest{}, ErrInvalidLength
	}

	req := RequestUpdateRequest{
		MaxTransferSize:                getUint32(body[0:4]),
		NumberOfComponents:              getUint16(body[4:6]),
		MaxOutstandingTransferRequests:  body[6],
		PackageDataLength:               getUint16(body[7:9]),
	}
	versionLen := int(body[9])
	if len(body) < 10+versionLen {
		return Header{}, RequestUpdateRequest{}, ErrInvalidLength
	}
	req.ComponentImageSetVersionString = string(body[10 : 10+versionLen])
	return h, req, nil
}

// RequestUpdateResponse is the body of a RequestUpdate response.
type RequestUpdateResponse struct {
	CompletionCode CompletionCode

	// FDMetaDataLength is the size, in bytes, of the FD's out-of-band
	// metadata the requester should retrieve before proceeding. Zero when
	// the completion code is not success.
	FDMetaDataLength uint16

	// FDWillSendPackageDataFlag is true if the device wants a copy of this
	// package's vendor defined package data.
	FDWillSendPackageDataFlag bool
}

// EncodeRequestUpdateResponse encodes resp as a RequestUpdate response
// message.
func EncodeRequestUpdateResponse(instanceID uint8, resp RequestUpdateResponse) ([]byte, error) {
	bodyLen := 1
	if resp.CompletionCode == CcSuccess {
		bodyLen += 3
	}
	msg, body, err := newMessage(Header{
		Request:    false,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdRequestUpdate,
	}, bodyLen)
	if err != nil {
		return nil, err
	}

	body[0] = uint8(resp.CompletionCode)
	if resp.CompletionCode == CcSuccess {
		putUint16(body[1:3], resp.FDMetaDataLength)
		if resp.FDWillSendPackageDataFlag {
			body[3] = 1
		}
	}
	return msg, nil
}

// DecodeRequestUpdateResponse decodes a RequestUpdate response message.
func DecodeRequestUpdateResponse(msg []byte) (Header, RequestUpdateResponse, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, RequestUpdateResponse{}, err
	}
	if len(body) < 1 {
		return Header{}, RequestUpdateResponse{}, ErrInvalidLength
	}

	resp := RequestUpdateResponse{CompletionCode: CompletionCode(body[0])}
	if resp.CompletionCode != CcSuccess {
		return h, resp, nil
	}
	if len(body) < 4 {
		return Header{}, RequestUpdateResponse{}, ErrInvalidLength
	}
	resp.FDMetaDataLength = getUint16(body[1:3])
	resp.FDWillSendPackageDataFlag = body[3] != 0
	return h, resp, nil
}
