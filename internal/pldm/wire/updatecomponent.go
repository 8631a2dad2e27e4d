package wire

// UpdateComponentRequest starts the transfer of one component's image.
type UpdateComponentRequest struct {
	ComponentClassification      uint16
	ComponentIdentifier          uint16
	ComponentClassificationIndex uint8

	ComponentComparisonStamp uint32
	ComponentImageSize       uint32

	// UpdateOptionFlags carries the requester-selected subset of the
	// options the device advertised as supported (e.g. force update).
	UpdateOptionFlags uint32

	ComponentVersionString string
}

// EncodeUpdateComponentRequest encodes req as an UpdateComponent request
// message.
func EncodeUpdateComponentRequest(instanceID uint8, req UpdateComponentRequest) ([]byte, error) {
	fixed := 2 + 2 + 1 + 4 + 4 + 4 + 1 + 1
	msg, body, err := newMessage(Header{
		Request:    true,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdUpdateComponent,
	}, fixed)
	if err != nil {
		return nil, err
	}

	putUint16(body[0:2], req.ComponentClassification)
	putUint16(body[2:4], req.ComponentIdentifier)
	body[4] = req.ComponentClassificationIndex
	putUint32(body[5:9], req.ComponentComparisonStamp)
	putUint32(body[9:13], req.ComponentImageSize)
	putUint32(body[13:17], req.UpdateOptionFlags)
	body[17] = 1 // component version string type: ASCII
	body[18] = uint8(len(req.ComponentVersionString))

	msg = append(msg, req.ComponentVersionString...)
	return msg, nil
}

// DecodeUpdateComponentRequest decodes an UpdateComponent request message.
func DecodeUpdateComponentRequest(msg []byte) (Header, UpdateComponentRequest, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, UpdateComponentRequest{}, err
	}
	if len(body) < 19 {
		return Header{}, UpdateComponentRequest{}, ErrInvalidLength
	}

	req := UpdateComponentRequest{
		ComponentClassification:      getUint16(body[0:2]),
		ComponentIdentifier:          getUint16(body[2:4]),
		ComponentClassificationIndex: body[4],
		ComponentComparisonStamp:     getUint32(body[5:9]),
		ComponentImageSize:           getUint32(body[9:13]),
		UpdateOptionFlags:            getUint32(body[13:17]),
	}
	versionLen := int(body[18])
	if len(body) < 19+versionLen {
		return Header{}, UpdateComponentRequest{}, ErrInvalidLength
	}
	req.ComponentVersionString = string(body[19 : 19+versionLen])
	return h, req, nil
}

// UpdateComponentResponse is the device's verdict on an UpdateComponent
// request.
type UpdateComponentResponse struct {
	CompletionCode        CompletionCode
	ComponentCompatibility ComponentResponse
	ComponentResponseCode  ComponentResponseCode

	// UpdateOptionFlagsEnabled is the subset of requested options the
	// device actually honors for this transfer.
	UpdateOptionFlagsEnabled uint32

	// EstimatedTimeSeconds, when non-zero, bounds how long the device
	// expects the transfer and apply to take.
	EstimatedTimeSeconds uint16
}

// EncodeUpdateComponentResponse encodes resp as an UpdateComponent response
// message.
func EncodeUpdateComponentResponse(instanceID uint8, resp UpdateComponentResponse) ([]byte, error) {
	bodyLen := 1
	if resp.CompletionCode == CcSuccess {
		bodyLen += 8
	}
	msg, body, err := newMessage(Header{
		Request:    false,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdUpdateComponent,
	}, bodyLen)
	if err != nil {
		return nil, err
	}

	body[0] = uint8(resp.CompletionCode)
	if resp.CompletionCode == CcSuccess {
		body[1] = uint8(resp.ComponentCompatibility)
		body[2] = uint8(resp.ComponentResponseCode)
		putUint32(body[3:7], resp.UpdateOptionFlagsEnabled)
		putUint16(body[7:9], resp.EstimatedTimeSeconds)
	}
	return msg, nil
}

// DecodeUpdateComponentResponse decodes an UpdateComponent response message.
func DecodeUpdateComponentResponse(msg []byte) (Header, UpdateComponentResponse, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, UpdateComponentResponse{}, err
	}
	if len(body) < 1 {
		return Header{}, UpdateComponentResponse{}, ErrInvalidLength
	}

	resp := UpdateComponentResponse{CompletionCode: CompletionCode(body[0])}
	if resp.CompletionCode != CcSuccess {
		return h, resp, nil
	}
	if len(body) < 9 {
		return Header{}, UpdateComponentResponse{}, ErrInvalidLength
	}
	resp.ComponentCompatibility = ComponentResponse(body[1])
	resp.ComponentResponseCode = ComponentResponseCode(body[2])
	resp.UpdateOptionFlagsEnabled = getUint32(body[3:7])
	resp.EstimatedTimeSeconds = getUint16(body[7:9])
	return h, resp, nil
}
