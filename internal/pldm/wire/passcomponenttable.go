package wire

// PassComponentTableRequest offers one component's identity to the device
// ahead of the UpdateComponent that will actually transfer it.
type PassComponentTableRequest struct {
	TransferFlag TransferFlag

	ComponentClassification      uint16
	ComponentIdentifier          uint16
	ComponentClassificationIndex uint8

	ComponentComparisonStamp uint32

	ComponentVersionString string
}

// EncodePassComponentTableRequest encodes req as a PassComponentTable
// request message.
func EncodePassComponentTableRequest(instanceID uint8, req PassComponentTableRequest) ([]byte, error) {
	if !req.TransferFlag.Valid() {
		return nil, ErrInvalidData
	}

	fixed := 1 + 2 + 2 + 1 + 4 + 1 + 1
	msg, body, err := newMessage(Header{
		Request:    true,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdPassComponentTable,
	}, fixed)
	if err != nil {
		return nil, err
	}

	body[0] = uint8(req.TransferFlag)
	putUint16(body[1:3], req.ComponentClassification)
	putUint16(body[3:5], req.ComponentIdentifier)
	body[5] = req.ComponentClassificationIndex
	putUint32(body[6:10], req.ComponentComparisonStamp)
	body[10] = 1 // component version string type: ASCII, this core never emits anything else
	body[11] = uint8(len(req.ComponentVersionString))

	msg = append(msg, req.ComponentVersionString...)
	return msg, nil
}

// DecodePassComponentTableRequest decodes a PassComponentTable request
// message.
func DecodePassComponentTableRequest(msg []byte) (Header, PassComponentTableRequest, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, PassComponentTableRequest{}, err
	}
	if len(body) < 12 {
		return Header{}, PassComponentTableRequest{}, ErrInvalidLength
	}

	flag := TransferFlag(body[0])
	if !flag.Valid() {
		return Header{}, PassComponentTableRequest{}, ErrInvalidData
	}

	req := PassComponentTableRequest{
		TransferFlag:                 flag,
		ComponentClassification:      getUint16(body[1:3]),
		ComponentIdentifier:          getUint16(body[3:5]),
		ComponentClassificationIndex: body[5],
		ComponentComparisonStamp:     getUint32(body[6:10]),
	}
	versionLen := int(body[11])
	if len(body) < 12+versionLen {
		return Header{}, PassComponentTableRequest{}, ErrInvalidLength
	}
	req.ComponentVersionString = string(body[12 : 12+versionLen])
	return h, req, nil
}

// PassComponentTableResponse is the device's verdict on an offered
// component.
type PassComponentTableResponse struct {
	CompletionCode        CompletionCode
	ComponentResponse     ComponentResponse
	ComponentResponseCode ComponentResponseCode
}

// EncodePassComponentTableResponse encodes resp as a PassComponentTable
// response message.
func EncodePassComponentTableResponse(instanceID uint8, resp PassComponentTableResponse) ([]byte, error) {
	bodyLen := 1
	if resp.CompletionCode == CcSuccess {
		bodyLen += 2
	}
	msg, body, err := newMessage(Header{
		Request:    false,
		InstanceID: instanceID,
		Type:       TypeFirmwareUpdate,
		Command:    CmdPassComponentTable,
	}, bodyLen)
	if err != nil {
		return nil, err
	}

	body[0] = uint8(resp.CompletionCode)
	if resp.CompletionCode == CcSuccess {
		body[1] = uint8(resp.ComponentResponse)
		body[2] = uint8(resp.ComponentResponseCode)
	}
	return msg, nil
}

// DecodePassComponentTableResponse decodes a PassComponentTable response
// message.
func DecodePassComponentTableResponse(msg []byte) (Header, PassComponentTableResponse, error) {
	h, body, err := splitMessage(msg)
	if err != nil {
		return Header{}, PassComponentTableResponse{}, err
	}
	if len(body) < 1 {
		return Header{}, PassComponentTableResponse{}, ErrInvalidLength
	}

	resp := PassComponentTableResponse{CompletionCode: CompletionCode(body[0])}
	if resp.CompletionCode != CcSuccess {
		return h, resp, nil
	}
	if len(body) < 3 {
		return Header{}, PassComponentTableResponse{}, ErrInvalidLength
	}
	resp.ComponentResponse = ComponentResponse(body[1])
	resp.ComponentResponseCode = ComponentResponseCode(body[2])
	return h, resp, nil
}
