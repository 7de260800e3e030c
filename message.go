package someip

// ProtocolVersion is the only protocol_version value this implementation
// accepts on decode.
const ProtocolVersion uint8 = 0x01

// HeaderLength is the fixed SOME/IP header size in bytes.
const HeaderLength = 16

// MaxUDPPayload bounds the whole encoded size (16-byte header included)
// of a single, non-TP message that the UDP transports send or receive,
// so such a message carries at most MaxUDPPayload-HeaderLength (65511)
// payload bytes.
const MaxUDPPayload = 65527

// MessageType identifies the kind of a SOME/IP message. Bit 0x20 marks a
// TP (segmented) message; bit 0x80 marks the response side.
type MessageType uint8

const (
	MessageTypeRequest            MessageType = 0x00
	MessageTypeRequestNoReturn    MessageType = 0x01
	MessageTypeNotification       MessageType = 0x02
	MessageTypeResponse           MessageType = 0x80
	MessageTypeError              MessageType = 0x81
	MessageTypeTPRequest          MessageType = 0x20
	MessageTypeTPRequestNoReturn  MessageType = 0x21
	MessageTypeTPNotification     MessageType = 0x22
	MessageTypeTPResponse         MessageType = 0xA0
	MessageTypeTPError            MessageType = 0xA1
	MessageTypeRequestAck         MessageType = 0x40
	MessageTypeRequestNoReturnAck MessageType = 0x41
	MessageTypeNotificationAck    MessageType = 0x42
	MessageTypeTPRequestAck       MessageType = 0x60
	MessageTypeTPRequestNoRetAck  MessageType = 0x61
	MessageTypeTPNotificationAck  MessageType = 0x62

	tpFlag       MessageType = 0x20
	responseFlag MessageType = 0x80
)

var messageTypeNames = map[MessageType]string{
	MessageTypeRequest:            "REQUEST",
	MessageTypeRequestNoReturn:    "REQUEST_NO_RETURN",
	MessageTypeNotification:       "NOTIFICATION",
	MessageTypeResponse:           "RESPONSE",
	MessageTypeError:              "ERROR",
	MessageTypeTPRequest:          "TP_REQUEST",
	MessageTypeTPRequestNoReturn:  "TP_REQUEST_NO_RETURN",
	MessageTypeTPNotification:     "TP_NOTIFICATION",
	MessageTypeTPResponse:         "TP_RESPONSE",
	MessageTypeTPError:            "TP_ERROR",
	MessageTypeRequestAck:         "REQUEST_ACK",
	MessageTypeRequestNoReturnAck: "REQUEST_NO_RETURN_ACK",
	MessageTypeNotificationAck:    "NOTIFICATION_ACK",
	MessageTypeTPRequestAck:       "TP_REQUEST_ACK",
	MessageTypeTPRequestNoRetAck:  "TP_REQUEST_NO_RETURN_ACK",
	MessageTypeTPNotificationAck:  "TP_NOTIFICATION_ACK",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsTP reports whether this message type carries a segmented (TP) payload.
func (t MessageType) IsTP() bool { return t&tpFlag != 0 }

// IsResponse reports whether this message type is on the response side
// (RESPONSE or ERROR, segmented or not).
func (t MessageType) IsResponse() bool { return t&responseFlag != 0 }

// AsTP ORs in the TP flag, e.g. REQUEST -> TP_REQUEST.
func (t MessageType) AsTP() MessageType { return t | tpFlag }

// WithoutTP clears the TP flag, e.g. TP_REQUEST -> REQUEST.
func (t MessageType) WithoutTP() MessageType { return t &^ tpFlag }

// ReturnCode is the per-message result code. Request messages carry
// E_OK; responses carry the actual result.
type ReturnCode uint8

const (
	EOk                    ReturnCode = 0x00
	ENotOk                 ReturnCode = 0x01
	EUnknownService        ReturnCode = 0x02
	EUnknownMethod         ReturnCode = 0x03
	ENotReady              ReturnCode = 0x04
	ENotReachable          ReturnCode = 0x05
	ETimeout               ReturnCode = 0x06
	EWrongProtocolVersion  ReturnCode = 0x07
	EWrongInterfaceVersion ReturnCode = 0x08
	EMalformedMessage      ReturnCode = 0x09
	EWrongMessageType      ReturnCode = 0x0A
)

var returnCodeDescriptions = map[ReturnCode]string{
	EOk:                    "ok",
	ENotOk:                 "not ok",
	EUnknownService:        "unknown service",
	EUnknownMethod:         "unknown method",
	ENotReady:              "service not ready",
	ENotReachable:          "service not reachable",
	ETimeout:               "request timed out",
	EWrongProtocolVersion:  "wrong protocol version",
	EWrongInterfaceVersion: "wrong interface version",
	EMalformedMessage:      "malformed message",
	EWrongMessageType:      "wrong message type",
}

func (rc ReturnCode) Error() string {
	if desc, ok := returnCodeDescriptions[rc]; ok {
		return desc
	}
	return "unspecified error"
}

// Message is a decoded SOME/IP message. Length is not stored: it is a
// function of len(Payload) and is computed at Encode time.
type Message struct {
	ID               MessageId
	RequestID        RequestId
	ProtocolVersion  uint8
	InterfaceVersion uint8
	Type             MessageType
	ReturnCode       ReturnCode
	Payload          []byte
}

// Length returns the wire "length" field this message would encode to:
// 8 (request_id..return_code) + len(payload).
func (m Message) Length() uint32 {
	return 8 + uint32(len(m.Payload))
}

// NewRequest builds a REQUEST message with protocol_version 0x01 and
// return_code E_OK, as issued by an RPC client.
func NewRequest(id MessageId, requestID RequestId, interfaceVersion uint8, payload []byte) Message {
	return Message{
		ID:               id,
		RequestID:        requestID,
		ProtocolVersion:  ProtocolVersion,
		InterfaceVersion: interfaceVersion,
		Type:             MessageTypeRequest,
		ReturnCode:       EOk,
		Payload:          payload,
	}
}

// NewResponse builds a RESPONSE or ERROR message matching the ids of req.
func NewResponse(req Message, rc ReturnCode, payload []byte) Message {
	t := MessageTypeResponse
	if rc != EOk {
		t = MessageTypeError
	}
	return Message{
		ID:               req.ID,
		RequestID:        req.RequestID,
		ProtocolVersion:  ProtocolVersion,
		InterfaceVersion: req.InterfaceVersion,
		Type:             t,
		ReturnCode:       rc,
		Payload:          payload,
	}
}

// NewNotification builds a NOTIFICATION message (client_id and
// session_id are conventionally 0 for notifications).
func NewNotification(id MessageId, interfaceVersion uint8, payload []byte) Message {
	return Message{
		ID:               id,
		RequestID:        RequestId{},
		ProtocolVersion:  ProtocolVersion,
		InterfaceVersion: interfaceVersion,
		Type:             MessageTypeNotification,
		ReturnCode:       EOk,
		Payload:          payload,
	}
}
