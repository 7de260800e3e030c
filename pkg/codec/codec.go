// Package codec implements the SOME/IP wire header: encoding a Message
// to a contiguous byte buffer and decoding one back, per spec §4.1.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/go-someip/someip"
)

// Encode produces a single contiguous buffer for m, with the length
// field set to 8 + len(m.Payload).
func Encode(m someip.Message) []byte {
	buf := make([]byte, someip.HeaderLength+len(m.Payload))
	binary.BigEndian.PutUint16(buf[0:2], m.ID.ServiceID)
	binary.BigEndian.PutUint16(buf[2:4], m.ID.MethodID)
	binary.BigEndian.PutUint32(buf[4:8], m.Length())
	binary.BigEndian.PutUint16(buf[8:10], m.RequestID.ClientID)
	binary.BigEndian.PutUint16(buf[10:12], m.RequestID.SessionID)
	buf[12] = someip.ProtocolVersion
	buf[13] = m.InterfaceVersion
	buf[14] = uint8(m.Type)
	buf[15] = uint8(m.ReturnCode)
	copy(buf[someip.HeaderLength:], m.Payload)
	return buf
}

// Decode parses buf into a Message.
//
// It fails with someip.ErrMalformedMessage if buf is shorter than the
// 16-byte header, or if the wire length field disagrees with the
// payload actually present. It fails with someip.ErrWrongProtocolVersion
// if the protocol_version byte is not someip.ProtocolVersion.
//
// An unrecognized message_type does not prevent decoding: the returned
// Message is valid (header fields are well-formed) but Decode also
// returns someip.ErrWrongMessageType so the caller can decide how to
// react (spec §4.1: "the message is still surfaced to the caller").
func Decode(buf []byte) (someip.Message, error) {
	if len(buf) < someip.HeaderLength {
		return someip.Message{}, fmt.Errorf("codec: buffer of %d bytes shorter than header: %w", len(buf), someip.ErrMalformedMessage)
	}

	length := binary.BigEndian.Uint32(buf[4:8])
	payloadLen := len(buf) - 8
	if uint32(payloadLen) != length {
		return someip.Message{}, fmt.Errorf("codec: length field %d disagrees with %d bytes present: %w", length, payloadLen, someip.ErrMalformedMessage)
	}

	protocolVersion := buf[12]
	if protocolVersion != someip.ProtocolVersion {
		return someip.Message{}, fmt.Errorf("codec: protocol_version %#x: %w", protocolVersion, someip.ErrWrongProtocolVersion)
	}

	payload := make([]byte, len(buf)-someip.HeaderLength)
	copy(payload, buf[someip.HeaderLength:])

	m := someip.Message{
		ID: someip.MessageId{
			ServiceID: binary.BigEndian.Uint16(buf[0:2]),
			MethodID:  binary.BigEndian.Uint16(buf[2:4]),
		},
		RequestID: someip.RequestId{
			ClientID:  binary.BigEndian.Uint16(buf[8:10]),
			SessionID: binary.BigEndian.Uint16(buf[10:12]),
		},
		ProtocolVersion:  protocolVersion,
		InterfaceVersion: buf[13],
		Type:             someip.MessageType(buf[14]),
		ReturnCode:       someip.ReturnCode(buf[15]),
		Payload:          payload,
	}

	if _, known := knownMessageTypes[m.Type]; !known {
		return m, fmt.Errorf("codec: message_type %#x: %w", uint8(m.Type), someip.ErrWrongMessageType)
	}
	return m, nil
}

var knownMessageTypes = map[someip.MessageType]struct{}{
	someip.MessageTypeRequest:            {},
	someip.MessageTypeRequestNoReturn:    {},
	someip.MessageTypeNotification:       {},
	someip.MessageTypeResponse:           {},
	someip.MessageTypeError:              {},
	someip.MessageTypeTPRequest:          {},
	someip.MessageTypeTPRequestNoReturn:  {},
	someip.MessageTypeTPNotification:     {},
	someip.MessageTypeTPResponse:         {},
	someip.MessageTypeTPError:            {},
	someip.MessageTypeRequestAck:         {},
	someip.MessageTypeRequestNoReturnAck: {},
	someip.MessageTypeNotificationAck:    {},
	someip.MessageTypeTPRequestAck:       {},
	someip.MessageTypeTPRequestNoRetAck:  {},
	someip.MessageTypeTPNotificationAck:  {},
}
