// Package tp implements the SOME/IP-TP segmentation sublayer (spec
// §4.5): splitting an oversize Message into segments on send, and
// reassembling segments back into a Message on receive. It is
// grounded on the teacher's SDO segmented/block transfer state
// machine (sub-block sequencing, toggle verification, CRC-on-
// completion) generalized from SDO's single in-flight transfer per
// client to many concurrent (service, method, client, session) keyed
// transfers.
package tp

import "github.com/go-someip/someip"

// MoreSegments is the one defined flag bit (bit 0) of the TP header's
// low nibble; the remaining 3 bits are reserved and always sent 0.
const MoreSegments uint8 = 0x01

// Header is the 4-byte SOME/IP-TP header: a 28-bit byte offset packed
// with a 4-bit flag nibble (spec §4.1 TpSegmentHeader, §9 Open
// Question: implemented at full 28-bit width, not a simplified 16-bit
// offset).
type Header struct {
	Offset uint32 // byte offset of this segment's payload within the logical message
	Flags  uint8  // low nibble; bit 0 is MoreSegments
}

// Pack serializes h into its 4-byte wire form.
func (h Header) Pack() [4]byte {
	v := (h.Offset << 4) | uint32(h.Flags&0x0F)
	return [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// UnpackHeader parses a 4-byte TP header.
func UnpackHeader(b [4]byte) Header {
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return Header{Offset: v >> 4, Flags: uint8(v & 0x0F)}
}

// More reports whether MORE_SEGMENTS is set.
func (h Header) More() bool { return h.Flags&MoreSegments != 0 }

// Key identifies one logical TP transfer (spec §4.5: "Key =
// (service_id, method_id, client_id, session_id)").
type Key = someip.ReassemblyKey

func keyFor(m someip.Message) Key {
	return Key{
		ServiceID: m.ID.ServiceID,
		MethodID:  m.ID.MethodID,
		ClientID:  m.RequestID.ClientID,
		SessionID: m.RequestID.SessionID,
	}
}
