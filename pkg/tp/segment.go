package tp

import (
	"fmt"

	"github.com/go-someip/someip"
)

// Segment splits msg into TP segments per spec §4.5. It returns a
// single-element slice unchanged when msg's payload already fits in
// maxSegmentSize (segmentation is a send-time decision, not forced).
// It fails with someip.ErrMessageTooLarge if the payload exceeds
// maxMessageSize.
func Segment(msg someip.Message, maxSegmentSize, maxMessageSize uint32) ([]someip.Message, error) {
	if uint32(len(msg.Payload)) > maxMessageSize {
		return nil, fmt.Errorf("tp: payload of %d bytes: %w", len(msg.Payload), someip.ErrMessageTooLarge)
	}
	if uint32(len(msg.Payload)) <= maxSegmentSize {
		return []someip.Message{msg}, nil
	}

	step := maxSegmentSize
	payload := msg.Payload
	total := uint32(len(payload))

	var out []someip.Message
	for offset := uint32(0); offset < total; offset += step {
		end := offset + step
		more := true
		if end >= total {
			end = total
			more = false
		}

		hdr := Header{Offset: offset, Flags: 0}
		if more {
			hdr.Flags |= MoreSegments
		}
		packed := hdr.Pack()

		segPayload := make([]byte, 4+int(end-offset))
		copy(segPayload, packed[:])
		copy(segPayload[4:], payload[offset:end])

		seg := msg
		seg.Type = msg.Type.AsTP()
		seg.Payload = segPayload
		out = append(out, seg)
	}
	return out, nil
}
