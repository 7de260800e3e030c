// Package sd implements the Service Discovery engine (spec §4.7): the
// SD message wire format, the server-side offer schedule state
// machine, the client-side find/subscribe exchange, and the TTL
// reaper. It is grounded on the teacher's NMT state machine shape
// (state transition table driven by a time.Timer-based re-announce)
// and its LSS master/slave request/response negotiation over a
// dedicated message id, the closest teacher analogue to an exchange
// conducted entirely over one reserved (service_id, method_id).
package sd

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/go-someip/someip"
)

// ServiceID/MethodID/ClientID of the reserved SD message (spec §4.7).
const (
	ServiceID = someip.ServiceIdSD
	MethodID  = someip.MethodIdSD
	ClientID  = someip.ClientIdSD
)

// Flags on the SD payload's first byte.
const (
	FlagReboot  uint8 = 0x80
	FlagUnicast uint8 = 0x40
)

// EntryType identifies the kind of an SD Entry.
type EntryType uint8

const (
	EntryFindService         EntryType = 0x00
	EntryOfferService        EntryType = 0x01
	EntrySubscribeEventgroup EntryType = 0x06
	EntrySubscribeEventgroupAck EntryType = 0x07
)

// OptionType identifies the kind of an SD Option.
type OptionType uint8

const (
	OptionIPv4Endpoint   OptionType = 0x04
	OptionIPv4Multicast  OptionType = 0x14
	OptionIPv4SDEndpoint OptionType = 0x24
)

// Protocol numbers carried in an IPv4 option.
const (
	ProtoTCP uint8 = 0x06
	ProtoUDP uint8 = 0x11
)

// Entry is one 16-byte SD entry (spec §4.7). EventgroupID and the
// second reserved u16 are only meaningful for
// Entry{Subscribe,}Eventgroup{,Ack}; for ServiceEntry kinds (Find,
// Offer) MinorVersion is used instead.
type Entry struct {
	Type         EntryType
	Index1       uint8
	Index2       uint8
	NumOptions1  uint8 // low 4 bits of the packed byte
	NumOptions2  uint8 // high 4 bits of the packed byte
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	TTL          uint32 // 24-bit on the wire
	MinorVersion uint32 // ServiceEntry only
	EventgroupID uint16 // EventGroupEntry only
}

// IPv4Option is one decoded SD option (spec §4.7).
type IPv4Option struct {
	Type     OptionType
	Address  net.IP
	Protocol uint8
	Port     uint16
}

// Message is a decoded SD payload.
type Message struct {
	Reboot  bool
	Unicast bool
	Entries []Entry
	Options []IPv4Option
}

// Encode serializes m into an SD payload, deduplicating byte-identical
// options as spec §4.7 requires.
func Encode(m Message) []byte {
	optBytes := encodeOptions(m.Options)

	entryBuf := make([]byte, 0, 16*len(m.Entries))
	for _, e := range m.Entries {
		entryBuf = append(entryBuf, encodeEntry(e)...)
	}

	buf := make([]byte, 4)
	var flags uint8
	if m.Reboot {
		flags |= FlagReboot
	}
	if m.Unicast {
		flags |= FlagUnicast
	}
	buf[0] = flags

	buf = appendLengthPrefixed(buf, entryBuf)
	buf = appendLengthPrefixed(buf, optBytes)
	return buf
}

func appendLengthPrefixed(buf, data []byte) []byte {
	lenField := make([]byte, 4)
	binary.BigEndian.PutUint32(lenField, uint32(len(data)))
	buf = append(buf, lenField...)
	return append(buf, data...)
}

func encodeEntry(e Entry) []byte {
	b := make([]byte, 16)
	b[0] = byte(e.Type)
	b[1] = e.Index1
	b[2] = e.Index2
	b[3] = (e.NumOptions1 & 0x0F) | (e.NumOptions2&0x0F)<<4
	binary.BigEndian.PutUint16(b[4:6], e.ServiceID)
	binary.BigEndian.PutUint16(b[6:8], e.InstanceID)

	switch e.Type {
	case EntrySubscribeEventgroup, EntrySubscribeEventgroupAck:
		b[8] = e.MajorVersion
		put24(b[9:12], e.TTL)
		binary.BigEndian.PutUint16(b[12:14], 0) // reserved
		binary.BigEndian.PutUint16(b[14:16], e.EventgroupID)
	default: // FindService, OfferService
		b[8] = e.MajorVersion
		put24(b[9:12], e.TTL)
		binary.BigEndian.PutUint32(b[12:16], e.MinorVersion)
	}
	return b
}

func encodeOptions(opts []IPv4Option) []byte {
	var buf []byte
	seen := make(map[string]bool)
	for _, opt := range opts {
		raw := encodeOption(opt)
		if seen[string(raw)] {
			continue
		}
		seen[string(raw)] = true
		buf = append(buf, raw...)
	}
	return buf
}

// DeduplicateOptions returns opts with byte-identical entries merged
// (spec §4.7: "MUST deduplicate options that are byte-identical"),
// plus each original option's resulting index into that deduplicated
// list, for building an Entry's Index1/NumOptions1.
func DeduplicateOptions(opts []IPv4Option) (deduped []IPv4Option, indexOf []int) {
	seen := make(map[string]int)
	indexOf = make([]int, len(opts))
	for i, opt := range opts {
		key := string(encodeOption(opt))
		idx, ok := seen[key]
		if !ok {
			idx = len(deduped)
			seen[key] = idx
			deduped = append(deduped, opt)
		}
		indexOf[i] = idx
	}
	return deduped, indexOf
}

// encodeOption serializes one IPv4 option: length(2) type(1) then a
// 9-byte body (reserved, ipv4_address, reserved, protocol, port).
// length counts the body only, matching decodeOptions below.
func encodeOption(opt IPv4Option) []byte {
	ip4 := opt.Address.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}

	b := make([]byte, 3+9)
	binary.BigEndian.PutUint16(b[0:2], 9)
	b[2] = byte(opt.Type)
	// b[3] reserved
	copy(b[4:8], ip4)
	// b[8] reserved
	b[9] = opt.Protocol
	binary.BigEndian.PutUint16(b[10:12], opt.Port)
	return b
}

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// Decode parses an SD payload. It fails with someip.ErrMalformedMessage
// on truncated input, and with someip.ErrInvalidSegment-equivalent
// someip.ErrMalformedMessage when an entry's option index is out of
// range for the options actually present (spec §4.9: "SD option index
// out of range: reject entire SD message").
func Decode(buf []byte) (Message, error) {
	if len(buf) < 4 {
		return Message{}, fmt.Errorf("sd: payload of %d bytes shorter than flags+lengths: %w", len(buf), someip.ErrMalformedMessage)
	}
	flags := buf[0]
	pos := 4

	entriesLen, pos, err := readLength(buf, pos)
	if err != nil {
		return Message{}, err
	}
	if pos+int(entriesLen) > len(buf) {
		return Message{}, fmt.Errorf("sd: entries_array length %d overruns payload: %w", entriesLen, someip.ErrMalformedMessage)
	}
	entryBuf := buf[pos : pos+int(entriesLen)]
	pos += int(entriesLen)

	optsLen, pos, err := readLength(buf, pos)
	if err != nil {
		return Message{}, err
	}
	if pos+int(optsLen) > len(buf) {
		return Message{}, fmt.Errorf("sd: options_array length %d overruns payload: %w", optsLen, someip.ErrMalformedMessage)
	}
	optBuf := buf[pos : pos+int(optsLen)]

	options, err := decodeOptions(optBuf)
	if err != nil {
		return Message{}, err
	}
	entries, err := decodeEntries(entryBuf, len(options))
	if err != nil {
		return Message{}, err
	}

	return Message{
		Reboot:  flags&FlagReboot != 0,
		Unicast: flags&FlagUnicast != 0,
		Entries: entries,
		Options: options,
	}, nil
}

func readLength(buf []byte, pos int) (uint32, int, error) {
	if pos+4 > len(buf) {
		return 0, pos, fmt.Errorf("sd: truncated length field: %w", someip.ErrMalformedMessage)
	}
	return binary.BigEndian.Uint32(buf[pos : pos+4]), pos + 4, nil
}

func decodeEntries(buf []byte, numOptions int) ([]Entry, error) {
	if len(buf)%16 != 0 {
		return nil, fmt.Errorf("sd: entries_array length %d not a multiple of 16: %w", len(buf), someip.ErrMalformedMessage)
	}
	var entries []Entry
	for i := 0; i < len(buf); i += 16 {
		e, err := decodeEntry(buf[i : i+16])
		if err != nil {
			return nil, err
		}
		if int(e.Index1)+int(e.NumOptions1) > numOptions || int(e.Index2)+int(e.NumOptions2) > numOptions {
			return nil, fmt.Errorf("sd: entry option index out of range (have %d options): %w", numOptions, someip.ErrMalformedMessage)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeEntry(b []byte) (Entry, error) {
	e := Entry{
		Type:        EntryType(b[0]),
		Index1:      b[1],
		Index2:      b[2],
		NumOptions1: b[3] & 0x0F,
		NumOptions2: (b[3] >> 4) & 0x0F,
		ServiceID:   binary.BigEndian.Uint16(b[4:6]),
		InstanceID:  binary.BigEndian.Uint16(b[6:8]),
	}
	switch e.Type {
	case EntrySubscribeEventgroup, EntrySubscribeEventgroupAck:
		e.MajorVersion = b[8]
		e.TTL = get24(b[9:12])
		e.EventgroupID = binary.BigEndian.Uint16(b[14:16])
	default:
		e.MajorVersion = b[8]
		e.TTL = get24(b[9:12])
		e.MinorVersion = binary.BigEndian.Uint32(b[12:16])
	}
	return e, nil
}

func decodeOptions(buf []byte) ([]IPv4Option, error) {
	var opts []IPv4Option
	pos := 0
	for pos < len(buf) {
		if pos+3 > len(buf) {
			return nil, fmt.Errorf("sd: truncated option header: %w", someip.ErrMalformedMessage)
		}
		length := binary.BigEndian.Uint16(buf[pos : pos+2])
		optType := OptionType(buf[pos+2])
		total := 3 + int(length)
		if pos+total > len(buf) {
			return nil, fmt.Errorf("sd: option length %d overruns options_array: %w", length, someip.ErrMalformedMessage)
		}
		body := buf[pos+3 : pos+total]
		switch optType {
		case OptionIPv4Endpoint, OptionIPv4Multicast, OptionIPv4SDEndpoint:
			// reserved(1) ipv4_address(4) reserved(1) protocol(1) port(2)
			if len(body) < 9 {
				return nil, fmt.Errorf("sd: IPv4 option body too short: %w", someip.ErrMalformedMessage)
			}
			opts = append(opts, IPv4Option{
				Type:     optType,
				Address:  net.IPv4(body[1], body[2], body[3], body[4]),
				Protocol: body[6],
				Port:     binary.BigEndian.Uint16(body[7:9]),
			})
		default:
			return nil, fmt.Errorf("sd: unknown option type %#02x: %w", optType, someip.ErrMalformedMessage)
		}
		pos += total
	}
	return opts, nil
}
