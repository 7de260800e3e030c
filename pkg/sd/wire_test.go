package sd

import (
	"net"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	opt := IPv4Option{Type: OptionIPv4Endpoint, Address: net.ParseIP("192.168.1.10"), Protocol: ProtoUDP, Port: 30509}
	msg := Message{
		Reboot: true,
		Entries: []Entry{
			{Type: EntryOfferService, ServiceID: 0x1234, InstanceID: 1, MajorVersion: 1, TTL: 3600, MinorVersion: 0, Index1: 0, NumOptions1: 1},
		},
		Options: []IPv4Option{opt},
	}

	raw := Encode(msg)
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.Reboot {
		t.Fatal("expected reboot flag to round-trip")
	}
	if len(decoded.Entries) != 1 || decoded.Entries[0].ServiceID != 0x1234 || decoded.Entries[0].TTL != 3600 {
		t.Fatalf("unexpected entries: %+v", decoded.Entries)
	}
	if len(decoded.Options) != 1 || !decoded.Options[0].Address.Equal(opt.Address) || decoded.Options[0].Port != 30509 {
		t.Fatalf("unexpected options: %+v", decoded.Options)
	}
}

func TestDeduplicateOptions(t *testing.T) {
	a := IPv4Option{Type: OptionIPv4Endpoint, Address: net.ParseIP("10.0.0.1"), Protocol: ProtoUDP, Port: 1}
	b := IPv4Option{Type: OptionIPv4Endpoint, Address: net.ParseIP("10.0.0.2"), Protocol: ProtoUDP, Port: 2}
	deduped, indexOf := DeduplicateOptions([]IPv4Option{a, b, a})
	if len(deduped) != 2 {
		t.Fatalf("expected 2 deduplicated options, got %d", len(deduped))
	}
	if !reflect.DeepEqual(indexOf, []int{0, 1, 0}) {
		t.Fatalf("unexpected index mapping: %v", indexOf)
	}
}

func TestDecodeRejectsOutOfRangeOptionIndex(t *testing.T) {
	msg := Message{
		Entries: []Entry{{Type: EntryOfferService, ServiceID: 1, Index1: 5, NumOptions1: 1}},
	}
	raw := Encode(msg)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected decode to reject an entry referencing a nonexistent option")
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{0x00, 0x00}); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestSubscribeEventgroupEntryRoundTrip(t *testing.T) {
	msg := Message{
		Entries: []Entry{
			{Type: EntrySubscribeEventgroup, ServiceID: 0x1000, InstanceID: 1, MajorVersion: 1, TTL: 10, EventgroupID: 0x55},
		},
	}
	raw := Encode(msg)
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Entries[0].EventgroupID != 0x55 {
		t.Fatalf("expected eventgroup_id to round-trip, got %#x", decoded.Entries[0].EventgroupID)
	}
}
