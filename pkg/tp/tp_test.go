package tp

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/metrics"
)

func sampleMessage(payload []byte) someip.Message {
	return someip.Message{
		ID:               someip.MessageId{ServiceID: 0x1000, MethodID: 0x0001},
		RequestID:        someip.RequestId{ClientID: 1, SessionID: 42},
		ProtocolVersion:  someip.ProtocolVersion,
		InterfaceVersion: 1,
		Type:             someip.MessageTypeRequest,
		ReturnCode:       someip.EOk,
		Payload:          payload,
	}
}

func TestHeaderPackUnpack(t *testing.T) {
	h := Header{Offset: 1<<28 - 16, Flags: MoreSegments}
	got := UnpackHeader(h.Pack())
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestSegmentFitsInOneSegment(t *testing.T) {
	msg := sampleMessage(make([]byte, 1400))
	segs, err := Segment(msg, 1400, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 1 || segs[0].Type.IsTP() {
		t.Fatalf("expected a single non-TP message, got %d segments, IsTP=%v", len(segs), segs[0].Type.IsTP())
	}
}

func TestSegmentExactlyOneOverProducesTwoSegments(t *testing.T) {
	msg := sampleMessage(make([]byte, 1401))
	segs, err := Segment(msg, 1400, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	for _, s := range segs {
		if !s.Type.IsTP() {
			t.Fatal("expected every segment to carry the TP flag")
		}
	}
}

func TestSegmentMatchesWorkedExample(t *testing.T) {
	msg := sampleMessage(make([]byte, 5000))
	segs, err := Segment(msg, 1400, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantSizes := []int{1400, 1400, 1400, 800}
	wantOffsets := []uint32{0, 1400, 2800, 4200}
	if len(segs) != len(wantSizes) {
		t.Fatalf("expected %d segments, got %d", len(wantSizes), len(segs))
	}
	for i, seg := range segs {
		var raw [4]byte
		copy(raw[:], seg.Payload[:4])
		hdr := UnpackHeader(raw)
		if hdr.Offset != wantOffsets[i] {
			t.Fatalf("segment %d: expected offset %d, got %d", i, wantOffsets[i], hdr.Offset)
		}
		if got := len(seg.Payload) - 4; got != wantSizes[i] {
			t.Fatalf("segment %d: expected size %d, got %d", i, wantSizes[i], got)
		}
		wantMore := i != len(segs)-1
		if hdr.More() != wantMore {
			t.Fatalf("segment %d: expected More=%v, got %v", i, wantMore, hdr.More())
		}
	}
}

func TestSegmentTooLarge(t *testing.T) {
	msg := sampleMessage(make([]byte, 100))
	_, err := Segment(msg, 10, 50)
	if !errors.Is(err, someip.ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestReassembleInOrder(t *testing.T) {
	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i)
	}
	msg := sampleMessage(payload)
	segs, err := Segment(msg, 1400, 1<<20)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}

	cfg := someip.DefaultConfig().TP
	r := NewReassembler(cfg, nil)

	var result someip.Message
	var done bool
	for _, seg := range segs {
		result, done, err = r.Feed(seg)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	if !done {
		t.Fatal("expected completion after the last segment")
	}
	if string(result.Payload) != string(payload) {
		t.Fatal("reassembled payload mismatch")
	}
	if result.Type != someip.MessageTypeRequest {
		t.Fatalf("expected TP flag cleared on reassembly, got %v", result.Type)
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	payload := make([]byte, 5000)
	rand.New(rand.NewSource(1)).Read(payload)
	msg := sampleMessage(payload)
	segs, err := Segment(msg, 1400, 1<<20)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}

	shuffled := append([]someip.Message(nil), segs...)
	rand.New(rand.NewSource(2)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	r := NewReassembler(someip.DefaultConfig().TP, nil)
	var result someip.Message
	var done bool
	for _, seg := range shuffled {
		result, done, err = r.Feed(seg)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	if !done || string(result.Payload) != string(payload) {
		t.Fatal("out-of-order reassembly failed")
	}
}

func TestReassembleDuplicateSegmentsTolerated(t *testing.T) {
	payload := make([]byte, 3000)
	msg := sampleMessage(payload)
	segs, err := Segment(msg, 1400, 1<<20)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}

	r := NewReassembler(someip.DefaultConfig().TP, nil)
	var done bool
	for _, seg := range segs {
		if _, done, err = r.Feed(seg); err != nil {
			t.Fatalf("Feed: %v", err)
		}
		// feed it twice
		if _, _, err = r.Feed(seg); err != nil {
			t.Fatalf("duplicate Feed: %v", err)
		}
	}
	if !done {
		t.Fatal("expected completion despite duplicate segments")
	}
}

func TestReassembleInvalidSegmentPastEnd(t *testing.T) {
	payload := make([]byte, 3000)
	msg := sampleMessage(payload)
	segs, err := Segment(msg, 1400, 1<<20)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}

	r := NewReassembler(someip.DefaultConfig().TP, nil)
	// Feed the LAST segment first so totalLength is known, then feed a
	// segment claiming to start past it.
	if _, _, err := r.Feed(segs[len(segs)-1]); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	bogus := segs[0]
	hdr := Header{Offset: uint32(len(payload)) + 100, Flags: MoreSegments}
	packed := hdr.Pack()
	bogus.Payload = append(append([]byte{}, packed[:]...), bogus.Payload[4:]...)

	_, _, err = r.Feed(bogus)
	if !errors.Is(err, someip.ErrInvalidSegment) {
		t.Fatalf("expected ErrInvalidSegment, got %v", err)
	}
}

func TestReassemblyResourceExhausted(t *testing.T) {
	cfg := someip.DefaultConfig().TP
	cfg.MaxConcurrentTransfers = 1
	r := NewReassembler(cfg, nil)

	first := sampleMessage(make([]byte, 3000))
	segs, _ := Segment(first, 1400, 1<<20)
	if _, _, err := r.Feed(segs[0]); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	second := sampleMessage(make([]byte, 3000))
	second.RequestID.SessionID = 99
	segs2, _ := Segment(second, 1400, 1<<20)
	_, _, err := r.Feed(segs2[0])
	if !errors.Is(err, someip.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestReapIdle(t *testing.T) {
	cfg := someip.DefaultConfig().TP
	cfg.ReassemblyTimeout = 0
	r := NewReassembler(cfg, nil)

	msg := sampleMessage(make([]byte, 3000))
	segs, _ := Segment(msg, 1400, 1<<20)
	if _, _, err := r.Feed(segs[0]); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if n := r.ReapIdle(); n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if r.Active() != 0 {
		t.Fatal("expected no active transfers after reap")
	}
}

func TestReassemblerRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := NewReassembler(someip.DefaultConfig().TP, nil)
	r.SetMetrics(m)

	msg := sampleMessage(make([]byte, 3000))
	segs, err := Segment(msg, 1400, 1<<20)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	for _, seg := range segs {
		if _, _, err := r.Feed(seg); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawStarted, sawCompleted bool
	for _, f := range families {
		switch f.GetName() {
		case "someip_tp_transfers_started_total":
			sawStarted = true
		case "someip_tp_transfers_completed_total":
			sawCompleted = true
		}
	}
	if !sawStarted || !sawCompleted {
		t.Fatalf("expected started and completed counters registered, got: %+v", families)
	}
}
