package wire

import (
	"math"
	"testing"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUint8(0xAB)
	w.WriteInt8(-1)
	w.WriteBool(true)
	w.WriteUint16(0xCAFE)
	w.WriteInt16(-2)
	w.WriteUint32(0xDEADBEEF)
	w.WriteInt32(-3)
	w.WriteUint64(0x0102030405060708)
	w.WriteInt64(-4)
	w.WriteFloat32(3.5)
	w.WriteFloat64(math.Pi)
	w.WriteString("hello")

	r := NewReader(w.Bytes())

	if v, err := r.ReadUint8(); err != nil || v != 0xAB {
		t.Fatalf("ReadUint8: %v %v", v, err)
	}
	if v, err := r.ReadInt8(); err != nil || v != -1 {
		t.Fatalf("ReadInt8: %v %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Fatalf("ReadBool: %v %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0xCAFE {
		t.Fatalf("ReadUint16: %v %v", v, err)
	}
	if v, err := r.ReadInt16(); err != nil || v != -2 {
		t.Fatalf("ReadInt16: %v %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadUint32: %v %v", v, err)
	}
	if v, err := r.ReadInt32(); err != nil || v != -3 {
		t.Fatalf("ReadInt32: %v %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadUint64: %v %v", v, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != -4 {
		t.Fatalf("ReadInt64: %v %v", v, err)
	}
	if v, err := r.ReadFloat32(); err != nil || v != 3.5 {
		t.Fatalf("ReadFloat32: %v %v", v, err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != math.Pi {
		t.Fatalf("ReadFloat64: %v %v", v, err)
	}
	if v, err := r.ReadString(); err != nil || v != "hello" {
		t.Fatalf("ReadString: %q %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected no remaining bytes, got %d", r.Remaining())
	}
}

func TestStringPadding(t *testing.T) {
	w := NewWriter()
	w.WriteString("ab") // length 2 -> 2 bytes padding
	// 4 (len) + 2 (data) + 2 (pad) = 8
	if w.Len() != 8 {
		t.Fatalf("expected 8 bytes, got %d", w.Len())
	}
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteLengthPrefixed(func(inner *Writer) {
		inner.WriteUint16(1)
		inner.WriteUint16(2)
		inner.WriteUint16(3)
	})

	r := NewReader(w.Bytes())
	sub, err := r.ReadLengthPrefixed()
	if err != nil {
		t.Fatalf("ReadLengthPrefixed: %v", err)
	}
	if sub.Remaining() != 6 {
		t.Fatalf("expected 6 bytes in sub-reader, got %d", sub.Remaining())
	}
	var got []uint16
	for sub.Remaining() > 0 {
		v, err := sub.ReadUint16()
		if err != nil {
			t.Fatalf("ReadUint16: %v", err)
		}
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected values: %v", got)
	}
}

func TestReadUnderflow(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.ReadUint32(); err == nil {
		t.Fatal("expected error reading past end of buffer")
	}
}
