// Package wire implements the big-endian primitive (de)serialization
// rules shared by the message payload, TP headers and Service Discovery
// bodies: fixed-width integers, IEEE-754 floats, booleans, length-prefixed
// strings and length-prefixed (byte-counted) arrays.
//
// It plays the role the teacher's per-datatype OD encode/decode helpers
// (od.Decode, od.CheckSize) play for CANopen values, generalized to a
// standalone reader/writer pair usable by any payload-bearing subsystem.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer accumulates big-endian encoded values into a byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the encoded buffer so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) WriteInt8(v int8)     { w.WriteUint8(uint8(v)) }
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteBytes appends raw bytes with no length prefix.
func (w *Writer) WriteBytes(p []byte) { w.buf = append(w.buf, p...) }

// WriteString writes a u32 byte length, the UTF-8 bytes, then zero
// padding out to the next 4-byte boundary.
func (w *Writer) WriteString(s string) {
	b := []byte(s)
	w.WriteUint32(uint32(len(b)))
	w.WriteBytes(b)
	if pad := (4 - len(b)%4) % 4; pad != 0 {
		w.WriteBytes(make([]byte, pad))
	}
}

// WriteLengthPrefixed encodes a u32 byte-length prefix followed by
// whatever encode writes into a nested Writer, matching the
// length-prefixed (length in bytes) array convention used throughout
// the payload and Service Discovery wire formats.
func (w *Writer) WriteLengthPrefixed(encode func(*Writer)) {
	nested := NewWriter()
	encode(nested)
	w.WriteUint32(uint32(nested.Len()))
	w.WriteBytes(nested.Bytes())
}

// Reader consumes big-endian encoded values from a byte buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential big-endian decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Bytes returns a copy of the unread tail of the buffer.
func (r *Reader) Bytes() []byte {
	out := make([]byte, len(r.buf)-r.pos)
	copy(out, r.buf[r.pos:])
	return out
}

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("wire: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// ReadString reads a u32 byte length, that many UTF-8 bytes, then
// consumes padding out to the next 4-byte boundary.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if pad := (4 - int(n)%4) % 4; pad != 0 {
		if _, err := r.ReadBytes(pad); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

// ReadLengthPrefixed reads a u32 byte-length prefix and returns a Reader
// bounded to exactly that many bytes, leaving the outer Reader positioned
// right after them.
func (r *Reader) ReadLengthPrefixed() (*Reader, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}
