// Package ringbuf implements a capped, growable byte accumulator used by
// the stream framer (pkg/framer) to gather bytes incrementally before interpreting them as one or more
// SOME/IP messages.
//
// It generalizes the circular buffer used by the teacher's SDO segmented
// transfer: the same "accumulate until a structure boundary is known,
// then let the caller discard the consumed prefix" shape, but backed by a
// growable slice capped at a maximum size, rather than a fixed-size
// wraparound ring. A stream framer needs to peek at a fixed-offset header
// field and resync at an arbitrary byte offset — a growable slice avoids
// the wraparound bookkeeping a true ring buffer would otherwise add back.
package ringbuf

import "fmt"

// Buffer is a byte accumulator bounded by a maximum capacity. Writes past
// the capacity are rejected with an error; callers are expected to treat
// that as a framing-level overflow.
type Buffer struct {
	data []byte
	max  int
}

// New returns an empty Buffer that rejects writes once its length would
// exceed max bytes.
func New(max int) *Buffer {
	return &Buffer{max: max}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the configured maximum size.
func (b *Buffer) Cap() int { return b.max }

// Write appends p to the buffer. It returns an error without modifying
// the buffer if doing so would exceed the configured maximum.
func (b *Buffer) Write(p []byte) error {
	if len(b.data)+len(p) > b.max {
		return fmt.Errorf("ringbuf: write of %d bytes would exceed capacity %d (currently %d)", len(p), b.max, len(b.data))
	}
	b.data = append(b.data, p...)
	return nil
}

// Bytes returns the currently buffered bytes. The returned slice aliases
// the buffer's storage and is only valid until the next Discard/Reset.
func (b *Buffer) Bytes() []byte { return b.data }

// Peek returns up to n bytes from the front of the buffer without
// consuming them. It returns fewer than n bytes if the buffer holds less.
func (b *Buffer) Peek(n int) []byte {
	if n > len(b.data) {
		n = len(b.data)
	}
	return b.data[:n]
}

// Discard drops the first n bytes from the buffer, shifting the
// remainder to the front.
func (b *Buffer) Discard(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	copy(b.data, b.data[n:])
	b.data = b.data[:len(b.data)-n]
}

// Reset empties the buffer.
func (b *Buffer) Reset() { b.data = b.data[:0] }
