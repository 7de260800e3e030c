package ringbuf

import "testing"

func TestWriteDiscard(t *testing.T) {
	b := New(8)
	if err := b.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Len() != 3 {
		t.Fatalf("expected len 3, got %d", b.Len())
	}
	b.Discard(1)
	if got := b.Bytes(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected bytes after discard: %v", got)
	}
}

func TestWriteOverflow(t *testing.T) {
	b := New(4)
	if err := b.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Write([]byte{5}); err == nil {
		t.Fatal("expected overflow error")
	}
	if b.Len() != 4 {
		t.Fatalf("buffer should be unchanged after rejected write, got len %d", b.Len())
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	b := New(8)
	_ = b.Write([]byte{1, 2, 3, 4})
	peeked := b.Peek(2)
	if len(peeked) != 2 {
		t.Fatalf("expected 2 bytes peeked, got %d", len(peeked))
	}
	if b.Len() != 4 {
		t.Fatalf("peek should not consume, len=%d", b.Len())
	}
}

func TestDiscardAll(t *testing.T) {
	b := New(8)
	_ = b.Write([]byte{1, 2, 3})
	b.Discard(100)
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got len %d", b.Len())
	}
}
