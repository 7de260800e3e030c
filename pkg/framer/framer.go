// Package framer reconstructs SOME/IP message boundaries from a TCP byte
// stream, per spec §4.3. TCP preserves order but not message boundaries:
// a single read may contain a partial message, several whole messages,
// or a message split across reads. A corrupted length field must not
// jam the stream forever, so the framer resyncs by scanning for the next
// plausible message id instead of giving up.
package framer

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/internal/ringbuf"
	"github.com/go-someip/someip/pkg/codec"
)

const minMessageLength = 8 // length field covers request_id..payload, minimum is the 8 remaining header bytes

// Config bounds the framer's resource usage (spec §4.3, §5).
type Config struct {
	MaxBufferSize int // default 64 KiB; accumulation cap, triggers overflow discard
	MaxMessageLen int // default 64 KiB; bound on the wire "length" field before resync
}

// DefaultConfig returns the spec's default 64 KiB buffer and message cap.
func DefaultConfig() Config {
	return Config{MaxBufferSize: 64 * 1024, MaxMessageLen: 64 * 1024}
}

// Framer accumulates bytes fed to it via Feed and extracts whole
// Messages as soon as enough bytes are present. It is not safe for
// concurrent use; one Framer belongs to one TCP connection.
type Framer struct {
	cfg    Config
	buf    *ringbuf.Buffer
	logger *slog.Logger

	overflows int
	resyncs   int
}

// New returns a Framer bounded by cfg. A zero-value logger falls back to
// slog.Default().
func New(cfg Config, logger *slog.Logger) *Framer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Framer{
		cfg:    cfg,
		buf:    ringbuf.New(cfg.MaxBufferSize),
		logger: logger.With("component", "framer"),
	}
}

// Feed appends newly received bytes and returns every whole Message that
// can now be extracted, in stream order. A corrupt length field is
// handled internally by a logged resync scan and produces no error. A
// write that would exceed MaxBufferSize discards the whole buffer and
// returns an error wrapping someip.ErrBufferOverflow.
func (f *Framer) Feed(data []byte) ([]someip.Message, error) {
	if err := f.buf.Write(data); err != nil {
		f.overflows++
		f.logger.Warn("stream buffer overflow, discarding buffer", "err", err)
		f.buf.Reset()
		return nil, fmt.Errorf("framer: %w", someip.ErrBufferOverflow)
	}

	var out []someip.Message
	for {
		msg, ok := f.extractOne()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out, nil
}

// extractOne tries to pull a single Message off the front of the
// buffer. It returns ok=false when there is not yet enough data.
func (f *Framer) extractOne() (someip.Message, bool) {
	if f.buf.Len() < someip.HeaderLength {
		return someip.Message{}, false
	}

	header := f.buf.Peek(someip.HeaderLength)
	length := binary.BigEndian.Uint32(header[4:8])

	if length < minMessageLength || length > uint32(f.cfg.MaxMessageLen) {
		f.resync()
		return f.extractOneAfterResync()
	}

	total := 8 + int(length) // the 2 id fields + the 4-byte length field + `length` bytes of request_id..payload
	if f.buf.Len() < total {
		return someip.Message{}, false
	}

	raw := f.buf.Peek(total)
	msg, err := codec.Decode(raw)
	f.buf.Discard(total)
	if err != nil {
		// A malformed-but-right-length message (bad protocol version or
		// unknown message_type) is still a framing success: the bytes
		// belonged to one message. Codec-level errors are the caller's
		// concern, not the framer's; an unknown message_type still
		// carries a usable Message per spec §4.1.
		f.logger.Debug("decoded message with codec-level issue", "err", err)
	}
	return msg, true
}

// extractOneAfterResync re-attempts extraction once the buffer has been
// realigned (or cleared) by resync.
func (f *Framer) extractOneAfterResync() (someip.Message, bool) {
	if f.buf.Len() < someip.HeaderLength {
		return someip.Message{}, false
	}
	return f.extractOne()
}

// resync scans forward for a byte offset at which the next 4 bytes parse
// as a non-zero MessageId, discarding everything before it. If no such
// offset exists, it clears the buffer.
func (f *Framer) resync() {
	f.resyncs++
	data := f.buf.Bytes()
	for i := 1; i+4 <= len(data); i++ {
		serviceID := binary.BigEndian.Uint16(data[i : i+2])
		methodID := binary.BigEndian.Uint16(data[i+2 : i+4])
		if serviceID != 0 || methodID != 0 {
			f.logger.Warn("framing desync, resyncing", "discarded_bytes", i)
			f.buf.Discard(i)
			return
		}
	}
	f.logger.Warn("framing desync, no resync point found, clearing buffer")
	f.buf.Reset()
}

// Stats returns the number of overflow and resync events observed so
// far, for diagnostics/metrics.
func (f *Framer) Stats() (overflows, resyncs int) {
	return f.overflows, f.resyncs
}
