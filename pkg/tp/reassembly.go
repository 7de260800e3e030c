package tp

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/metrics"
)

type interval struct{ start, end uint32 } // [start, end)

type transfer struct {
	key          Key
	baseType     someip.MessageType // message_type with the TP flag cleared, for the reconstructed Message
	chunks       map[uint32][]byte  // offset -> segment payload (TP header stripped)
	covered      []interval         // merged, sorted, non-overlapping
	totalLength  uint32             // 0 until the LAST segment (More=false) has been seen
	haveTotal    bool
	lastActivity time.Time
}

// Reassembler tracks in-flight TP transfers per spec §4.5: bounded by
// maxMessageSize (validated before a transfer is admitted, the
// robustness gap the source implementation flagged) and
// maxConcurrentTransfers, with idle transfers dropped after
// reassemblyTimeout.
type Reassembler struct {
	maxMessageSize         uint32
	maxConcurrentTransfers int
	reassemblyTimeout      time.Duration
	logger                 *slog.Logger

	mu        sync.Mutex
	transfers map[Key]*transfer

	metrics *metrics.Registry
}

// SetMetrics attaches a metrics.Registry so transfer admission,
// completion and reaping are counted. Optional.
func (r *Reassembler) SetMetrics(m *metrics.Registry) {
	r.metrics = m
}

// NewReassembler returns a Reassembler bounded by cfg. A zero-value
// logger falls back to slog.Default().
func NewReassembler(cfg someip.TPConfig, logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reassembler{
		maxMessageSize:         cfg.MaxMessageSize,
		maxConcurrentTransfers: cfg.MaxConcurrentTransfers,
		reassemblyTimeout:      cfg.ReassemblyTimeout,
		logger:                 logger.With("component", "tp_reassembler"),
		transfers:              make(map[Key]*transfer),
	}
}

// Feed processes one inbound TP segment. It returns (message, true,
// nil) once the transfer it belongs to is complete; (zero, false,
// nil) while a transfer is still in progress; or a non-nil error
// (ErrInvalidSegment, ErrMessageTooLarge, ErrResourceExhausted) for a
// segment that cannot be admitted. msg.Type must have IsTP() true and
// msg.Payload must be at least 4 bytes (the TP header).
func (r *Reassembler) Feed(msg someip.Message) (someip.Message, bool, error) {
	if len(msg.Payload) < 4 {
		return someip.Message{}, false, fmt.Errorf("tp: segment payload too short for a TP header: %w", someip.ErrInvalidSegment)
	}
	var raw [4]byte
	copy(raw[:], msg.Payload[:4])
	hdr := UnpackHeader(raw)
	segData := msg.Payload[4:]
	segLen := uint32(len(segData))

	if uint32(hdr.Offset)+segLen > r.maxMessageSize {
		return someip.Message{}, false, fmt.Errorf("tp: segment [%d,%d) exceeds max_message_size %d: %w",
			hdr.Offset, hdr.Offset+segLen, r.maxMessageSize, someip.ErrMessageTooLarge)
	}

	key := keyFor(msg)

	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.transfers[key]
	if !ok {
		if len(r.transfers) >= r.maxConcurrentTransfers {
			return someip.Message{}, false, fmt.Errorf("tp: %w: at max_concurrent_transfers", someip.ErrResourceExhausted)
		}
		tr = &transfer{
			key:          key,
			baseType:     msg.Type.WithoutTP(),
			chunks:       make(map[uint32][]byte),
			lastActivity: time.Now(),
		}
		r.transfers[key] = tr
		if r.metrics != nil {
			r.metrics.TPTransfersStarted.Inc()
			r.metrics.TPTransfersActive.Set(float64(len(r.transfers)))
		}
	}

	if !hdr.More() {
		total := hdr.Offset + segLen
		if tr.haveTotal && tr.totalLength != total {
			delete(r.transfers, key)
			return someip.Message{}, false, fmt.Errorf("tp: conflicting total_length for %s: %w", key, someip.ErrInvalidSegment)
		}
		tr.totalLength = total
		tr.haveTotal = true
	} else if tr.haveTotal && hdr.Offset+segLen > tr.totalLength {
		delete(r.transfers, key)
		return someip.Message{}, false, fmt.Errorf("tp: segment past end of %s: %w", key, someip.ErrInvalidSegment)
	}

	if _, dup := tr.chunks[hdr.Offset]; !dup {
		buf := make([]byte, segLen)
		copy(buf, segData)
		tr.chunks[hdr.Offset] = buf
		tr.covered = mergeInterval(tr.covered, interval{hdr.Offset, hdr.Offset + segLen})
	}
	tr.lastActivity = time.Now()

	if !tr.haveTotal || !fullyCovered(tr.covered, tr.totalLength) {
		return someip.Message{}, false, nil
	}

	delete(r.transfers, key)
	if r.metrics != nil {
		r.metrics.TPTransfersCompleted.Inc()
		r.metrics.TPTransfersActive.Set(float64(len(r.transfers)))
	}
	payload := assemble(tr)
	out := someip.Message{
		ID:               msg.ID,
		RequestID:        msg.RequestID,
		ProtocolVersion:  msg.ProtocolVersion,
		InterfaceVersion: msg.InterfaceVersion,
		Type:             tr.baseType,
		ReturnCode:       msg.ReturnCode,
		Payload:          payload,
	}
	return out, true, nil
}

// ReapIdle drops every transfer that made no progress for longer than
// the configured reassembly timeout, returning the number dropped.
func (r *Reassembler) ReapIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	n := 0
	for key, tr := range r.transfers {
		if now.Sub(tr.lastActivity) > r.reassemblyTimeout {
			r.logger.Warn("reassembly timed out", "key", key)
			delete(r.transfers, key)
			n++
		}
	}
	if n > 0 && r.metrics != nil {
		for i := 0; i < n; i++ {
			r.metrics.TPTransfersTimedOut.Inc()
		}
		r.metrics.TPTransfersActive.Set(float64(len(r.transfers)))
	}
	return n
}

// Active returns the number of in-flight transfers.
func (r *Reassembler) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

func assemble(tr *transfer) []byte {
	offsets := make([]uint32, 0, len(tr.chunks))
	for off := range tr.chunks {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	out := make([]byte, tr.totalLength)
	for _, off := range offsets {
		copy(out[off:], tr.chunks[off])
	}
	return out
}

// mergeInterval inserts iv into a sorted, merged, non-overlapping
// interval list and returns the updated list.
func mergeInterval(ivs []interval, iv interval) []interval {
	ivs = append(ivs, iv)
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].start < ivs[j].start })

	merged := ivs[:0]
	for _, cur := range ivs {
		if len(merged) > 0 && cur.start <= merged[len(merged)-1].end {
			if cur.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

func fullyCovered(ivs []interval, total uint32) bool {
	return len(ivs) == 1 && ivs[0].start == 0 && ivs[0].end == total
}
