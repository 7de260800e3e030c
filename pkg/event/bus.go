// Package event implements the server-side event/field distribution
// described in spec §4.8: per-eventgroup subscriptions, prefix-filter
// matching, retained field values delivered on subscribe, and a
// single-threaded periodic publisher that skips ticks on overrun
// instead of queuing them. It is grounded on the teacher's TPDO
// (periodic publication timer, single-threaded, change-detection) and
// RPDO (subscription-keyed dispatch), with field retained-value
// semantics taken from the heartbeat producer's immediate first beat
// after boot.
package event

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/metrics"
	"github.com/go-someip/someip/pkg/tp"
	"github.com/go-someip/someip/pkg/transport"
)

// Policy is how an event gets published (spec §4.8).
type Policy uint8

const (
	Periodic Policy = iota
	OnChange
	OnRequest
	Triggered
)

type eventDef struct {
	eventID      uint16
	eventgroupID uint16
	policy       Policy
	cycle        time.Duration
	isField      bool

	mu        sync.Mutex
	lastValue []byte
	hasValue  bool

	source func() []byte // periodic events only
	nextDue time.Time
}

type subscription struct {
	id           uint64
	eventgroupID uint16
	peer         transport.Endpoint
	filter       []byte
}

// Bus distributes events/fields for one service+instance. It
// generalizes the teacher's TPDO/RPDO pair, which each carry exactly
// one fixed mapping table, to an arbitrary registry of events grouped
// under eventgroups with runtime subscribe/unsubscribe.
type Bus struct {
	id        someip.MessageId // service_id/method_id this bus publishes notifications for
	tm        *transport.Manager
	tpCfg     someip.TPConfig
	logger    *slog.Logger

	mu            sync.Mutex
	events        map[uint16]*eventDef
	subscriptions map[uint64]subscription
	nextSubID     uint64

	metricsReg *metrics.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetMetrics attaches a metrics.Registry so the active-subscriptions
// gauge tracks this Bus's subscription table. Optional.
func (b *Bus) SetMetrics(m *metrics.Registry) {
	b.metricsReg = m
}

// NewBus returns a Bus publishing notifications tagged with id over
// tm, segmenting via tp.Segment when a notification exceeds
// tpCfg.MaxSegmentSize. A zero-value logger falls back to
// slog.Default().
func NewBus(id someip.MessageId, tm *transport.Manager, tpCfg someip.TPConfig, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		id:            id,
		tm:            tm,
		tpCfg:         tpCfg,
		logger:        logger.With("component", "event_bus"),
		events:        make(map[uint16]*eventDef),
		subscriptions: make(map[uint64]subscription),
	}
}

// RegisterEvent declares eventID as a member of eventgroupID, per
// spec §4.8. isField marks it as retaining its last published value
// for immediate delivery to new subscribers.
func (b *Bus) RegisterEvent(eventID, eventgroupID uint16, policy Policy, isField bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.events[eventID]; exists {
		return fmt.Errorf("event: event %#04x already registered", eventID)
	}
	b.events[eventID] = &eventDef{eventID: eventID, eventgroupID: eventgroupID, policy: policy, isField: isField}
	return nil
}

// RegisterPeriodic declares eventID (already registered via
// RegisterEvent with Periodic policy) as driven by source every
// cycle, run on the Bus's single periodic-publisher goroutine.
func (b *Bus) RegisterPeriodic(eventID uint16, cycle time.Duration, source func() []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	def, ok := b.events[eventID]
	if !ok {
		return fmt.Errorf("event: event %#04x not registered", eventID)
	}
	def.cycle = cycle
	def.source = source
	def.nextDue = time.Now().Add(cycle)
	return nil
}

// Start begins the single-threaded periodic publisher, checked every
// tick (a granularity well under the shortest registered cycle is
// recommended, e.g. 10ms).
func (b *Bus) Start(ctx context.Context, tick time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.wg.Add(1)
	go b.periodicLoop(runCtx, tick)
}

func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// periodicLoop is the Bus's single timer thread: it walks every
// periodic event each tick and republishes those whose cycle elapsed.
// A slow publish naturally skips ticks rather than queuing, since
// nextDue is always computed from "now", not accumulated.
func (b *Bus) periodicLoop(ctx context.Context, tick time.Duration) {
	defer b.wg.Done()
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			b.publishDue(now)
		}
	}
}

func (b *Bus) publishDue(now time.Time) {
	b.mu.Lock()
	var due []*eventDef
	for _, def := range b.events {
		if def.policy == Periodic && def.source != nil && !now.Before(def.nextDue) {
			due = append(due, def)
			def.nextDue = now.Add(def.cycle)
		}
	}
	b.mu.Unlock()

	for _, def := range due {
		data := def.source()
		if err := b.Publish(def.eventID, data); err != nil {
			b.logger.Warn("periodic publish failed", "event_id", def.eventID, "err", err)
		}
	}
}

// Publish distributes data as a NOTIFICATION (or TP_NOTIFICATION, if
// it exceeds the configured segment size) to every subscription whose
// eventgroup contains eventID and whose filter admits data.
func (b *Bus) Publish(eventID uint16, data []byte) error {
	b.mu.Lock()
	def, ok := b.events[eventID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("event: event %#04x not registered", eventID)
	}
	if def.isField {
		def.mu.Lock()
		def.lastValue = append([]byte(nil), data...)
		def.hasValue = true
		def.mu.Unlock()
	}
	var targets []subscription
	for _, sub := range b.subscriptions {
		if sub.eventgroupID == def.eventgroupID && admits(sub.filter, data) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	notification := someip.NewNotification(someip.MessageId{ServiceID: b.id.ServiceID, MethodID: eventID}, 1, data)
	return b.deliver(notification, targets)
}

func (b *Bus) deliver(notification someip.Message, targets []subscription) error {
	segs, err := tp.Segment(notification, b.tpCfg.MaxSegmentSize, b.tpCfg.MaxMessageSize)
	if err != nil {
		return fmt.Errorf("event: %w", err)
	}
	for _, target := range targets {
		for _, seg := range segs {
			if err := b.tm.Send(seg, target.peer); err != nil {
				b.logger.Warn("notification send failed", "peer", target.peer, "err", err)
			}
		}
	}
	return nil
}

// admits implements spec §4.8's prefix-equality filter rule: an empty
// filter admits everything.
func admits(filter, data []byte) bool {
	if len(filter) == 0 {
		return true
	}
	return bytes.HasPrefix(data, filter)
}

// Subscribe registers peer for every event in eventgroupID, with an
// optional prefix filter, and immediately delivers the retained value
// of every field member of that eventgroup (spec §4.8: "a new
// subscriber receives the current value immediately after ACK").
// The returned cancel func removes the subscription.
func (b *Bus) Subscribe(eventgroupID uint16, peer transport.Endpoint, filter []byte) (cancel func()) {
	b.mu.Lock()
	b.nextSubID++
	subID := b.nextSubID
	b.subscriptions[subID] = subscription{id: subID, eventgroupID: eventgroupID, peer: peer, filter: filter}
	n := len(b.subscriptions)

	var fieldEvents []*eventDef
	for _, def := range b.events {
		if def.eventgroupID == eventgroupID && def.isField {
			fieldEvents = append(fieldEvents, def)
		}
	}
	b.mu.Unlock()
	if b.metricsReg != nil {
		b.metricsReg.SDSubscriptionsActive.Set(float64(n))
	}

	for _, def := range fieldEvents {
		def.mu.Lock()
		value, has := def.lastValue, def.hasValue
		def.mu.Unlock()
		if !has {
			continue
		}
		notification := someip.NewNotification(someip.MessageId{ServiceID: b.id.ServiceID, MethodID: def.eventID}, 1, value)
		if err := b.deliver(notification, []subscription{{peer: peer}}); err != nil {
			b.logger.Warn("initial field delivery failed", "event_id", def.eventID, "err", err)
		}
	}

	return func() {
		b.mu.Lock()
		delete(b.subscriptions, subID)
		n := len(b.subscriptions)
		b.mu.Unlock()
		if b.metricsReg != nil {
			b.metricsReg.SDSubscriptionsActive.Set(float64(n))
		}
	}
}

// SubscriberCount returns the number of live subscriptions, for tests
// and metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}
