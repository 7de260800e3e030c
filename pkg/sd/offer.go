package sd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/metrics"
	"github.com/go-someip/someip/pkg/transport"
)

// OfferState is a server-offered service's announce lifecycle (spec
// §4.7 "State machine"), directly mirroring the teacher's NMT state
// transition table driven off a re-announce timer.
type OfferState uint8

const (
	StateInitial OfferState = iota
	StateRepetition
	StateCyclic
	StateStopped
)

// ServiceOffer is one announced (service, instance) the scheduler
// drives through StateInitial -> StateRepetition -> StateCyclic ->
// StateStopped.
type ServiceOffer struct {
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	MinorVersion uint32
	TTL          uint32
	Options      []IPv4Option

	mu         sync.Mutex
	state      OfferState
	repetition int
	cancel     context.CancelFunc
}

// State returns the offer's current lifecycle state.
func (o *ServiceOffer) State() OfferState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Scheduler runs the offer schedule (spec §4.7 "Offer schedule
// (server)") for every registered ServiceOffer and sends the
// resulting OFFER/STOP_OFFER SD messages over the multicast endpoint.
type Scheduler struct {
	cfg    someip.SDConfig
	tm     *transport.Manager
	group  transport.Endpoint
	logger *slog.Logger

	mu     sync.Mutex
	offers map[uint16]*ServiceOffer // keyed by ServiceID

	rebootMu   sync.Mutex
	rebootSent bool

	metrics *metrics.Registry
}

// nextReboot reports whether the OFFER about to be sent is this
// engine's first since start (spec §6 "Persisted state": the reboot
// flag is set on the first OFFER after start and cleared afterward).
func (s *Scheduler) nextReboot() bool {
	s.rebootMu.Lock()
	defer s.rebootMu.Unlock()
	first := !s.rebootSent
	s.rebootSent = true
	return first
}

// SetMetrics attaches a metrics.Registry so the offered-services gauge
// tracks this scheduler's offer set. Optional.
func (s *Scheduler) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// NewScheduler returns a Scheduler sending OFFER/STOP_OFFER to group
// over tm, per cfg's timing parameters (spec §5/§6). A zero-value
// logger falls back to slog.Default().
func NewScheduler(cfg someip.SDConfig, tm *transport.Manager, group transport.Endpoint, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		tm:     tm,
		group:  group,
		logger: logger.With("component", "sd_scheduler"),
		offers: make(map[uint16]*ServiceOffer),
	}
}

// OfferService begins the offer schedule for offer: an initial delay,
// repetition_max_count repetitions with exponentially growing
// intervals, then a cyclic phase until StopOffer is called.
func (s *Scheduler) OfferService(ctx context.Context, offer *ServiceOffer) {
	s.mu.Lock()
	s.offers[offer.ServiceID] = offer
	n := len(s.offers)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SDServicesOffered.Set(float64(n))
	}

	runCtx, cancel := context.WithCancel(ctx)
	offer.mu.Lock()
	offer.cancel = cancel
	offer.state = StateInitial
	offer.mu.Unlock()

	go s.run(runCtx, offer)
}

func (s *Scheduler) run(ctx context.Context, offer *ServiceOffer) {
	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.send(offer, offer.TTL)

	offer.mu.Lock()
	offer.state = StateRepetition
	offer.repetition = 1
	offer.mu.Unlock()

	interval := s.cfg.RepetitionBase
	for n := 1; n <= s.cfg.RepetitionMaxCount; n++ {
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.send(offer, offer.TTL)
		interval = time.Duration(float64(interval) * s.cfg.RepetitionMultiplier)
	}

	offer.mu.Lock()
	offer.state = StateCyclic
	offer.mu.Unlock()

	ticker := time.NewTicker(s.cfg.CyclicOfferDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.send(offer, offer.TTL)
		}
	}
}

// StopOffer transitions offer to StateStopped, cancels its scheduler
// goroutine, and emits one STOP_OFFER (an OFFER entry with ttl=0).
func (s *Scheduler) StopOffer(offer *ServiceOffer) {
	offer.mu.Lock()
	if offer.state == StateStopped {
		offer.mu.Unlock()
		return
	}
	offer.state = StateStopped
	cancel := offer.cancel
	offer.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.send(offer, 0)

	s.mu.Lock()
	delete(s.offers, offer.ServiceID)
	n := len(s.offers)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SDServicesOffered.Set(float64(n))
	}
}

func (s *Scheduler) send(offer *ServiceOffer, ttl uint32) {
	deduped, indexOf := DeduplicateOptions(offer.Options)
	entry := Entry{
		Type:         EntryOfferService,
		ServiceID:    offer.ServiceID,
		InstanceID:   offer.InstanceID,
		MajorVersion: offer.MajorVersion,
		TTL:          ttl,
		MinorVersion: offer.MinorVersion,
	}
	if n := len(indexOf); n > 0 {
		if n > 15 {
			n = 15 // 4-bit NumOptions field
		}
		entry.Index1 = uint8(indexOf[0])
		entry.NumOptions1 = uint8(n)
	}

	msg := Message{Entries: []Entry{entry}, Options: deduped, Reboot: s.nextReboot()}
	s.sendWire(msg)
}

func (s *Scheduler) sendWire(msg Message) {
	payload := Encode(msg)
	sdMsg := someip.NewNotification(someip.MessageId{ServiceID: ServiceID, MethodID: MethodID}, 1, payload)
	sdMsg.RequestID = someip.RequestId{ClientID: ClientID, SessionID: sdMsg.RequestID.SessionID}
	if err := s.tm.Send(sdMsg, s.group); err != nil {
		s.logger.Warn("failed to send SD message", "err", err)
	}
}
