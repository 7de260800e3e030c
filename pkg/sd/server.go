package sd

import (
	"log/slog"
	"time"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/transport"
)

// SubscriptionDecision is returned by a SubscribeHandler to accept or
// refuse an incoming SUBSCRIBE_EVENTGROUP (spec §4.7 "Eventgroup
// subscribe").
type SubscriptionDecision struct {
	Accept    bool
	TTL       time.Duration
	Multicast *IPv4Option // set when the group is served via multicast
}

// SubscribeHandler decides how to answer a subscribe request for
// (serviceID, instanceID, eventgroupID) from a client whose receive
// endpoint is receiverEndpoint.
type SubscribeHandler func(serviceID, instanceID, eventgroupID uint16, receiverEndpoint transport.Endpoint) SubscriptionDecision

// Server answers inbound FIND/SUBSCRIBE_EVENTGROUP SD entries.
type Server struct {
	tm      *transport.Manager
	group   transport.Endpoint
	offers  *Scheduler
	onFind  func(serviceID uint16) []Entry // offered entries matching serviceID, for FIND responses
	onSub   SubscribeHandler
	logger  *slog.Logger
}

// NewServer returns a Server that answers FIND with offers from
// offers (the same Scheduler driving cyclic announcement) and decides
// subscriptions via onSub.
func NewServer(tm *transport.Manager, group transport.Endpoint, offers *Scheduler, onSub SubscribeHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{tm: tm, group: group, offers: offers, onSub: onSub, logger: logger.With("component", "sd_server")}
}

// Handle processes one inbound SD message addressed to this server.
func (s *Server) Handle(msg someip.Message, peer transport.Endpoint) {
	if msg.ID.ServiceID != ServiceID || msg.ID.MethodID != MethodID {
		return
	}
	sdMsg, err := Decode(msg.Payload)
	if err != nil {
		s.logger.Debug("dropping malformed SD message", "err", err)
		return
	}

	for _, e := range sdMsg.Entries {
		switch e.Type {
		case EntryFindService:
			s.handleFind(e, peer)
		case EntrySubscribeEventgroup:
			s.handleSubscribe(e, sdMsg.Options, peer)
		}
	}
}

func (s *Server) handleFind(e Entry, peer transport.Endpoint) {
	s.offers.mu.Lock()
	offer, ok := s.offers.offers[e.ServiceID]
	s.offers.mu.Unlock()
	if !ok {
		return
	}
	s.offers.sendDirected(offer, offer.TTL, peer)
}

func (s *Server) handleSubscribe(e Entry, options []IPv4Option, peer transport.Endpoint) {
	if s.onSub == nil {
		return
	}
	receiverEndpoint, _ := endpointFromOptions(e, options, peer)
	decision := s.onSub(e.ServiceID, e.InstanceID, e.EventgroupID, receiverEndpoint)

	ackEntry := Entry{
		Type:         EntrySubscribeEventgroupAck,
		ServiceID:    e.ServiceID,
		InstanceID:   e.InstanceID,
		MajorVersion: e.MajorVersion,
		EventgroupID: e.EventgroupID,
	}
	var opts []IPv4Option
	if !decision.Accept {
		ackEntry.TTL = 0
	} else {
		ackEntry.TTL = uint32(decision.TTL.Seconds())
		if decision.Multicast != nil {
			opts = []IPv4Option{*decision.Multicast}
			ackEntry.Index1 = 0
			ackEntry.NumOptions1 = 1
		}
	}

	payload := Encode(Message{Entries: []Entry{ackEntry}, Options: opts})
	sdMsg := someip.NewNotification(someip.MessageId{ServiceID: ServiceID, MethodID: MethodID}, 1, payload)
	sdMsg.RequestID = someip.RequestId{ClientID: ClientID, SessionID: sdMsg.RequestID.SessionID}
	if err := s.tm.Send(sdMsg, peer); err != nil {
		s.logger.Warn("failed to send subscribe ack/nack", "err", err)
	}
}

// sendDirected is like send but targets a specific peer instead of
// the multicast group, for unicast FIND responses.
func (s *Scheduler) sendDirected(offer *ServiceOffer, ttl uint32, peer transport.Endpoint) {
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
			n = 15
		}
		entry.Index1 = uint8(indexOf[0])
		entry.NumOptions1 = uint8(n)
	}

	payload := Encode(Message{Entries: []Entry{entry}, Options: deduped, Reboot: s.nextReboot()})
	sdMsg := someip.NewNotification(someip.MessageId{ServiceID: ServiceID, MethodID: MethodID}, 1, payload)
	sdMsg.RequestID = someip.RequestId{ClientID: ClientID, SessionID: sdMsg.RequestID.SessionID}
	if err := s.tm.Send(sdMsg, peer); err != nil {
		s.logger.Warn("failed to send directed SD message", "err", err)
	}
}
