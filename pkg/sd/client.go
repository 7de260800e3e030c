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

// DiscoveredInstance is one OFFER currently believed live.
type DiscoveredInstance struct {
	ServiceID, InstanceID uint16
	MajorVersion          uint8
	MinorVersion          uint32
	Endpoint              transport.Endpoint
	Protocol              uint8
	TTL                   time.Duration
	firstSeen             time.Time
}

// AvailableFunc/UnavailableFunc are the background subscribe
// callbacks spec §4.7 describes ("surface OFFERs/STOP_OFFERs
// asynchronously").
type AvailableFunc func(DiscoveredInstance)
type UnavailableFunc func(serviceID, instanceID uint16)

type watch struct {
	serviceID     uint16
	onAvailable   AvailableFunc
	onUnavailable UnavailableFunc
}

// Client implements the find/subscribe exchange and TTL reaping of
// spec §4.7, the closest teacher analogue being pkg/lss's master/slave
// negotiation over one dedicated message id.
type Client struct {
	tm     *transport.Manager
	group  transport.Endpoint
	logger *slog.Logger

	mu        sync.Mutex
	instances map[[2]uint16]*DiscoveredInstance
	watches   []watch

	findMu       sync.Mutex
	findResults  map[uint16][]DiscoveredInstance
	findDeadline map[uint16]time.Time

	ackHandlers map[uint16]func(ack bool, opt *IPv4Option)

	metrics *metrics.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetMetrics attaches a metrics.Registry so the discovered-instances
// gauge tracks this client's instance table. Optional.
func (c *Client) SetMetrics(m *metrics.Registry) {
	c.metrics = m
}

// NewClient returns a Client sending FIND/SUBSCRIBE to group over tm.
func NewClient(tm *transport.Manager, group transport.Endpoint, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		tm:           tm,
		group:        group,
		logger:       logger.With("component", "sd_client"),
		instances:    make(map[[2]uint16]*DiscoveredInstance),
		findResults:  make(map[uint16][]DiscoveredInstance),
		findDeadline: make(map[uint16]time.Time),
		ackHandlers:  make(map[uint16]func(ack bool, opt *IPv4Option)),
	}
}

// Watch registers background availability callbacks for serviceID, so
// OFFER/STOP_OFFER traffic for it is surfaced asynchronously without
// an active FindService call.
func (c *Client) Watch(serviceID uint16, onAvailable AvailableFunc, onUnavailable UnavailableFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watches = append(c.watches, watch{serviceID: serviceID, onAvailable: onAvailable, onUnavailable: onUnavailable})
}

// FindService sends a FIND entry and invokes onResult after
// responseDelayMax with every instance discovered for serviceID in
// that window (spec §4.7 "Find (client)").
func (c *Client) FindService(serviceID uint16, responseDelayMax time.Duration, onResult func([]DiscoveredInstance)) {
	c.findMu.Lock()
	c.findResults[serviceID] = nil
	c.findDeadline[serviceID] = time.Now().Add(responseDelayMax)
	c.findMu.Unlock()

	entry := Entry{Type: EntryFindService, ServiceID: serviceID, InstanceID: 0xFFFF, MajorVersion: 0xFF, MinorVersion: 0xFFFFFFFF}
	c.sendWire(Message{Entries: []Entry{entry}})

	go func() {
		time.Sleep(responseDelayMax)
		c.findMu.Lock()
		results := c.findResults[serviceID]
		delete(c.findResults, serviceID)
		delete(c.findDeadline, serviceID)
		c.findMu.Unlock()
		onResult(results)
	}()
}

// SubscribeEventgroup sends SUBSCRIBE_EVENTGROUP with receiverEndpoint
// as its IPv4_ENDPOINT option, invoking onResponse once with ack=true
// (and the server's multicast option, if any) on
// SUBSCRIBE_EVENTGROUP_ACK, or ack=false on NACK.
func (c *Client) SubscribeEventgroup(serviceID, instanceID, eventgroupID uint16, majorVersion uint8, ttl time.Duration, receiverEndpoint transport.Endpoint, onResponse func(ack bool, multicast *IPv4Option)) {
	c.mu.Lock()
	c.ackHandlers[eventgroupID] = func(ack bool, opt *IPv4Option) { onResponse(ack, opt) }
	c.mu.Unlock()

	opt := IPv4Option{Type: OptionIPv4Endpoint, Address: receiverEndpoint.IP, Protocol: protocolFor(receiverEndpoint), Port: receiverEndpoint.Port}
	entry := Entry{
		Type:         EntrySubscribeEventgroup,
		ServiceID:    serviceID,
		InstanceID:   instanceID,
		MajorVersion: majorVersion,
		TTL:          uint32(ttl.Seconds()),
		EventgroupID: eventgroupID,
		Index1:       0,
		NumOptions1:  1,
	}
	c.sendWire(Message{Entries: []Entry{entry}, Options: []IPv4Option{opt}})
}

func protocolFor(ep transport.Endpoint) uint8 {
	if ep.Network == "tcp" {
		return ProtoTCP
	}
	return ProtoUDP
}

// Handle processes one inbound SD message: OFFERs update the
// discovered-instance table and feed any pending FindService/Watch
// callbacks; STOP_OFFERs (ttl=0) remove the instance and notify
// watches; SUBSCRIBE_EVENTGROUP_ACK/NACK resolve a pending
// SubscribeEventgroup.
func (c *Client) Handle(msg someip.Message, peer transport.Endpoint) {
	if msg.ID.ServiceID != ServiceID || msg.ID.MethodID != MethodID {
		return
	}
	sdMsg, err := Decode(msg.Payload)
	if err != nil {
		c.logger.Debug("dropping malformed SD message", "err", err)
		return
	}

	for _, e := range sdMsg.Entries {
		switch e.Type {
		case EntryOfferService:
			c.handleOffer(e, sdMsg.Options, peer)
		case EntrySubscribeEventgroupAck:
			c.handleAck(e, sdMsg.Options)
		}
	}
}

func (c *Client) handleOffer(e Entry, options []IPv4Option, peer transport.Endpoint) {
	key := [2]uint16{e.ServiceID, e.InstanceID}

	if e.TTL == 0 {
		c.mu.Lock()
		delete(c.instances, key)
		n := len(c.instances)
		watches := append([]watch(nil), c.watches...)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.SDServicesDiscovered.Set(float64(n))
		}
		for _, w := range watches {
			if w.serviceID == e.ServiceID && w.onUnavailable != nil {
				w.onUnavailable(e.ServiceID, e.InstanceID)
			}
		}
		return
	}

	ep, proto := endpointFromOptions(e, options, peer)
	inst := DiscoveredInstance{
		ServiceID: e.ServiceID, InstanceID: e.InstanceID,
		MajorVersion: e.MajorVersion, MinorVersion: e.MinorVersion,
		Endpoint: ep, Protocol: proto,
		TTL:       time.Duration(e.TTL) * time.Second,
		firstSeen: time.Now(),
	}

	c.mu.Lock()
	c.instances[key] = &inst
	n := len(c.instances)
	watches := append([]watch(nil), c.watches...)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SDServicesDiscovered.Set(float64(n))
	}

	c.findMu.Lock()
	if _, active := c.findDeadline[e.ServiceID]; active {
		c.findResults[e.ServiceID] = append(c.findResults[e.ServiceID], inst)
	}
	c.findMu.Unlock()

	for _, w := range watches {
		if w.serviceID == e.ServiceID && w.onAvailable != nil {
			w.onAvailable(inst)
		}
	}
}

func endpointFromOptions(e Entry, options []IPv4Option, fallback transport.Endpoint) (transport.Endpoint, uint8) {
	lo, hi := int(e.Index1), int(e.Index1)+int(e.NumOptions1)
	if hi > len(options) || lo < 0 {
		return fallback, ProtoUDP
	}
	for _, opt := range options[lo:hi] {
		if opt.Type == OptionIPv4Endpoint {
			return transport.Endpoint{Network: networkFor(opt.Protocol), IP: opt.Address, Port: opt.Port}, opt.Protocol
		}
	}
	return fallback, ProtoUDP
}

func networkFor(proto uint8) string {
	if proto == ProtoTCP {
		return "tcp"
	}
	return "udp"
}

func (c *Client) handleAck(e Entry, options []IPv4Option) {
	c.mu.Lock()
	handler, ok := c.ackHandlers[e.EventgroupID]
	if ok {
		delete(c.ackHandlers, e.EventgroupID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if e.TTL == 0 {
		handler(false, nil)
		return
	}
	var multicast *IPv4Option
	lo, hi := int(e.Index1), int(e.Index1)+int(e.NumOptions1)
	if lo >= 0 && hi <= len(options) {
		for i := lo; i < hi; i++ {
			if options[i].Type == OptionIPv4Multicast {
				opt := options[i]
				multicast = &opt
			}
		}
	}
	handler(true, multicast)
}

func (c *Client) sendWire(msg Message) {
	payload := Encode(msg)
	sdMsg := someip.NewNotification(someip.MessageId{ServiceID: ServiceID, MethodID: MethodID}, 1, payload)
	sdMsg.RequestID = someip.RequestId{ClientID: ClientID, SessionID: sdMsg.RequestID.SessionID}
	if err := c.tm.Send(sdMsg, c.group); err != nil {
		c.logger.Warn("failed to send SD message", "err", err)
	}
}

// ReapExpired drops every discovered instance whose TTL has elapsed
// since it was first seen without a refresh (spec §4.7 "TTL reaper"),
// firing onUnavailable for each.
func (c *Client) ReapExpired() {
	now := time.Now()
	var expired []DiscoveredInstance

	c.mu.Lock()
	for key, inst := range c.instances {
		if now.Sub(inst.firstSeen) > inst.TTL {
			expired = append(expired, *inst)
			delete(c.instances, key)
		}
	}
	n := len(c.instances)
	watches := append([]watch(nil), c.watches...)
	c.mu.Unlock()
	if len(expired) > 0 && c.metrics != nil {
		c.metrics.SDServicesDiscovered.Set(float64(n))
	}

	for _, inst := range expired {
		for _, w := range watches {
			if w.serviceID == inst.ServiceID && w.onUnavailable != nil {
				w.onUnavailable(inst.ServiceID, inst.InstanceID)
			}
		}
	}
}

// Instances returns every currently discovered instance of serviceID.
func (c *Client) Instances(serviceID uint16) []DiscoveredInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []DiscoveredInstance
	for key, inst := range c.instances {
		if key[0] == serviceID {
			out = append(out, *inst)
		}
	}
	return out
}
