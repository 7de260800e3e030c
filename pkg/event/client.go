package event

import (
	"sync"

	"github.com/go-someip/someip"
)

// SubscriptionState is the client-side eventgroup subscription
// lifecycle (spec §4.8).
type SubscriptionState uint8

const (
	Requested SubscriptionState = iota
	Subscribed
	Rejected
	Expired
)

func (s SubscriptionState) String() string {
	switch s {
	case Requested:
		return "REQUESTED"
	case Subscribed:
		return "SUBSCRIBED"
	case Rejected:
		return "REJECTED"
	default:
		return "EXPIRED"
	}
}

// NotifyFunc receives a decoded NOTIFICATION payload for one event_id.
type NotifyFunc func(eventID uint16, payload []byte)

// StatusFunc receives a subscription's state transitions.
type StatusFunc func(state SubscriptionState)

type clientSubscription struct {
	serviceID, instanceID, eventgroupID uint16
	onNotify                            NotifyFunc
	onStatus                            StatusFunc
	state                               SubscriptionState
}

// Client tracks outgoing eventgroup subscriptions and dispatches
// inbound notifications to the handler registered for their event id.
// The actual SUBSCRIBE_EVENTGROUP wire exchange is driven by pkg/sd;
// Client only owns the bookkeeping spec §4.8 describes.
type Client struct {
	mu            sync.Mutex
	subscriptions map[uint16]*clientSubscription // keyed by eventgroup_id
	notifiers     map[someip.MessageId]NotifyFunc
}

// NewClient returns an empty Client.
func NewClient() *Client {
	return &Client{
		subscriptions: make(map[uint16]*clientSubscription),
		notifiers:     make(map[someip.MessageId]NotifyFunc),
	}
}

// SubscribeEventgroup records intent to subscribe and installs the
// notification handler; the SD layer is responsible for actually
// emitting SUBSCRIBE_EVENTGROUP and calling Ack/Nack/ExpireSubscription
// as the wire exchange progresses.
func (c *Client) SubscribeEventgroup(serviceID, instanceID, eventgroupID uint16, onNotify NotifyFunc, onStatus StatusFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[eventgroupID] = &clientSubscription{
		serviceID:    serviceID,
		instanceID:   instanceID,
		eventgroupID: eventgroupID,
		onNotify:     onNotify,
		onStatus:     onStatus,
		state:        Requested,
	}
}

// BindNotification routes inbound NOTIFICATION messages for id to
// onNotify. Called once per event id a subscription cares about.
func (c *Client) BindNotification(id someip.MessageId, onNotify NotifyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifiers[id] = onNotify
}

// Deliver dispatches an inbound NOTIFICATION/TP_NOTIFICATION message
// to the handler bound to its (service_id, method_id).
func (c *Client) Deliver(msg someip.Message) {
	c.mu.Lock()
	notify, ok := c.notifiers[msg.ID]
	c.mu.Unlock()
	if ok {
		notify(msg.ID.MethodID, msg.Payload)
	}
}

// Ack transitions eventgroupID to SUBSCRIBED on SUBSCRIBE_EVENTGROUP_ACK.
func (c *Client) Ack(eventgroupID uint16) { c.transition(eventgroupID, Subscribed) }

// Nack transitions eventgroupID to REJECTED on
// SUBSCRIBE_EVENTGROUP_NACK.
func (c *Client) Nack(eventgroupID uint16) { c.transition(eventgroupID, Rejected) }

// ExpireSubscription transitions eventgroupID to EXPIRED when its TTL
// elapses without a refresh.
func (c *Client) ExpireSubscription(eventgroupID uint16) { c.transition(eventgroupID, Expired) }

func (c *Client) transition(eventgroupID uint16, state SubscriptionState) {
	c.mu.Lock()
	sub, ok := c.subscriptions[eventgroupID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	sub.state = state
	c.mu.Unlock()
	if sub.onStatus != nil {
		sub.onStatus(state)
	}
}

// State returns the current lifecycle state of a subscription, and
// whether one was ever requested for eventgroupID.
func (c *Client) State(eventgroupID uint16) (SubscriptionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscriptions[eventgroupID]
	if !ok {
		return 0, false
	}
	return sub.state, true
}
