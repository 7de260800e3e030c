package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/metrics"
	"github.com/go-someip/someip/pkg/session"
	"github.com/go-someip/someip/pkg/transport"
)

// Completion is delivered to a call's completion sink exactly once.
type Completion struct {
	Result  Result
	Payload []byte
}

// CompletionFunc receives the single terminal Completion for a call.
// It must not block.
type CompletionFunc func(Completion)

// Handle identifies one outstanding call, for Cancel.
type Handle string

// callKey is the RPC correlation key (spec §4.6 "Completion matching":
// "(service_id, method_id, session_id)"), narrower than session id
// alone so a response cannot complete a call for a different method
// merely by echoing a stale or foreign session id.
type callKey struct {
	serviceID uint16
	methodID  uint16
	sessionID uint16
}

func keyFor(id someip.MessageId, sessionID uint16) callKey {
	return callKey{serviceID: id.ServiceID, methodID: id.MethodID, sessionID: sessionID}
}

type pendingCall struct {
	key        callKey
	deadline   time.Time
	onComplete CompletionFunc
	cancelled  bool
}

// Client issues REQUEST messages and correlates their RESPONSE/ERROR
// by (service_id, method_id, session_id), the way the teacher's
// SDOClient correlates a single in-flight SDO transfer by node id —
// generalized here to many concurrent calls tracked in a map. A
// background sweeper completes calls that outlive their deadline.
type Client struct {
	clientID  uint16
	transport *transport.Manager
	sessions  *session.Manager
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[Handle]*pendingCall
	byKey   map[callKey]Handle

	metrics *metrics.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetMetrics attaches a metrics.Registry so every call issued/
// completed is counted. Optional; a Client without one behaves
// identically, just unobserved.
func (c *Client) SetMetrics(m *metrics.Registry) {
	c.metrics = m
}

// NewClient returns a Client that sends as clientID over tm,
// allocating session ids from sessions. A zero-value logger falls
// back to slog.Default().
func NewClient(clientID uint16, tm *transport.Manager, sessions *session.Manager, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		clientID:  clientID,
		transport: tm,
		sessions:  sessions,
		logger:    logger.With("component", "rpc_client"),
		pending:   make(map[Handle]*pendingCall),
		byKey:     make(map[callKey]Handle),
	}
}

// Start begins the deadline sweeper, polling at sweepInterval.
func (c *Client) Start(ctx context.Context, sweepInterval time.Duration) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.sweepLoop(runCtx, sweepInterval)
}

func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Client) sweepLoop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.sweepExpired()
		}
	}
}

func (c *Client) sweepExpired() {
	now := time.Now()
	var expired []*pendingCall
	c.mu.Lock()
	for handle, call := range c.pending {
		if now.After(call.deadline) {
			expired = append(expired, call)
			delete(c.pending, handle)
			delete(c.byKey, call.key)
		}
	}
	c.mu.Unlock()

	for _, call := range expired {
		c.complete(call.onComplete, Completion{Result: Timeout})
	}
}

// CallAsync issues a REQUEST for (serviceID, methodID) to peer and
// returns a Handle immediately; onComplete fires exactly once, either
// on a matching response, on deadline expiry, or on Cancel.
func (c *Client) CallAsync(id someip.MessageId, interfaceVersion uint8, params []byte, peer transport.Endpoint, deadline time.Duration, onComplete CompletionFunc) Handle {
	sessionID := c.sessions.Create(c.clientID)
	handle := Handle(xid.New().String())

	key := keyFor(id, sessionID)
	call := &pendingCall{
		key:        key,
		deadline:   time.Now().Add(deadline),
		onComplete: onComplete,
	}

	c.mu.Lock()
	c.pending[handle] = call
	c.byKey[key] = handle
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RPCCallsIssued.WithLabelValues(fmt.Sprintf("%#04x", id.ServiceID), fmt.Sprintf("%#04x", id.MethodID)).Inc()
		c.metrics.RPCCallsPending.Inc()
	}

	req := someip.NewRequest(id, someip.RequestId{ClientID: c.clientID, SessionID: sessionID}, interfaceVersion, params)
	if err := c.transport.Send(req, peer); err != nil {
		c.mu.Lock()
		delete(c.pending, handle)
		delete(c.byKey, key)
		c.mu.Unlock()
		c.sessions.Remove(sessionID)
		c.complete(onComplete, Completion{Result: NetworkError})
		return handle
	}
	return handle
}

// complete records the outcome in metrics (if attached) and invokes
// onComplete, decrementing the pending gauge set by CallAsync.
func (c *Client) complete(onComplete CompletionFunc, res Completion) {
	if c.metrics != nil {
		c.metrics.RPCCallsCompleted.WithLabelValues(res.Result.String()).Inc()
		c.metrics.RPCCallsPending.Dec()
	}
	onComplete(res)
}

// CallSync blocks until onComplete would have fired, or ctx is done.
func (c *Client) CallSync(ctx context.Context, id someip.MessageId, interfaceVersion uint8, params []byte, peer transport.Endpoint, deadline time.Duration) (Completion, error) {
	done := make(chan Completion, 1)
	handle := c.CallAsync(id, interfaceVersion, params, peer, deadline, func(res Completion) { done <- res })

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		c.Cancel(handle)
		return Completion{}, ctx.Err()
	}
}

// Cancel drops handle if still pending and completes it with
// Cancelled. A response arriving afterwards for the same session id
// is dropped silently by Deliver, since the pending entry is gone.
func (c *Client) Cancel(handle Handle) {
	c.mu.Lock()
	call, ok := c.pending[handle]
	if ok {
		delete(c.pending, handle)
		delete(c.byKey, call.key)
	}
	c.mu.Unlock()

	if ok {
		c.complete(call.onComplete, Completion{Result: Cancelled})
	}
}

// Deliver feeds an inbound RESPONSE or ERROR message to the
// correlator. It is a no-op if no pending call matches msg's
// (service_id, method_id, session_id) key (already completed,
// cancelled, or timed out).
func (c *Client) Deliver(msg someip.Message) {
	if !msg.Type.IsResponse() {
		return
	}

	key := keyFor(msg.ID, msg.RequestID.SessionID)

	c.mu.Lock()
	handle, ok := c.byKey[key]
	var call *pendingCall
	if ok {
		call = c.pending[handle]
		delete(c.pending, handle)
		delete(c.byKey, key)
	}
	c.mu.Unlock()
	if !ok || call == nil {
		return
	}

	c.sessions.Remove(msg.RequestID.SessionID)
	c.complete(call.onComplete, Completion{Result: resultForReturnCode(msg.ReturnCode), Payload: msg.Payload})
}

// Pending returns the number of calls awaiting completion.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
