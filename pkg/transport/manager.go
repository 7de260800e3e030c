package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-someip/someip"
)

type subscriber struct {
	id       uint64
	callback Listener
}

// Manager wraps one Transport and dispatches every inbound Message to
// the subscribers registered for its service id, the way the
// teacher's BusManager dispatches inbound CAN frames to per-id
// listeners. A callback must never be invoked while holding mu.
type Manager struct {
	transport Transport
	logger    *slog.Logger

	mu        sync.Mutex
	listeners map[uint16][]subscriber
	nextSubID uint64
}

// NewManager wraps transport. A zero-value logger falls back to
// slog.Default().
func NewManager(transport Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		transport: transport,
		logger:    logger.With("component", "transport_manager"),
		listeners: make(map[uint16][]subscriber),
	}
	transport.SetListener(m.handle)
	return m
}

// handle is the wrapped Transport's sole listener. It must not block.
func (m *Manager) handle(msg someip.Message, peer Endpoint) {
	m.mu.Lock()
	subs := append([]subscriber(nil), m.listeners[msg.ID.ServiceID]...)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.callback(msg, peer)
	}
}

// Subscribe registers cb for every inbound Message whose ServiceID
// matches serviceID. The returned cancel func removes the
// subscription; calling it more than once is a no-op.
func (m *Manager) Subscribe(serviceID uint16, cb Listener) (cancel func()) {
	m.mu.Lock()
	m.nextSubID++
	subID := m.nextSubID
	m.listeners[serviceID] = append(m.listeners[serviceID], subscriber{id: subID, callback: cb})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.listeners[serviceID]
		for i, sub := range subs {
			if sub.id == subID {
				m.listeners[serviceID] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Send forwards to the wrapped Transport, logging failures.
func (m *Manager) Send(msg someip.Message, peer Endpoint) error {
	err := m.transport.Send(msg, peer)
	if err != nil {
		m.logger.Warn("send failed", "peer", peer, "service_id", msg.ID.ServiceID, "err", err)
	}
	return err
}

func (m *Manager) Start(ctx context.Context) error { return m.transport.Start(ctx) }
func (m *Manager) Stop() error                     { return m.transport.Stop() }
func (m *Manager) LocalEndpoint() Endpoint         { return m.transport.LocalEndpoint() }
