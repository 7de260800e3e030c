package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/codec"
)

// UDPTransport carries SOME/IP messages over plain unicast UDP. A
// single UDP datagram must hold a whole message (spec §4.2):
// MaxUDPPayload bounds what Send will transmit.
type UDPTransport struct {
	local Endpoint

	mu       sync.Mutex
	conn     *net.UDPConn
	listener Listener
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUDPTransport returns a UDPTransport bound to local once Start is
// called. A zero-value logger falls back to slog.Default().
func NewUDPTransport(local Endpoint, logger *slog.Logger) *UDPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPTransport{local: local, logger: logger.With("component", "udp_transport")}
}

func (t *UDPTransport) SetListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

func (t *UDPTransport) Start(ctx context.Context) error {
	addr := &net.UDPAddr{IP: t.local.IP, Port: int(t.local.Port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: %w: %w", someip.ErrNetwork, err)
	}

	t.mu.Lock()
	t.conn = conn
	if laddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		t.local.Port = uint16(laddr.Port)
	}
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.receiveLoop(runCtx, conn)
	return nil
}

func (t *UDPTransport) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	defer t.wg.Done()
	buf := make([]byte, someip.MaxUDPPayload)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, peerAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("udp read error", "err", err)
			continue
		}

		msg, err := codec.Decode(buf[:n])
		if err != nil && msg.ID == (someip.MessageId{}) {
			t.logger.Debug("dropping undecodable udp datagram", "err", err, "len", n)
			continue
		}

		peer := Endpoint{Network: "udp", IP: peerAddr.IP, Port: uint16(peerAddr.Port)}
		t.mu.Lock()
		cb := t.listener
		t.mu.Unlock()
		if cb != nil {
			cb(msg, peer)
		}
	}
}

func (t *UDPTransport) Send(msg someip.Message, peer Endpoint) error {
	raw := codec.Encode(msg)
	if len(raw) > someip.MaxUDPPayload {
		return fmt.Errorf("transport: %w: %d bytes exceeds max UDP payload", someip.ErrMessageTooLarge, len(raw))
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: %w", someip.ErrNotStarted)
	}

	addr := &net.UDPAddr{IP: peer.IP, Port: int(peer.Port)}
	if _, err := conn.WriteToUDP(raw, addr); err != nil {
		return fmt.Errorf("transport: %w: %w", someip.ErrNetwork, err)
	}
	return nil
}

func (t *UDPTransport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.wg.Wait()
	return err
}

func (t *UDPTransport) LocalEndpoint() Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}
