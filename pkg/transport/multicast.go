package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/codec"
)

// MulticastTransport carries Service Discovery traffic over a joined
// multicast group. The group address is always caller-supplied via
// local.IP (no group is ever hardcoded). SO_REUSEADDR is enabled on
// the receive socket so multiple local processes (and re-starts of
// this one) can join the same group/port concurrently, matching how
// SOME/IP stacks commonly co-exist with other services on a node.
type MulticastTransport struct {
	local Endpoint
	iface *net.Interface

	mu       sync.Mutex
	recvConn *net.UDPConn // joined multicast socket, read-only in practice
	sendConn *net.UDPConn // plain UDP socket used for outbound sends
	listener Listener
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMulticastTransport returns a MulticastTransport that will join
// local's group/port on the given interface (nil picks the system
// default) once Start is called.
func NewMulticastTransport(local Endpoint, iface *net.Interface, logger *slog.Logger) *MulticastTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &MulticastTransport{local: local, iface: iface, logger: logger.With("component", "multicast_transport")}
}

func (t *MulticastTransport) SetListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

func (t *MulticastTransport) Start(ctx context.Context) error {
	groupAddr := &net.UDPAddr{IP: t.local.IP, Port: int(t.local.Port)}

	recvConn, err := net.ListenMulticastUDP("udp", t.iface, groupAddr)
	if err != nil {
		return fmt.Errorf("transport: %w: joining %s: %w", someip.ErrNetwork, t.local, err)
	}
	if err := enableReuseAddr(recvConn); err != nil {
		t.logger.Warn("could not enable SO_REUSEADDR", "err", err)
	}

	sendConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		recvConn.Close()
		return fmt.Errorf("transport: %w: opening send socket: %w", someip.ErrNetwork, err)
	}

	t.mu.Lock()
	t.recvConn = recvConn
	t.sendConn = sendConn
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.receiveLoop(runCtx, recvConn)
	return nil
}

func (t *MulticastTransport) receiveLoop(ctx context.Context, conn *net.UDPConn) {
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
			t.logger.Warn("multicast read error", "err", err)
			continue
		}

		msg, err := codec.Decode(buf[:n])
		if err != nil && msg.ID == (someip.MessageId{}) {
			t.logger.Debug("dropping undecodable multicast datagram", "err", err, "len", n)
			continue
		}

		peer := Endpoint{Network: "multicast", IP: peerAddr.IP, Port: uint16(peerAddr.Port)}
		t.mu.Lock()
		cb := t.listener
		t.mu.Unlock()
		if cb != nil {
			cb(msg, peer)
		}
	}
}

// Send transmits msg to peer (typically the multicast group itself,
// for offers/finds, or a unicast endpoint for a directed SD reply)
// using the dedicated send socket: a socket joined to a multicast
// group cannot reliably be used to send from on all platforms.
func (t *MulticastTransport) Send(msg someip.Message, peer Endpoint) error {
	raw := codec.Encode(msg)
	if len(raw) > someip.MaxUDPPayload {
		return fmt.Errorf("transport: %w: %d bytes exceeds max UDP payload", someip.ErrMessageTooLarge, len(raw))
	}

	t.mu.Lock()
	conn := t.sendConn
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

func (t *MulticastTransport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Lock()
	recvConn, sendConn := t.recvConn, t.sendConn
	t.mu.Unlock()

	var err error
	if recvConn != nil {
		err = recvConn.Close()
	}
	if sendConn != nil {
		if serr := sendConn.Close(); err == nil {
			err = serr
		}
	}
	t.wg.Wait()
	return err
}

func (t *MulticastTransport) LocalEndpoint() Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// enableReuseAddr sets SO_REUSEADDR on conn's underlying file
// descriptor so multiple processes can bind the same multicast
// group/port, the way every production SOME/IP SD implementation
// needs to when several services share a node.
func enableReuseAddr(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
