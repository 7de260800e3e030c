package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/codec"
	"github.com/go-someip/someip/pkg/framer"
)

// TCPTransport carries SOME/IP messages over TCP, framing the byte
// stream with a pkg/framer.Framer per connection. It operates in
// server mode (accepting, up to MaxConnections) when started with a
// local port to listen on, and opens outbound client connections on
// demand from Send.
type TCPTransport struct {
	local  Endpoint
	cfg    someip.TCPConfig
	logger *slog.Logger

	mu       sync.Mutex
	ln       net.Listener
	conns    map[string]net.Conn
	listener Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTCPTransport returns a TCPTransport bound to local once Start is
// called, bounded by cfg.
func NewTCPTransport(local Endpoint, cfg someip.TCPConfig, logger *slog.Logger) *TCPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPTransport{
		local:  local,
		cfg:    cfg,
		conns:  make(map[string]net.Conn),
		logger: logger.With("component", "tcp_transport"),
	}
}

func (t *TCPTransport) SetListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

func (t *TCPTransport) Start(ctx context.Context) error {
	addr := &net.TCPAddr{IP: t.local.IP, Port: int(t.local.Port)}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: %w: %w", someip.ErrNetwork, err)
	}

	t.mu.Lock()
	t.ln = ln
	if laddr, ok := ln.Addr().(*net.TCPAddr); ok {
		t.local.Port = uint16(laddr.Port)
	}
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.acceptLoop(runCtx, ln)
	return nil
}

func (t *TCPTransport) acceptLoop(ctx context.Context, ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("tcp accept error", "err", err)
			continue
		}

		if t.connCount() >= t.cfg.MaxConnections {
			t.logger.Warn("rejecting connection, at MaxConnections", "peer", conn.RemoteAddr())
			conn.Close()
			continue
		}

		t.wg.Add(1)
		go t.serve(ctx, conn)
	}
}

func (t *TCPTransport) connCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// serve drives one accepted or dialed connection: registers it,
// applies keepalive settings, feeds incoming bytes through a Framer,
// and delivers every reconstructed Message to the listener.
func (t *TCPTransport) serve(ctx context.Context, conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	peer := peerEndpoint(conn)
	t.configureKeepAlive(conn)

	t.mu.Lock()
	t.conns[peer.String()] = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.conns, peer.String())
		t.mu.Unlock()
	}()

	f := framer.New(framer.Config{
		MaxBufferSize: int(t.cfg.MaxReceiveBuffer),
		MaxMessageLen: int(t.cfg.MaxMessageSize),
	}, t.logger)

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t.cfg.ReceiveTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(t.cfg.ReceiveTimeout))
		}
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Debug("tcp connection closed", "peer", peer, "err", err)
			}
			return
		}

		msgs, err := f.Feed(buf[:n])
		if err != nil {
			t.logger.Warn("framer error, connection unusable", "peer", peer, "err", err)
			return
		}

		t.mu.Lock()
		cb := t.listener
		t.mu.Unlock()
		if cb == nil {
			continue
		}
		for _, m := range msgs {
			cb(m, peer)
		}
	}
}

func (t *TCPTransport) configureKeepAlive(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tc.SetKeepAlive(t.cfg.KeepAlive)
	if t.cfg.KeepAlive && t.cfg.KeepAliveInterval > 0 {
		tc.SetKeepAlivePeriod(t.cfg.KeepAliveInterval)
	}
}

// Send writes msg to peer, dialing a fresh connection if one is not
// already open.
func (t *TCPTransport) Send(msg someip.Message, peer Endpoint) error {
	conn, err := t.connFor(peer)
	if err != nil {
		return err
	}
	if t.cfg.SendTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.cfg.SendTimeout))
	}
	if _, err := conn.Write(codec.Encode(msg)); err != nil {
		t.mu.Lock()
		delete(t.conns, peer.String())
		t.mu.Unlock()
		return fmt.Errorf("transport: %w: %w", someip.ErrNetwork, err)
	}
	return nil
}

func (t *TCPTransport) connFor(peer Endpoint) (net.Conn, error) {
	key := peer.String()

	t.mu.Lock()
	conn, ok := t.conns[key]
	t.mu.Unlock()
	if ok {
		return conn, nil
	}

	if t.connCount() >= t.cfg.MaxConnections {
		return nil, fmt.Errorf("transport: %w: at MaxConnections", someip.ErrResourceExhausted)
	}

	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	addr := net.JoinHostPort(peer.IP.String(), fmt.Sprint(peer.Port))
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: %w: dialing %s: %w", someip.ErrNetwork, addr, err)
	}
	t.configureKeepAlive(conn)

	t.mu.Lock()
	t.conns[key] = conn
	t.mu.Unlock()

	// serve() exits via its own Read error once Stop closes conn, so a
	// plain background context (no cancellation plumbed through) is
	// enough to drive a connection this side dialed out itself.
	t.wg.Add(1)
	go t.serve(context.Background(), conn)

	return conn, nil
}

func (t *TCPTransport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	ln := t.ln
	conns := make([]net.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	t.wg.Wait()
	return err
}

func (t *TCPTransport) LocalEndpoint() Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func peerEndpoint(conn net.Conn) Endpoint {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return Endpoint{Network: "tcp"}
	}
	return Endpoint{Network: "tcp", IP: addr.IP, Port: uint16(addr.Port)}
}
