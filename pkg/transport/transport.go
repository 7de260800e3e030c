// Package transport implements the three wire carriers SOME/IP runs
// over — UDP, multicast UDP and TCP — behind one Transport interface,
// plus a Manager that dispatches inbound messages to per-service
// subscribers the way the teacher's BusManager dispatches inbound CAN
// frames to per-id subscribers.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-someip/someip"
)

// Listener receives one decoded inbound Message together with the
// Endpoint it arrived from. Implementations must not block.
type Listener func(msg someip.Message, peer Endpoint)

// Transport is a bidirectional message carrier. Concrete
// implementations: UDPTransport, MulticastTransport, TCPTransport.
type Transport interface {
	// Start begins receiving. It returns once listening has begun;
	// the receive loop itself runs in the background until ctx is
	// cancelled or Stop is called.
	Start(ctx context.Context) error
	// Stop halts the receive loop and releases any sockets. It never
	// blocks the caller longer than the configured send timeout.
	Stop() error
	// Send encodes and transmits msg to peer. On failure it returns a
	// networking error; it never blocks longer than the configured
	// send timeout.
	Send(msg someip.Message, peer Endpoint) error
	// SetListener installs the callback invoked for every inbound
	// Message. Must be called before Start.
	SetListener(l Listener)
	// LocalEndpoint returns the bound local address (port resolved if
	// the configured port was 0).
	LocalEndpoint() Endpoint
}

// Endpoint identifies a transport peer: protocol://addr:port.
type Endpoint struct {
	Network string // "udp", "tcp" or "multicast"
	IP      net.IP
	Port    uint16
}

// ParseEndpoint parses "protocol://addr:port". addr must be an IPv4
// dotted-quad or IPv6 textual form; port 0 means "auto-assign". A
// "multicast" protocol additionally requires addr to fall in 224.0.0.0/4.
func ParseEndpoint(s string) (Endpoint, error) {
	proto, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Endpoint{}, fmt.Errorf("transport: endpoint %q is missing a protocol", s)
	}
	switch proto {
	case "udp", "tcp", "multicast":
	default:
		return Endpoint{}, fmt.Errorf("transport: unknown protocol %q", proto)
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: invalid port %q", portStr)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Endpoint{}, fmt.Errorf("transport: invalid address %q", host)
	}
	if proto == "multicast" && !ip.IsMulticast() {
		return Endpoint{}, fmt.Errorf("transport: %q is not in the multicast range 224.0.0.0/4", host)
	}
	return Endpoint{Network: proto, IP: ip, Port: uint16(port)}, nil
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Network, net.JoinHostPort(e.IP.String(), strconv.Itoa(int(e.Port))))
}

// IsZero reports whether e is the zero Endpoint.
func (e Endpoint) IsZero() bool { return e.IP == nil && e.Port == 0 && e.Network == "" }
