package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-someip/someip"
)

func TestMulticastTransportRoundTrip(t *testing.T) {
	group := net.ParseIP("224.224.224.245")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewMulticastTransport(Endpoint{Network: "multicast", IP: group, Port: 0}, nil, nil)
	received := make(chan someip.Message, 1)
	server.SetListener(func(msg someip.Message, peer Endpoint) { received <- msg })

	// A fixed, ephemeral-range port so both ends join the same group;
	// port 0 cannot be used for multicast group membership.
	server.local.Port = 31999
	if err := server.Start(ctx); err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer server.Stop()

	client := NewMulticastTransport(Endpoint{Network: "multicast", IP: group, Port: 31999}, nil, nil)
	if err := client.Start(ctx); err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer client.Stop()

	peer := Endpoint{Network: "multicast", IP: group, Port: 31999}
	if err := client.Send(testMessage(), peer); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Payload) != "ping" {
			t.Fatalf("unexpected payload: %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Skip("no multicast loopback delivery in this environment")
	}
}
