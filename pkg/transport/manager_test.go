package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-someip/someip"
)

func TestManagerDispatchesByServiceID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewUDPTransport(Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1")}, nil)
	mgr := NewManager(server, nil)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	gotA := make(chan someip.Message, 1)
	gotB := make(chan someip.Message, 1)
	mgr.Subscribe(0x1000, func(msg someip.Message, peer Endpoint) { gotA <- msg })
	mgr.Subscribe(0x2000, func(msg someip.Message, peer Endpoint) { gotB <- msg })

	client := NewUDPTransport(Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1")}, nil)
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Stop()

	msg := testMessage() // ServiceID 0x1000
	if err := client.Send(msg, mgr.LocalEndpoint()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-gotA:
	case <-time.After(2 * time.Second):
		t.Fatal("expected subscriber for 0x1000 to be invoked")
	}
	select {
	case <-gotB:
		t.Fatal("subscriber for 0x2000 should not have been invoked")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManagerUnsubscribe(t *testing.T) {
	server := NewUDPTransport(Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1")}, nil)
	mgr := NewManager(server, nil)

	called := false
	cancel := mgr.Subscribe(0x1000, func(msg someip.Message, peer Endpoint) { called = true })
	cancel()
	cancel() // must be safe to call twice

	mgr.handle(testMessage(), Endpoint{})
	if called {
		t.Fatal("expected cancelled subscription to no longer be invoked")
	}
}
