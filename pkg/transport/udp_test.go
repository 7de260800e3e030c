package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-someip/someip"
)

func testMessage() someip.Message {
	return someip.Message{
		ID:               someip.MessageId{ServiceID: 0x1000, MethodID: 0x0001},
		RequestID:        someip.RequestId{ClientID: 1, SessionID: 1},
		ProtocolVersion:  someip.ProtocolVersion,
		InterfaceVersion: 1,
		Type:             someip.MessageTypeRequest,
		ReturnCode:       someip.EOk,
		Payload:          []byte("ping"),
	}
}

func TestUDPTransportRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewUDPTransport(Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1")}, nil)
	received := make(chan someip.Message, 1)
	server.SetListener(func(msg someip.Message, peer Endpoint) { received <- msg })
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	defer server.Stop()

	client := NewUDPTransport(Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1")}, nil)
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Stop()

	if err := client.Send(testMessage(), server.LocalEndpoint()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Payload) != "ping" {
			t.Fatalf("unexpected payload: %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestUDPTransportRejectsOversizePayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewUDPTransport(Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1")}, nil)
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	big := testMessage()
	big.Payload = make([]byte, someip.MaxUDPPayload)
	peer := Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1"), Port: 1}
	if err := client.Send(big, peer); err == nil {
		t.Fatal("expected oversize payload to be rejected")
	}
}
