package event

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/metrics"
	"github.com/go-someip/someip/pkg/transport"
)

func newLoopbackManager(t *testing.T) *transport.Manager {
	t.Helper()
	udp := transport.NewUDPTransport(transport.Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1")}, nil)
	mgr := transport.NewManager(udp, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() { cancel(); mgr.Stop() })
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return mgr
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	bus := NewBus(someip.MessageId{ServiceID: 0x1000}, serverMgr, someip.DefaultConfig().TP, nil)
	if err := bus.RegisterEvent(0x8001, 0x01, OnChange, false); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}

	got := make(chan someip.Message, 1)
	clientMgr.Subscribe(0x1000, func(msg someip.Message, peer transport.Endpoint) { got <- msg })

	bus.Subscribe(0x01, clientMgr.LocalEndpoint(), nil)
	if err := bus.Publish(0x8001, []byte("temp=21")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-got:
		if string(msg.Payload) != "temp=21" || msg.Type != someip.MessageTypeNotification {
			t.Fatalf("unexpected notification: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestFilterPrefixEquality(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	bus := NewBus(someip.MessageId{ServiceID: 0x1000}, serverMgr, someip.DefaultConfig().TP, nil)
	bus.RegisterEvent(0x8001, 0x01, OnChange, false)

	got := make(chan someip.Message, 1)
	clientMgr.Subscribe(0x1000, func(msg someip.Message, peer transport.Endpoint) { got <- msg })

	bus.Subscribe(0x01, clientMgr.LocalEndpoint(), []byte("temp="))
	bus.Publish(0x8001, []byte("hum=55")) // should not match
	bus.Publish(0x8001, []byte("temp=30"))

	select {
	case msg := <-got:
		if string(msg.Payload) != "temp=30" {
			t.Fatalf("expected only the matching publish to be delivered, got %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestFieldDeliversRetainedValueOnSubscribe(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	bus := NewBus(someip.MessageId{ServiceID: 0x1000}, serverMgr, someip.DefaultConfig().TP, nil)
	bus.RegisterEvent(0x8002, 0x02, OnChange, true)
	bus.Publish(0x8002, []byte("initial"))

	got := make(chan someip.Message, 1)
	clientMgr.Subscribe(0x1000, func(msg someip.Message, peer transport.Endpoint) { got <- msg })

	bus.Subscribe(0x02, clientMgr.LocalEndpoint(), nil)

	select {
	case msg := <-got:
		if string(msg.Payload) != "initial" {
			t.Fatalf("expected retained field value, got %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retained field delivery")
	}
}

func TestPeriodicPublisherTicks(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	bus := NewBus(someip.MessageId{ServiceID: 0x1000}, serverMgr, someip.DefaultConfig().TP, nil)
	bus.RegisterEvent(0x8003, 0x03, Periodic, false)

	n := 0
	bus.RegisterPeriodic(0x8003, 20*time.Millisecond, func() []byte {
		n++
		return []byte{byte(n)}
	})

	got := make(chan someip.Message, 4)
	clientMgr.Subscribe(0x1000, func(msg someip.Message, peer transport.Endpoint) {
		select {
		case got <- msg:
		default:
		}
	})
	bus.Subscribe(0x03, clientMgr.LocalEndpoint(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx, 5*time.Millisecond)
	defer func() { cancel(); bus.Stop() }()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for periodic publish")
	}
}

func TestSubscribeRecordsMetrics(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	bus := NewBus(someip.MessageId{ServiceID: 0x1000}, serverMgr, someip.DefaultConfig().TP, nil)
	bus.SetMetrics(m)
	if err := bus.RegisterEvent(0x8001, 0x01, OnChange, false); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}

	cancel := bus.Subscribe(0x01, clientMgr.LocalEndpoint(), nil)
	defer cancel()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "someip_sd_subscriptions_active" {
			found = true
			if len(f.Metric) != 1 || f.Metric[0].GetGauge().GetValue() != 1 {
				t.Fatalf("expected subscriptions_active=1, got %+v", f.Metric)
			}
		}
	}
	if !found {
		t.Fatal("expected someip_sd_subscriptions_active to be registered")
	}
}

func TestClientSubscriptionStateMachine(t *testing.T) {
	c := NewClient()
	var states []SubscriptionState
	c.SubscribeEventgroup(0x1000, 1, 0x01, nil, func(s SubscriptionState) { states = append(states, s) })

	if st, ok := c.State(0x01); !ok || st != Requested {
		t.Fatalf("expected REQUESTED, got %v ok=%v", st, ok)
	}
	c.Ack(0x01)
	if st, _ := c.State(0x01); st != Subscribed {
		t.Fatalf("expected SUBSCRIBED, got %v", st)
	}
	c.ExpireSubscription(0x01)
	if st, _ := c.State(0x01); st != Expired {
		t.Fatalf("expected EXPIRED, got %v", st)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 status callbacks, got %d", len(states))
	}
}

func TestClientDeliverRoutesByMessageID(t *testing.T) {
	c := NewClient()
	got := make(chan []byte, 1)
	id := someip.MessageId{ServiceID: 0x1000, MethodID: 0x8001}
	c.BindNotification(id, func(eventID uint16, payload []byte) { got <- payload })

	c.Deliver(someip.NewNotification(id, 1, []byte("hello")))
	select {
	case payload := <-got:
		if string(payload) != "hello" {
			t.Fatalf("unexpected payload: %q", payload)
		}
	default:
		t.Fatal("expected Deliver to invoke the bound handler synchronously")
	}
}
