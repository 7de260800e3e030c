package sd

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

func fastSDConfig() someip.SDConfig {
	cfg := someip.DefaultConfig().SD
	cfg.InitialDelay = 5 * time.Millisecond
	cfg.RepetitionBase = 10 * time.Millisecond
	cfg.RepetitionMaxCount = 1
	cfg.CyclicOfferDelay = 200 * time.Millisecond
	return cfg
}

func TestOfferScheduleReachesCyclicAndStopOfferNotifies(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	sched := NewScheduler(fastSDConfig(), serverMgr, clientMgr.LocalEndpoint(), nil)
	offer := &ServiceOffer{ServiceID: 0x1000, InstanceID: 1, MajorVersion: 1, TTL: 5}

	var seen []Message
	clientMgr.Subscribe(ServiceID, func(msg someip.Message, peer transport.Endpoint) {
		m, err := Decode(msg.Payload)
		if err == nil {
			seen = append(seen, m)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.OfferService(ctx, offer)

	deadline := time.After(2 * time.Second)
	for offer.State() != StateCyclic {
		select {
		case <-deadline:
			t.Fatalf("offer never reached StateCyclic, stuck at %v", offer.State())
		case <-time.After(5 * time.Millisecond):
		}
	}

	sched.StopOffer(offer)
	time.Sleep(50 * time.Millisecond)

	foundStop := false
	for _, m := range seen {
		if len(m.Entries) == 1 && m.Entries[0].TTL == 0 {
			foundStop = true
		}
	}
	if !foundStop {
		t.Fatal("expected a STOP_OFFER (ttl=0) entry after StopOffer")
	}
}

func TestFirstOfferSetsRebootFlagOnly(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	sched := NewScheduler(fastSDConfig(), serverMgr, clientMgr.LocalEndpoint(), nil)
	offer := &ServiceOffer{ServiceID: 0x3000, InstanceID: 1, MajorVersion: 1, TTL: 5}

	var seen []Message
	clientMgr.Subscribe(ServiceID, func(msg someip.Message, peer transport.Endpoint) {
		m, err := Decode(msg.Payload)
		if err == nil {
			seen = append(seen, m)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.OfferService(ctx, offer)

	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 OFFERs, got %d", len(seen))
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !seen[0].Reboot {
		t.Fatal("expected the first OFFER to carry the reboot flag")
	}
	for i, m := range seen[1:] {
		if m.Reboot {
			t.Fatalf("expected OFFER #%d to have the reboot flag cleared", i+1)
		}
	}
}

func TestClientFindServiceCollectsOffer(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	client := NewClient(clientMgr, serverMgr.LocalEndpoint(), nil)
	serverMgr.Subscribe(ServiceID, client.Handle)

	// Simulate a server directly answering FIND with an OFFER.
	serverMgr.Subscribe(ServiceID, func(msg someip.Message, peer transport.Endpoint) {
		sdMsg, err := Decode(msg.Payload)
		if err != nil || len(sdMsg.Entries) == 0 || sdMsg.Entries[0].Type != EntryFindService {
			return
		}
		offerEntry := Entry{Type: EntryOfferService, ServiceID: 0x1000, InstanceID: 1, MajorVersion: 1, TTL: 10}
		payload := Encode(Message{Entries: []Entry{offerEntry}})
		resp := someip.NewNotification(someip.MessageId{ServiceID: ServiceID, MethodID: MethodID}, 1, payload)
		serverMgr.Send(resp, peer)
	})

	done := make(chan []DiscoveredInstance, 1)
	client.FindService(0x1000, 100*time.Millisecond, func(results []DiscoveredInstance) { done <- results })

	select {
	case results := <-done:
		if len(results) != 1 || results[0].ServiceID != 0x1000 {
			t.Fatalf("unexpected find results: %+v", results)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for find results")
	}
}

func TestSubscribeEventgroupAckFlow(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	var gotReceiver transport.Endpoint
	sdServer := NewServer(serverMgr, clientMgr.LocalEndpoint(), NewScheduler(fastSDConfig(), serverMgr, clientMgr.LocalEndpoint(), nil),
		func(serviceID, instanceID, eventgroupID uint16, receiverEndpoint transport.Endpoint) SubscriptionDecision {
			gotReceiver = receiverEndpoint
			return SubscriptionDecision{Accept: true, TTL: 5 * time.Second}
		}, nil)
	serverMgr.Subscribe(ServiceID, sdServer.Handle)

	client := NewClient(clientMgr, serverMgr.LocalEndpoint(), nil)
	clientMgr.Subscribe(ServiceID, client.Handle)

	done := make(chan bool, 1)
	client.SubscribeEventgroup(0x1000, 1, 0x05, 1, 5*time.Second, clientMgr.LocalEndpoint(), func(ack bool, multicast *IPv4Option) {
		done <- ack
	})

	select {
	case ack := <-done:
		if !ack {
			t.Fatal("expected subscription to be accepted")
		}
		if !gotReceiver.IP.Equal(clientMgr.LocalEndpoint().IP) {
			t.Fatalf("expected server to decode the client's receiver endpoint, got %+v", gotReceiver)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe ack")
	}
}

func TestReapExpiredFiresUnavailable(t *testing.T) {
	clientMgr := newLoopbackManager(t)
	client := NewClient(clientMgr, transport.Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1"), Port: 1}, nil)

	unavailable := make(chan uint16, 1)
	client.Watch(0x1000, nil, func(serviceID, instanceID uint16) { unavailable <- serviceID })

	client.handleOffer(Entry{Type: EntryOfferService, ServiceID: 0x1000, InstanceID: 1, MajorVersion: 1, TTL: 1}, nil, transport.Endpoint{})

	time.Sleep(1100 * time.Millisecond)
	client.ReapExpired()

	select {
	case sid := <-unavailable:
		if sid != 0x1000 {
			t.Fatalf("unexpected service id: %#x", sid)
		}
	default:
		t.Fatal("expected ReapExpired to fire onUnavailable")
	}
}

func TestOfferServiceRecordsMetrics(t *testing.T) {
	serverMgr := newLoopbackManager(t)
	clientMgr := newLoopbackManager(t)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sched := NewScheduler(fastSDConfig(), serverMgr, clientMgr.LocalEndpoint(), nil)
	sched.SetMetrics(m)
	offer := &ServiceOffer{ServiceID: 0x2000, InstanceID: 1, MajorVersion: 1, TTL: 5}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.OfferService(ctx, offer)
	time.Sleep(20 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "someip_sd_services_offered" {
			found = true
			if len(f.Metric) != 1 || f.Metric[0].GetGauge().GetValue() != 1 {
				t.Fatalf("expected services_offered=1, got %+v", f.Metric)
			}
		}
	}
	if !found {
		t.Fatal("expected someip_sd_services_offered to be registered")
	}
}
