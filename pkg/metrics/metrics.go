// Package metrics exposes Prometheus counters/gauges for the RPC
// correlator, TP sublayer and Service Discovery engine, served over
// an optional debug HTTP listener. It has no teacher analogue (the
// teacher reports state only through logging), so it is grounded on
// the Prometheus usage in the pack's socket-stats sibling repos
// instead: a registry-scoped collector set built with promauto,
// served by promhttp.Handler.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this module publishes, scoped to one
// prometheus.Registerer so a process embedding multiple instances can
// keep them independent.
type Registry struct {
	RPCCallsIssued     *prometheus.CounterVec // labels: service_id, method_id
	RPCCallsCompleted   *prometheus.CounterVec // labels: result (see pkg/rpc.Result.String)
	RPCCallsPending     prometheus.Gauge

	TPTransfersStarted   prometheus.Counter
	TPTransfersCompleted prometheus.Counter
	TPTransfersTimedOut  prometheus.Counter
	TPTransfersActive    prometheus.Gauge

	SDServicesOffered    prometheus.Gauge
	SDServicesDiscovered prometheus.Gauge
	SDSubscriptionsActive prometheus.Gauge
}

// New registers and returns a Registry under reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to publish alongside process/Go
// runtime metrics.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		RPCCallsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "someip",
			Subsystem: "rpc",
			Name:      "calls_issued_total",
			Help:      "RPC calls issued by CallAsync/CallSync.",
		}, []string{"service_id", "method_id"}),
		RPCCallsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "someip",
			Subsystem: "rpc",
			Name:      "calls_completed_total",
			Help:      "RPC calls completed, by outcome.",
		}, []string{"result"}),
		RPCCallsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "someip",
			Subsystem: "rpc",
			Name:      "calls_pending",
			Help:      "RPC calls awaiting a response or timeout.",
		}),
		TPTransfersStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "someip",
			Subsystem: "tp",
			Name:      "transfers_started_total",
			Help:      "SOME/IP-TP reassembly transfers admitted.",
		}),
		TPTransfersCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "someip",
			Subsystem: "tp",
			Name:      "transfers_completed_total",
			Help:      "SOME/IP-TP reassembly transfers completed.",
		}),
		TPTransfersTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "someip",
			Subsystem: "tp",
			Name:      "transfers_timed_out_total",
			Help:      "SOME/IP-TP reassembly transfers reaped idle.",
		}),
		TPTransfersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "someip",
			Subsystem: "tp",
			Name:      "transfers_active",
			Help:      "SOME/IP-TP reassembly transfers currently in flight.",
		}),
		SDServicesOffered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "someip",
			Subsystem: "sd",
			Name:      "services_offered",
			Help:      "Services currently announced by the local offer scheduler.",
		}),
		SDServicesDiscovered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "someip",
			Subsystem: "sd",
			Name:      "services_discovered",
			Help:      "Remote service instances currently believed live.",
		}),
		SDSubscriptionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "someip",
			Subsystem: "sd",
			Name:      "subscriptions_active",
			Help:      "Eventgroup subscriptions currently held by event.Bus.",
		}),
	}
}

// ServeDebug starts an HTTP listener on addr serving /metrics against
// reg until ctx is cancelled. It is optional, debug-only tooling: no
// SOME/IP traffic depends on it running.
func ServeDebug(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errc:
		return err
	}
}
