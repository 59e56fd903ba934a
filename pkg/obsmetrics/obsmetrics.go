// Package obsmetrics wires each service's self-observability surface: a
// Prometheus registry plus the /metrics and /health HTTP endpoints every
// AIPerf process exposes (spec.md §9, generalizing the teacher's
// per-worker ServePrometheus handler in pkg/worker/metrics.go onto the
// full service set and swapping its hand-rolled text/plain writer for
// prometheus/client_golang).
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the counters and gauges common to every AIPerf service,
// labeled by service id the way the teacher's metrics lines were labeled
// by worker id.
type Registry struct {
	reg *prometheus.Registry

	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	BusErrors        *prometheus.CounterVec
	InFlight         *prometheus.GaugeVec
}

// New builds a Registry for serviceID and registers the standard
// collectors plus the Go runtime/process collectors.
func New(serviceID string) *Registry {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service_id": serviceID}

	r := &Registry{
		reg: reg,
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "aiperf",
			Name:        "bus_messages_sent_total",
			Help:        "Messages sent on the bus, by message type.",
			ConstLabels: constLabels,
		}, []string{"message_type"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "aiperf",
			Name:        "bus_messages_received_total",
			Help:        "Messages received from the bus, by message type.",
			ConstLabels: constLabels,
		}, []string{"message_type"}),
		BusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "aiperf",
			Name:        "bus_errors_total",
			Help:        "Bus send/receive errors, by cause.",
			ConstLabels: constLabels,
		}, []string{"cause"}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "aiperf",
			Name:        "requests_in_flight",
			Help:        "Requests currently being processed.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
	}

	reg.MustRegister(r.MessagesSent, r.MessagesReceived, r.BusErrors, r.InFlight)
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return r
}

// RegisterHTTP mounts /metrics and /health on mux, mirroring the teacher's
// Worker.RegisterMetricsHTTP wiring.
func (r *Registry) RegisterHTTP(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}
