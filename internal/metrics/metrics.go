// Package metrics exposes ambient Prometheus counters/gauges for the
// server, optionally served over HTTP. Metrics are observational only
// — spec.md §9 and SPEC_FULL.md §9 are explicit that no command's
// behaviour may depend on whether metrics are enabled, so every
// method on a nil *Metrics is a safe no-op.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the counters/gauges the server updates as it runs.
type Metrics struct {
	registry         *prometheus.Registry
	connectionsTotal prometheus.Counter
	commandsTotal    *prometheus.CounterVec
	replicaCount     prometheus.Gauge
	masterOffset     prometheus.Gauge
}

// New builds a fresh registry and metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvrelay_connections_total",
			Help: "Total TCP connections accepted.",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrelay_commands_total",
			Help: "Commands executed, by name.",
		}, []string{"command"}),
		replicaCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvrelay_replicas_attached",
			Help: "Replicas currently attached to this master.",
		}),
		masterOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvrelay_master_offset_bytes",
			Help: "Current master replication offset, in bytes.",
		}),
	}
	reg.MustRegister(m.connectionsTotal, m.commandsTotal, m.replicaCount, m.masterOffset)
	return m
}

// ConnectionAccepted records one accepted inbound connection.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
}

// CommandExecuted records one executed command by name.
func (m *Metrics) CommandExecuted(name string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(name).Inc()
}

// SetReplicaCount reports the current number of attached replicas.
func (m *Metrics) SetReplicaCount(n int) {
	if m == nil {
		return
	}
	m.replicaCount.Set(float64(n))
}

// SetMasterOffset reports the current master replication offset.
func (m *Metrics) SetMasterOffset(offset int64) {
	if m == nil {
		return
	}
	m.masterOffset.Set(float64(offset))
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks
// until the listener errors, so callers should run it in its own
// goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
