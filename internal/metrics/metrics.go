package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for gate transitions and push dispatch.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	gateWrites  *prometheus.CounterVec
	openEdges   prometheus.Counter
	gateOpen    prometheus.Gauge
	deliveries  *prometheus.CounterVec
	pruned      prometheus.Counter
	dispatchDur prometheus.Histogram
	subscribers prometheus.Gauge
}

// New registers every collector on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		gateWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "busreserve_gate_writes_total",
			Help: "Persisted reservation gate changes by cause.",
		}, []string{"cause"}),
		openEdges: factory.NewCounter(prometheus.CounterOpts{
			Name: "busreserve_gate_open_edges_total",
			Help: "Closed to open transitions that triggered a dispatch.",
		}),
		gateOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "busreserve_gate_open",
			Help: "Current aggregate gate value (1 open, 0 closed).",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "busreserve_push_deliveries_total",
			Help: "Web Push delivery attempts by outcome.",
		}, []string{"status"}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "busreserve_push_pruned_total",
			Help: "Subscriptions removed after the push service rejected their channel.",
		}),
		dispatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "busreserve_dispatch_duration_seconds",
			Help:    "Wall time of one broadcast fan-out.",
			Buckets: prometheus.DefBuckets,
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "busreserve_push_subscribers",
			Help: "Subscriptions targeted by the last broadcast.",
		}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) GateWrite(cause string, open bool) {
	if m == nil {
		return
	}
	m.gateWrites.WithLabelValues(cause).Inc()
	m.GateState(open)
}

// GateState sets the gate gauge without counting a write, e.g. from the
// persisted gate at startup.
func (m *Metrics) GateState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.gateOpen.Set(1)
	} else {
		m.gateOpen.Set(0)
	}
}

func (m *Metrics) OpenEdge() {
	if m == nil {
		return
	}
	m.openEdges.Inc()
}

func (m *Metrics) Delivery(status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
}

func (m *Metrics) Pruned() {
	if m == nil {
		return
	}
	m.pruned.Inc()
}

// Dispatch records one completed fan-out.
func (m *Metrics) Dispatch(targets int, took time.Duration) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(targets))
	m.dispatchDur.Observe(took.Seconds())
}
