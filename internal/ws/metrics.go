package ws

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Route outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeStored    = "stored"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Metrics covers session lifecycle and routing on this node. A nil *Metrics is valid.
type Metrics struct {
	sessions      prometheus.Gauge
	bound         prometheus.Gauge
	registrations prometheus.Counter
	routed        *prometheus.CounterVec
	routeLatency  prometheus.Histogram

	mu       sync.Mutex
	bindings map[string]string // identity -> latest connection registered here
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dm_sessions_open",
			Help: "Websocket sessions currently open on this node.",
		}),
		bound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dm_identities_bound",
			Help: "User identities whose latest registration on this node is still open.",
		}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_registrations_total",
			Help: "Successful register requests.",
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dm_messages_routed_total",
			Help: "Send requests grouped by outcome.",
		}, []string{"outcome"}),
		routeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dm_route_latency_seconds",
			Help:    "Time from send request to echo.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		bindings: make(map[string]string),
	}

	reg.MustRegister(m.sessions, m.bound, m.registrations, m.routed, m.routeLatency)
	return m
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// sessionClosed drops the identity binding only when connID still holds it;
// a displaced session closing later changes nothing.
func (m *Metrics) sessionClosed(identity, connID string) {
	if m == nil {
		return
	}
	m.sessions.Dec()

	m.mu.Lock()
	defer m.mu.Unlock()
	if identity != "" && m.bindings[identity] == connID {
		delete(m.bindings, identity)
		m.bound.Set(float64(len(m.bindings)))
	}
}

// recordRegistration binds identity to connID, displacing any earlier
// connection of the same identity.
func (m *Metrics) recordRegistration(identity, connID string) {
	if m == nil {
		return
	}
	m.registrations.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[identity] = connID
	m.bound.Set(float64(len(m.bindings)))
}

func (m *Metrics) recordRoute(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(outcome).Inc()
	if outcome == OutcomeDelivered || outcome == OutcomeStored {
		m.routeLatency.Observe(dur.Seconds())
	}
}
