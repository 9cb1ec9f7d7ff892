package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can run without instrumentation.
type Metrics struct {
	// ConnectionsActive counts authenticated WebSocket connections.
	ConnectionsActive prometheus.Gauge

	// ConnectionsTotal counts handshakes. Labels: result (accepted|rejected)
	ConnectionsTotal *prometheus.CounterVec

	// EventsTotal counts gateway events. Labels: event, direction (inbound|outbound)
	EventsTotal *prometheus.CounterVec

	// DroppedMessages counts outbound messages discarded because a
	// connection's send buffer was full.
	DroppedMessages prometheus.Counter

	// RateLimited counts inbound events rejected by the per-user limiter.
	RateLimited prometheus.Counter

	// Conflicts counts version mismatches reported to senders.
	Conflicts prometheus.Counter

	// EditingClaimsActive tracks live editing claims.
	EditingClaimsActive prometheus.Gauge

	// ConflictChecks counts pre-save checks. Labels: result (clear|conflict|error)
	ConflictChecks *prometheus.CounterVec

	// HTTPRequestDuration measures REST latency. Labels: method, route, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tandem_connections_active",
			Help: "Current number of authenticated realtime connections",
		}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_connections_total",
			Help: "Total realtime handshakes by result",
		}, []string{"result"}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_events_total",
			Help: "Total realtime events by name and direction",
		}, []string{"event", "direction"}),
		DroppedMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "tandem_dropped_messages_total",
			Help: "Outbound messages dropped because a send buffer was full",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "tandem_events_rate_limited_total",
			Help: "Inbound realtime events rejected by the rate limiter",
		}),
		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tandem_conflicts_total",
			Help: "Version mismatches reported to the sending client",
		}),
		EditingClaimsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tandem_editing_claims_active",
			Help: "Current number of active editing claims",
		}),
		ConflictChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_conflict_checks_total",
			Help: "Pre-save conflict checks by result",
		}, []string{"result"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tandem_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route", "status_code"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues("accepted").Inc()
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) ConnectionRejected() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues("rejected").Inc()
}

// EventReceived counts an inbound client event.
func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event, "inbound").Inc()
}

// EventSent counts an outbound server event.
func (m *Metrics) EventSent(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event, "outbound").Inc()
}

func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.DroppedMessages.Inc()
}

func (m *Metrics) EventRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) ConflictReported() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

// SetEditingClaims records the current number of editing claims.
func (m *Metrics) SetEditingClaims(n int) {
	if m == nil {
		return
	}
	m.EditingClaimsActive.Set(float64(n))
}

// ConflictCheck records a pre-save check outcome.
func (m *Metrics) ConflictCheck(result string) {
	if m == nil {
		return
	}
	m.ConflictChecks.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records the latency of a REST call.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, statusCode).Observe(durationSeconds)
}
