package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Pipeline metrics
	Classifications    *prometheus.CounterVec
	ChallengesIssued   *prometheus.CounterVec
	ChallengesVerified *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	Heartbeats         *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge

	// Security metrics
	SecurityBlocks *prometheus.CounterVec
	RateLimitHits  *prometheus.CounterVec
	BansIssued     *prometheus.CounterVec

	// Runtime metrics
	MemoryUsage prometheus.Gauge
	Goroutines  prometheus.Gauge

	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
}

// NewMetrics creates metrics registered with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics registered with registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_requests_total",
				Help: "Total number of requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shield_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shield_requests_in_flight",
				Help: "Number of requests currently being processed",
			},
		),

		Classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_classifications_total",
				Help: "Requests by client category",
			},
			[]string{"category"},
		),
		ChallengesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_challenges_issued_total",
				Help: "Total number of challenges issued",
			},
			[]string{"type"},
		),
		ChallengesVerified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_challenges_verified_total",
				Help: "Verification attempts by result",
			},
			[]string{"result"},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_deliveries_total",
				Help: "Payload deliveries by mode",
			},
			[]string{"mode"},
		),
		Heartbeats: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_heartbeats_total",
				Help: "Heartbeats by returned action",
			},
			[]string{"action"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shield_active_sessions",
				Help: "Number of open sessions",
			},
		),

		SecurityBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_security_blocks_total",
				Help: "Requests blocked before the pipeline",
			},
			[]string{"reason"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"route"},
		),
		BansIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_bans_issued_total",
				Help: "Bans issued by source",
			},
			[]string{"source"},
		),

		MemoryUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shield_memory_usage_bytes",
				Help: "Current heap allocation in bytes",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shield_goroutines",
				Help: "Number of running goroutines",
			},
		),

		WebSocketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "shield_websocket_connections",
				Help: "Number of live admin feed connections",
			},
		),
	}

	registry.MustRegister(
		metrics.RequestsTotal,
		metrics.RequestDuration,
		metrics.RequestsInFlight,
		metrics.Classifications,
		metrics.ChallengesIssued,
		metrics.ChallengesVerified,
		metrics.Deliveries,
		metrics.Heartbeats,
		metrics.ActiveSessions,
		metrics.SecurityBlocks,
		metrics.RateLimitHits,
		metrics.BansIssued,
		metrics.MemoryUsage,
		metrics.Goroutines,
		metrics.WebSocketConnections,
	)

	return metrics
}

// RecordRequest records a request metric
func (m *Metrics) RecordRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordClassification records the category of a request
func (m *Metrics) RecordClassification(category string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(category).Inc()
}

// RecordChallengeIssued records an issued challenge
func (m *Metrics) RecordChallengeIssued(puzzleType string) {
	if m == nil {
		return
	}
	m.ChallengesIssued.WithLabelValues(puzzleType).Inc()
}

// RecordVerification records the result of a verification
func (m *Metrics) RecordVerification(result string) {
	if m == nil {
		return
	}
	m.ChallengesVerified.WithLabelValues(result).Inc()
}

// RecordDelivery records a packaged delivery
func (m *Metrics) RecordDelivery(mode string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(mode).Inc()
}

// RecordHeartbeat records a heartbeat answer
func (m *Metrics) RecordHeartbeat(action string) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(action).Inc()
}

// SetActiveSessions sets the number of open sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSecurityBlock records a blocked request
func (m *Metrics) RecordSecurityBlock(reason string) {
	if m == nil {
		return
	}
	m.SecurityBlocks.WithLabelValues(reason).Inc()
}

// RecordRateLimitHit records a rate limit hit
func (m *Metrics) RecordRateLimitHit(route string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(route).Inc()
}

// RecordBan records an issued ban
func (m *Metrics) RecordBan(source string) {
	if m == nil {
		return
	}
	m.BansIssued.WithLabelValues(source).Inc()
}

// SetWebSocketConnections sets the live feed connection count
func (m *Metrics) SetWebSocketConnections(count int) {
	if m == nil {
		return
	}
	m.WebSocketConnections.Set(float64(count))
}
