package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the docket server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Invite lifecycle metrics.
	InviteTransitionsTotal *prometheus.CounterVec

	// Access evaluation metrics.
	AccessDecisionsTotal *prometheus.CounterVec

	// Event recorder metrics.
	RecorderBufferSize   prometheus.Gauge
	RecorderFlushesTotal *prometheus.CounterVec
	RecorderEventsTotal  prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Rate limiting metrics.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docket_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docket_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		InviteTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_invite_transitions_total",
			Help: "Total number of invite status transitions.",
		}, []string{"transition"}),

		AccessDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_access_decisions_total",
			Help: "Total number of access evaluations by check and outcome.",
		}, []string{"check", "allowed"}),

		RecorderBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docket_recorder_buffer_size",
			Help: "Current number of buffered lifecycle events.",
		}),

		RecorderFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_recorder_flushes_total",
			Help: "Total number of event recorder flushes.",
		}, []string{"status"}),

		RecorderEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docket_recorder_events_total",
			Help: "Total number of lifecycle events recorded.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docket_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docket_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.InviteTransitionsTotal,
		m.AccessDecisionsTotal,
		m.RecorderBufferSize,
		m.RecorderFlushesTotal,
		m.RecorderEventsTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.RateLimitRejectionsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// IncInviteTransition increments the invite transition counter.
func (m *Metrics) IncInviteTransition(transition string) {
	m.InviteTransitionsTotal.WithLabelValues(transition).Inc()
}

// IncAccessDecision increments the access decision counter.
func (m *Metrics) IncAccessDecision(check string, allowed bool) {
	outcome := "false"
	if allowed {
		outcome = "true"
	}
	m.AccessDecisionsTotal.WithLabelValues(check, outcome).Inc()
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// SetRecorderBufferSize updates the buffered event gauge. Wire it to the
// recorder's buffer hook.
func (m *Metrics) SetRecorderBufferSize(n int) {
	m.RecorderBufferSize.Set(float64(n))
}

// ObserveFlush records a recorder flush outcome. Wire it to the recorder's
// flush hook so buffer pressure shows up without the recorder importing
// this package.
func (m *Metrics) ObserveFlush(n int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RecorderFlushesTotal.WithLabelValues(status).Inc()
	if err == nil {
		m.RecorderEventsTotal.Add(float64(n))
	}
}
