package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of the ASR client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// REST metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec

	// Session metrics
	SessionInvalidations *prometheus.CounterVec

	// Realtime metrics
	RealtimeConnects *prometheus.CounterVec
	RealtimeFrames   *prometheus.CounterVec
	RealtimeActive   prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_client_requests_total",
			Help: "Total number of REST requests sent to the ASR backend",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_client_request_duration_seconds",
			Help:    "Duration of REST requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_client_request_errors_total",
			Help: "Total number of failed REST requests by error kind",
		}, []string{"method", "route", "kind"}),

		SessionInvalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_client_session_invalidations_total",
			Help: "Total number of sessions torn down",
		}, []string{"reason"}),

		RealtimeConnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_client_realtime_connects_total",
			Help: "Realtime channel connection attempts by result",
		}, []string{"result"}),
		RealtimeFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_client_realtime_frames_total",
			Help: "Realtime frames by direction and type",
		}, []string{"direction", "type"}),
		RealtimeActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_client_realtime_active",
			Help: "Number of open realtime channels",
		}),
	}
}

// RecordHTTPRequest records a completed REST round trip
func (m *Metrics) RecordHTTPRequest(method, route, code string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordHTTPError records a REST failure
func (m *Metrics) RecordHTTPError(method, route, kind string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, route, kind).Inc()
}

// RecordSessionInvalidation counts a session teardown
func (m *Metrics) RecordSessionInvalidation(reason string) {
	if m == nil {
		return
	}
	m.SessionInvalidations.WithLabelValues(reason).Inc()
}

// RecordRealtimeConnect counts a realtime handshake attempt
func (m *Metrics) RecordRealtimeConnect(result string) {
	if m == nil {
		return
	}
	m.RealtimeConnects.WithLabelValues(result).Inc()
}

// RecordRealtimeFrame counts a realtime frame; direction is "in" or "out"
func (m *Metrics) RecordRealtimeFrame(direction, frameType string) {
	if m == nil {
		return
	}
	m.RealtimeFrames.WithLabelValues(direction, frameType).Inc()
}

// RealtimeOpened and RealtimeClosed track open channels
func (m *Metrics) RealtimeOpened() {
	if m == nil {
		return
	}
	m.RealtimeActive.Inc()
}

func (m *Metrics) RealtimeClosed() {
	if m == nil {
		return
	}
	m.RealtimeActive.Dec()
}
