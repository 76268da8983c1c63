package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientMetrics instruments the protocol client. All methods are safe on
// a nil receiver so library consumers can opt out of instrumentation.
type ClientMetrics struct {
	registry *prometheus.Registry

	connectTotal    *prometheus.CounterVec
	reconnectTotal  prometheus.Counter
	framesTotal     *prometheus.CounterVec
	malformedTotal  prometheus.Counter
	heartbeatsTotal prometheus.Counter
	outcomesTotal   *prometheus.CounterVec
	uploadDuration  *prometheus.HistogramVec
}

func NewClientMetrics(service string) *ClientMetrics {
	registry := prometheus.NewRegistry()

	connectTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdx",
			Subsystem: "stream",
			Name:      "connect_total",
			Help:      "Stream connection attempts by result.",
		},
		[]string{"service", "result"},
	)
	reconnectTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sdx",
			Subsystem: "stream",
			Name:      "reconnect_total",
			Help:      "Scheduled stream reconnection attempts.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdx",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Received protocol frames by type.",
		},
		[]string{"service", "type"},
	)
	malformedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sdx",
			Subsystem: "stream",
			Name:      "malformed_frames_total",
			Help:      "Frames dropped because they failed to parse.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	heartbeatsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sdx",
			Subsystem: "stream",
			Name:      "heartbeats_total",
			Help:      "Keepalive probes sent.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	outcomesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdx",
			Subsystem: "upload",
			Name:      "outcomes_total",
			Help:      "Delivered terminal outcomes by arbitration path and status.",
		},
		[]string{"service", "path", "status"},
	)
	uploadDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sdx",
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Tracked upload duration from submit to outcome.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		connectTotal, reconnectTotal, framesTotal, malformedTotal,
		heartbeatsTotal, outcomesTotal, uploadDuration,
	)

	return &ClientMetrics{
		registry: registry,

		connectTotal:    connectTotal,
		reconnectTotal:  reconnectTotal,
		framesTotal:     framesTotal,
		malformedTotal:  malformedTotal,
		heartbeatsTotal: heartbeatsTotal,
		outcomesTotal:   outcomesTotal,
		uploadDuration:  uploadDuration,
	}
}

func (m *ClientMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ClientMetrics) ObserveConnect(service string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.connectTotal.WithLabelValues(service, result).Inc()
}

func (m *ClientMetrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnectTotal.Inc()
}

func (m *ClientMetrics) ObserveFrame(service, frameType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(service, frameType).Inc()
}

func (m *ClientMetrics) ObserveMalformedFrame() {
	if m == nil {
		return
	}
	m.malformedTotal.Inc()
}

func (m *ClientMetrics) ObserveHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsTotal.Inc()
}

func (m *ClientMetrics) ObserveOutcome(service, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(service, path, status).Inc()
	m.uploadDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}
