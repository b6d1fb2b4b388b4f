// Package metrics defines the Prometheus metrics for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conference_transcription"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Audio metrics
	FramesReceived prometheus.Counter
	FramesDropped  *prometheus.CounterVec
	AudioBytes     prometheus.Counter

	// Caption event metrics
	EventsPartial prometheus.Counter
	EventsFinal   prometheus.Counter
	EventsError   prometheus.Counter
	EventsDropped *prometheus.CounterVec

	// Backend call metrics
	BackendOpens    prometheus.Counter
	BackendReopens  *prometheus.CounterVec
	BackendErrors   *prometheus.CounterVec
	BackendDuration prometheus.Histogram

	// Transport reconnect metrics
	ReconnectAttempts prometheus.Counter
	ReconnectFailures prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active transcription sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of transcription sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total audio frames received by the relay",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total audio frames dropped",
		}, []string{"reason"}),
		AudioBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes received by the relay",
		}),

		EventsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_partial_total",
			Help:      "Total interim caption events published",
		}),
		EventsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_final_total",
			Help:      "Total final caption events published",
		}),
		EventsError: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_error_total",
			Help:      "Total error events published",
		}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total caption events dropped before delivery",
		}, []string{"reason"}),

		BackendOpens: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_opens_total",
			Help:      "Total recognition backend calls opened",
		}),
		BackendReopens: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_reopens_total",
			Help:      "Total recognition backend call reopens",
		}, []string{"reason"}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Total recognition backend errors",
		}, []string{"code"}),
		BackendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Duration of individual backend streaming calls",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 300},
		}),

		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total transport reconnect attempts",
		}),
		ReconnectFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_failures_total",
			Help:      "Total exhausted transport reconnects",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFrame records one audio frame received.
func (m *Metrics) RecordFrame(bytes int) {
	m.FramesReceived.Inc()
	m.AudioBytes.Add(float64(bytes))
}

// RecordFrameDropped records a dropped audio frame.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordEvent records a published caption event by finality.
func (m *Metrics) RecordEvent(isFinal bool) {
	if isFinal {
		m.EventsFinal.Inc()
	} else {
		m.EventsPartial.Inc()
	}
}

// RecordErrorEvent records a published error event.
func (m *Metrics) RecordErrorEvent() {
	m.EventsError.Inc()
}

// RecordEventDropped records an event dropped before delivery.
func (m *Metrics) RecordEventDropped(reason string) {
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordBackendOpen records a backend streaming call being opened.
func (m *Metrics) RecordBackendOpen() {
	m.BackendOpens.Inc()
}

// RecordBackendReopen records a backend call reopen with its trigger.
func (m *Metrics) RecordBackendReopen(reason string) {
	m.BackendReopens.WithLabelValues(reason).Inc()
}

// RecordBackendError records a backend error by status code.
func (m *Metrics) RecordBackendError(code string) {
	m.BackendErrors.WithLabelValues(code).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
