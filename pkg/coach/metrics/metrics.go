// Package metrics holds the Prometheus instrumentation of the coaching engine.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	TurnsTotal      *prometheus.CounterVec

	// Guidance metrics
	GuidanceTotal    *prometheus.CounterVec
	TriggersDropped  *prometheus.CounterVec
	StaleResults     prometheus.Counter
	ProviderDuration *prometheus.HistogramVec

	// Post-call metrics
	AnalysesTotal *prometheus.CounterVec

	// Outbound metrics
	EventsDropped *prometheus.CounterVec

	// Audio metrics
	AudioFramesDropped prometheus.Counter
}

// New creates a new Metrics instance with all metrics registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callcoach"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions in the registry",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of ended sessions by end reason",
		}, []string{"reason"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Transcript events by outcome",
		}, []string{"outcome"}),
		GuidanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guidance_total",
			Help:      "Guidance records merged, by source and fallback reason",
		}, []string{"source", "reason"}),
		TriggersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guidance_triggers_dropped_total",
			Help:      "Guidance triggers dropped, by reason",
		}, []string{"reason"}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guidance_stale_results_total",
			Help:      "Guidance results discarded because the session had ended",
		}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_duration_seconds",
			Help:      "Reasoning provider call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
		}, []string{"provider", "outcome"}),
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Post-call analyses stored, by source and fallback reason",
		}, []string{"source", "reason"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Outbound events dropped, by reason",
		}, []string{"type", "reason"}),
		AudioFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Inbound audio frames rejected by the rate limiter",
		}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.TurnsTotal,
		m.GuidanceTotal,
		m.TriggersDropped,
		m.StaleResults,
		m.ProviderDuration,
		m.AnalysesTotal,
		m.EventsDropped,
		m.AudioFramesDropped,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSessionStart records a new session.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordSessionEvicted records a session leaving the registry.
func (m *Metrics) RecordSessionEvicted() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordTurn records a transcript event outcome.
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordGuidance records merged guidance. reason is empty for provider guidance.
func (m *Metrics) RecordGuidance(source, reason string) {
	if m == nil {
		return
	}
	m.GuidanceTotal.WithLabelValues(source, reason).Inc()
}

// RecordTriggerDropped records a dropped guidance trigger.
func (m *Metrics) RecordTriggerDropped(reason string) {
	if m == nil {
		return
	}
	m.TriggersDropped.WithLabelValues(reason).Inc()
}

// RecordStaleResult records a discarded guidance result.
func (m *Metrics) RecordStaleResult() {
	if m == nil {
		return
	}
	m.StaleResults.Inc()
}

// RecordProviderCall records a reasoning provider call.
func (m *Metrics) RecordProviderCall(provider, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// RecordAnalysis records a stored post-call analysis. reason is empty for provider
// analyses.
func (m *Metrics) RecordAnalysis(source, reason string) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(source, reason).Inc()
}

// RecordEventDropped records a dropped outbound event.
func (m *Metrics) RecordEventDropped(eventType, reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(eventType, reason).Inc()
}

// RecordAudioFrameDropped records a rate-limited audio frame.
func (m *Metrics) RecordAudioFrameDropped() {
	if m == nil {
		return
	}
	m.AudioFramesDropped.Inc()
}
