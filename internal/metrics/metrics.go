// Package metrics exposes Prometheus counters and histograms for turns,
// intents, adapter fallbacks and speech. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

// Metrics holds the AgroSpeak collectors.
type Metrics struct {
	turnsTotal     *prometheus.CounterVec
	intentsTotal   *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec
	speechTotal    *prometheus.CounterVec
	turnLatency    *prometheus.HistogramVec
	activeSessions prometheus.Gauge
}

// New registers the collectors on reg, or the default registerer when reg
// is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrospeak",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Completed turns by route and outcome",
		}, []string{"route", "outcome"}),
		intentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrospeak",
			Subsystem: "conversation",
			Name:      "intents_total",
			Help:      "Classified intents",
		}, []string{"intent"}),
		fallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrospeak",
			Subsystem: "adapter",
			Name:      "fallbacks_total",
			Help:      "Adapter calls that degraded to a fallback value",
		}, []string{"adapter", "reason"}),
		speechTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrospeak",
			Subsystem: "speech",
			Name:      "outputs_total",
			Help:      "Spoken replies by synthesis path",
		}, []string{"path"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agrospeak",
			Subsystem: "conversation",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn from input to reply",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"route"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agrospeak",
			Subsystem: "conversation",
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.intentsTotal, m.fallbacksTotal, m.speechTotal, m.turnLatency, m.activeSessions)
	return m
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(route, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(route, outcome).Inc()
	m.turnLatency.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveIntent records a classification.
func (m *Metrics) ObserveIntent(intent string) {
	if m == nil {
		return
	}
	m.intentsTotal.WithLabelValues(intent).Inc()
}

// ObserveFallback records an adapter degrading to its fallback value.
func (m *Metrics) ObserveFallback(adapter string, reason fallback.Reason) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(adapter, reason.String()).Inc()
}

// ObserveSpeech records how a reply was voiced.
func (m *Metrics) ObserveSpeech(path string) {
	if m == nil {
		return
	}
	m.speechTotal.WithLabelValues(path).Inc()
}

// SetActiveSessions reports the live session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
