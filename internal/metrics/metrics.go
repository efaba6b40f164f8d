// Package metrics exposes Prometheus metrics for the companion daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	CompletionsTotal   *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec

	CallsActive         prometheus.Gauge
	CallIterationsTotal *prometheus.CounterVec

	VoiceCapturesTotal *prometheus.CounterVec
	UtterancesTotal    prometheus.Counter

	PremiumActivationsTotal prometheus.Counter
}

// New creates a Metrics instance with every metric registered on its own
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mio"
	}
	registry := prometheus.NewRegistry()

	completionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completion requests by outcome",
		},
		[]string{"outcome"},
	)
	completionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"outcome"},
	)
	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of running calls",
		},
	)
	callIterationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_iterations_total",
			Help:      "Call loop iterations by result",
		},
		[]string{"result"},
	)
	voiceCapturesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_captures_total",
			Help:      "Push-to-talk captures by result",
		},
		[]string{"result"},
	)
	utterancesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Replies and announcements queued for speech",
		},
	)
	premiumActivationsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "premium_activations_total",
			Help:      "Premium activations",
		},
	)

	registry.MustRegister(
		completionsTotal,
		completionDuration,
		callsActive,
		callIterationsTotal,
		voiceCapturesTotal,
		utterancesTotal,
		premiumActivationsTotal,
	)

	return &Metrics{
		registry:                registry,
		namespace:               namespace,
		CompletionsTotal:        completionsTotal,
		CompletionDuration:      completionDuration,
		CallsActive:             callsActive,
		CallIterationsTotal:     callIterationsTotal,
		VoiceCapturesTotal:      voiceCapturesTotal,
		UtterancesTotal:         utterancesTotal,
		PremiumActivationsTotal: premiumActivationsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGaugeFunc exposes a value computed at scrape time.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// RecordCompletion records a finished completion request.
func (m *Metrics) RecordCompletion(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CompletionsTotal.WithLabelValues(outcome).Inc()
	m.CompletionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

func (m *Metrics) RecordCallEnd() {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
}

func (m *Metrics) RecordCallIteration(result string) {
	if m == nil {
		return
	}
	m.CallIterationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordVoiceCapture(result string) {
	if m == nil {
		return
	}
	m.VoiceCapturesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordUtterance() {
	if m == nil {
		return
	}
	m.UtterancesTotal.Inc()
}

func (m *Metrics) RecordPremiumActivation() {
	if m == nil {
		return
	}
	m.PremiumActivationsTotal.Inc()
}
