// Package metrics holds the Prometheus collectors for the link insertion pipeline.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "interlinker"

// Metrics groups the pipeline collectors
type Metrics struct {
	FetchAttempts   *prometheus.CounterVec
	FetchRetries    prometheus.Counter
	GenerationCalls *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	EditsAccepted   prometheus.Counter
	RenderSkipped   *prometheus.CounterVec
	RunDuration     prometheus.Histogram
}

// New creates the collectors and registers them on reg (nil reg skips registration)
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP fetch attempts by outcome.",
		}, []string{"outcome"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Retries scheduled after a retryable failure.",
		}),
		GenerationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_calls_total",
			Help:      "Text generation calls by outcome.",
		}, []string{"outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_rejections_total",
			Help:      "Rejected link candidates by gate.",
		}, []string{"gate"}),
		EditsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_accepted_total",
			Help:      "Link edits committed by the proposal state machine.",
		}),
		RenderSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_skipped_total",
			Help:      "Edits not applied to a rendered view, by view and reason.",
		}, []string{"view", "reason"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of end-to-end link insertion runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FetchAttempts,
			m.FetchRetries,
			m.GenerationCalls,
			m.Rejections,
			m.EditsAccepted,
			m.RenderSkipped,
			m.RunDuration,
		)
	}
	return m
}

func (m *Metrics) ObserveFetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.FetchRetries.Inc()
}

func (m *Metrics) ObserveGeneration(outcome string) {
	if m == nil {
		return
	}
	m.GenerationCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRejection(gate string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(gate).Inc()
}

func (m *Metrics) ObserveEdit() {
	if m == nil {
		return
	}
	m.EditsAccepted.Inc()
}

func (m *Metrics) ObserveRenderSkip(view, reason string) {
	if m == nil {
		return
	}
	m.RenderSkipped.WithLabelValues(view, reason).Inc()
}

func (m *Metrics) ObserveRun(seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(seconds)
}
