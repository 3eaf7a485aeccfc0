package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Repository outcomes
const (
	OutcomeHarvested = "harvested"
	OutcomePartial   = "partial"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics are the Prometheus collectors updated during a harvest run.
type Metrics struct {
	registry     *prometheus.Registry
	repositories *prometheus.CounterVec
	failures     *prometheus.CounterVec
	issues       prometheus.Counter
	duration     prometheus.Histogram
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		repositories: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonarharvest",
			Name:      "repositories_total",
			Help:      "Repositories processed, by outcome.",
		}, []string{"outcome"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonarharvest",
			Name:      "failures_total",
			Help:      "Per-repository failures, by stage.",
		}, []string{"stage"}),
		issues: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sonarharvest",
			Name:      "issues_harvested_total",
			Help:      "Issues fetched from the analysis service.",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sonarharvest",
			Name:      "repository_harvest_seconds",
			Help:      "Time spent harvesting one repository.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.repositories.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeFailure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

func (m *Metrics) observeIssues(n int) {
	if m == nil {
		return
	}
	m.issues.Add(float64(n))
}

func (m *Metrics) observeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.duration.Observe(seconds)
}
