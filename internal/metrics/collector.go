// Package metrics provides Prometheus collectors for the surfacing engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the engine's Prometheus metrics. Construct one per
// process with a dedicated registry; a nil *Collector is a no-op so tests
// and one-shot CLI invocations can skip instrumentation entirely.
type Collector struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	surfacedMemories   prometheus.Histogram
	retrievalTimeouts  prometheus.Counter
	feedbackEvents     *prometheus.CounterVec
}

// NewCollector registers the engine metrics on the given registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		evaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total surfacing evaluations by outcome mode",
			},
			[]string{"mode"},
		),
		evaluationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Wall time of one evaluate call",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		surfacedMemories: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "surfaced_memories",
				Help:      "Number of memories per surfaced decision",
				Buckets:   []float64{0, 1, 2, 3, 4, 5},
			},
		),
		retrievalTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_timeouts_total",
				Help:      "Memory store queries that missed their deadline",
			},
		),
		feedbackEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_events_total",
				Help:      "Feedback events by outcome and processing status",
			},
			[]string{"outcome", "status"},
		),
	}
}

// ObserveEvaluation records one completed evaluate call.
func (c *Collector) ObserveEvaluation(mode string, memories int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.evaluationsTotal.WithLabelValues(mode).Inc()
	c.evaluationDuration.Observe(elapsed.Seconds())
	c.surfacedMemories.Observe(float64(memories))
}

// ObserveRetrievalTimeout records a store deadline miss.
func (c *Collector) ObserveRetrievalTimeout() {
	if c == nil {
		return
	}
	c.retrievalTimeouts.Inc()
}

// ObserveFeedback records one feedback event by processing status
// (applied, duplicate, invalid, failed).
func (c *Collector) ObserveFeedback(outcome, status string) {
	if c == nil {
		return
	}
	c.feedbackEvents.WithLabelValues(outcome, status).Inc()
}
