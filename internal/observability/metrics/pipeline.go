package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver.
type PipelineMetrics struct {
	service string

	requestsTotal      *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	retrievalTotal     *prometheus.CounterVec
	retrievalDuration  *prometheus.HistogramVec
	retrievalItems     *prometheus.HistogramVec
	rerankFallbacks    prometheus.Counter
	confidence         prometheus.Histogram
	citations          prometheus.Histogram
	breakerTransitions *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer, service string) *PipelineMetrics {
	constLabels := prometheus.Labels{"service": service}
	m := &PipelineMetrics{
		service: service,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "requests_total",
			Help:        "Pipeline runs by outcome or failure reason.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Duration of each pipeline stage.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"stage"}),
		retrievalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "requests_total",
			Help:        "Vertical retrievals by status.",
			ConstLabels: constLabels,
		}, []string{"vertical", "status"}),
		retrievalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "duration_seconds",
			Help:        "Vertical retrieval latency.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"vertical"}),
		retrievalItems: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "retrieval",
			Name:        "items",
			Help:        "Evidence items returned per vertical retrieval.",
			Buckets:     []float64{0, 1, 2, 5, 10, 20, 50},
			ConstLabels: constLabels,
		}, []string{"vertical"}),
		rerankFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "fusion",
			Name:        "rerank_fallback_total",
			Help:        "Fusions that fell back to retrieval-score order.",
			ConstLabels: constLabels,
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "synthesis",
			Name:        "confidence",
			Help:        "Answer confidence distribution.",
			Buckets:     prometheus.LinearBuckets(0, 0.1, 11),
			ConstLabels: constLabels,
		}),
		citations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "synthesis",
			Name:        "citations",
			Help:        "Citations per answer.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13},
			ConstLabels: constLabels,
		}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "resilience",
			Name:        "breaker_transitions_total",
			Help:        "Circuit breaker state changes by operation and target state.",
			ConstLabels: constLabels,
		}, []string{"operation", "to"}),
	}
	reg.MustRegister(
		m.requestsTotal,
		m.stageDuration,
		m.retrievalTotal,
		m.retrievalDuration,
		m.retrievalItems,
		m.rerankFallbacks,
		m.confidence,
		m.citations,
		m.breakerTransitions,
	)
	return m
}

func (m *PipelineMetrics) ObserveStage(stage domain.Stage, seconds float64) {
	m.stageDuration.WithLabelValues(string(stage)).Observe(seconds)
}

func (m *PipelineMetrics) ObserveRetrieval(vertical string, status domain.RetrievalStatus, seconds float64, items int) {
	m.retrievalTotal.WithLabelValues(vertical, string(status)).Inc()
	m.retrievalDuration.WithLabelValues(vertical).Observe(seconds)
	if status != domain.RetrievalFailed {
		m.retrievalItems.WithLabelValues(vertical).Observe(float64(items))
	}
}

func (m *PipelineMetrics) ObserveRerankFallback() {
	m.rerankFallbacks.Inc()
}

// ObserveOutcome records confidence and citations only for answered runs.
func (m *PipelineMetrics) ObserveOutcome(outcome string, confidence float64, citations int) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
	if outcome == "answered" {
		m.confidence.Observe(confidence)
		m.citations.Observe(float64(citations))
	}
}

// ObserveBreakerTransition matches resilience.StateChangeFunc.
func (m *PipelineMetrics) ObserveBreakerTransition(operation, _, to string) {
	m.breakerTransitions.WithLabelValues(operation, to).Inc()
}
