package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Shift learning, evaluation and governance metrics.
var (
	EvaluationScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_score",
			Help:      "Latest evaluator score per shift",
		},
		[]string{"evaluator", "role"}, // role: shift / baseline / delta
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Evaluator wall-clock duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"evaluator"},
	)

	LearnerCasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learner_cases_total",
			Help:      "Accepted relevant/negative cases per workflow",
		},
		[]string{"workflow"},
	)

	LearnerDeltaNorm = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learner_delta_norm",
			Help:      "L2 norm of the latest learned delta vector",
		},
		[]string{"workflow", "stage"}, // stage: pre_clip / post_clip
	)

	PromotionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_decisions_total",
			Help:      "Promotion decisions by action",
		},
		[]string{"metric", "action"},
	)

	DiscoverySkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_skipped_total",
			Help:      "Run artifact files skipped during discovery",
		},
	)
)

var shiftMetricsRegistered bool

// RegisterShiftMetrics registers the shift metrics. Must be called once from main.
func RegisterShiftMetrics() {
	if shiftMetricsRegistered {
		return
	}
	prometheus.MustRegister(EvaluationScore)
	prometheus.MustRegister(EvaluationDuration)
	prometheus.MustRegister(LearnerCasesTotal)
	prometheus.MustRegister(LearnerDeltaNorm)
	prometheus.MustRegister(PromotionDecisionsTotal)
	prometheus.MustRegister(DiscoverySkippedTotal)
	shiftMetricsRegistered = true
}

// Sink adapts the evaluation gauge to the evaluation runner's reporting contract.
// Names of the form "<evaluator>.<role>" set the gauge; other names are ignored.
type Sink struct{}

// Report implements the evaluation runner sink.
func (Sink) Report(name string, value float64) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return
	}
	EvaluationScore.WithLabelValues(name[:i], name[i+1:]).Set(value)
}
