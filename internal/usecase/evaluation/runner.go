package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	domeval "github.com/kailas-cloud/embshift/internal/domain/evaluation"
	"github.com/kailas-cloud/embshift/internal/domain/shift"
)

// Metric name suffixes produced by the runner.
const (
	SuffixDurationMs    = ".duration_ms"
	SuffixShiftScore    = ".shift_score"
	SuffixBaselineScore = ".baseline_score"
	SuffixDelta         = ".delta"
)

// Sink receives every metric the runner produces.
type Sink interface {
	Report(name string, value float64)
}

// Dataset is one query with its reference vectors.
type Dataset struct {
	Name       string
	Query      shift.Query
	References [][]float32
}

// Runner runs a fixed set of evaluators over one shift and one dataset.
type Runner struct {
	evaluators []domeval.Evaluator
	sinks      []Sink
	durations  *prometheus.HistogramVec
	logger     *zap.Logger
}

// NewRunner creates a runner for the given evaluators.
func NewRunner(logger *zap.Logger, evaluators ...domeval.Evaluator) *Runner {
	return &Runner{evaluators: evaluators, logger: logger}
}

// WithSink adds a metrics sink.
func (r *Runner) WithSink(s Sink) *Runner {
	if s != nil {
		r.sinks = append(r.sinks, s)
	}
	return r
}

// WithDurations records evaluator durations into h (label "evaluator").
func (r *Runner) WithDurations(h *prometheus.HistogramVec) *Runner {
	r.durations = h
	return r
}

// Run scores s with every evaluator. The returned map holds "<evaluator>" scores
// and "<evaluator>.duration_ms" timings.
func (r *Runner) Run(ctx context.Context, s shift.Shift, ds Dataset) (map[string]float64, error) {
	out := make(map[string]float64, 2*len(r.evaluators))
	for _, e := range r.evaluators {
		res, d, err := r.evaluate(ctx, e, s, ds)
		if err != nil {
			return nil, err
		}
		r.emit(out, e.Name(), res.Score)
		r.emit(out, e.Name()+SuffixDurationMs, float64(d.Microseconds())/1000)
	}
	return out, nil
}

// RunWithBaseline scores s and the identity baseline with every evaluator and reports
// "<evaluator>.shift_score", "<evaluator>.baseline_score" and "<evaluator>.delta".
func (r *Runner) RunWithBaseline(ctx context.Context, s shift.Shift, ds Dataset) (map[string]float64, error) {
	baseline := shift.Identity{}
	out := make(map[string]float64, 3*len(r.evaluators))
	for _, e := range r.evaluators {
		res, _, err := r.evaluate(ctx, e, s, ds)
		if err != nil {
			return nil, err
		}
		base, _, err := r.evaluate(ctx, e, baseline, ds)
		if err != nil {
			return nil, err
		}
		name := e.Name()
		r.emit(out, name+SuffixShiftScore, res.Score)
		r.emit(out, name+SuffixBaselineScore, base.Score)
		r.emit(out, name+SuffixDelta, res.Score-base.Score)
	}
	return out, nil
}

func (r *Runner) evaluate(
	ctx context.Context, e domeval.Evaluator, s shift.Shift, ds Dataset,
) (domeval.Result, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return domeval.Result{}, 0, fmt.Errorf("evaluate %s: %w", e.Name(), err)
	}

	start := time.Now()
	res, err := e.Evaluate(s, ds.Query, ds.References)
	d := time.Since(start)
	if err != nil {
		return domeval.Result{}, d, fmt.Errorf("evaluate %s: %w", e.Name(), err)
	}

	if r.durations != nil {
		r.durations.WithLabelValues(e.Name()).Observe(d.Seconds())
	}

	fields := []zap.Field{
		zap.String("evaluator", e.Name()),
		zap.String("shift", res.ShiftName),
		zap.String("dataset", ds.Name),
		zap.String("query_id", ds.Query.ID),
		zap.Float64("score", res.Score),
		zap.Duration("duration", d),
	}
	if res.Notes != "" {
		fields = append(fields, zap.String("notes", res.Notes))
	}
	r.logger.Info("Evaluator finished", fields...)

	return res, d, nil
}

func (r *Runner) emit(out map[string]float64, name string, value float64) {
	out[name] = value
	for _, s := range r.sinks {
		s.Report(name, value)
	}
}
