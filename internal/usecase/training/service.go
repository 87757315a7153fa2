// Package training runs the learn, gate, evaluate and persist workflow for one set of labeled queries.
package training

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	domeval "github.com/kailas-cloud/embshift/internal/domain/evaluation"
	"github.com/kailas-cloud/embshift/internal/domain/run"
	"github.com/kailas-cloud/embshift/internal/domain/shift"
	domtraining "github.com/kailas-cloud/embshift/internal/domain/training"
	"github.com/kailas-cloud/embshift/internal/stats"
	"github.com/kailas-cloud/embshift/internal/usecase/embedding"
	"github.com/kailas-cloud/embshift/internal/usecase/evaluation"
	"github.com/kailas-cloud/embshift/internal/usecase/learning"
)

// Workflow defaults.
const (
	DefaultEvalK            = 3
	DefaultCancelOutEpsilon = 1e-3
)

// Run artifact metric names not derived from evaluator names.
const (
	MetricMRR       = "mrr"
	MetricDeltaNorm = "delta_norm"
	MetricCases     = "cases"
	baselineSuffix  = "_baseline"
	deltaSuffix     = "_delta"
)

// Request is one training invocation. Documents maps document id to text.
type Request struct {
	WorkflowName     string
	ScopeID          string
	Queries          []domtraining.TrainingQuery
	Documents        map[string]string
	Options          domtraining.PosNegLearningOptions
	CancelOutEpsilon float64
	EvalK            int
}

// Result is what Train produced and where it was stored.
type Result struct {
	Training      domtraining.ShiftTrainingResult
	TrainingPath  string
	Run           run.WorkflowRunArtifact
	RunPath       string
	Stats         domtraining.PosNegLearningStats
	ProviderCalls int
	// EvaluatorMeans holds per-query evaluator outputs averaged over the comparison.
	// Only set when the request asked for debug output.
	EvaluatorMeans map[string]float64
}

// Service orchestrates training runs. Query texts and corpus documents go through
// separate embedders so each side gets its own instruction prefix.
type Service struct {
	queries   domain.Embedder
	documents domain.Embedder
	results   ResultSaver
	runs      RunWriter
	logger    *zap.Logger
	now       func() time.Time
	sink      evaluation.Sink
	durations *prometheus.HistogramVec
	cases     *prometheus.CounterVec
	norms     *prometheus.GaugeVec
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEvaluationSink forwards every evaluator score to sink.
func WithEvaluationSink(sink evaluation.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithEvaluationDurations records evaluator durations.
func WithEvaluationDurations(h *prometheus.HistogramVec) Option {
	return func(s *Service) { s.durations = h }
}

// WithLearnerMetrics records accepted cases (label "workflow") and delta norms
// (labels "workflow", "stage").
func WithLearnerMetrics(cases *prometheus.CounterVec, norms *prometheus.GaugeVec) Option {
	return func(s *Service) {
		s.cases = cases
		s.norms = norms
	}
}

// NewService creates a training service. queries embeds training query texts,
// documents embeds the corpus.
func NewService(
	queries, documents domain.Embedder,
	results ResultSaver,
	runs RunWriter,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		queries:   queries,
		documents: documents,
		results:   results,
		runs:      runs,
		logger:    logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Train embeds the corpus, learns a delta, gates it through the cancel-out check, compares
// it against the identity baseline per query and persists the training result and a run artifact.
// A cancelled delta is evaluated as the identity shift.
func (s *Service) Train(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	started := s.now().UTC()
	queryMemo := embedding.NewMemo(s.queries)
	docMemo := embedding.NewMemo(s.documents)

	corpus, err := embedCorpus(ctx, docMemo, req.Documents)
	if err != nil {
		return nil, err
	}

	var debugScores *stats.Collector
	if req.Options.Debug {
		debugScores = stats.NewCollector()
	}

	delta, learnStats, err := learning.NewPosNegLearner(queryMemo, s.logger).Learn(ctx, req.Queries, corpus, req.Options)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", req.WorkflowName, err)
	}
	s.recordLearner(req.WorkflowName, learnStats)

	gate := domtraining.CheckCancelOut(delta, req.CancelOutEpsilon)
	var candidate shift.Shift = shift.Identity{}
	if gate.IsCancelled {
		s.logger.Warn("Learned delta cancelled out",
			zap.String("workflow", req.WorkflowName),
			zap.String("reason", gate.Reason),
		)
	} else {
		candidate = shift.NewLearned(req.WorkflowName, delta)
	}

	scores, err := s.compare(ctx, queryMemo, candidate, req, corpus, debugScores)
	if err != nil {
		return nil, err
	}

	res := domtraining.ShiftTrainingResult{
		WorkflowName:              req.WorkflowName,
		CreatedUtc:                s.now().UTC(),
		ComparisonRuns:            len(req.Queries),
		ImprovementFirst:          scores.baselineNDCG,
		ImprovementFirstPlusDelta: scores.shiftNDCG,
		DeltaImprovement:          scores.shiftNDCG - scores.baselineNDCG,
		DeltaVector:               delta,
		ScopeID:                   req.ScopeID,
		TrainingMode:              domtraining.ModePosNeg,
		CancelOutEpsilon:          req.CancelOutEpsilon,
		IsCancelled:               gate.IsCancelled,
		CancelReason:              gate.Reason,
		DeltaNorm:                 gate.Norm,
	}
	trainingPath, err := s.results.Save(ctx, &res)
	if err != nil {
		return nil, fmt.Errorf("save training result: %w", err)
	}

	ndcg := fmt.Sprintf("ndcg@%d", req.EvalK)
	artifact := run.WorkflowRunArtifact{
		WorkflowName: req.WorkflowName,
		StartedUtc:   started,
		FinishedUtc:  s.now().UTC(),
		Success:      true,
		Metrics: map[string]float64{
			ndcg:                       scores.shiftNDCG,
			ndcg + baselineSuffix:      scores.baselineNDCG,
			ndcg + deltaSuffix:         scores.shiftNDCG - scores.baselineNDCG,
			MetricMRR:                  scores.shiftMRR,
			MetricMRR + baselineSuffix: scores.baselineMRR,
			MetricMRR + deltaSuffix:    scores.shiftMRR - scores.baselineMRR,
			MetricDeltaNorm:            gate.Norm,
			MetricCases:                float64(learnStats.Cases),
		},
		Notes: notes(candidate, gate),
	}
	runPath, err := s.runs.Write(ctx, &artifact)
	if err != nil {
		return nil, fmt.Errorf("write run artifact: %w", err)
	}

	s.logger.Info("Training finished",
		zap.String("workflow", req.WorkflowName),
		zap.String("run_id", artifact.RunID),
		zap.Int("queries", len(req.Queries)),
		zap.Int("cases", learnStats.Cases),
		zap.Float64("baseline_ndcg", scores.baselineNDCG),
		zap.Float64("shift_ndcg", scores.shiftNDCG),
		zap.Bool("cancelled", gate.IsCancelled),
		zap.Int("provider_calls", queryMemo.ProviderCalls()+docMemo.ProviderCalls()),
	)

	out := &Result{
		Training:      res,
		TrainingPath:  trainingPath,
		Run:           artifact,
		RunPath:       runPath,
		Stats:         learnStats,
		ProviderCalls: queryMemo.ProviderCalls() + docMemo.ProviderCalls(),
	}
	if debugScores != nil {
		out.EvaluatorMeans = debugScores.Means()
	}
	return out, nil
}

func (s *Service) validate(req *Request) error {
	if req.WorkflowName == "" {
		return fmt.Errorf("%w: workflow name is required", domain.ErrInvalidArgument)
	}
	if len(req.Queries) == 0 {
		return fmt.Errorf("%w: at least one training query is required", domain.ErrInvalidArgument)
	}
	if len(req.Documents) == 0 {
		return fmt.Errorf("train %s: %w", req.WorkflowName, domain.ErrEmptyCorpus)
	}
	if req.EvalK == 0 {
		req.EvalK = DefaultEvalK
	}
	if req.EvalK < 0 {
		return fmt.Errorf("%w: eval k must be positive, got %d", domain.ErrInvalidArgument, req.EvalK)
	}
	if req.CancelOutEpsilon < 0 {
		return fmt.Errorf("%w: cancel-out epsilon must not be negative, got %g",
			domain.ErrInvalidArgument, req.CancelOutEpsilon)
	}
	return req.Options.Validate() //nolint:wrapcheck // already carries ErrInvalidArgument
}

// embedCorpus embeds documents in id order.
func embedCorpus(ctx context.Context, emb domain.Embedder, docs map[string]string) ([]domtraining.Document, error) {
	ids := make(map[string][]float32, len(docs))
	for id := range docs {
		ids[id] = nil
	}
	corpus := domtraining.CorpusFromMap(ids)

	for i := range corpus {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embed corpus: %w", err)
		}
		r, err := emb.Embed(ctx, docs[corpus[i].ID])
		if err != nil {
			return nil, fmt.Errorf("embed document %q: %w", corpus[i].ID, err)
		}
		corpus[i].Vector = r.Embedding
	}
	return corpus, nil
}

type comparison struct {
	shiftNDCG, baselineNDCG float64
	shiftMRR, baselineMRR   float64
}

// compare averages NDCG@K and MRR of candidate and the identity baseline over all queries.
// Query vectors come from the memo, so no query reaches the provider twice.
func (s *Service) compare(
	ctx context.Context, emb domain.Embedder, candidate shift.Shift, req Request, corpus []domtraining.Document,
	debug *stats.Collector,
) (comparison, error) {
	refs := make([][]float32, len(corpus))
	index := make(map[string]int, len(corpus))
	for i, d := range corpus {
		refs[i] = d.Vector
		index[d.ID] = i
	}

	var c comparison
	for _, q := range req.Queries {
		r, err := emb.Embed(ctx, q.Text)
		if err != nil {
			return comparison{}, fmt.Errorf("embed query %q: %w", q.QueryID, err)
		}
		rel := index[q.RelevantDocID]
		ndcg, err := domeval.NewNDCG(req.EvalK, []int{rel})
		if err != nil {
			return comparison{}, err //nolint:wrapcheck // already carries ErrInvalidArgument
		}

		runner := evaluation.NewRunner(s.logger, ndcg, domeval.MRR{RelevantIndex: rel}).WithDurations(s.durations)
		if s.sink != nil {
			runner.WithSink(s.sink)
		}
		if debug != nil {
			runner.WithSink(debug)
		}
		m, err := runner.RunWithBaseline(ctx, candidate, evaluation.Dataset{
			Name:       req.WorkflowName,
			Query:      shift.Query{ID: q.QueryID, Vector: r.Embedding},
			References: refs,
		})
		if err != nil {
			return comparison{}, fmt.Errorf("compare query %q: %w", q.QueryID, err)
		}

		c.shiftNDCG += m[ndcg.Name()+evaluation.SuffixShiftScore]
		c.baselineNDCG += m[ndcg.Name()+evaluation.SuffixBaselineScore]
		c.shiftMRR += m[MetricMRR+evaluation.SuffixShiftScore]
		c.baselineMRR += m[MetricMRR+evaluation.SuffixBaselineScore]
	}

	n := float64(len(req.Queries))
	c.shiftNDCG /= n
	c.baselineNDCG /= n
	c.shiftMRR /= n
	c.baselineMRR /= n
	return c, nil
}

func (s *Service) recordLearner(workflow string, learned domtraining.PosNegLearningStats) {
	if s.cases != nil {
		s.cases.WithLabelValues(workflow).Add(float64(learned.Cases))
	}
	if s.norms != nil {
		s.norms.WithLabelValues(workflow, "pre_clip").Set(learned.PreClipDeltaNorm)
		s.norms.WithLabelValues(workflow, "post_clip").Set(learned.PostClipDeltaNorm)
	}
}

func notes(candidate shift.Shift, gate domtraining.CancelOutResult) string {
	parts := []string{"shift=" + candidate.Name()}
	if gate.IsCancelled {
		parts = append(parts, "cancelled: "+gate.Reason)
	}
	return strings.Join(parts, "; ")
}
