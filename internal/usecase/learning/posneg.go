package learning

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/training"
	"github.com/kailas-cloud/embshift/internal/domain/vector"
)

// PosNegLearner derives an additive correction from ranking errors: for every query whose
// relevant document is not ranked first, it averages relevant−negative directions over hard negatives.
type PosNegLearner struct {
	embed  Embedder
	logger *zap.Logger
}

// NewPosNegLearner creates a learner.
func NewPosNegLearner(embed Embedder, logger *zap.Logger) *PosNegLearner {
	return &PosNegLearner{embed: embed, logger: logger}
}

// Learn returns the delta vector and run diagnostics.
// Queries are embedded one at a time; cancellation is honored only between whole queries.
func (l *PosNegLearner) Learn(
	ctx context.Context,
	queries []training.TrainingQuery,
	corpus []training.Document,
	opts training.PosNegLearningOptions,
) ([]float32, training.PosNegLearningStats, error) {
	var stats training.PosNegLearningStats

	if err := opts.Validate(); err != nil {
		return nil, stats, err
	}
	dim, index, err := validateCorpus(corpus)
	if err != nil {
		return nil, stats, err
	}
	for _, q := range queries {
		if _, ok := index[q.RelevantDocID]; !ok {
			return nil, stats, fmt.Errorf("%w: query %q references %q",
				domain.ErrRelevantDocMissing, q.QueryID, q.RelevantDocID)
		}
	}

	refs := make([][]float32, len(corpus))
	for i, d := range corpus {
		refs[i] = d.Vector
	}

	acc := newAccumulator(dim)
	topK := opts.TopK()

	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, stats, fmt.Errorf("learn: %w", err)
		}

		emb, err := l.embed.Embed(ctx, q.Text)
		if err != nil {
			return nil, stats, fmt.Errorf("embed query %q: %w", q.QueryID, err)
		}
		if len(emb.Embedding) != dim {
			return nil, stats, domain.NewDimensionMismatch("query "+q.QueryID, dim, len(emb.Embedding))
		}

		ranking := vector.Rank(emb.Embedding, refs)
		relIdx := index[q.RelevantDocID]
		relRank := -1
		for rank, r := range ranking {
			if r.Index == relIdx {
				relRank = rank
				break
			}
		}
		if relRank < 0 {
			return nil, stats, fmt.Errorf("%w: %q not in ranking for query %q",
				domain.ErrRelevantDocMissing, q.RelevantDocID, q.QueryID)
		}
		if relRank == 0 {
			if opts.Debug {
				l.logger.Debug("Relevant document already ranked first",
					zap.String("query_id", q.QueryID),
					zap.String("relevant_doc", q.RelevantDocID),
				)
			}
			continue
		}

		c := l.collectCase(q, corpus, ranking, relIdx, topK, dim, opts.Debug, relRank)
		acc.merge(c)
	}

	delta, stats := acc.finish(opts)

	l.logger.Info("PosNeg learning finished",
		zap.Int("queries", len(queries)),
		zap.Int("cases", stats.Cases),
		zap.Int("unique_pairs", stats.UniquePairs),
		zap.Int("zero_directions", stats.ZeroDirections),
		zap.Float64("pre_clip_norm", stats.PreClipDeltaNorm),
		zap.Float64("post_clip_norm", stats.PostClipDeltaNorm),
		zap.Bool("clipped", stats.NormClipApplied),
		zap.Bool("cancel_out_suspected", stats.CancelOutSuspected),
	)

	return delta, stats, nil
}

// queryCase is the contribution of a single query, merged only once complete.
type queryCase struct {
	sum   []float64
	norms []float64
	pairs []string
	zero  int
}

func (l *PosNegLearner) collectCase(
	q training.TrainingQuery, corpus []training.Document, ranking []vector.Ranked,
	relIdx, topK, dim int, debug bool, relRank int,
) queryCase {
	c := queryCase{sum: make([]float64, dim)}
	relevant := corpus[relIdx].Vector

	for _, r := range ranking {
		if len(c.norms) >= topK {
			break
		}
		if r.Index == relIdx {
			continue
		}
		neg := corpus[r.Index]

		dir := make([]float64, dim)
		var sq float64
		for i := range dir {
			dir[i] = float64(relevant[i]) - float64(neg.Vector[i])
			sq += dir[i] * dir[i]
		}
		if sq <= training.DegenerateDirectionSq {
			c.zero++
			continue
		}

		for i := range dir {
			c.sum[i] += dir[i]
		}
		norm := math.Sqrt(sq)
		c.norms = append(c.norms, norm)
		c.pairs = append(c.pairs, q.RelevantDocID+"\x00"+neg.ID)

		if debug {
			l.logger.Debug("Hard negative accepted",
				zap.String("query_id", q.QueryID),
				zap.String("relevant_doc", q.RelevantDocID),
				zap.Int("relevant_rank", relRank),
				zap.String("negative_doc", neg.ID),
				zap.Float64("negative_score", r.Score),
				zap.Float64("direction_norm", norm),
			)
		}
	}
	return c
}

type accumulator struct {
	sum     []float64
	cases   int
	normSum float64
	minNorm float64
	maxNorm float64
	zero    int
	pairs   map[string]struct{}
}

func newAccumulator(dim int) *accumulator {
	return &accumulator{
		sum:     make([]float64, dim),
		minNorm: math.Inf(1),
		pairs:   make(map[string]struct{}),
	}
}

func (a *accumulator) merge(c queryCase) {
	for i := range a.sum {
		a.sum[i] += c.sum[i]
	}
	for _, n := range c.norms {
		a.cases++
		a.normSum += n
		a.minNorm = math.Min(a.minNorm, n)
		a.maxNorm = math.Max(a.maxNorm, n)
	}
	for _, p := range c.pairs {
		a.pairs[p] = struct{}{}
	}
	a.zero += c.zero
}

func (a *accumulator) finish(opts training.PosNegLearningOptions) ([]float32, training.PosNegLearningStats) {
	stats := training.PosNegLearningStats{
		Cases:          a.cases,
		UniquePairs:    len(a.pairs),
		ZeroDirections: a.zero,
	}

	delta := make([]float64, len(a.sum))
	if a.cases > 0 {
		for i, s := range a.sum {
			delta[i] = s / float64(a.cases)
		}
		stats.AvgDirectionNorm = a.normSum / float64(a.cases)
		stats.MinDirectionNorm = a.minNorm
		stats.MaxDirectionNorm = a.maxNorm
	}

	pre := vector.Norm64(delta)
	stats.PreClipDeltaNorm = pre
	stats.PostClipDeltaNorm = pre

	if !opts.DisableNormClip && pre > opts.MaxL2Norm {
		scale := opts.MaxL2Norm / pre
		for i := range delta {
			delta[i] *= scale
		}
		stats.NormClipApplied = true
		stats.PostClipDeltaNorm = vector.Norm64(delta)
	}

	stats.CancelOutSuspected = a.cases > 0 && pre <= training.CancelOutSuspectNorm

	return vector.Narrow(delta), stats
}

func validateCorpus(corpus []training.Document) (int, map[string]int, error) {
	if len(corpus) == 0 {
		return 0, nil, domain.ErrEmptyCorpus
	}
	dim := len(corpus[0].Vector)
	if dim == 0 {
		return 0, nil, fmt.Errorf("%w: document %q has zero embedding dimension",
			domain.ErrInvalidArgument, corpus[0].ID)
	}
	index := make(map[string]int, len(corpus))
	for i, d := range corpus {
		if len(d.Vector) != dim {
			return 0, nil, domain.NewDimensionMismatch("document "+d.ID, dim, len(d.Vector))
		}
		if _, dup := index[d.ID]; dup {
			return 0, nil, fmt.Errorf("%w: duplicate document id %q", domain.ErrInvalidArgument, d.ID)
		}
		index[d.ID] = i
	}
	return dim, index, nil
}
