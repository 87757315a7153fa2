package adaptive

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/evaluation"
	"github.com/kailas-cloud/embshift/internal/domain/shift"
)

// Scored is a candidate with its mean after-minus-before improvement.
type Scored struct {
	Shift           shift.Shift
	MeanImprovement float64
}

// Controller ranks shift candidates by how much they improve an evaluator's score.
type Controller struct {
	evaluator evaluation.Evaluator
	logger    *zap.Logger
}

// NewController creates a controller. A nil evaluator means CosineMean.
func NewController(evaluator evaluation.Evaluator, logger *zap.Logger) *Controller {
	if evaluator == nil {
		evaluator = evaluation.CosineMean{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{evaluator: evaluator, logger: logger}
}

// Select scores every candidate on every pair as mean(after − before), where before is
// the candidate's score against the pair's Before set and after its score against the
// After set, and returns the top k descending. Equal means keep candidate order.
func (c *Controller) Select(ctx context.Context, candidates []shift.Shift, pairs []Pair, k int) ([]Scored, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", domain.ErrInvalidArgument, k)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no pairs to evaluate", domain.ErrInvalidArgument)
	}

	scored := make([]Scored, 0, len(candidates))
	for _, s := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var sum float64
		for _, p := range pairs {
			before, err := c.evaluator.Evaluate(s, query(p), p.beforeRefs())
			if err != nil {
				return nil, fmt.Errorf("evaluate pair %s before: %w", p.ID, err)
			}
			after, err := c.evaluator.Evaluate(s, query(p), p.afterRefs())
			if err != nil {
				return nil, fmt.Errorf("evaluate pair %s after: %w", p.ID, err)
			}
			sum += after.Score - before.Score
		}
		mean := sum / float64(len(pairs))
		scored = append(scored, Scored{Shift: s, MeanImprovement: mean})
		c.logger.Debug("Candidate scored",
			zap.String("shift", s.Name()),
			zap.String("evaluator", c.evaluator.Name()),
			zap.Float64("mean_improvement", mean),
		)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].MeanImprovement > scored[j].MeanImprovement
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Propose generates candidates with gen and selects the top k.
func (c *Controller) Propose(ctx context.Context, gen Generator, pairs []Pair, k int) ([]Scored, error) {
	candidates, err := gen.Generate(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("generate candidates: %w", err)
	}
	return c.Select(ctx, candidates, pairs, k)
}

func query(p Pair) shift.Query {
	return shift.Query{ID: p.ID, Vector: p.Query}
}
