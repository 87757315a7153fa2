package adaptive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain/shift"
	"github.com/kailas-cloud/embshift/internal/domain/training"
	"github.com/kailas-cloud/embshift/internal/domain/vector"
)

// ResultLoader reads the latest persisted training result of a workflow.
type ResultLoader interface {
	LoadLatest(ctx context.Context, workflow string) (*training.ShiftTrainingResult, bool, error)
}

// TrainingBacked proposes the shift learned by the latest training run of a workflow.
type TrainingBacked struct {
	loader   ResultLoader
	workflow string
	dim      int
	fallback shift.Shift
	logger   *zap.Logger
}

// TrainingBackedOption configures a TrainingBacked generator.
type TrainingBackedOption func(*TrainingBacked)

// WithFallback replaces the Identity fallback.
func WithFallback(s shift.Shift) TrainingBackedOption {
	return func(g *TrainingBacked) {
		if s != nil {
			g.fallback = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) TrainingBackedOption {
	return func(g *TrainingBacked) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewTrainingBacked creates a generator for workflow. dim is the embedding dimension
// the learned delta is adapted to.
func NewTrainingBacked(loader ResultLoader, workflow string, dim int, opts ...TrainingBackedOption) *TrainingBacked {
	g := &TrainingBacked{
		loader:   loader,
		workflow: workflow,
		dim:      dim,
		fallback: shift.Identity{},
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate yields the fallback, followed by the learned shift when a usable result exists.
// A result that is absent, cancelled, empty or all-zero yields the fallback only.
//
// The stored delta is truncated or zero-padded to the configured dimension. This is the
// only place a delta vector changes length; the learner itself rejects mismatches.
func (g *TrainingBacked) Generate(ctx context.Context, _ []Pair) ([]shift.Shift, error) {
	out := []shift.Shift{g.fallback}

	res, ok, err := g.loader.LoadLatest(ctx, g.workflow)
	if err != nil {
		return nil, fmt.Errorf("load latest training result for %s: %w", g.workflow, err)
	}
	switch {
	case !ok || res == nil:
		g.logger.Debug("No training result, using fallback", zap.String("workflow", g.workflow))
		return out, nil
	case res.IsCancelled:
		g.logger.Info("Training result cancelled, using fallback",
			zap.String("workflow", g.workflow),
			zap.String("reason", res.CancelReason),
		)
		return out, nil
	case len(res.DeltaVector) == 0 || vector.IsZero(res.DeltaVector):
		g.logger.Info("Training result has a zero delta, using fallback", zap.String("workflow", g.workflow))
		return out, nil
	}

	delta := res.DeltaVector
	if g.dim > 0 && len(delta) != g.dim {
		g.logger.Warn("Adapting learned delta dimension",
			zap.String("workflow", g.workflow),
			zap.Int("stored", len(delta)),
			zap.Int("expected", g.dim),
		)
		delta = vector.Resize(delta, g.dim)
	}
	return append(out, shift.NewLearned(g.workflow, delta)), nil
}
