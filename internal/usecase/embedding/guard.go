// Package embedding holds the embedder decorators between the provider transport and the learner.
package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/metrics"
)

// DimensionGuard rejects embeddings whose length differs from the configured dimension.
// A workflow never sees a vector of the wrong size.
type DimensionGuard struct {
	inner    domain.Embedder
	dim      int
	provider string
	model    string
	logger   *zap.Logger
}

// NewDimensionGuard wraps inner. A non-positive dim disables the check.
func NewDimensionGuard(inner domain.Embedder, dim int, provider, model string, logger *zap.Logger) *DimensionGuard {
	return &DimensionGuard{
		inner:    inner,
		dim:      dim,
		provider: provider,
		model:    model,
		logger:   logger,
	}
}

// Embed delegates to inner and checks the vector length.
func (g *DimensionGuard) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	start := time.Now()
	result, err := g.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	if g.dim > 0 && len(result.Embedding) != g.dim {
		metrics.EmbeddingErrorsTotal.WithLabelValues(g.provider, g.model, "dimension_mismatch").Inc()
		g.logger.Error("Embedding dimension mismatch",
			zap.String("provider", g.provider),
			zap.String("model", g.model),
			zap.Int("expected", g.dim),
			zap.Int("got", len(result.Embedding)),
		)
		return domain.EmbeddingResult{}, domain.NewDimensionMismatch(
			"embedding from "+g.provider+"/"+g.model, g.dim, len(result.Embedding))
	}

	g.logger.Debug("Embedding completed",
		zap.String("provider", g.provider),
		zap.String("model", g.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)
	return result, nil
}

// Dim returns the enforced dimension.
func (g *DimensionGuard) Dim() int { return g.dim }

// HealthCheck delegates to the inner embedder when it supports health checks.
func (g *DimensionGuard) HealthCheck(ctx context.Context) error {
	if hc, ok := g.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}
