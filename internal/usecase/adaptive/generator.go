// Package adaptive proposes shift candidates from query/answer pairs and ranks them.
package adaptive

import (
	"context"
	"fmt"
	"math"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/shift"
)

// Multiplicative generator constants.
const (
	RatioEpsilon = 1e-6
	MinFactor    = 0.25
	MaxFactor    = 4.0
)

// TemperWeights are the blend weights toward the identity factor 1.0 of the tempered candidates.
var TemperWeights = []float64{0.5, 0.25}

// Pair is one query with its expected answer. The selector scores a shifted query
// against Before (default [Query]) and After (default [Answer]) reference sets.
type Pair struct {
	ID     string
	Query  []float32
	Answer []float32
	Before [][]float32
	After  [][]float32
}

func (p Pair) beforeRefs() [][]float32 {
	if len(p.Before) > 0 {
		return p.Before
	}
	return [][]float32{p.Query}
}

func (p Pair) afterRefs() [][]float32 {
	if len(p.After) > 0 {
		return p.After
	}
	return [][]float32{p.Answer}
}

// Generator proposes shift candidates.
type Generator interface {
	Generate(ctx context.Context, pairs []Pair) ([]shift.Shift, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, pairs []Pair) ([]shift.Shift, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, pairs []Pair) ([]shift.Shift, error) {
	return f(ctx, pairs)
}

// pairDim returns the shared dimension of all query and answer vectors.
func pairDim(pairs []Pair) (int, error) {
	dim := len(pairs[0].Query)
	if dim == 0 {
		return 0, fmt.Errorf("%w: pair %q has an empty query vector", domain.ErrInvalidArgument, pairs[0].ID)
	}
	for _, p := range pairs {
		if len(p.Query) != dim {
			return 0, domain.NewDimensionMismatch("query of pair "+p.ID, dim, len(p.Query))
		}
		if len(p.Answer) != dim {
			return 0, domain.NewDimensionMismatch("answer of pair "+p.ID, dim, len(p.Answer))
		}
	}
	return dim, nil
}

// DeltaMean proposes one additive shift: the mean of answer − query across pairs.
type DeltaMean struct{}

// Generate implements Generator.
func (DeltaMean) Generate(_ context.Context, pairs []Pair) ([]shift.Shift, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	dim, err := pairDim(pairs)
	if err != nil {
		return nil, err
	}

	sum := make([]float64, dim)
	for _, p := range pairs {
		for i := range sum {
			sum[i] += float64(p.Answer[i]) - float64(p.Query[i])
		}
	}
	bias := make([]float32, dim)
	n := float64(len(pairs))
	for i, v := range sum {
		bias[i] = float32(v / n)
	}
	return []shift.Shift{shift.NewAdditive("delta_mean", bias)}, nil
}

// Multiplicative proposes per-dimension scaling factors from the geometric mean of
// answer/query magnitude ratios, plus tempered blends toward 1.0.
type Multiplicative struct{}

// Generate implements Generator.
func (Multiplicative) Generate(_ context.Context, pairs []Pair) ([]shift.Shift, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	dim, err := pairDim(pairs)
	if err != nil {
		return nil, err
	}

	logSum := make([]float64, dim)
	for _, p := range pairs {
		for i := range logSum {
			a := math.Abs(float64(p.Answer[i]))
			q := math.Abs(float64(p.Query[i]))
			ratio := clamp((a+RatioEpsilon)/(q+RatioEpsilon), MinFactor, MaxFactor)
			logSum[i] += math.Log(ratio)
		}
	}

	n := float64(len(pairs))
	raw := make([]float64, dim)
	for i, s := range logSum {
		raw[i] = clamp(math.Exp(s/n), MinFactor, MaxFactor)
	}

	out := []shift.Shift{shift.NewMultiplicative("multiplicative", blend(raw, 1))}
	for _, w := range TemperWeights {
		name := fmt.Sprintf("multiplicative_tempered_%02.0f", w*100)
		out = append(out, shift.NewMultiplicative(name, blend(raw, w)))
	}
	return out, nil
}

// blend moves factors toward 1.0: f' = 1 + w(f − 1).
func blend(factors []float64, w float64) []float32 {
	out := make([]float32, len(factors))
	for i, f := range factors {
		out[i] = float32(1 + w*(f-1))
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
