// Package evaluation scores a shift against reference vectors.
// Evaluators never fail on data: empty or unusable input yields a zero score with a note.
// Only a nil shift is an error.
package evaluation

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/shift"
	"github.com/kailas-cloud/embshift/internal/domain/vector"
)

// Result is the score of one shift against one reference set. Higher is better.
type Result struct {
	ShiftName string
	Score     float64
	Notes     string
}

// Evaluator scores a shift for one query against references.
type Evaluator interface {
	Name() string
	Evaluate(s shift.Shift, q shift.Query, refs [][]float32) (Result, error)
}

// prepare applies s and checks inputs. When ok is false, res is the result to return.
func prepare(s shift.Shift, q shift.Query, refs [][]float32) (shifted []float32, res Result, ok bool, err error) {
	if s == nil {
		return nil, Result{}, false, domain.ErrNilShift
	}
	res = Result{ShiftName: s.Name()}
	if len(refs) == 0 {
		res.Notes = "no references"
		return nil, res, false, nil
	}
	if d, isDim := s.(shift.Dimensioned); isDim && d.Dim() != len(q.Vector) {
		res.Notes = fmt.Sprintf("shift dimension %d does not match query dimension %d", d.Dim(), len(q.Vector))
		return nil, res, false, nil
	}
	return s.Apply(q), res, true, nil
}

// CosineMean is the mean cosine similarity of the shifted query to every reference.
type CosineMean struct{}

// Name returns "cosine_mean".
func (CosineMean) Name() string { return "cosine_mean" }

// Evaluate implements Evaluator.
func (CosineMean) Evaluate(s shift.Shift, q shift.Query, refs [][]float32) (Result, error) {
	shifted, res, ok, err := prepare(s, q, refs)
	if !ok {
		return res, err
	}
	var sum float64
	for _, r := range refs {
		sum += vector.Cosine(shifted, r)
	}
	res.Score = sum / float64(len(refs))
	return res, nil
}

// Margin rewards a clear winner: best minus second-best cosine similarity.
type Margin struct{}

// Name returns "margin".
func (Margin) Name() string { return "margin" }

// Evaluate implements Evaluator.
func (Margin) Evaluate(s shift.Shift, q shift.Query, refs [][]float32) (Result, error) {
	shifted, res, ok, err := prepare(s, q, refs)
	if !ok {
		return res, err
	}
	if len(refs) < 2 {
		res.Notes = "fewer than two references"
		return res, nil
	}
	best, second := math.Inf(-1), math.Inf(-1)
	for _, r := range refs {
		c := vector.Cosine(shifted, r)
		switch {
		case c > best:
			best, second = c, best
		case c > second:
			second = c
		}
	}
	res.Score = best - second
	return res, nil
}

// NDCG is NDCG@K with binary relevance over the given reference indices.
type NDCG struct {
	k        int
	relevant map[int]struct{}
}

// NewNDCG creates an NDCG@k evaluator. k must be positive.
func NewNDCG(k int, relevant []int) (*NDCG, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: ndcg k must be positive, got %d", domain.ErrInvalidArgument, k)
	}
	set := make(map[int]struct{}, len(relevant))
	for _, i := range relevant {
		set[i] = struct{}{}
	}
	return &NDCG{k: k, relevant: set}, nil
}

// Name returns "ndcg@K".
func (n *NDCG) Name() string { return fmt.Sprintf("ndcg@%d", n.k) }

// Evaluate implements Evaluator.
func (n *NDCG) Evaluate(s shift.Shift, q shift.Query, refs [][]float32) (Result, error) {
	shifted, res, ok, err := prepare(s, q, refs)
	if !ok {
		return res, err
	}

	relevantCount := 0
	for i := range n.relevant {
		if i >= 0 && i < len(refs) {
			relevantCount++
		}
	}
	if relevantCount == 0 {
		res.Notes = "no relevant items among candidates"
		return res, nil
	}

	var dcg float64
	for rank, r := range vector.Rank(shifted, refs) {
		if rank >= n.k {
			break
		}
		if _, rel := n.relevant[r.Index]; rel {
			dcg += discount(rank)
		}
	}

	var ideal float64
	for rank := 0; rank < relevantCount && rank < n.k; rank++ {
		ideal += discount(rank)
	}
	res.Score = dcg / ideal
	return res, nil
}

func discount(rank int) float64 {
	return 1 / math.Log2(float64(rank)+2)
}

// MRR is the reciprocal rank of a single designated relevant reference.
// The zero value designates index 0.
type MRR struct {
	RelevantIndex int
}

// Name returns "mrr".
func (MRR) Name() string { return "mrr" }

// Evaluate implements Evaluator.
func (m MRR) Evaluate(s shift.Shift, q shift.Query, refs [][]float32) (Result, error) {
	shifted, res, ok, err := prepare(s, q, refs)
	if !ok {
		return res, err
	}
	if m.RelevantIndex < 0 || m.RelevantIndex >= len(refs) {
		res.Notes = fmt.Sprintf("relevant index %d outside %d references", m.RelevantIndex, len(refs))
		return res, nil
	}
	for rank, r := range vector.Rank(shifted, refs) {
		if r.Index == m.RelevantIndex {
			res.Score = 1 / float64(rank+1)
			return res, nil
		}
	}
	res.Notes = "relevant reference not ranked"
	return res, nil
}
