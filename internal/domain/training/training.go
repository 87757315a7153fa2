// Package training holds the learner inputs, diagnostics and the persisted training outcome.
package training

import (
	"fmt"
	"sort"
	"time"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/vector"
)

// Learner defaults.
const (
	DefaultMaxL2Norm   = 1.0
	DefaultHardNegTopK = 1
	// DegenerateDirectionSq is the squared-norm floor below which a relevant−negative direction is ignored.
	DegenerateDirectionSq = 1e-18
	// CancelOutSuspectNorm is the pre-clip delta norm at or below which accepted cases are suspected to cancel out.
	CancelOutSuspectNorm = 1e-3
	// ModePosNeg is the TrainingMode recorded for positive/negative delta learning.
	ModePosNeg = "posneg"
)

// TrainingQuery is one labeled training example.
type TrainingQuery struct {
	QueryID       string
	Text          string
	RelevantDocID string
}

// Document is one corpus entry. Corpus order is the tiebreak order for equal similarities.
type Document struct {
	ID     string
	Vector []float32
}

// CorpusFromMap builds a corpus ordered by document id.
func CorpusFromMap(m map[string][]float32) []Document {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]Document, len(ids))
	for i, id := range ids {
		docs[i] = Document{ID: id, Vector: m[id]}
	}
	return docs
}

// PosNegLearningOptions configures the positive/negative delta learner.
type PosNegLearningOptions struct {
	MaxL2Norm       float64
	DisableNormClip bool
	Debug           bool
	HardNegTopK     int
}

// DefaultPosNegLearningOptions returns clipping at DefaultMaxL2Norm with one hard negative per query.
func DefaultPosNegLearningOptions() PosNegLearningOptions {
	return PosNegLearningOptions{MaxL2Norm: DefaultMaxL2Norm, HardNegTopK: DefaultHardNegTopK}
}

// Validate checks option ranges. A zero HardNegTopK means DefaultHardNegTopK.
func (o PosNegLearningOptions) Validate() error {
	if o.HardNegTopK < 0 {
		return fmt.Errorf("%w: hard negative top k must not be negative, got %d", domain.ErrInvalidArgument, o.HardNegTopK)
	}
	if !o.DisableNormClip && o.MaxL2Norm <= 0 {
		return fmt.Errorf("%w: max l2 norm must be positive when clipping, got %g", domain.ErrInvalidArgument, o.MaxL2Norm)
	}
	return nil
}

// TopK returns the effective hard negative budget.
func (o PosNegLearningOptions) TopK() int {
	if o.HardNegTopK == 0 {
		return DefaultHardNegTopK
	}
	return o.HardNegTopK
}

// PosNegLearningStats are the diagnostics of one learning run.
type PosNegLearningStats struct {
	Cases              int
	UniquePairs        int
	AvgDirectionNorm   float64
	MinDirectionNorm   float64
	MaxDirectionNorm   float64
	ZeroDirections     int
	NormClipApplied    bool
	PreClipDeltaNorm   float64
	PostClipDeltaNorm  float64
	CancelOutSuspected bool
}

// ShiftTrainingResult is the persisted outcome of a training run.
// Field names are the JSON wire names.
type ShiftTrainingResult struct {
	WorkflowName              string    `json:"WorkflowName"`
	CreatedUtc                time.Time `json:"CreatedUtc"`
	BaseDirectory             string    `json:"BaseDirectory"`
	ComparisonRuns            int       `json:"ComparisonRuns"`
	ImprovementFirst          float64   `json:"ImprovementFirst"`
	ImprovementFirstPlusDelta float64   `json:"ImprovementFirstPlusDelta"`
	DeltaImprovement          float64   `json:"DeltaImprovement"`
	DeltaVector               []float32 `json:"DeltaVector"`
	ScopeID                   string    `json:"ScopeId"`
	TrainingMode              string    `json:"TrainingMode"`
	CancelOutEpsilon          float64   `json:"CancelOutEpsilon"`
	IsCancelled               bool      `json:"IsCancelled"`
	CancelReason              string    `json:"CancelReason"`
	DeltaNorm                 float64   `json:"DeltaNorm"`
}

// CancelOutResult is the outcome of the cancel-out gate.
type CancelOutResult struct {
	Norm        float64
	Epsilon     float64
	IsCancelled bool
	Reason      string
}

// CheckCancelOut flags delta as cancelled when its L2 norm is below epsilon.
func CheckCancelOut(delta []float32, epsilon float64) CancelOutResult {
	norm := vector.Norm(delta)
	res := CancelOutResult{Norm: norm, Epsilon: epsilon}
	if norm < epsilon {
		res.IsCancelled = true
		res.Reason = fmt.Sprintf("delta norm %.6g is below cancel-out epsilon %.6g", norm, epsilon)
	}
	return res
}
