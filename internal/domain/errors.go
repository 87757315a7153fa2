package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument signals a configuration or argument error detected before any I/O.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyCorpus signals a learning run without documents.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrRelevantDocMissing signals a training query whose relevant document is not in the corpus.
	ErrRelevantDocMissing = errors.New("relevant document missing from corpus")
	// ErrNilShift signals an evaluation call without a shift.
	ErrNilShift = errors.New("shift is nil")
	// ErrNoRuns signals that discovery found no run artifacts at all.
	ErrNoRuns = errors.New("no run artifacts found")
	// ErrMetricNotFound signals that no discovered run carries the requested metric.
	ErrMetricNotFound = errors.New("metric not found in any run")
	// ErrNoHistory signals a rollback without archived active pointers.
	ErrNoHistory = errors.New("no active pointer history")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// DimensionMismatchError wraps ErrVectorDimMismatch with the offending key.
type DimensionMismatchError struct {
	Key      string
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: %s has dimension %d, expected %d",
		ErrVectorDimMismatch.Error(), e.Key, e.Got, e.Expected)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrVectorDimMismatch }

// NewDimensionMismatch creates a dimension mismatch error for key.
func NewDimensionMismatch(key string, expected, got int) error {
	return &DimensionMismatchError{Key: key, Expected: expected, Got: got}
}
