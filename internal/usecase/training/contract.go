package training

import (
	"context"

	"github.com/kailas-cloud/embshift/internal/domain/run"
	domtraining "github.com/kailas-cloud/embshift/internal/domain/training"
)

// ResultSaver persists training results and returns where they were stored.
type ResultSaver interface {
	Save(ctx context.Context, res *domtraining.ShiftTrainingResult) (string, error)
}

// RunWriter persists workflow run artifacts.
type RunWriter interface {
	Write(ctx context.Context, a *run.WorkflowRunArtifact) (string, error)
}
