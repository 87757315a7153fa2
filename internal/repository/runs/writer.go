package runs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/run"
	"github.com/kailas-cloud/embshift/internal/repository/fsutil"
)

// Writer persists run artifacts at {root}/{workflow}/{runId}/run.json.
type Writer struct {
	root   string
	logger *zap.Logger
}

// NewWriter creates a writer rooted at root.
func NewWriter(root string, logger *zap.Logger) *Writer {
	return &Writer{root: root, logger: logger}
}

// Root returns the runs root.
func (w *Writer) Root() string { return w.root }

// Write assigns a RunId when a has none, writes it atomically and returns the file path.
func (w *Writer) Write(ctx context.Context, a *run.WorkflowRunArtifact) (string, error) {
	if w.root == "" {
		return "", fmt.Errorf("%w: runs root is required", domain.ErrInvalidArgument)
	}
	if a == nil || a.WorkflowName == "" {
		return "", fmt.Errorf("%w: workflow name is required", domain.ErrInvalidArgument)
	}
	if !fsutil.IsLocalName(a.WorkflowName) || (a.RunID != "" && !fsutil.IsLocalName(a.RunID)) {
		return "", fmt.Errorf("%w: workflow %q or run id %q is not a plain directory name",
			domain.ErrInvalidArgument, a.WorkflowName, a.RunID)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("write run: %w", err)
	}

	if a.RunID == "" {
		a.RunID = uuid.NewString()
	}

	path := filepath.Join(w.root, a.WorkflowName, a.RunID, run.ArtifactFileName)
	if err := fsutil.WriteJSON(path, a); err != nil {
		return "", fmt.Errorf("write run: %w", err)
	}

	w.logger.Info("Run artifact written",
		zap.String("workflow", a.WorkflowName),
		zap.String("run_id", a.RunID),
		zap.Bool("success", a.Success),
		zap.String("path", path),
	)
	return path, nil
}
