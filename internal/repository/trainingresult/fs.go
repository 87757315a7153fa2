// Package trainingresult persists ShiftTrainingResult records and returns the latest per workflow.
package trainingresult

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/training"
	"github.com/kailas-cloud/embshift/internal/repository/fsutil"
)

// ResultFileName is the file written inside every training directory.
const ResultFileName = "shift-training-result.json"

const dirInfix = "-training_"

// stampLen is the length of a yyyyMMdd_HHmmss_fff stamp without collision suffix.
const stampLen = len("20060102_150405_000")

// FSRepository stores results under {root}/{workflow}-training_{stamp}/shift-training-result.json.
type FSRepository struct {
	root   string
	now    func() time.Time
	logger *zap.Logger
}

// NewFSRepository creates a file-system repository rooted at root.
func NewFSRepository(root string, logger *zap.Logger) *FSRepository {
	return &FSRepository{root: root, now: time.Now, logger: logger}
}

// Save writes res into a new stamped directory and returns the file path.
// A zero CreatedUtc is set to the current time; an empty BaseDirectory is set to the new directory.
func (r *FSRepository) Save(ctx context.Context, res *training.ShiftTrainingResult) (string, error) {
	if err := validateWorkflow(res); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("save training result: %w", err)
	}

	out := *res
	if out.CreatedUtc.IsZero() {
		out.CreatedUtc = r.now().UTC()
	}

	dir, err := r.claimDir(out.WorkflowName, domain.Stamp(out.CreatedUtc))
	if err != nil {
		return "", err
	}
	if out.BaseDirectory == "" {
		out.BaseDirectory = dir
	}

	path := filepath.Join(dir, ResultFileName)
	if err := fsutil.WriteJSON(path, &out); err != nil {
		return "", fmt.Errorf("save training result: %w", err)
	}

	r.logger.Info("Training result saved",
		zap.String("workflow", out.WorkflowName),
		zap.String("path", path),
		zap.Bool("cancelled", out.IsCancelled),
	)
	return path, nil
}

// claimDir creates the stamped directory. A stamp collision gets a numeric suffix.
func (r *FSRepository) claimDir(workflow, stamp string) (string, error) {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return "", fmt.Errorf("create results root: %w", err)
	}
	base := filepath.Join(r.root, workflow+dirInfix+stamp)
	dir := base
	for n := 2; ; n++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("create result dir: %w", err)
		}
		dir = fmt.Sprintf("%s_%d", base, n)
	}
}

// LoadLatest returns the result in the newest directory of workflow, ordered by stamp and then by
// collision suffix. Unreadable candidates are skipped in favor of the next one. Returns false when
// none is usable.
func (r *FSRepository) LoadLatest(ctx context.Context, workflow string) (*training.ShiftTrainingResult, bool, error) {
	if err := checkWorkflowName(workflow); err != nil {
		return nil, false, err
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("list results root: %w", err)
	}

	prefix := workflow + dirInfix
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if domain.StampPattern.MatchString(strings.TrimPrefix(e.Name(), prefix)) {
			dirs = append(dirs, e.Name())
		}
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		return newerDir(strings.TrimPrefix(dirs[i], prefix), strings.TrimPrefix(dirs[j], prefix))
	})

	for _, name := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, false, fmt.Errorf("load latest training result: %w", err)
		}
		path := filepath.Join(r.root, name, ResultFileName)
		var res training.ShiftTrainingResult
		if err := fsutil.ReadJSON(path, &res); err != nil {
			r.logger.Warn("Skipping unreadable training result", zap.String("path", path), zap.Error(err))
			continue
		}
		return &res, true, nil
	}
	return nil, false, nil
}

func validateWorkflow(res *training.ShiftTrainingResult) error {
	if res == nil {
		return fmt.Errorf("%w: training result is nil", domain.ErrInvalidArgument)
	}
	return checkWorkflowName(res.WorkflowName)
}

func checkWorkflowName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: workflow name is required", domain.ErrInvalidArgument)
	}
	if strings.Contains(name, ":") || !fsutil.IsLocalName(name) {
		return fmt.Errorf("%w: workflow name %q is not a plain directory or key segment",
			domain.ErrInvalidArgument, name)
	}
	return nil
}

// newerDir orders two stamp directory suffixes newest first. The stamp itself sorts
// lexicographically; the collision counter is compared numerically, a bare stamp being 1.
func newerDir(a, b string) bool {
	as, an := splitCollision(a)
	bs, bn := splitCollision(b)
	if as != bs {
		return as > bs
	}
	return an > bn
}

// splitCollision expects a suffix already matched by domain.StampPattern.
func splitCollision(stamp string) (string, int) {
	if len(stamp) <= stampLen {
		return stamp, 1
	}
	n, err := strconv.Atoi(stamp[stampLen+1:])
	if err != nil {
		return stamp, 1
	}
	return stamp[:stampLen], n
}
