package trainingresult

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/db"
	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/training"
)

const latestSuffix = "latest"

// store is the consumer interface for the KV backend (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetNX(ctx context.Context, key string, value []byte) error
}

// KVRepository stores results at {prefix}training:{workflow}:{stamp} and mirrors
// the newest one at {prefix}training:{workflow}:latest.
type KVRepository struct {
	store  store
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewKVRepository creates a key-value repository.
func NewKVRepository(s store, prefix string, logger *zap.Logger) *KVRepository {
	return &KVRepository{store: s, prefix: prefix, now: time.Now, logger: logger}
}

// Save writes res under a new stamped key and updates the latest key unless the stored latest
// was created after res. Returns the stamped key.
func (r *KVRepository) Save(ctx context.Context, res *training.ShiftTrainingResult) (string, error) {
	if err := validateWorkflow(res); err != nil {
		return "", err
	}

	out := *res
	if out.CreatedUtc.IsZero() {
		out.CreatedUtc = r.now().UTC()
	}

	base := r.key(out.WorkflowName, domain.Stamp(out.CreatedUtc))
	key := base
	if out.BaseDirectory == "" {
		out.BaseDirectory = key
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return "", fmt.Errorf("marshal training result: %w", err)
	}

	for n := 2; ; n++ {
		err = r.store.SetNX(ctx, key, data)
		if err == nil {
			break
		}
		if !errors.Is(err, db.ErrKeyExists) {
			return "", fmt.Errorf("save training result: %w", err)
		}
		key = fmt.Sprintf("%s_%d", base, n)
	}

	newer, err := r.latestIsNewer(ctx, out.WorkflowName, out.CreatedUtc)
	if err != nil {
		return "", err
	}
	if newer {
		r.logger.Info("Latest training result is newer, keeping it",
			zap.String("workflow", out.WorkflowName),
			zap.String("key", key),
		)
	} else if err := r.store.Set(ctx, r.key(out.WorkflowName, latestSuffix), data); err != nil {
		return "", fmt.Errorf("update latest training result: %w", err)
	}

	r.logger.Info("Training result saved",
		zap.String("workflow", out.WorkflowName),
		zap.String("key", key),
		zap.Bool("cancelled", out.IsCancelled),
	)
	return key, nil
}

// LoadLatest reads the latest key of workflow. A missing or corrupt entry yields false.
func (r *KVRepository) LoadLatest(ctx context.Context, workflow string) (*training.ShiftTrainingResult, bool, error) {
	if err := checkWorkflowName(workflow); err != nil {
		return nil, false, err
	}

	key := r.key(workflow, latestSuffix)
	data, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load latest training result: %w", err)
	}

	var res training.ShiftTrainingResult
	if err := json.Unmarshal(data, &res); err != nil {
		r.logger.Warn("Skipping unreadable training result", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return &res, true, nil
}

// latestIsNewer reports whether the stored latest entry was created after created.
// A missing or unreadable entry is never newer.
func (r *KVRepository) latestIsNewer(ctx context.Context, workflow string, created time.Time) (bool, error) {
	data, err := r.store.Get(ctx, r.key(workflow, latestSuffix))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read latest training result: %w", err)
	}
	var cur training.ShiftTrainingResult
	if err := json.Unmarshal(data, &cur); err != nil {
		return false, nil
	}
	return cur.CreatedUtc.After(created), nil
}

func (r *KVRepository) key(workflow, suffix string) string {
	return r.prefix + "training:" + workflow + ":" + suffix
}
