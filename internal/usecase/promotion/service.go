// Package promotion decides which run is active for a metric and manages promotion history.
//
// Promotion and rollback are not transactional: a crash between archiving and overwriting
// can leave a stale active pointer. Callers serialize writers for one runs root.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/run"
	"github.com/kailas-cloud/embshift/internal/repository/fsutil"
	"github.com/kailas-cloud/embshift/internal/repository/pointer"
	"github.com/kailas-cloud/embshift/internal/repository/runs"
)

// PromoteResult is the outcome of Promote. ArchivedPath is empty when nothing was active.
type PromoteResult struct {
	Pointer      run.ActiveRunPointer
	PointerPath  string
	ArchivedPath string
}

// RollbackResult is the outcome of RollbackLatest. PreRollbackPath is empty when nothing was active.
type RollbackResult struct {
	Restored        run.ActiveRunPointer
	RestoredFrom    string
	PreRollbackPath string
	PointerPath     string
}

// Service implements promotion governance over a runs root.
type Service struct {
	now       func() time.Time
	decisions *prometheus.CounterVec
	skipped   prometheus.Counter
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for pointer timestamps and archive names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDecisionCounter counts decisions by metric and action.
func WithDecisionCounter(c *prometheus.CounterVec) Option {
	return func(s *Service) { s.decisions = c }
}

// WithSkippedCounter counts run files discovery could not read.
func WithSkippedCounter(c prometheus.Counter) Option {
	return func(s *Service) { s.skipped = c }
}

// New creates a Service.
func New(logger *zap.Logger, opts ...Option) *Service {
	s := &Service{now: time.Now, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Discover lists the runs under runsRoot, logging and counting skipped files.
func (s *Service) Discover(ctx context.Context, runsRoot string) ([]run.Discovered, error) {
	d, err := runs.Discover(ctx, runsRoot)
	if err != nil {
		return nil, err //nolint:wrapcheck // already carries context
	}
	for _, sk := range d.Skipped {
		s.logger.Warn("Skipping unreadable run artifact", zap.String("path", sk.Path), zap.Error(sk.Err))
		if s.skipped != nil {
			s.skipped.Inc()
		}
	}
	return d.Runs, nil
}

// Best returns the best run for metric and the number of runs discovered.
func (s *Service) Best(ctx context.Context, runsRoot, metric string) (runs.Best, int, error) {
	if err := validate(runsRoot, metric); err != nil {
		return runs.Best{}, 0, err
	}
	discovered, err := s.Discover(ctx, runsRoot)
	if err != nil {
		return runs.Best{}, 0, err
	}
	best, err := runs.SelectBest(discovered, metric)
	if err != nil {
		return runs.Best{}, len(discovered), fmt.Errorf("select best run under %s: %w", runsRoot, err)
	}
	return best, len(discovered), nil
}

// Active returns the active pointer of metric, or false when none exists.
func (s *Service) Active(runsRoot, metric string) (*run.ActiveRunPointer, bool, error) {
	if err := validate(runsRoot, metric); err != nil {
		return nil, false, err
	}
	return s.store(runsRoot).Active(metric) //nolint:wrapcheck // store errors carry context
}

// Promote makes the best run for metric active. The previous active pointer, if any,
// is archived first.
func (s *Service) Promote(ctx context.Context, runsRoot, metric string) (PromoteResult, error) {
	best, total, err := s.Best(ctx, runsRoot, metric)
	if err != nil {
		return PromoteResult{}, err
	}

	p := s.candidate(runsRoot, metric, best, total)
	st := s.store(runsRoot)

	archived, _, err := st.ArchiveActive(metric, run.TagNormal)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("promote %s: %w", metric, err)
	}
	path, err := st.WriteActive(&p)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("promote %s: %w", metric, err)
	}

	s.logger.Info("Run promoted",
		zap.String("metric", metric),
		zap.String("run_id", p.RunID),
		zap.String("workflow", p.WorkflowName),
		zap.Float64("score", p.Score),
		zap.String("archived", archived),
	)
	return PromoteResult{Pointer: p, PointerPath: path, ArchivedPath: archived}, nil
}

// Decide compares the best run against the active pointer without changing anything.
// Promote iff there is no active pointer, or the candidate is a different run whose
// score exceeds the active score by more than epsilon.
func (s *Service) Decide(ctx context.Context, runsRoot, metric string, epsilon float64) (run.RunPromotionDecision, error) {
	if err := validate(runsRoot, metric); err != nil {
		return run.RunPromotionDecision{}, err
	}
	if epsilon < 0 {
		return run.RunPromotionDecision{}, fmt.Errorf("%w: epsilon must not be negative, got %g",
			domain.ErrInvalidArgument, epsilon)
	}

	best, total, err := s.Best(ctx, runsRoot, metric)
	if err != nil {
		return run.RunPromotionDecision{}, err
	}
	active, ok, err := s.store(runsRoot).Active(metric)
	if err != nil {
		return run.RunPromotionDecision{}, fmt.Errorf("decide %s: %w", metric, err)
	}

	d := run.RunPromotionDecision{
		MetricKey: metric,
		Epsilon:   epsilon,
		Candidate: s.candidate(runsRoot, metric, best, total),
	}

	switch {
	case !ok:
		d.Action = run.ActionPromote
		d.Reason = fmt.Sprintf("initial activation: no active run for %s; candidate %s scores %.6f",
			metric, d.Candidate.RunID, d.Candidate.Score)
	case sameRun(d.Candidate, *active):
		d.Active = active
		d.Action = run.ActionKeepActive
		d.Reason = fmt.Sprintf("candidate %s is already active (delta 0, epsilon %.6f)", d.Candidate.RunID, epsilon)
	default:
		d.Active = active
		d.Delta = d.Candidate.Score - active.Score
		if d.Delta > epsilon {
			d.Action = run.ActionPromote
			d.Reason = fmt.Sprintf("candidate %s improves on active %s: delta %.6f > epsilon %.6f",
				d.Candidate.RunID, active.RunID, d.Delta, epsilon)
		} else {
			d.Action = run.ActionKeepActive
			d.Reason = fmt.Sprintf("candidate %s does not beat active %s: delta %.6f <= epsilon %.6f",
				d.Candidate.RunID, active.RunID, d.Delta, epsilon)
		}
	}

	if s.decisions != nil {
		s.decisions.WithLabelValues(metric, string(d.Action)).Inc()
	}
	s.logger.Info("Promotion decision",
		zap.String("metric", metric),
		zap.String("action", string(d.Action)),
		zap.String("candidate", d.Candidate.RunID),
		zap.Float64("delta", d.Delta),
		zap.Float64("epsilon", epsilon),
	)
	return d, nil
}

// RollbackLatest restores the most recent ordinary history entry of metric. The current
// active pointer, if any, is archived under the pre-rollback tag first.
func (s *Service) RollbackLatest(ctx context.Context, runsRoot, metric string) (RollbackResult, error) {
	if err := validateRoot(runsRoot, metric); err != nil {
		return RollbackResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return RollbackResult{}, fmt.Errorf("rollback %s: %w", metric, err)
	}

	st := s.store(runsRoot)
	entries, err := st.History(metric)
	if err != nil {
		return RollbackResult{}, fmt.Errorf("rollback %s: %w", metric, err)
	}

	var target *run.HistoryEntry
	for i := range entries {
		if entries[i].Tag == run.TagNormal && entries[i].Pointer != nil {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return RollbackResult{}, fmt.Errorf("%w: no restorable entries for %s", domain.ErrNoHistory, metric)
	}

	pre, _, err := st.ArchiveActive(metric, run.TagPreRollback)
	if err != nil {
		return RollbackResult{}, fmt.Errorf("rollback %s: %w", metric, err)
	}
	path, err := st.Restore(metric, *target)
	if err != nil {
		return RollbackResult{}, fmt.Errorf("rollback %s: %w", metric, err)
	}

	s.logger.Info("Active run rolled back",
		zap.String("metric", metric),
		zap.String("run_id", target.Pointer.RunID),
		zap.String("restored_from", target.Path),
		zap.String("pre_rollback", pre),
	)
	return RollbackResult{
		Restored:        *target.Pointer,
		RestoredFrom:    target.Path,
		PreRollbackPath: pre,
		PointerPath:     path,
	}, nil
}

// ListHistory returns up to maxItems history entries of metric, newest first.
// A runs root without history yields an empty list.
func (s *Service) ListHistory(
	ctx context.Context, runsRoot, metric string, maxItems int, includePreRollback bool,
) ([]run.HistoryEntry, error) {
	if err := validateRoot(runsRoot, metric); err != nil {
		return nil, err
	}
	if maxItems < 1 {
		return nil, fmt.Errorf("%w: max items must be at least 1, got %d", domain.ErrInvalidArgument, maxItems)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	entries, err := s.store(runsRoot).History(metric)
	if err != nil {
		if errors.Is(err, domain.ErrNoHistory) {
			return []run.HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("list history: %w", err)
	}

	out := make([]run.HistoryEntry, 0, min(maxItems, len(entries)))
	for _, e := range entries {
		if !includePreRollback && e.Tag == run.TagPreRollback {
			continue
		}
		out = append(out, e)
		if len(out) == maxItems {
			break
		}
	}
	return out, nil
}

func (s *Service) store(runsRoot string) *pointer.Store {
	return pointer.NewStore(runsRoot, s.now, s.logger)
}

func (s *Service) candidate(runsRoot, metric string, best runs.Best, total int) run.ActiveRunPointer {
	return run.ActiveRunPointer{
		MetricKey:      metric,
		CreatedUtc:     s.now().UTC(),
		RunsRoot:       runsRoot,
		TotalRunsFound: total,
		WorkflowName:   best.Run.Artifact.WorkflowName,
		RunID:          best.Run.Artifact.RunID,
		Score:          best.Score,
		RunDirectory:   best.Run.Dir,
		RunJSONPath:    best.Run.Path,
	}
}

// sameRun matches by directory, artifact path or RunId.
func sameRun(a, b run.ActiveRunPointer) bool {
	return (a.RunDirectory != "" && a.RunDirectory == b.RunDirectory) ||
		(a.RunJSONPath != "" && a.RunJSONPath == b.RunJSONPath) ||
		(a.RunID != "" && a.RunID == b.RunID)
}

func validate(runsRoot, metric string) error {
	if runsRoot == "" {
		return fmt.Errorf("%w: runs root is required", domain.ErrInvalidArgument)
	}
	if metric == "" {
		return fmt.Errorf("%w: metric key is required", domain.ErrInvalidArgument)
	}
	return nil
}

func validateRoot(runsRoot, metric string) error {
	if err := validate(runsRoot, metric); err != nil {
		return err
	}
	if !fsutil.IsDir(runsRoot) {
		return fmt.Errorf("%w: runs root %q does not exist", domain.ErrInvalidArgument, runsRoot)
	}
	return nil
}
