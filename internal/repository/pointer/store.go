// Package pointer stores the active run pointer of each metric and its archived history.
//
// Layout under a runs root:
//
//	_active/active_{metric}.json
//	_active/history/active_{metric}_{stamp}.json
//	_active/history/active_{metric}_preRollback_{stamp}.json
package pointer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/run"
	"github.com/kailas-cloud/embshift/internal/repository/fsutil"
)

// Directory names under the runs root.
const (
	ActiveDir  = "_active"
	HistoryDir = "history"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Sanitize maps a metric key to a file-name-safe token: every character outside
// [A-Za-z0-9._-] becomes '_'. "ndcg@3" becomes "ndcg_3".
func Sanitize(metric string) string {
	return unsafeChars.ReplaceAllString(metric, "_")
}

// Store reads and writes pointer files below one runs root.
type Store struct {
	root   string
	now    func() time.Time
	logger *zap.Logger
}

// NewStore creates a store for runsRoot. now stamps archive names; nil means time.Now.
func NewStore(runsRoot string, now func() time.Time, logger *zap.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{root: runsRoot, now: now, logger: logger}
}

// ActivePath returns the active pointer path of metric.
func (s *Store) ActivePath(metric string) string {
	return filepath.Join(s.root, ActiveDir, "active_"+Sanitize(metric)+".json")
}

func (s *Store) historyDir() string {
	return filepath.Join(s.root, ActiveDir, HistoryDir)
}

// Active reads the active pointer of metric. Returns false when there is none.
func (s *Store) Active(metric string) (*run.ActiveRunPointer, bool, error) {
	path := s.ActivePath(metric)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat active pointer: %w", err)
	}

	var p run.ActiveRunPointer
	if err := fsutil.ReadJSON(path, &p); err != nil {
		return nil, false, fmt.Errorf("read active pointer for %s: %w", metric, err)
	}
	return &p, true, nil
}

// WriteActive replaces the active pointer of p.MetricKey atomically.
func (s *Store) WriteActive(p *run.ActiveRunPointer) (string, error) {
	path := s.ActivePath(p.MetricKey)
	if err := fsutil.WriteJSON(path, p); err != nil {
		return "", fmt.Errorf("write active pointer: %w", err)
	}
	return path, nil
}

// ArchiveActive copies the current active file of metric into history under tag.
// Returns false when there is no active pointer to archive.
func (s *Store) ArchiveActive(metric string, tag run.HistoryTag) (string, bool, error) {
	data, err := os.ReadFile(s.ActivePath(metric))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read active pointer: %w", err)
	}

	path, err := s.historyPath(metric, tag)
	if err != nil {
		return "", false, err
	}
	if err := fsutil.WriteFile(path, data); err != nil {
		return "", false, fmt.Errorf("archive active pointer: %w", err)
	}

	s.logger.Info("Active pointer archived",
		zap.String("metric", metric),
		zap.String("tag", string(tag)),
		zap.String("path", path),
	)
	return path, true, nil
}

// historyPath returns a free history file name for metric stamped with the current time.
func (s *Store) historyPath(metric string, tag run.HistoryTag) (string, error) {
	name := "active_" + Sanitize(metric) + "_"
	if tag == run.TagPreRollback {
		name += string(run.TagPreRollback) + "_"
	}
	base := name + domain.Stamp(s.now())

	dir := s.historyDir()
	candidate := base
	for n := 2; ; n++ {
		path := filepath.Join(dir, candidate+".json")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", fmt.Errorf("stat history entry: %w", err)
		}
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
}

// History lists the archived pointers of metric, newest first by last-write time, then
// by file name. Corrupt entries are kept with a nil Pointer. Returns domain.ErrNoHistory
// when the history directory does not exist.
func (s *Store) History(metric string) ([]run.HistoryEntry, error) {
	dir := s.historyDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoHistory, dir)
		}
		return nil, fmt.Errorf("list history: %w", err)
	}

	pattern := historyPattern(metric)
	var out []run.HistoryEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between listing and stat
			continue
		}

		entry := run.HistoryEntry{
			Path:          filepath.Join(dir, e.Name()),
			Tag:           run.TagNormal,
			LastWriteTime: info.ModTime().UTC(),
		}
		if m[1] != "" {
			entry.Tag = run.TagPreRollback
		}

		var p run.ActiveRunPointer
		if err := fsutil.ReadJSON(entry.Path, &p); err != nil {
			s.logger.Warn("Unreadable history entry", zap.String("path", entry.Path), zap.Error(err))
		} else {
			entry.Pointer = &p
		}
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastWriteTime.Equal(out[j].LastWriteTime) {
			return out[i].LastWriteTime.After(out[j].LastWriteTime)
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// Restore copies a history entry back into the active slot of metric.
func (s *Store) Restore(metric string, entry run.HistoryEntry) (string, error) {
	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return "", fmt.Errorf("read history entry: %w", err)
	}
	path := s.ActivePath(metric)
	if err := fsutil.WriteFile(path, data); err != nil {
		return "", fmt.Errorf("restore active pointer: %w", err)
	}
	return path, nil
}

func historyPattern(metric string) *regexp.Regexp {
	return regexp.MustCompile(`^active_` + regexp.QuoteMeta(Sanitize(metric)) +
		`_(` + string(run.TagPreRollback) + `_)?` +
		strings.TrimSuffix(strings.TrimPrefix(domain.StampPattern.String(), "^"), "$") + `\.json$`)
}
