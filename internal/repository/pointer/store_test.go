package pointer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/run"
)

var fixed = time.Date(2026, 3, 4, 4, 6, 7, 89*int(time.Millisecond), time.UTC)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	return NewStore(root, func() time.Time { return fixed }, zap.NewNop()), root
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"ndcg@3":      "ndcg_3",
		"mrr":         "mrr",
		"a b/c":       "a_b_c",
		"ok.name-1_2": "ok.name-1_2",
	}
	for in, want := range tests {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestActive_RoundTrip(t *testing.T) {
	s, root := newTestStore(t)

	if _, ok, err := s.Active("ndcg@3"); err != nil || ok {
		t.Fatalf("expected no active pointer, got ok=%v err=%v", ok, err)
	}

	path, err := s.WriteActive(&run.ActiveRunPointer{MetricKey: "ndcg@3", RunID: "r1", Score: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join(root, "_active", "active_ndcg_3.json") {
		t.Errorf("unexpected path %s", path)
	}

	p, ok, err := s.Active("ndcg@3")
	if err != nil || !ok {
		t.Fatalf("expected active pointer, got ok=%v err=%v", ok, err)
	}
	if p.RunID != "r1" || p.Score != 0.5 {
		t.Errorf("unexpected pointer %+v", p)
	}
}

func TestActive_Corrupt(t *testing.T) {
	s, _ := newTestStore(t)
	path := s.ActivePath("mrr")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := s.Active("mrr"); err == nil {
		t.Fatal("expected error for corrupt active pointer")
	}
}

func TestArchiveActive(t *testing.T) {
	s, root := newTestStore(t)

	if _, ok, err := s.ArchiveActive("ndcg@3", run.TagNormal); err != nil || ok {
		t.Fatalf("expected nothing to archive, got ok=%v err=%v", ok, err)
	}

	if _, err := s.WriteActive(&run.ActiveRunPointer{MetricKey: "ndcg@3", RunID: "r1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hist := filepath.Join(root, "_active", "history")
	want := []struct {
		tag  run.HistoryTag
		name string
	}{
		{run.TagNormal, "active_ndcg_3_20260304_040607_089.json"},
		{run.TagNormal, "active_ndcg_3_20260304_040607_089_2.json"},
		{run.TagPreRollback, "active_ndcg_3_preRollback_20260304_040607_089.json"},
	}
	for _, w := range want {
		path, ok, err := s.ArchiveActive("ndcg@3", w.tag)
		if err != nil || !ok {
			t.Fatalf("expected archive, got ok=%v err=%v", ok, err)
		}
		if path != filepath.Join(hist, w.name) {
			t.Errorf("expected %s, got %s", w.name, filepath.Base(path))
		}
	}
}

func writeHistory(t *testing.T, dir, name, body string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestHistory_OrderTagsAndCorrupt(t *testing.T) {
	s, root := newTestStore(t)
	dir := filepath.Join(root, "_active", "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	oldest := writeHistory(t, dir, "active_ndcg_3_20260101_000000_000.json", `{"RunId":"a"}`, fixed.Add(-2*time.Hour))
	pre := writeHistory(t, dir, "active_ndcg_3_preRollback_20260102_000000_000.json", `{"RunId":"b"}`, fixed.Add(-time.Hour))
	corrupt := writeHistory(t, dir, "active_ndcg_3_20260103_000000_000.json", `{broken`, fixed)
	writeHistory(t, dir, "active_mrr_20260103_000000_000.json", `{"RunId":"x"}`, fixed)
	writeHistory(t, dir, "active_ndcg_3_extra_20260103_000000_000.json", `{"RunId":"y"}`, fixed)
	writeHistory(t, dir, "readme.txt", "", fixed)

	entries, err := s.History("ndcg@3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Path != corrupt || entries[0].Pointer != nil {
		t.Errorf("expected corrupt newest entry with nil pointer, got %+v", entries[0])
	}
	if entries[1].Path != pre || entries[1].Tag != run.TagPreRollback || entries[1].Pointer.RunID != "b" {
		t.Errorf("unexpected second entry %+v", entries[1])
	}
	if entries[2].Path != oldest || entries[2].Tag != run.TagNormal {
		t.Errorf("unexpected third entry %+v", entries[2])
	}
}

func TestHistory_NameBreaksMtimeTies(t *testing.T) {
	s, root := newTestStore(t)
	dir := filepath.Join(root, "_active", "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := writeHistory(t, dir, "active_mrr_20260101_000000_000.json", `{}`, fixed)
	second := writeHistory(t, dir, "active_mrr_20260101_000000_000_2.json", `{}`, fixed)

	entries, err := s.History("mrr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries[0].Path != second || entries[1].Path != first {
		t.Errorf("expected name-descending order on equal mtimes, got %s, %s", entries[0].Path, entries[1].Path)
	}
}

func TestHistory_MissingDir(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.History("ndcg@3"); !errors.Is(err, domain.ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	s, root := newTestStore(t)
	dir := filepath.Join(root, "_active", "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := writeHistory(t, dir, "active_mrr_20260101_000000_000.json", `{"MetricKey":"mrr","RunId":"old"}`, fixed)

	if _, err := s.Restore("mrr", run.HistoryEntry{Path: path}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok, err := s.Active("mrr")
	if err != nil || !ok || p.RunID != "old" {
		t.Fatalf("expected restored pointer, got %+v ok=%v err=%v", p, ok, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("history entry must be copied, not moved: %v", err)
	}
}
