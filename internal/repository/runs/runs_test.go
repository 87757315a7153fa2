package runs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/run"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func writeRun(t *testing.T, w *Writer, wf, id string, finished time.Time, metrics map[string]float64) string {
	t.Helper()
	path, err := w.Write(context.Background(), &run.WorkflowRunArtifact{
		RunID:        id,
		WorkflowName: wf,
		StartedUtc:   finished.Add(-time.Minute),
		FinishedUtc:  finished,
		Success:      true,
		Metrics:      metrics,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestWriter_AssignsRunID(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zap.NewNop())

	a := &run.WorkflowRunArtifact{WorkflowName: "faq", FinishedUtc: t0}
	path, err := w.Write(context.Background(), a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.RunID == "" {
		t.Fatal("expected a generated run id")
	}
	if path != filepath.Join(root, "faq", a.RunID, run.ArtifactFileName) {
		t.Errorf("unexpected path %s", path)
	}
}

func TestWriter_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := NewWriter("", zap.NewNop()).Write(ctx, &run.WorkflowRunArtifact{WorkflowName: "faq"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty root, got %v", err)
	}
	w := NewWriter(t.TempDir(), zap.NewNop())
	if _, err := w.Write(ctx, &run.WorkflowRunArtifact{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty workflow, got %v", err)
	}
	if _, err := w.Write(ctx, &run.WorkflowRunArtifact{WorkflowName: "faq", RunID: "../x"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for path in run id, got %v", err)
	}
}

func TestWriter_StaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "runs")
	w := NewWriter(root, zap.NewNop())

	for _, a := range []run.WorkflowRunArtifact{
		{WorkflowName: ".."},
		{WorkflowName: "."},
		{WorkflowName: "faq", RunID: ".."},
	} {
		if _, err := w.Write(context.Background(), &a); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("workflow %q run %q: expected ErrInvalidArgument, got %v", a.WorkflowName, a.RunID, err)
		}
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected nothing written next to the root, found %d entries", len(entries))
	}
}

func TestDiscover_OrdersAndSkipsCorrupt(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, zap.NewNop())
	writeRun(t, w, "faq", "r1", t0, map[string]float64{"ndcg@3": 0.5})
	writeRun(t, w, "faq", "r2", t0.Add(time.Hour), map[string]float64{"ndcg@3": 0.4})
	writeRun(t, w, "_repo", "r3", t0.Add(time.Minute), map[string]float64{"ndcg@3": 0.1})

	bad := filepath.Join(root, "faq", "broken", run.ArtifactFileName)
	if err := os.MkdirAll(filepath.Dir(bad), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(bad, []byte("{nope"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, err := Discover(context.Background(), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Runs) != 3 {
		t.Fatalf("expected 3 runs (the _repo subtree included), got %d", len(d.Runs))
	}
	ids := []string{d.Runs[0].Artifact.RunID, d.Runs[1].Artifact.RunID, d.Runs[2].Artifact.RunID}
	if ids[0] != "r2" || ids[1] != "r3" || ids[2] != "r1" {
		t.Errorf("expected FinishedUtc-descending order [r2 r3 r1], got %v", ids)
	}
	if len(d.Skipped) != 1 || d.Skipped[0].Path != bad {
		t.Errorf("expected the corrupt file to be skipped, got %+v", d.Skipped)
	}
	if d.Runs[0].Dir != filepath.Join(root, "faq", "r2") {
		t.Errorf("unexpected dir %s", d.Runs[0].Dir)
	}
}

func TestDiscover_InvalidRoot(t *testing.T) {
	ctx := context.Background()
	if _, err := Discover(ctx, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := Discover(ctx, filepath.Join(t.TempDir(), "missing")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for missing root, got %v", err)
	}
}

func TestDiscover_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeRun(t, NewWriter(root, zap.NewNop()), "faq", "r1", t0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Discover(ctx, root); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func discovered(id string, finished time.Time, metrics map[string]float64) run.Discovered {
	return run.Discovered{Artifact: run.WorkflowRunArtifact{RunID: id, FinishedUtc: finished, Metrics: metrics}}
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name string
		runs []run.Discovered
		want string
	}{
		{
			name: "highest score",
			runs: []run.Discovered{
				discovered("a", t0, map[string]float64{"ndcg@3": 0.50}),
				discovered("b", t0, map[string]float64{"ndcg@3": 0.53}),
			},
			want: "b",
		},
		{
			name: "tie goes to newer",
			runs: []run.Discovered{
				discovered("z", t0, map[string]float64{"ndcg@3": 0.5}),
				discovered("a", t0.Add(time.Second), map[string]float64{"ndcg@3": 0.5}),
			},
			want: "a",
		},
		{
			name: "tie on time goes to greater run id",
			runs: []run.Discovered{
				discovered("a", t0, map[string]float64{"ndcg@3": 0.5}),
				discovered("c", t0, map[string]float64{"ndcg@3": 0.5}),
				discovered("b", t0, map[string]float64{"ndcg@3": 0.5}),
			},
			want: "c",
		},
		{
			name: "missing metric excluded, not zero",
			runs: []run.Discovered{
				discovered("neg", t0, map[string]float64{"ndcg@3": -0.2}),
				discovered("none", t0.Add(time.Hour), map[string]float64{"mrr": 1}),
			},
			want: "neg",
		},
		{
			name: "case-insensitive metric",
			runs: []run.Discovered{
				discovered("a", t0, map[string]float64{"NDCG@3": 0.7}),
				discovered("b", t0, map[string]float64{"ndcg@3": 0.6}),
			},
			want: "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, err := SelectBest(tt.runs, "ndcg@3")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if best.Run.Artifact.RunID != tt.want {
				t.Errorf("expected %s, got %s", tt.want, best.Run.Artifact.RunID)
			}
		})
	}
}

func TestSelectBest_Errors(t *testing.T) {
	if _, err := SelectBest(nil, "ndcg@3"); !errors.Is(err, domain.ErrNoRuns) {
		t.Errorf("expected ErrNoRuns, got %v", err)
	}
	runs := []run.Discovered{discovered("a", t0, map[string]float64{"mrr": 1})}
	if _, err := SelectBest(runs, "ndcg@3"); !errors.Is(err, domain.ErrMetricNotFound) {
		t.Errorf("expected ErrMetricNotFound, got %v", err)
	}
	if _, err := SelectBest(runs, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
