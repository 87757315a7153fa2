// Package runs persists workflow run artifacts and discovers them on disk.
package runs

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/run"
	"github.com/kailas-cloud/embshift/internal/repository/fsutil"
)

// Skipped is a file discovery could not use.
type Skipped struct {
	Path string
	Err  error
}

// Discovery is the outcome of scanning a runs root.
type Discovery struct {
	Runs    []run.Discovered
	Skipped []Skipped
}

// Discover recursively reads every run.json under root. Unreadable files are collected
// in Skipped and never abort the scan. Runs are ordered by FinishedUtc descending.
// Cancellation is checked between files.
func Discover(ctx context.Context, root string) (Discovery, error) {
	if root == "" {
		return Discovery{}, fmt.Errorf("%w: runs root is required", domain.ErrInvalidArgument)
	}
	if !fsutil.IsDir(root) {
		return Discovery{}, fmt.Errorf("%w: runs root %q does not exist", domain.ErrInvalidArgument, root)
	}

	var out Discovery
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			out.Skipped = append(out.Skipped, Skipped{Path: path, Err: walkErr})
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Name() != run.ArtifactFileName {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var a run.WorkflowRunArtifact
		if err := fsutil.ReadJSON(path, &a); err != nil {
			out.Skipped = append(out.Skipped, Skipped{Path: path, Err: err})
			return nil
		}
		out.Runs = append(out.Runs, run.Discovered{Artifact: a, Dir: filepath.Dir(path), Path: path})
		return nil
	})
	if err != nil {
		return Discovery{}, fmt.Errorf("discover runs: %w", err)
	}

	sort.SliceStable(out.Runs, func(i, j int) bool {
		a, b := out.Runs[i].Artifact.FinishedUtc, out.Runs[j].Artifact.FinishedUtc
		if !a.Equal(b) {
			return a.After(b)
		}
		return out.Runs[i].Path < out.Runs[j].Path
	})
	return out, nil
}
