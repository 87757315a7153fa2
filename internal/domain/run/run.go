// Package run holds workflow run artifacts and the promotion governance records built on them.
package run

import (
	"strings"
	"time"
)

// ArtifactFileName is the file name of a persisted run artifact.
const ArtifactFileName = "run.json"

// WorkflowRunArtifact is the persisted outcome of one workflow execution.
type WorkflowRunArtifact struct {
	RunID        string             `json:"RunId"`
	WorkflowName string             `json:"WorkflowName"`
	StartedUtc   time.Time          `json:"StartedUtc"`
	FinishedUtc  time.Time          `json:"FinishedUtc"`
	Success      bool               `json:"Success"`
	Metrics      map[string]float64 `json:"Metrics"`
	Notes        string             `json:"Notes"`
}

// Metric looks up name case-insensitively. An exact-case key wins over a folded match.
func (a *WorkflowRunArtifact) Metric(name string) (float64, bool) {
	if v, ok := a.Metrics[name]; ok {
		return v, true
	}
	for k, v := range a.Metrics {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return 0, false
}

// Discovered is an artifact together with where it was read from.
type Discovered struct {
	Artifact WorkflowRunArtifact
	Dir      string
	Path     string
}

// ActiveRunPointer marks the currently active run for a metric.
type ActiveRunPointer struct {
	MetricKey      string    `json:"MetricKey"`
	CreatedUtc     time.Time `json:"CreatedUtc"`
	RunsRoot       string    `json:"RunsRoot"`
	TotalRunsFound int       `json:"TotalRunsFound"`
	WorkflowName   string    `json:"WorkflowName"`
	RunID          string    `json:"RunId"`
	Score          float64   `json:"Score"`
	RunDirectory   string    `json:"RunDirectory"`
	RunJSONPath    string    `json:"RunJsonPath"`
}

// HistoryTag distinguishes ordinary archives from archives taken right before a rollback.
type HistoryTag string

// History tags.
const (
	TagNormal      HistoryTag = "normal"
	TagPreRollback HistoryTag = "preRollback"
)

// HistoryEntry is one archived active pointer. Pointer is nil when the file could not be parsed.
type HistoryEntry struct {
	Path          string
	Tag           HistoryTag
	LastWriteTime time.Time
	Pointer       *ActiveRunPointer
}

// Action is the outcome of a promotion decision.
type Action string

// Promotion actions.
const (
	ActionPromote    Action = "Promote"
	ActionKeepActive Action = "KeepActive"
)

// RunPromotionDecision is a computed, non-persisted governance outcome.
type RunPromotionDecision struct {
	MetricKey string
	Epsilon   float64
	Candidate ActiveRunPointer
	Active    *ActiveRunPointer
	Action    Action
	Delta     float64
	Reason    string
}
