package chi

import (
	"time"

	"github.com/kailas-cloud/embshift/internal/domain/run"
	traininguc "github.com/kailas-cloud/embshift/internal/usecase/training"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

type runResponse struct {
	RunID        string             `json:"run_id"`
	WorkflowName string             `json:"workflow_name"`
	StartedUtc   time.Time          `json:"started_utc"`
	FinishedUtc  time.Time          `json:"finished_utc"`
	Success      bool               `json:"success"`
	Metrics      map[string]float64 `json:"metrics"`
	Notes        string             `json:"notes,omitempty"`
	Path         string             `json:"path"`
}

type bestResponse struct {
	Metric string  `json:"metric"`
	RunID  string  `json:"run_id"`
	Score  float64 `json:"score"`
	Path   string  `json:"path"`
}

type runListResponse struct {
	Runs  []runResponse `json:"runs"`
	Total int           `json:"total"`
	Best  *bestResponse `json:"best,omitempty"`
}

type pointerResponse struct {
	MetricKey      string    `json:"metric_key"`
	CreatedUtc     time.Time `json:"created_utc"`
	RunsRoot       string    `json:"runs_root"`
	TotalRunsFound int       `json:"total_runs_found"`
	WorkflowName   string    `json:"workflow_name"`
	RunID          string    `json:"run_id"`
	Score          float64   `json:"score"`
	RunDirectory   string    `json:"run_directory"`
	RunJSONPath    string    `json:"run_json_path"`
}

type decisionResponse struct {
	MetricKey string           `json:"metric_key"`
	Epsilon   float64          `json:"epsilon"`
	Action    string           `json:"action"`
	Delta     float64          `json:"delta"`
	Reason    string           `json:"reason"`
	Candidate pointerResponse  `json:"candidate"`
	Active    *pointerResponse `json:"active,omitempty"`
}

type promoteResponse struct {
	Promoted     bool              `json:"promoted"`
	Pointer      *pointerResponse  `json:"pointer,omitempty"`
	PointerPath  string            `json:"pointer_path,omitempty"`
	ArchivedPath string            `json:"archived_path,omitempty"`
	Decision     *decisionResponse `json:"decision,omitempty"`
}

type rollbackResponse struct {
	Restored        pointerResponse `json:"restored"`
	RestoredFrom    string          `json:"restored_from"`
	PreRollbackPath string          `json:"pre_rollback_path,omitempty"`
	PointerPath     string          `json:"pointer_path"`
}

type historyEntryResponse struct {
	Path          string           `json:"path"`
	Tag           string           `json:"tag"`
	LastWriteTime time.Time        `json:"last_write_time"`
	Pointer       *pointerResponse `json:"pointer"`
}

type historyResponse struct {
	Items []historyEntryResponse `json:"items"`
}

type trainingQueryRequest struct {
	QueryID       string `json:"query_id"`
	Text          string `json:"text"`
	RelevantDocID string `json:"relevant_doc_id"`
}

type trainingRequest struct {
	ScopeID     string                 `json:"scope_id"`
	Queries     []trainingQueryRequest `json:"queries"`
	Documents   map[string]string      `json:"documents"`
	HardNegTopK *int                   `json:"hard_neg_top_k,omitempty"`
	EvalK       *int                   `json:"eval_k,omitempty"`
	Debug       bool                   `json:"debug,omitempty"`
}

type trainingResponse struct {
	WorkflowName              string             `json:"workflow_name"`
	TrainingPath              string             `json:"training_path"`
	RunID                     string             `json:"run_id"`
	RunPath                   string             `json:"run_path"`
	IsCancelled               bool               `json:"is_cancelled"`
	CancelReason              string             `json:"cancel_reason,omitempty"`
	DeltaNorm                 float64            `json:"delta_norm"`
	ImprovementFirst          float64            `json:"improvement_first"`
	ImprovementFirstPlusDelta float64            `json:"improvement_first_plus_delta"`
	DeltaImprovement          float64            `json:"delta_improvement"`
	Cases                     int                `json:"cases"`
	UniquePairs               int                `json:"unique_pairs"`
	NormClipApplied           bool               `json:"norm_clip_applied"`
	CancelOutSuspected        bool               `json:"cancel_out_suspected"`
	ProviderCalls             int                `json:"provider_calls"`
	Metrics                   map[string]float64 `json:"metrics"`
	EvaluatorMeans            map[string]float64 `json:"evaluator_means,omitempty"`
}

func runToResponse(d *run.Discovered) runResponse {
	return runResponse{
		RunID:        d.Artifact.RunID,
		WorkflowName: d.Artifact.WorkflowName,
		StartedUtc:   d.Artifact.StartedUtc,
		FinishedUtc:  d.Artifact.FinishedUtc,
		Success:      d.Artifact.Success,
		Metrics:      d.Artifact.Metrics,
		Notes:        d.Artifact.Notes,
		Path:         d.Path,
	}
}

func pointerToResponse(p *run.ActiveRunPointer) pointerResponse {
	return pointerResponse{
		MetricKey:      p.MetricKey,
		CreatedUtc:     p.CreatedUtc,
		RunsRoot:       p.RunsRoot,
		TotalRunsFound: p.TotalRunsFound,
		WorkflowName:   p.WorkflowName,
		RunID:          p.RunID,
		Score:          p.Score,
		RunDirectory:   p.RunDirectory,
		RunJSONPath:    p.RunJSONPath,
	}
}

func decisionToResponse(d *run.RunPromotionDecision) decisionResponse {
	resp := decisionResponse{
		MetricKey: d.MetricKey,
		Epsilon:   d.Epsilon,
		Action:    string(d.Action),
		Delta:     d.Delta,
		Reason:    d.Reason,
		Candidate: pointerToResponse(&d.Candidate),
	}
	if d.Active != nil {
		a := pointerToResponse(d.Active)
		resp.Active = &a
	}
	return resp
}

func historyToResponse(e *run.HistoryEntry) historyEntryResponse {
	resp := historyEntryResponse{
		Path:          e.Path,
		Tag:           string(e.Tag),
		LastWriteTime: e.LastWriteTime,
	}
	if e.Pointer != nil {
		p := pointerToResponse(e.Pointer)
		resp.Pointer = &p
	}
	return resp
}

func trainingToResponse(r *traininguc.Result) trainingResponse {
	return trainingResponse{
		WorkflowName:              r.Training.WorkflowName,
		TrainingPath:              r.TrainingPath,
		RunID:                     r.Run.RunID,
		RunPath:                   r.RunPath,
		IsCancelled:               r.Training.IsCancelled,
		CancelReason:              r.Training.CancelReason,
		DeltaNorm:                 r.Training.DeltaNorm,
		ImprovementFirst:          r.Training.ImprovementFirst,
		ImprovementFirstPlusDelta: r.Training.ImprovementFirstPlusDelta,
		DeltaImprovement:          r.Training.DeltaImprovement,
		Cases:                     r.Stats.Cases,
		UniquePairs:               r.Stats.UniquePairs,
		NormClipApplied:           r.Stats.NormClipApplied,
		CancelOutSuspected:        r.Stats.CancelOutSuspected,
		ProviderCalls:             r.ProviderCalls,
		Metrics:                   r.Run.Metrics,
		EvaluatorMeans:            r.EvaluatorMeans,
	}
}

type selectionPairRequest struct {
	ID     string `json:"id"`
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

type selectionRequest struct {
	Pairs []selectionPairRequest `json:"pairs"`
	K     *int                   `json:"k,omitempty"`
}

type candidateResponse struct {
	Name            string  `json:"name"`
	MeanImprovement float64 `json:"mean_improvement"`
}

type selectionResponse struct {
	Candidates []candidateResponse `json:"candidates"`
}
