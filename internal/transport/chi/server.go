package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/embshift/internal/domain"
	"github.com/kailas-cloud/embshift/internal/domain/run"
	domtraining "github.com/kailas-cloud/embshift/internal/domain/training"
	logpkg "github.com/kailas-cloud/embshift/internal/logger"
	"github.com/kailas-cloud/embshift/internal/repository/runs"
	adaptiveuc "github.com/kailas-cloud/embshift/internal/usecase/adaptive"
	healthuc "github.com/kailas-cloud/embshift/internal/usecase/health"
	promotionuc "github.com/kailas-cloud/embshift/internal/usecase/promotion"
	traininguc "github.com/kailas-cloud/embshift/internal/usecase/training"
	"github.com/kailas-cloud/embshift/internal/version"
)

// Error codes returned in errorResponse.Code.
const (
	codeBadRequest       = "bad_request"
	codeUnauthorized     = "unauthorized"
	codeValidationFailed = "validation_failed"
	codeNotFound         = "not_found"
	codeNoRuns           = "no_runs"
	codeMetricNotFound   = "metric_not_found"
	codeNoHistory        = "no_history"
	codeVectorDim        = "vector_dim_mismatch"
	codeEmbedding        = "embedding_provider_error"
	codeInternal         = "internal_error"
)

const defaultSelectionK = 3

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Defaults are the request parameters used when a request leaves them out.
type Defaults struct {
	RunsRoot         string
	DefaultMetric    string
	Epsilon          float64
	HistoryLimit     int
	LearnerOptions   domtraining.PosNegLearningOptions
	CancelOutEpsilon float64
	EvalK            int
}

// Server serves the governance and training admin API.
type Server struct {
	promotion     *promotionuc.Service
	training      *traininguc.Service
	proposer      *adaptiveuc.Proposer
	health        *healthuc.Service
	defaults      Defaults
	errorHandlers []errorHandler

	// writes serializes promote and rollback within this process
	writes sync.Mutex
}

// NewServer creates the admin API server. A nil training service or proposer disables
// POST /training or POST /selection.
func NewServer(
	promotion *promotionuc.Service,
	training *traininguc.Service,
	proposer *adaptiveuc.Proposer,
	health *healthuc.Service,
	defaults Defaults,
) *Server {
	s := &Server{
		promotion: promotion,
		training:  training,
		proposer:  proposer,
		health:    health,
		defaults:  defaults,
	}
	s.errorHandlers = []errorHandler{
		detailedHandler(domain.ErrInvalidArgument, http.StatusBadRequest, codeValidationFailed),
		detailedHandler(domain.ErrMetricNotFound, http.StatusNotFound, codeMetricNotFound),
		sentinelHandler(domain.ErrNoRuns, http.StatusNotFound, codeNoRuns),
		sentinelHandler(domain.ErrNoHistory, http.StatusConflict, codeNoHistory),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		detailedHandler(domain.ErrEmptyCorpus, http.StatusBadRequest, codeValidationFailed),
		detailedHandler(domain.ErrRelevantDocMissing, http.StatusBadRequest, codeValidationFailed),
		detailedHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeVectorDim),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbedding),
	}
	return s
}

// Routes registers the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get(healthPath, s.HealthCheck)
	r.Get(metricsPath, s.Metrics)
	r.Get("/runs", s.ListRuns)
	r.Route("/active/{metric}", func(r chi.Router) {
		r.Get("/", s.GetActive)
		r.Get("/decision", s.Decide)
		r.Post("/promote", s.Promote)
		r.Post("/rollback", s.Rollback)
		r.Get("/history", s.History)
	})
	r.Post("/training/{workflow}", s.Train)
	r.Post("/selection/{workflow}", s.Select)
}

// ListRuns handles GET /runs. The best run is included for ?metric=, or for the configured
// default metric when the query omits it and some run reports that metric.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	discovered, err := s.promotion.Discover(r.Context(), s.defaults.RunsRoot)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := runListResponse{Runs: make([]runResponse, 0, len(discovered)), Total: len(discovered)}
	for i := range discovered {
		resp.Runs = append(resp.Runs, runToResponse(&discovered[i]))
	}

	metric := r.URL.Query().Get("metric")
	explicit := metric != ""
	if !explicit {
		metric = s.defaults.DefaultMetric
	}
	if metric != "" {
		best, err := runs.SelectBest(discovered, metric)
		switch {
		case err == nil:
			resp.Best = &bestResponse{
				Metric: metric,
				RunID:  best.Run.Artifact.RunID,
				Score:  best.Score,
				Path:   best.Run.Path,
			}
		case !explicit && (errors.Is(err, domain.ErrNoRuns) || errors.Is(err, domain.ErrMetricNotFound)):
			// nothing reports the default metric yet
		default:
			s.handleDomainError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetActive handles GET /active/{metric}.
func (s *Server) GetActive(w http.ResponseWriter, r *http.Request) {
	metric, ok := metricParam(w, r)
	if !ok {
		return
	}
	p, found, err := s.promotion.Active(s.defaults.RunsRoot, metric)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, codeNotFound, "no active run for "+metric)
		return
	}
	writeJSON(w, http.StatusOK, pointerToResponse(p))
}

// Decide handles GET /active/{metric}/decision?epsilon=.
func (s *Server) Decide(w http.ResponseWriter, r *http.Request) {
	metric, ok := metricParam(w, r)
	if !ok {
		return
	}
	epsilon, ok := s.epsilonParam(w, r)
	if !ok {
		return
	}
	d, err := s.promotion.Decide(r.Context(), s.defaults.RunsRoot, metric, epsilon)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionToResponse(&d))
}

// Promote handles POST /active/{metric}/promote. With ?epsilon= the best run is
// promoted only when the decision says so; without it the best run always becomes active.
func (s *Server) Promote(w http.ResponseWriter, r *http.Request) {
	metric, ok := metricParam(w, r)
	if !ok {
		return
	}
	r = r.WithContext(logpkg.WithFields(r.Context(), zap.String("metric", metric)))

	s.writes.Lock()
	defer s.writes.Unlock()

	var resp promoteResponse
	if r.URL.Query().Has("epsilon") {
		epsilon, ok := s.epsilonParam(w, r)
		if !ok {
			return
		}
		d, err := s.promotion.Decide(r.Context(), s.defaults.RunsRoot, metric, epsilon)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		dr := decisionToResponse(&d)
		resp.Decision = &dr
		if d.Action != run.ActionPromote {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	res, err := s.promotion.Promote(r.Context(), s.defaults.RunsRoot, metric)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	p := pointerToResponse(&res.Pointer)
	resp.Promoted = true
	resp.Pointer = &p
	resp.PointerPath = res.PointerPath
	resp.ArchivedPath = res.ArchivedPath
	writeJSON(w, http.StatusOK, resp)
}

// Rollback handles POST /active/{metric}/rollback.
func (s *Server) Rollback(w http.ResponseWriter, r *http.Request) {
	metric, ok := metricParam(w, r)
	if !ok {
		return
	}
	r = r.WithContext(logpkg.WithFields(r.Context(), zap.String("metric", metric)))

	s.writes.Lock()
	defer s.writes.Unlock()

	res, err := s.promotion.RollbackLatest(r.Context(), s.defaults.RunsRoot, metric)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rollbackResponse{
		Restored:        pointerToResponse(&res.Restored),
		RestoredFrom:    res.RestoredFrom,
		PreRollbackPath: res.PreRollbackPath,
		PointerPath:     res.PointerPath,
	})
}

// History handles GET /active/{metric}/history?limit=&include_pre_rollback=.
func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	metric, ok := metricParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	limit := s.defaults.HistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	includePre := false
	if v := q.Get("include_pre_rollback"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "include_pre_rollback must be a boolean")
			return
		}
		includePre = b
	}

	entries, err := s.promotion.ListHistory(r.Context(), s.defaults.RunsRoot, metric, limit, includePre)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	resp := historyResponse{Items: make([]historyEntryResponse, 0, len(entries))}
	for i := range entries {
		resp.Items = append(resp.Items, historyToResponse(&entries[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Train handles POST /training/{workflow}.
func (s *Server) Train(w http.ResponseWriter, r *http.Request) {
	if s.training == nil {
		writeError(w, http.StatusNotImplemented, codeBadRequest, "training is not configured")
		return
	}
	r = r.WithContext(logpkg.WithFields(r.Context(), zap.String("workflow", chi.URLParam(r, "workflow"))))

	var body trainingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req := traininguc.Request{
		WorkflowName:     chi.URLParam(r, "workflow"),
		ScopeID:          body.ScopeID,
		Documents:        body.Documents,
		Options:          s.defaults.LearnerOptions,
		CancelOutEpsilon: s.defaults.CancelOutEpsilon,
		EvalK:            s.defaults.EvalK,
	}
	for _, q := range body.Queries {
		req.Queries = append(req.Queries, domtraining.TrainingQuery{
			QueryID:       q.QueryID,
			Text:          q.Text,
			RelevantDocID: q.RelevantDocID,
		})
	}
	if body.HardNegTopK != nil {
		req.Options.HardNegTopK = *body.HardNegTopK
	}
	if body.EvalK != nil {
		req.EvalK = *body.EvalK
	}
	if body.Debug {
		req.Options.Debug = true
	}

	res, err := s.training.Train(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trainingToResponse(res))
}

// Select handles POST /selection/{workflow}.
func (s *Server) Select(w http.ResponseWriter, r *http.Request) {
	if s.proposer == nil {
		writeError(w, http.StatusNotImplemented, codeBadRequest, "selection is not configured")
		return
	}
	r = r.WithContext(logpkg.WithFields(r.Context(), zap.String("workflow", chi.URLParam(r, "workflow"))))

	var body selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	k := defaultSelectionK
	if body.K != nil {
		k = *body.K
	}

	pairs := make([]adaptiveuc.TextPair, len(body.Pairs))
	for i, p := range body.Pairs {
		pairs[i] = adaptiveuc.TextPair{ID: p.ID, Query: p.Query, Answer: p.Answer}
	}

	scored, err := s.proposer.Propose(r.Context(), chi.URLParam(r, "workflow"), pairs, k)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	resp := selectionResponse{Candidates: make([]candidateResponse, len(scored))}
	for i, c := range scored {
		resp.Candidates[i] = candidateResponse{Name: c.Shift.Name(), MeanImprovement: c.MeanImprovement}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:  string(report.Status),
		Version: version.Version,
		Checks:  checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func metricParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	metric, err := url.PathUnescape(chi.URLParam(r, "metric"))
	if err != nil || metric == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid metric")
		return "", false
	}
	return metric, true
}

func (s *Server) epsilonParam(w http.ResponseWriter, r *http.Request) (float64, bool) {
	v := r.URL.Query().Get("epsilon")
	if v == "" {
		return s.defaults.Epsilon, true
	}
	eps, err := strconv.ParseFloat(v, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "epsilon must be a number")
		return 0, false
	}
	return eps, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNoRuns,
		domain.ErrNoHistory,
		domain.ErrNotFound,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// detailedHandler is sentinelHandler for errors whose message only names request arguments.
func detailedHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, _ string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
