package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apppipeline "github.com/bryanwahyu/auditflow/internal/application/pipeline"
	appprojects "github.com/bryanwahyu/auditflow/internal/application/projects"
	domain "github.com/bryanwahyu/auditflow/internal/domain/analysis"
	"github.com/bryanwahyu/auditflow/internal/infra/executor/slither"
	"github.com/bryanwahyu/auditflow/internal/middleware"
)

type Router struct {
	projectsSvc *appprojects.Service
	pipelineSvc *apppipeline.Service
}

func NewRouter(projectsSvc *appprojects.Service, pipelineSvc *apppipeline.Service, health http.HandlerFunc) http.Handler {
	r := &Router{projectsSvc: projectsSvc, pipelineSvc: pipelineSvc}
	mux := chi.NewRouter()

	if health == nil {
		health = func(w http.ResponseWriter, req *http.Request) {
			w.Write([]byte("ok"))
		}
	}
	mux.Get("/health", health)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/projects", r.wrap(r.handleRegisterProject))
		rt.Get("/projects", r.wrap(r.handleListProjects))
		rt.Get("/projects/{id}", r.wrap(r.handleGetProject))
		rt.Get("/projects/{id}/summary", r.wrap(r.handleProjectSummary))
		rt.Get("/projects/{id}/analyses", r.wrap(r.handleListAnalyses))
		rt.Post("/projects/{id}/analyses", r.wrap(r.handleConfigure))
		rt.Post("/projects/{id}/analyses/auto", r.wrap(r.handleAutoAnalysis))

		rt.Get("/analyses/{id}", r.wrap(r.handleGetAnalysis))
		rt.Post("/analyses/{id}/static", r.wrap(r.handleRunStatic))
		rt.Post("/analyses/{id}/ai-enhance", r.wrap(r.handleRunAI))
		rt.Post("/analyses/{id}/report", r.wrap(r.handleGenerateReport))
		rt.Get("/analyses/{id}/failures", r.wrap(r.handleListFailures))

		rt.Group(func(g chi.Router) {
			g.Use(middleware.RequireAuditor)
			g.Get("/detectors", r.wrap(r.handleListDetectors))
			g.Post("/analyses/{id}/modifications", r.wrap(r.handleApplyModification))
			g.Post("/analyses/{id}/reset", r.wrap(r.handleResetModifications))
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			http.Error(w, err.Error(), statusFor(err))
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSummaryMismatch), errors.Is(err, domain.ErrSchemaViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/projects
// Body: {"owner_id": "...", "source_kind": "single_file|build_project", "source_root_ref": "..."}
func (r *Router) handleRegisterProject(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		OwnerID       string `json:"owner_id"`
		SourceKind    string `json:"source_kind"`
		SourceRootRef string `json:"source_root_ref"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return domain.Errorf(domain.ErrInvalidConfig, "decoding body: %v", err)
	}
	ownerID := body.OwnerID
	if ownerID == "" {
		ownerID = middleware.GetEditorFromContext(req.Context())
	}

	p, err := r.projectsSvc.Register(req.Context(), appprojects.RegisterCommand{
		OwnerID:       ownerID,
		SourceKind:    domain.SourceKind(body.SourceKind),
		SourceRootRef: body.SourceRootRef,
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return writeJSON(w, p)
}

// GET /v1/projects?owner=
func (r *Router) handleListProjects(w http.ResponseWriter, req *http.Request) error {
	owner := req.URL.Query().Get("owner")
	if owner == "" {
		owner = middleware.GetEditorFromContext(req.Context())
	}
	list, err := r.projectsSvc.ListByOwner(req.Context(), owner)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/projects/{id}
func (r *Router) handleGetProject(w http.ResponseWriter, req *http.Request) error {
	p, err := r.projectsSvc.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, p)
}

// GET /v1/projects/{id}/summary
func (r *Router) handleProjectSummary(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if _, err := r.projectsSvc.Get(req.Context(), id); err != nil {
		return err
	}
	sum, err := r.projectsSvc.Summary(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, sum)
}

// GET /v1/projects/{id}/analyses
func (r *Router) handleListAnalyses(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if _, err := r.projectsSvc.Get(req.Context(), id); err != nil {
		return err
	}
	list, err := r.pipelineSvc.ListByProject(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// POST /v1/projects/{id}/analyses
// Body: the analyzer config; the config is frozen once the analysis exists.
func (r *Router) handleConfigure(w http.ResponseWriter, req *http.Request) error {
	var cfg domain.Config
	if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
		return domain.Errorf(domain.ErrInvalidConfig, "decoding body: %v", err)
	}
	a, err := r.pipelineSvc.Configure(req.Context(), chi.URLParam(req, "id"), cfg)
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return writeJSON(w, a)
}

// POST /v1/projects/{id}/analyses/auto
// Body: the analyzer config. Configures a fresh analysis and chains the
// static and AI steps in one call; the response is the record wherever the
// chain landed.
func (r *Router) handleAutoAnalysis(w http.ResponseWriter, req *http.Request) error {
	var cfg domain.Config
	if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
		return domain.Errorf(domain.ErrInvalidConfig, "decoding body: %v", err)
	}

	middleware.IncrementAnalyses()
	middleware.IncrementAnalysesRunning()
	defer middleware.DecrementAnalysesRunning()

	a, err := r.pipelineSvc.RunAutoAnalysis(req.Context(), chi.URLParam(req, "id"), cfg)
	if err != nil {
		return err
	}
	if a.State.Failed() {
		middleware.IncrementAnalysesFailed()
	}
	w.WriteHeader(http.StatusCreated)
	return writeJSON(w, a)
}

// GET /v1/detectors
func (r *Router) handleListDetectors(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, map[string]any{
		"available_detectors": slither.Detectors(),
		"detector_categories": slither.Categories(),
	})
}

// GET /v1/analyses/{id}
func (r *Router) handleGetAnalysis(w http.ResponseWriter, req *http.Request) error {
	a, err := r.pipelineSvc.Get(req.Context(), domain.AnalysisID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, a)
}

// POST /v1/analyses/{id}/static
func (r *Router) handleRunStatic(w http.ResponseWriter, req *http.Request) error {
	return r.runStep(w, req, r.pipelineSvc.RunStatic)
}

// POST /v1/analyses/{id}/ai-enhance
func (r *Router) handleRunAI(w http.ResponseWriter, req *http.Request) error {
	return r.runStep(w, req, r.pipelineSvc.RunAIEnhancement)
}

// runStep executes a pipeline step synchronously. Failures of the step itself
// come back as a 200 with the record parked in its *_FAILED state; only
// rejected calls produce an error status.
func (r *Router) runStep(w http.ResponseWriter, req *http.Request, step func(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error)) error {
	middleware.IncrementAnalyses()
	middleware.IncrementAnalysesRunning()
	defer middleware.DecrementAnalysesRunning()

	a, err := step(req.Context(), domain.AnalysisID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	if a.State.Failed() {
		middleware.IncrementAnalysesFailed()
	}
	return writeJSON(w, a)
}

// POST /v1/analyses/{id}/report
// Body: {"format": "json|markdown"}
func (r *Router) handleGenerateReport(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Format string `json:"format"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return domain.Errorf(domain.ErrInvalidConfig, "decoding body: %v", err)
	}

	middleware.IncrementAnalyses()
	middleware.IncrementAnalysesRunning()
	defer middleware.DecrementAnalysesRunning()

	a, err := r.pipelineSvc.GenerateReport(req.Context(), domain.AnalysisID(chi.URLParam(req, "id")), domain.ReportFormat(body.Format))
	if err != nil {
		return err
	}
	if a.State.Failed() {
		middleware.IncrementAnalysesFailed()
	} else {
		middleware.IncrementReportsGenerated()
	}
	return writeJSON(w, a)
}

// POST /v1/analyses/{id}/modifications
// Body: {"note": "...", "findings": {canonical snapshot}}
func (r *Router) handleApplyModification(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Note     string          `json:"note"`
		Findings domain.Snapshot `json:"findings"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return domain.Errorf(domain.ErrInvalidConfig, "decoding body: %v", err)
	}
	editor := middleware.GetEditorFromContext(req.Context())

	a, err := r.pipelineSvc.ApplyModification(req.Context(), domain.AnalysisID(chi.URLParam(req, "id")), editor, body.Note, body.Findings)
	if err != nil {
		return err
	}
	return writeJSON(w, a)
}

// POST /v1/analyses/{id}/reset
func (r *Router) handleResetModifications(w http.ResponseWriter, req *http.Request) error {
	editor := middleware.GetEditorFromContext(req.Context())
	a, err := r.pipelineSvc.ResetModifications(req.Context(), domain.AnalysisID(chi.URLParam(req, "id")), editor)
	if err != nil {
		return err
	}
	return writeJSON(w, a)
}

// GET /v1/analyses/{id}/failures?limit=50
func (r *Router) handleListFailures(w http.ResponseWriter, req *http.Request) error {
	id := domain.AnalysisID(chi.URLParam(req, "id"))
	if _, err := r.pipelineSvc.Get(req.Context(), id); err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.pipelineSvc.ListFailures(req.Context(), id, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}
