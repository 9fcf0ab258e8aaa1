package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/auditflow/internal/domain/analysis"
	"github.com/bryanwahyu/auditflow/internal/domain/pipelineerrors"
	"github.com/bryanwahyu/auditflow/internal/domain/project"
)

// Clock abstraction so timestamps are easy to test
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Service is the analysis state machine: the only component that mutates
// Analysis.State. It sequences the static adapter, the AI enhancer, the
// modification ledger, and the report generator, and is safe for concurrent
// use; the per-id lease linearizes the long-running steps.
type Service struct {
	Analyses domain.Repository
	Projects project.Repository
	Failures pipelineerrors.Repository
	Sources  domain.SourceStore
	Runner   domain.Runner
	Enhancer domain.Enhancer
	Renderer domain.Renderer
	Reports  domain.ReportStore
	Leases   *LeaseManager
	Clock    Clock

	// StaticTimeout caps one analyzer invocation wall-clock; zero means the
	// 300s default.
	StaticTimeout time.Duration
	// AITimeout caps one enhancement round-trip; zero means 120s.
	AITimeout time.Duration
}

const (
	defaultStaticTimeout = 300 * time.Second
	defaultAITimeout     = 120 * time.Second
)

// Configure creates a new Analysis in CONFIGURED against an existing Project.
// The config is frozen from here on; changing it means configuring a new
// Analysis against the same Project.
func (s *Service) Configure(ctx context.Context, projectID string, cfg domain.Config) (*domain.Analysis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.getProject(ctx, projectID); err != nil {
		return nil, err
	}

	a := &domain.Analysis{
		ID:        domain.AnalysisID(uuid.New().String()),
		ProjectID: projectID,
		State:     domain.StateConfigured,
		Config:    cfg,
		CreatedAt: s.Clock.Now(),
	}
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// RunStatic executes the static analyzer for an analysis in CONFIGURED or
// STATIC_FAILED. Step failures land on the record as STATIC_FAILED plus a
// reason; only synchronous rejections (NotFound, IllegalTransition,
// AlreadyRunning) come back as errors.
func (s *Service) RunStatic(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	// Lease before state read: a concurrent caller fails fast with
	// AlreadyRunning instead of observing the persisted running state.
	release, err := s.Leases.Acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := s.getAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.State.CanRunStatic() {
		return nil, domain.Errorf(domain.ErrIllegalTransition, "runStatic from %s", a.State)
	}

	p, err := s.getProject(ctx, a.ProjectID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	a.State = domain.StateStaticRunning
	a.StartedAt = &now
	a.FailReason, a.FailMessage = "", ""
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}

	tree, err := s.Sources.FetchTree(ctx, p.SourceRootRef)
	if err != nil {
		return s.fail(ctx, a, "static", domain.StateStaticFailed, reasonFromErr(err), err)
	}
	defer os.RemoveAll(tree.RootPath)

	timeout := s.StaticTimeout
	if timeout <= 0 {
		timeout = defaultStaticTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.Runner.Run(runCtx, domain.RunRequest{
		Root:   tree.RootPath,
		Files:  tree.Files,
		Kind:   p.SourceKind,
		Config: a.Config,
	})
	if err != nil {
		return s.fail(ctx, a, "static", domain.StateStaticFailed, reasonFromErr(err), err)
	}

	snap, err := domain.NormalizeSlither(res.Raw, a.Config)
	if err != nil {
		return s.fail(ctx, a, "static", domain.StateStaticFailed, domain.ReasonToolError, err)
	}

	done := s.Clock.Now()
	a.StaticRaw = res.Raw
	a.StaticResult = snap
	a.CurrentFindings = snap.Clone()
	a.State = domain.StateStaticDone
	a.CompletedAt = &done
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// RunAIEnhancement submits the current findings snapshot to the AI service.
// The first enhancement for a Project uploads the full source once and stores
// the returned context handle on the Project via compare-and-set; every later
// enhancement of any Analysis of that Project reuses the handle.
func (s *Service) RunAIEnhancement(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	release, err := s.Leases.Acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := s.getAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.State.CanRunAI() {
		return nil, domain.Errorf(domain.ErrIllegalTransition, "runAiEnhancement from %s", a.State)
	}

	p, err := s.getProject(ctx, a.ProjectID)
	if err != nil {
		return nil, err
	}

	prior := a.CurrentFindings.Clone()
	a.State = domain.StateAIRunning
	a.FailReason, a.FailMessage = "", ""
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}

	handle, err := s.contextHandle(ctx, p)
	if err != nil {
		return s.fail(ctx, a, "ai", domain.StateAIFailed, reasonFromErr(err), err)
	}

	timeout := s.AITimeout
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	aiCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := s.Enhancer.Enhance(aiCtx, handle, *prior)
	if err != nil {
		return s.fail(ctx, a, "ai", domain.StateAIFailed, reasonFromErr(err), err)
	}

	enh, err := domain.ParseEnhancement(raw)
	if err != nil {
		// currentFindings stays on the prior snapshot; the violating
		// response is discarded whole.
		return s.fail(ctx, a, "ai", domain.StateAIFailed, domain.ReasonSchemaViolation, err)
	}

	done := s.Clock.Now()
	a.AIResult = enh
	a.CurrentFindings = enh.Snapshot()
	a.Recommendations = enh.GeneralRecommendations
	a.State = domain.StateAIDone
	a.CompletedAt = &done
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// RunAutoAnalysis is the one-shot path: it configures a fresh Analysis and
// chains the static and AI steps in a single call. A step failure parks on
// the record as usual and stops the chain there.
func (s *Service) RunAutoAnalysis(ctx context.Context, projectID string, cfg domain.Config) (*domain.Analysis, error) {
	a, err := s.Configure(ctx, projectID, cfg)
	if err != nil {
		return nil, err
	}
	a, err = s.RunStatic(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if a.State != domain.StateStaticDone {
		return a, nil
	}
	return s.RunAIEnhancement(ctx, a.ID)
}

// contextHandle returns the Project's AI context handle, performing the
// one-time source upload when no handle exists yet. Losing the CAS race means
// another enhancement already uploaded; our upload is discarded and the
// stored handle wins.
func (s *Service) contextHandle(ctx context.Context, p *project.Project) (string, error) {
	if p.ContextHandle != "" {
		return p.ContextHandle, nil
	}
	bundle, name, err := s.Sources.ReadBundle(ctx, p.SourceRootRef)
	if err != nil {
		return "", err
	}
	handle, err := s.Enhancer.UploadSource(ctx, name, bundle)
	if err != nil {
		return "", err
	}
	ok, err := s.Projects.CompareAndSetContextHandle(ctx, p.ID, "", handle)
	if err != nil {
		return "", err
	}
	if !ok {
		fresh, err := s.Projects.Get(ctx, p.ID)
		if err != nil {
			return "", err
		}
		return fresh.ContextHandle, nil
	}
	return handle, nil
}

// ApplyModification replaces the current findings with an auditor-supplied
// snapshot, appends a diff entry to the ledger, and lands in MODIFIED. The
// machine-generated snapshots are never touched.
func (s *Service) ApplyModification(ctx context.Context, id domain.AnalysisID, editorID, note string, edited domain.Snapshot) (*domain.Analysis, error) {
	a, err := s.getAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.State.CanModify() {
		return nil, domain.Errorf(domain.ErrIllegalTransition, "applyModification from %s", a.State)
	}
	if err := edited.Validate(); err != nil {
		// Rejected synchronously; state stays where it was.
		return nil, err
	}

	added, removed, changed := domain.DiffSnapshots(a.CurrentFindings, &edited)
	entry := domain.LedgerEntry{
		Timestamp: s.Clock.Now(),
		EditorID:  editorID,
		Kind:      domain.LedgerEdit,
		Note:      note,
		Added:     added,
		Removed:   removed,
		Edited:    changed,
	}
	if err := s.Analyses.AppendLedger(ctx, id, entry); err != nil {
		return nil, err
	}

	a.Ledger = append(a.Ledger, entry)
	a.CurrentFindings = edited.Clone()
	a.State = domain.StateModified
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ResetModifications restores currentFindings to the most recent machine
// snapshot (AI result if present, else static). The ledger keeps the reset as
// one more entry; earlier edits are superseded, not erased.
func (s *Service) ResetModifications(ctx context.Context, id domain.AnalysisID, editorID string) (*domain.Analysis, error) {
	a, err := s.getAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.State != domain.StateModified {
		return nil, domain.Errorf(domain.ErrIllegalTransition, "resetModifications from %s", a.State)
	}

	restored := a.MachineSnapshot()
	added, removed, changed := domain.DiffSnapshots(a.CurrentFindings, restored)
	entry := domain.LedgerEntry{
		Timestamp: s.Clock.Now(),
		EditorID:  editorID,
		Kind:      domain.LedgerReset,
		Added:     added,
		Removed:   removed,
		Edited:    changed,
	}
	if err := s.Analyses.AppendLedger(ctx, id, entry); err != nil {
		return nil, err
	}

	a.Ledger = append(a.Ledger, entry)
	a.CurrentFindings = restored
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GenerateReport renders currentFindings as of call time into an immutable
// artifact. Calling it again after REPORT_DONE is the explicit regenerate
// path: it stores a new version and never overwrites an earlier one.
func (s *Service) GenerateReport(ctx context.Context, id domain.AnalysisID, format domain.ReportFormat) (*domain.Analysis, error) {
	if !domain.ValidFormat(format) {
		return nil, domain.Errorf(domain.ErrInvalidConfig, "unsupported report format %q", format)
	}
	release, err := s.Leases.Acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := s.getAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.State.CanRunReport() {
		return nil, domain.Errorf(domain.ErrIllegalTransition, "generateReport from %s", a.State)
	}

	a.State = domain.StateReportRunning
	a.FailReason, a.FailMessage = "", ""
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}

	// A zero-vulnerability snapshot is a legitimate report.
	data, err := s.Renderer.Render(*a.CurrentFindings, a.Recommendations, format)
	if err != nil {
		return s.fail(ctx, a, "report", domain.StateReportFailed, domain.ReasonReportFailed, err)
	}

	version := len(a.Reports) + 1
	ref, err := s.Reports.Put(ctx, a.ID, format, version, data)
	if err != nil {
		return s.fail(ctx, a, "report", domain.StateReportFailed, domain.ReasonReportFailed, err)
	}
	ref.GeneratedAt = s.Clock.Now()

	a.Reports = append(a.Reports, ref)
	if a.ReportRef == nil {
		a.ReportRef = &ref
	}
	a.State = domain.StateReportDone
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get loads one analysis by id.
func (s *Service) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	return s.getAnalysis(ctx, id)
}

// ListByProject returns all analyses configured against a project.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]*domain.Analysis, error) {
	return s.Analyses.ListByProject(ctx, projectID)
}

// ListFailures returns the persisted failure log for one analysis.
func (s *Service) ListFailures(ctx context.Context, id domain.AnalysisID, limit int) ([]*pipelineerrors.Failure, error) {
	return s.Failures.ListByAnalysis(ctx, string(id), limit)
}

// fail parks the analysis in a *_FAILED state with its reason and records the
// failure. The step error is absorbed here: callers observe the state.
func (s *Service) fail(ctx context.Context, a *domain.Analysis, step string, st domain.State, reason domain.FailReason, cause error) (*domain.Analysis, error) {
	// Persist on a non-cancelable context: a canceled caller must still land
	// the record in its failed state rather than stuck in *_RUNNING.
	ctx = context.WithoutCancel(ctx)
	done := s.Clock.Now()
	a.State = st
	a.FailReason = reason
	a.FailMessage = cause.Error()
	a.CompletedAt = &done
	if err := s.Analyses.Save(ctx, a); err != nil {
		return nil, err
	}
	if s.Failures != nil {
		_ = s.Failures.Save(ctx, &pipelineerrors.Failure{
			AnalysisID: string(a.ID),
			Step:       step,
			Reason:     string(reason),
			Message:    cause.Error(),
			CreatedAt:  done,
		})
	}
	return a, nil
}

func reasonFromErr(err error) domain.FailReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return domain.ReasonCancelled
	default:
		return domain.ReasonToolError
	}
}

func (s *Service) getAnalysis(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	a, err := s.Analyses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.Errorf(domain.ErrNotFound, "analysis %s", id)
	}
	return a, nil
}

func (s *Service) getProject(ctx context.Context, id string) (*project.Project, error) {
	p, err := s.Projects.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.Errorf(domain.ErrNotFound, "project %s", id)
	}
	return p, nil
}
