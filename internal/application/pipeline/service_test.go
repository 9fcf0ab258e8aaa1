package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/auditflow/internal/domain/analysis"
	"github.com/bryanwahyu/auditflow/internal/domain/pipelineerrors"
	"github.com/bryanwahyu/auditflow/internal/domain/project"
)

// ---- fakes -----------------------------------------------------------------

type memAnalyses struct {
	mu      sync.Mutex
	items   map[domain.AnalysisID]*domain.Analysis
	ledgers map[domain.AnalysisID][]domain.LedgerEntry

	// honorCtx makes Save behave like a real driver and refuse writes on a
	// done context.
	honorCtx bool
}

func newMemAnalyses() *memAnalyses {
	return &memAnalyses{
		items:   map[domain.AnalysisID]*domain.Analysis{},
		ledgers: map[domain.AnalysisID][]domain.LedgerEntry{},
	}
}

func (m *memAnalyses) Save(ctx context.Context, a *domain.Analysis) error {
	if m.honorCtx {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAnalyses) Get(_ context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAnalyses) ListByProject(_ context.Context, projectID string) ([]*domain.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Analysis
	for _, a := range m.items {
		if a.ProjectID == projectID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memAnalyses) AppendLedger(_ context.Context, id domain.AnalysisID, e domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return domain.Errorf(domain.ErrNotFound, "analysis %s", id)
	}
	m.ledgers[id] = append(m.ledgers[id], e)
	return nil
}

type memProjects struct {
	mu       sync.Mutex
	items    map[string]*project.Project
	loseRace bool
	casCalls int
}

func newMemProjects() *memProjects {
	return &memProjects{items: map[string]*project.Project{}}
}

func (m *memProjects) Save(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *memProjects) Get(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memProjects) ListByOwner(_ context.Context, ownerID string) ([]*project.Project, error) {
	return nil, nil
}

func (m *memProjects) CompareAndSetContextHandle(_ context.Context, id, expect, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++
	p, ok := m.items[id]
	if !ok {
		return false, nil
	}
	if m.loseRace {
		// someone else's upload landed between our read and write
		p.ContextHandle = "winner"
		return false, nil
	}
	if p.ContextHandle != expect {
		return false, nil
	}
	p.ContextHandle = handle
	return true, nil
}

type fakeSources struct {
	root  string
	files []string
}

func (f *fakeSources) FetchTree(_ context.Context, _ string) (domain.SourceTree, error) {
	return domain.SourceTree{RootPath: f.root, Files: f.files}, nil
}

func (f *fakeSources) ReadBundle(_ context.Context, rootRef string) ([]byte, string, error) {
	return []byte("// File: Vault.sol\ncontract Vault {}\n"), rootRef + "-source.txt", nil
}

type fakeRunner struct {
	fn   func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error)
	last domain.RunRequest
}

func (f *fakeRunner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	f.last = req
	return f.fn(ctx, req)
}

type fakeEnhancer struct {
	uploads    int32
	lastHandle string
	resp       []byte
	err        error
	fn         func(ctx context.Context, handle string, snap domain.Snapshot) ([]byte, error)
}

func (f *fakeEnhancer) UploadSource(_ context.Context, _ string, _ []byte) (string, error) {
	atomic.AddInt32(&f.uploads, 1)
	return "file-abc123", nil
}

func (f *fakeEnhancer) Enhance(ctx context.Context, handle string, snap domain.Snapshot) ([]byte, error) {
	f.lastHandle = handle
	if f.fn != nil {
		return f.fn(ctx, handle, snap)
	}
	return f.resp, f.err
}

type fakeRenderer struct {
	err error
	fn  func(snap domain.Snapshot, recs []string, format domain.ReportFormat) ([]byte, error)
}

func (f *fakeRenderer) Render(snap domain.Snapshot, recs []string, format domain.ReportFormat) ([]byte, error) {
	if f.fn != nil {
		return f.fn(snap, recs, format)
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(fmt.Sprintf("%s report, %d findings", format, len(snap.Vulnerabilities))), nil
}

type fakeReports struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (f *fakeReports) Put(_ context.Context, id domain.AnalysisID, format domain.ReportFormat, version int, data []byte) (domain.ReportRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ReportRef{}, f.err
	}
	key := fmt.Sprintf("%s/v%d", id, version)
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	if _, exists := f.puts[key]; exists {
		return domain.ReportRef{}, fmt.Errorf("report version already exists: %s", key)
	}
	f.puts[key] = data
	return domain.ReportRef{Version: version, Format: format, URL: "http://minio/auditflow/reports/" + key}, nil
}

type memFailures struct {
	mu    sync.Mutex
	items []*pipelineerrors.Failure
}

func (m *memFailures) Save(_ context.Context, f *pipelineerrors.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, f)
	return nil
}

func (m *memFailures) ListByAnalysis(_ context.Context, analysisID string, _ int) ([]*pipelineerrors.Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*pipelineerrors.Failure
	for _, f := range m.items {
		if f.AnalysisID == analysisID {
			out = append(out, f)
		}
	}
	return out, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// ---- fixture ---------------------------------------------------------------

const runnerRaw = `{
  "success": true,
  "error": null,
  "results": {"detectors": [
    {"check": "reentrancy-eth", "impact": "High", "confidence": "Medium",
     "description": "Reentrancy in Vault.withdraw()",
     "elements": [{"name": "withdraw", "type": "function",
       "source_mapping": {"filename_relative": "Vault.sol", "lines": [42]}}]}
  ]}
}`

type fixture struct {
	svc      *Service
	analyses *memAnalyses
	projects *memProjects
	runner   *fakeRunner
	enhancer *fakeEnhancer
	reports  *fakeReports
	failures *memFailures
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		analyses: newMemAnalyses(),
		projects: newMemProjects(),
		runner: &fakeRunner{fn: func(context.Context, domain.RunRequest) (domain.RunResult, error) {
			return domain.RunResult{Raw: json.RawMessage(runnerRaw), ExitCode: 1}, nil
		}},
		enhancer: &fakeEnhancer{},
		reports:  &fakeReports{},
		failures: &memFailures{},
	}
	f.svc = &Service{
		Analyses: f.analyses,
		Projects: f.projects,
		Failures: f.failures,
		Sources:  &fakeSources{root: t.TempDir(), files: []string{"Vault.sol"}},
		Runner:   f.runner,
		Enhancer: f.enhancer,
		Renderer: &fakeRenderer{},
		Reports:  f.reports,
		Leases:   NewLeaseManager(),
		Clock:    fixedClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, f.projects.Save(context.Background(), &project.Project{
		ID:            "p-1",
		OwnerID:       "owner-1",
		SourceKind:    domain.KindSingleFile,
		SourceRootRef: "ref-1",
	}))
	return f
}

func (f *fixture) seedAnalysis(t *testing.T, id domain.AnalysisID, st domain.State) *domain.Analysis {
	t.Helper()
	static, err := domain.NormalizeSlither([]byte(runnerRaw), domain.Config{})
	require.NoError(t, err)
	a := &domain.Analysis{
		ID:        id,
		ProjectID: "p-1",
		State:     st,
		CreatedAt: f.svc.Clock.Now(),
	}
	if st != domain.StateConfigured && st != domain.StateStaticFailed {
		a.StaticRaw = json.RawMessage(runnerRaw)
		a.StaticResult = static
		a.CurrentFindings = static.Clone()
	}
	require.NoError(t, f.analyses.Save(context.Background(), a))
	return a
}

func validAIResponse(t *testing.T) []byte {
	t.Helper()
	enh := domain.Enhancement{
		Vulnerabilities: []domain.Vulnerability{{
			ID:             "SL-enhanced",
			Title:          "Reentrancy in withdraw",
			Description:    "Deeper explanation from the model",
			Severity:       domain.SeverityHigh,
			Impact:         "Full balance drain",
			Recommendation: "Apply checks-effects-interactions",
			CodeSnippet:    "Vault.sol:L42",
			References:     []string{"https://swcregistry.io/docs/SWC-107"},
		}},
		Summary:                domain.Summary{Total: 1, High: 1},
		GeneralRecommendations: []string{"Commission a manual audit"},
	}
	data, err := json.Marshal(enh)
	require.NoError(t, err)
	return data
}

// ---- configure -------------------------------------------------------------

func TestConfigure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Configure(ctx, "p-1", domain.Config{ExcludeLow: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StateConfigured, a.State)
	assert.NotEmpty(t, a.ID)
	assert.True(t, a.Config.ExcludeLow)

	stored, err := f.analyses.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestConfigureRejectsOverlappingDetectors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Configure(context.Background(), "p-1", domain.Config{
		DetectorsInclude: []string{"timestamp"},
		DetectorsExclude: []string{"timestamp"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestConfigureUnknownProject(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Configure(context.Background(), "nope", domain.Config{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ---- static ----------------------------------------------------------------

func TestRunStaticSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAnalysis(t, "a-1", domain.StateConfigured)

	a, err := f.svc.RunStatic(ctx, "a-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StateStaticDone, a.State)
	require.NotNil(t, a.StaticResult)
	assert.Equal(t, a.StaticResult, a.CurrentFindings)
	assert.Equal(t, 1, a.CurrentFindings.Summary.High)
	assert.NotEmpty(t, a.StaticRaw)
	assert.False(t, f.svc.Leases.Held("a-1"))
	assert.Equal(t, domain.KindSingleFile, f.runner.last.Kind)
}

func TestRunStaticIllegalTransition(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)

	_, err := f.svc.RunStatic(context.Background(), "a-1")
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestRunStaticNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RunStatic(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunStaticToolFailure(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateConfigured)
	f.runner.fn = func(context.Context, domain.RunRequest) (domain.RunResult, error) {
		return domain.RunResult{}, fmt.Errorf("slither exited 2: crytic-compile failed")
	}

	a, err := f.svc.RunStatic(context.Background(), "a-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StateStaticFailed, a.State)
	assert.Equal(t, domain.ReasonToolError, a.FailReason)
	assert.Contains(t, a.FailMessage, "crytic-compile")
	assert.False(t, f.svc.Leases.Held("a-1"))

	logged, err := f.failures.ListByAnalysis(context.Background(), "a-1", 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "static", logged[0].Step)
}

func TestRunStaticTimeoutAndCancelReasons(t *testing.T) {
	f := newFixture(t)

	f.seedAnalysis(t, "a-1", domain.StateConfigured)
	f.runner.fn = func(context.Context, domain.RunRequest) (domain.RunResult, error) {
		return domain.RunResult{}, fmt.Errorf("slither terminated: %w", context.DeadlineExceeded)
	}
	a, err := f.svc.RunStatic(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonTimeout, a.FailReason)

	f.seedAnalysis(t, "a-2", domain.StateConfigured)
	f.runner.fn = func(context.Context, domain.RunRequest) (domain.RunResult, error) {
		return domain.RunResult{}, fmt.Errorf("slither terminated: %w", context.Canceled)
	}
	a, err = f.svc.RunStatic(context.Background(), "a-2")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCancelled, a.FailReason)
}

func TestRunStaticRetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateStaticFailed)

	a, err := f.svc.RunStatic(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStaticDone, a.State)
	assert.Empty(t, a.FailReason)
}

func TestRunStaticAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateConfigured)

	started := make(chan struct{})
	block := make(chan struct{})
	f.runner.fn = func(context.Context, domain.RunRequest) (domain.RunResult, error) {
		close(started)
		<-block
		return domain.RunResult{Raw: json.RawMessage(runnerRaw)}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunStatic(context.Background(), "a-1")
		done <- err
	}()
	<-started

	_, err := f.svc.RunStatic(context.Background(), "a-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	close(block)
	require.NoError(t, <-done)
}

func TestRunStaticConcurrentWithRunningStateConflicts(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateConfigured)

	started := make(chan struct{})
	block := make(chan struct{})
	f.runner.fn = func(context.Context, domain.RunRequest) (domain.RunResult, error) {
		close(started)
		<-block
		return domain.RunResult{Raw: json.RawMessage(runnerRaw)}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunStatic(context.Background(), "a-1")
		done <- err
	}()
	<-started

	// The first call has already persisted STATIC_RUNNING; the second must
	// still see AlreadyRunning, not an illegal transition from the stored
	// state.
	stored, err := f.analyses.Get(context.Background(), "a-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateStaticRunning, stored.State)

	_, err = f.svc.RunStatic(context.Background(), "a-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)
	assert.NotErrorIs(t, err, domain.ErrIllegalTransition)

	close(block)
	require.NoError(t, <-done)
}

func TestRunStaticFailurePersistsAfterCancel(t *testing.T) {
	f := newFixture(t)
	f.analyses.honorCtx = true
	f.seedAnalysis(t, "a-1", domain.StateConfigured)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.runner.fn = func(context.Context, domain.RunRequest) (domain.RunResult, error) {
		cancel()
		return domain.RunResult{}, fmt.Errorf("slither terminated: %w", context.Canceled)
	}

	a, err := f.svc.RunStatic(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStaticFailed, a.State)
	assert.Equal(t, domain.ReasonCancelled, a.FailReason)

	// The failed state reached the store despite the canceled caller.
	stored, err := f.analyses.Get(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStaticFailed, stored.State)
}

// ---- ai enhancement --------------------------------------------------------

func TestRunAIEnhancementSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)
	f.enhancer.resp = validAIResponse(t)

	a, err := f.svc.RunAIEnhancement(ctx, "a-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StateAIDone, a.State)
	require.NotNil(t, a.AIResult)
	assert.Equal(t, "SL-enhanced", a.CurrentFindings.Vulnerabilities[0].ID)
	assert.Equal(t, []string{"Commission a manual audit"}, a.Recommendations)
	assert.Equal(t, "file-abc123", f.enhancer.lastHandle)

	// the handle landed on the project for reuse
	p, err := f.projects.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "file-abc123", p.ContextHandle)
}

func TestRunAIEnhancementUploadsSourceOncePerProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)
	f.seedAnalysis(t, "a-2", domain.StateStaticDone)
	f.enhancer.resp = validAIResponse(t)

	_, err := f.svc.RunAIEnhancement(ctx, "a-1")
	require.NoError(t, err)
	_, err = f.svc.RunAIEnhancement(ctx, "a-2")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.enhancer.uploads))
	assert.Equal(t, 1, f.projects.casCalls)
}

func TestRunAIEnhancementLosesUploadRace(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)
	f.enhancer.resp = validAIResponse(t)
	f.projects.loseRace = true

	a, err := f.svc.RunAIEnhancement(context.Background(), "a-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StateAIDone, a.State)
	// the stored handle wins; ours is discarded
	assert.Equal(t, "winner", f.enhancer.lastHandle)
}

func TestRunAIEnhancementSchemaViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := f.seedAnalysis(t, "a-1", domain.StateStaticDone)
	f.enhancer.resp = []byte(`{"vulnerabilities": [], "summary": {"high": 0}, "general_recommendations": []}`)

	a, err := f.svc.RunAIEnhancement(ctx, "a-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StateAIFailed, a.State)
	assert.Equal(t, domain.ReasonSchemaViolation, a.FailReason)
	assert.Nil(t, a.AIResult)
	// the violating response is discarded whole
	assert.Equal(t, seeded.StaticResult, a.CurrentFindings)

	logged, err := f.failures.ListByAnalysis(ctx, "a-1", 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "ai", logged[0].Step)
}

func TestRunAIEnhancementFromModified(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateModified)
	f.enhancer.resp = validAIResponse(t)

	a, err := f.svc.RunAIEnhancement(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAIDone, a.State)
}

func TestRunAIEnhancementIllegalFromConfigured(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateConfigured)

	_, err := f.svc.RunAIEnhancement(context.Background(), "a-1")
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestRunAIEnhancementAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)

	started := make(chan struct{})
	block := make(chan struct{})
	resp := validAIResponse(t)
	f.enhancer.fn = func(context.Context, string, domain.Snapshot) ([]byte, error) {
		close(started)
		<-block
		return resp, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunAIEnhancement(context.Background(), "a-1")
		done <- err
	}()
	<-started

	_, err := f.svc.RunAIEnhancement(context.Background(), "a-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	close(block)
	require.NoError(t, <-done)
}

// ---- modifications ---------------------------------------------------------

func TestApplyModification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := f.seedAnalysis(t, "a-1", domain.StateStaticDone)

	edited := seeded.CurrentFindings.Clone()
	edited.Vulnerabilities[0].Severity = domain.SeverityMedium
	edited.Summary = domain.Summary{Total: 1, Medium: 1}

	a, err := f.svc.ApplyModification(ctx, "a-1", "auditor-7", "downgraded after review", *edited)
	require.NoError(t, err)

	assert.Equal(t, domain.StateModified, a.State)
	assert.Equal(t, domain.SeverityMedium, a.CurrentFindings.Vulnerabilities[0].Severity)

	require.Len(t, a.Ledger, 1)
	entry := a.Ledger[0]
	assert.Equal(t, domain.LedgerEdit, entry.Kind)
	assert.Equal(t, "auditor-7", entry.EditorID)
	assert.Equal(t, []string{seeded.CurrentFindings.Vulnerabilities[0].ID}, entry.Edited)
	assert.Empty(t, entry.Added)
	assert.Empty(t, entry.Removed)

	// ledger written through the append port, not Save
	assert.Len(t, f.analyses.ledgers["a-1"], 1)
}

func TestApplyModificationRejectsBadSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := f.seedAnalysis(t, "a-1", domain.StateStaticDone)

	edited := seeded.CurrentFindings.Clone()
	edited.Summary.High = 5

	_, err := f.svc.ApplyModification(ctx, "a-1", "auditor-7", "", *edited)
	assert.ErrorIs(t, err, domain.ErrSummaryMismatch)

	// rejected synchronously: nothing changed
	stored, err := f.analyses.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateStaticDone, stored.State)
	assert.Empty(t, f.analyses.ledgers["a-1"])
}

func TestApplyModificationIllegalFromConfigured(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateConfigured)

	_, err := f.svc.ApplyModification(context.Background(), "a-1", "auditor-7", "", domain.Snapshot{})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestResetModifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := f.seedAnalysis(t, "a-1", domain.StateStaticDone)

	edited := seeded.CurrentFindings.Clone()
	edited.Vulnerabilities = append(edited.Vulnerabilities, domain.Vulnerability{
		ID: "MAN-1", Title: "manual finding", Severity: domain.SeverityLow,
	})
	edited.Summary.Total++
	edited.Summary.Low++
	_, err := f.svc.ApplyModification(ctx, "a-1", "auditor-7", "", *edited)
	require.NoError(t, err)

	a, err := f.svc.ResetModifications(ctx, "a-1", "auditor-7")
	require.NoError(t, err)

	assert.Equal(t, domain.StateModified, a.State)
	assert.Equal(t, seeded.StaticResult, a.CurrentFindings)

	require.Len(t, a.Ledger, 2)
	assert.Equal(t, domain.LedgerReset, a.Ledger[1].Kind)
	assert.Equal(t, []string{"MAN-1"}, a.Ledger[1].Removed)
}

func TestResetModificationsIllegalOutsideModified(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)

	_, err := f.svc.ResetModifications(context.Background(), "a-1", "auditor-7")
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

// ---- reports ---------------------------------------------------------------

func TestGenerateReportAndRegenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)

	a, err := f.svc.GenerateReport(ctx, "a-1", domain.FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, domain.StateReportDone, a.State)
	require.Len(t, a.Reports, 1)
	assert.Equal(t, 1, a.Reports[0].Version)
	require.NotNil(t, a.ReportRef)
	assert.Equal(t, 1, a.ReportRef.Version)

	// regenerate appends a version and never touches the first ref
	a, err = f.svc.GenerateReport(ctx, "a-1", domain.FormatMarkdown)
	require.NoError(t, err)
	require.Len(t, a.Reports, 2)
	assert.Equal(t, 2, a.Reports[1].Version)
	assert.Equal(t, domain.FormatMarkdown, a.Reports[1].Format)
	assert.Equal(t, 1, a.ReportRef.Version)
	assert.Len(t, f.reports.puts, 2)
}

func TestGenerateReportInvalidFormat(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)

	_, err := f.svc.GenerateReport(context.Background(), "a-1", "html")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestGenerateReportIllegalFromConfigured(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateConfigured)

	_, err := f.svc.GenerateReport(context.Background(), "a-1", domain.FormatJSON)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestGenerateReportStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)
	f.reports.err = fmt.Errorf("bucket unavailable")

	a, err := f.svc.GenerateReport(context.Background(), "a-1", domain.FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, domain.StateReportFailed, a.State)
	assert.Equal(t, domain.ReasonReportFailed, a.FailReason)
	assert.Nil(t, a.ReportRef)

	// retry path is open
	f.reports.err = nil
	a, err = f.svc.GenerateReport(context.Background(), "a-1", domain.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReportDone, a.State)
}

func TestGenerateReportAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	f.seedAnalysis(t, "a-1", domain.StateStaticDone)

	started := make(chan struct{})
	block := make(chan struct{})
	f.svc.Renderer = &fakeRenderer{fn: func(domain.Snapshot, []string, domain.ReportFormat) ([]byte, error) {
		close(started)
		<-block
		return []byte("{}"), nil
	}}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.GenerateReport(context.Background(), "a-1", domain.FormatJSON)
		done <- err
	}()
	<-started

	_, err := f.svc.GenerateReport(context.Background(), "a-1", domain.FormatJSON)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	close(block)
	require.NoError(t, <-done)
}

func TestGenerateReportZeroFindings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedAnalysis(t, "a-1", domain.StateStaticDone)
	a.StaticResult = &domain.Snapshot{Vulnerabilities: []domain.Vulnerability{}}
	a.CurrentFindings = a.StaticResult.Clone()
	require.NoError(t, f.analyses.Save(ctx, a))

	got, err := f.svc.GenerateReport(ctx, "a-1", domain.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReportDone, got.State)
}

// ---- auto analysis ---------------------------------------------------------

func TestRunAutoAnalysis(t *testing.T) {
	f := newFixture(t)
	f.enhancer.resp = validAIResponse(t)

	a, err := f.svc.RunAutoAnalysis(context.Background(), "p-1", domain.Config{})
	require.NoError(t, err)

	assert.Equal(t, domain.StateAIDone, a.State)
	require.NotNil(t, a.StaticResult)
	require.NotNil(t, a.AIResult)
	assert.Equal(t, "SL-enhanced", a.CurrentFindings.Vulnerabilities[0].ID)
}

func TestRunAutoAnalysisStopsOnStaticFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.fn = func(context.Context, domain.RunRequest) (domain.RunResult, error) {
		return domain.RunResult{}, fmt.Errorf("slither exited 2: crytic-compile failed")
	}

	a, err := f.svc.RunAutoAnalysis(context.Background(), "p-1", domain.Config{})
	require.NoError(t, err)

	assert.Equal(t, domain.StateStaticFailed, a.State)
	// the chain stopped: no enhancement was attempted
	assert.Empty(t, f.enhancer.lastHandle)
	assert.Nil(t, a.AIResult)
}

func TestRunAutoAnalysisUnknownProject(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RunAutoAnalysis(context.Background(), "nope", domain.Config{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
