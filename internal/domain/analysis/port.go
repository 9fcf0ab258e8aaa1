package analysis

import (
	"context"
	"encoding/json"
)

// Repository port (persistence for Analysis records). The core depends only
// on load-by-id, field update, and append-to-ledger semantics; the ledger is
// written through AppendLedger only, never rewritten wholesale.
type Repository interface {
	Save(ctx context.Context, a *Analysis) error
	Get(ctx context.Context, id AnalysisID) (*Analysis, error)
	ListByProject(ctx context.Context, projectID string) ([]*Analysis, error)
	AppendLedger(ctx context.Context, id AnalysisID, e LedgerEntry) error
}

// SourceTree is a source root materialized on local disk for the analyzer.
type SourceTree struct {
	RootPath string
	Files    []string
}

// SourceStore port: read-only access to uploaded project source. The pipeline
// never writes through it.
type SourceStore interface {
	// FetchTree materializes the tree under a temporary root; the caller
	// removes RootPath when done.
	FetchTree(ctx context.Context, rootRef string) (SourceTree, error)
	// ReadBundle returns the full source as one payload for the AI context
	// upload, plus a display name for it.
	ReadBundle(ctx context.Context, rootRef string) ([]byte, string, error)
}

// SourceKind mirrors the project's source kind for the runner.
type SourceKind string

const (
	KindSingleFile   SourceKind = "single_file"
	KindBuildProject SourceKind = "build_project"
)

// RunRequest for the static analyzer subprocess.
type RunRequest struct {
	Root   string
	Files  []string
	Kind   SourceKind
	Config Config
}

// RunResult is the raw, un-normalized outcome of one analyzer invocation.
type RunResult struct {
	Raw        json.RawMessage
	ExitCode   int
	DurationMS int64
}

// Runner port (static analyzer subprocess). Implementations must honor ctx
// cancellation and surface ctx.Err() so the caller can tell a timeout from a
// tool failure.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// Enhancer port (external AI service). UploadSource is called at most once
// per Project; Enhance reuses the opaque context handle afterwards.
type Enhancer interface {
	UploadSource(ctx context.Context, name string, source []byte) (handle string, err error)
	Enhance(ctx context.Context, contextHandle string, snapshot Snapshot) ([]byte, error)
}

// Renderer port (report generation). Must be deterministic: same snapshot,
// recommendations, and format produce byte-identical output.
type Renderer interface {
	Render(snap Snapshot, recommendations []string, format ReportFormat) ([]byte, error)
}

// ReportStore port: append-only artifact storage; versions are never
// overwritten.
type ReportStore interface {
	Put(ctx context.Context, id AnalysisID, format ReportFormat, version int, data []byte) (ReportRef, error)
}
