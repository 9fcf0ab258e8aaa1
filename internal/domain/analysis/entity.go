package analysis

import (
	"encoding/json"
	"time"
)

// ID type for Analysis
type AnalysisID string

// Severity enum (canonical four levels)
type Severity string

const (
	SeverityHigh          Severity = "HIGH"
	SeverityMedium        Severity = "MEDIUM"
	SeverityLow           Severity = "LOW"
	SeverityInformational Severity = "INFORMATIONAL"
)

// ValidSeverity reports whether s is one of the canonical levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational:
		return true
	}
	return false
}

// Vulnerability is the canonical finding schema shared by the static
// normalizer, the AI enhancement response, and auditor edits.
type Vulnerability struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	Impact         string   `json:"impact"`
	Recommendation string   `json:"recommendation"`
	CodeSnippet    string   `json:"code_snippet"`
	References     []string `json:"references"`
}

// Summary value object
type Summary struct {
	Total         int `json:"total"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
	Informational int `json:"informational"`
}

// Snapshot is one immutable {vulnerabilities, summary} pair produced by a
// pipeline step. CurrentFindings always points at the latest one.
type Snapshot struct {
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Summary         Summary         `json:"summary"`
}

// Clone returns a deep copy so a later step can never mutate an earlier
// snapshot in place.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{Summary: s.Summary}
	out.Vulnerabilities = make([]Vulnerability, len(s.Vulnerabilities))
	for i, v := range s.Vulnerabilities {
		// Keep nil references nil so clones compare equal to the original.
		if v.References != nil {
			refs := make([]string, len(v.References))
			copy(refs, v.References)
			v.References = refs
		}
		out.Vulnerabilities[i] = v
	}
	return out
}

// Enhancement is the AI step's result: a full snapshot plus the service's
// general recommendations.
type Enhancement struct {
	Vulnerabilities        []Vulnerability `json:"vulnerabilities"`
	Summary                Summary         `json:"summary"`
	GeneralRecommendations []string        `json:"general_recommendations"`
}

// Snapshot extracts the findings portion of an enhancement.
func (e *Enhancement) Snapshot() *Snapshot {
	return (&Snapshot{Vulnerabilities: e.Vulnerabilities, Summary: e.Summary}).Clone()
}

// Config controls a static run. Immutable once the static step starts;
// re-configuration means a new Analysis record against the same Project.
type Config struct {
	DetectorsInclude     []string `json:"detectors_include"`
	DetectorsExclude     []string `json:"detectors_exclude"`
	ExcludeDependencies  bool     `json:"exclude_dependencies"`
	ExcludeInformational bool     `json:"exclude_informational"`
	ExcludeLow           bool     `json:"exclude_low"`
}

// Validate rejects configs whose include and exclude detector sets overlap.
func (c Config) Validate() error {
	included := make(map[string]bool, len(c.DetectorsInclude))
	for _, d := range c.DetectorsInclude {
		included[d] = true
	}
	for _, d := range c.DetectorsExclude {
		if included[d] {
			return Errorf(ErrInvalidConfig, "detector %q both included and excluded", d)
		}
	}
	return nil
}

// LedgerKind distinguishes auditor edits from resets to the machine snapshot.
type LedgerKind string

const (
	LedgerEdit  LedgerKind = "edit"
	LedgerReset LedgerKind = "reset"
)

// LedgerEntry records one auditor action as a compact diff, never a full
// snapshot duplicate.
type LedgerEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	EditorID  string     `json:"editor_id"`
	Kind      LedgerKind `json:"kind"`
	Note      string     `json:"note,omitempty"`
	Added     []string   `json:"added"`
	Removed   []string   `json:"removed"`
	Edited    []string   `json:"edited"`
}

// ReportFormat enum
type ReportFormat string

const (
	FormatJSON     ReportFormat = "json"
	FormatMarkdown ReportFormat = "markdown"
)

// ValidFormat reports whether f is a supported report format.
func ValidFormat(f ReportFormat) bool {
	return f == FormatJSON || f == FormatMarkdown
}

// ReportRef points at one immutable report artifact version.
type ReportRef struct {
	Version     int          `json:"version"`
	Format      ReportFormat `json:"format"`
	URL         string       `json:"url"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Aggregate root: Analysis
type Analysis struct {
	ID        AnalysisID `json:"id"`
	ProjectID string     `json:"project_id"`
	State     State      `json:"state"`

	// Reason/message are set only alongside a *_FAILED state.
	FailReason  FailReason `json:"fail_reason,omitempty"`
	FailMessage string     `json:"fail_message,omitempty"`

	Config Config `json:"config"`

	// StaticRaw keeps the tool's output verbatim for audit; StaticResult is
	// its normalized form and is never mutated after STATIC_DONE.
	StaticRaw    json.RawMessage `json:"static_raw,omitempty"`
	StaticResult *Snapshot       `json:"static_result,omitempty"`

	AIResult *Enhancement `json:"ai_result,omitempty"`

	// CurrentFindings is the live view used for reporting: the static
	// snapshot, then the AI snapshot after a successful enhancement, then
	// whatever the auditor last accepted.
	CurrentFindings *Snapshot `json:"current_findings,omitempty"`

	Recommendations []string `json:"recommendations,omitempty"`

	Ledger []LedgerEntry `json:"ledger,omitempty"`

	// ReportRef is set exactly once; regeneration appends to Reports.
	ReportRef *ReportRef  `json:"report_ref,omitempty"`
	Reports   []ReportRef `json:"reports,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MachineSnapshot returns the most recent machine-generated snapshot: the AI
// result when present, else the static result.
func (a *Analysis) MachineSnapshot() *Snapshot {
	if a.AIResult != nil {
		return a.AIResult.Snapshot()
	}
	return a.StaticResult.Clone()
}
