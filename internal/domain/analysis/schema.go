package analysis

import (
	"bytes"
	"encoding/json"
)

// Raw shapes used only for strict decoding of the AI response. Pointer fields
// distinguish "absent" from zero values so a response missing summary.total is
// rejected rather than silently read as 0.
type rawSummary struct {
	Total         *int `json:"total"`
	High          *int `json:"high"`
	Medium        *int `json:"medium"`
	Low           *int `json:"low"`
	Informational *int `json:"informational"`
}

type rawVulnerability struct {
	ID             *string   `json:"id"`
	Title          *string   `json:"title"`
	Description    *string   `json:"description"`
	Severity       *Severity `json:"severity"`
	Impact         *string   `json:"impact"`
	Recommendation *string   `json:"recommendation"`
	CodeSnippet    *string   `json:"code_snippet"`
	References     *[]string `json:"references"`
}

type rawEnhancement struct {
	Vulnerabilities        *[]rawVulnerability `json:"vulnerabilities"`
	Summary                *rawSummary         `json:"summary"`
	GeneralRecommendations *[]string           `json:"general_recommendations"`
}

// ParseEnhancement decodes an AI response with additionalProperties:false
// semantics: unknown fields, missing fields, unknown severities, duplicate
// ids, and a summary that does not add up all yield ErrSchemaViolation. A
// violating response is never partially accepted.
func ParseEnhancement(data []byte) (*Enhancement, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var raw rawEnhancement
	if err := dec.Decode(&raw); err != nil {
		return nil, Errorf(ErrSchemaViolation, "decoding response: %v", err)
	}
	if dec.More() {
		return nil, Errorf(ErrSchemaViolation, "trailing data after JSON document")
	}

	if raw.Vulnerabilities == nil {
		return nil, Errorf(ErrSchemaViolation, "missing vulnerabilities")
	}
	if raw.Summary == nil {
		return nil, Errorf(ErrSchemaViolation, "missing summary")
	}
	if raw.GeneralRecommendations == nil {
		return nil, Errorf(ErrSchemaViolation, "missing general_recommendations")
	}
	sum, err := raw.Summary.toSummary()
	if err != nil {
		return nil, err
	}

	enh := &Enhancement{
		Summary:                sum,
		GeneralRecommendations: *raw.GeneralRecommendations,
		Vulnerabilities:        make([]Vulnerability, 0, len(*raw.Vulnerabilities)),
	}
	for i, rv := range *raw.Vulnerabilities {
		v, err := rv.toVulnerability(i)
		if err != nil {
			return nil, err
		}
		enh.Vulnerabilities = append(enh.Vulnerabilities, v)
	}

	snap := Snapshot{Vulnerabilities: enh.Vulnerabilities, Summary: enh.Summary}
	if err := snap.Validate(); err != nil {
		// Arithmetic and uniqueness problems in an AI response are schema
		// violations, not auditor mistakes.
		return nil, Errorf(ErrSchemaViolation, "%v", err)
	}
	return enh, nil
}

func (r rawSummary) toSummary() (Summary, error) {
	// Fixed order so the error names the same field on every run.
	for _, f := range []struct {
		name string
		p    *int
	}{
		{"total", r.Total}, {"high", r.High}, {"medium", r.Medium},
		{"low", r.Low}, {"informational", r.Informational},
	} {
		if f.p == nil {
			return Summary{}, Errorf(ErrSchemaViolation, "missing summary.%s", f.name)
		}
	}
	return Summary{
		Total:         *r.Total,
		High:          *r.High,
		Medium:        *r.Medium,
		Low:           *r.Low,
		Informational: *r.Informational,
	}, nil
}

func (r rawVulnerability) toVulnerability(idx int) (Vulnerability, error) {
	for _, f := range []struct {
		name string
		p    *string
	}{
		{"id", r.ID}, {"title", r.Title}, {"description", r.Description},
		{"impact", r.Impact}, {"recommendation", r.Recommendation},
		{"code_snippet", r.CodeSnippet},
	} {
		if f.p == nil {
			return Vulnerability{}, Errorf(ErrSchemaViolation, "vulnerabilities[%d]: missing %s", idx, f.name)
		}
	}
	if r.Severity == nil {
		return Vulnerability{}, Errorf(ErrSchemaViolation, "vulnerabilities[%d]: missing severity", idx)
	}
	if !ValidSeverity(*r.Severity) {
		return Vulnerability{}, Errorf(ErrSchemaViolation, "vulnerabilities[%d]: unknown severity %q", idx, *r.Severity)
	}
	if r.References == nil {
		return Vulnerability{}, Errorf(ErrSchemaViolation, "vulnerabilities[%d]: missing references", idx)
	}
	return Vulnerability{
		ID:             *r.ID,
		Title:          *r.Title,
		Description:    *r.Description,
		Severity:       *r.Severity,
		Impact:         *r.Impact,
		Recommendation: *r.Recommendation,
		CodeSnippet:    *r.CodeSnippet,
		References:     *r.References,
	}, nil
}

// Validate checks the invariants every snapshot must hold: unique finding
// ids, known severities, and summary.total == high+medium+low+informational
// with per-level counts matching the findings.
func (s Snapshot) Validate() error {
	ids := make(map[string]bool, len(s.Vulnerabilities))
	var counted Summary
	for _, v := range s.Vulnerabilities {
		if v.ID == "" {
			return Errorf(ErrSchemaViolation, "finding with empty id")
		}
		if ids[v.ID] {
			return Errorf(ErrSchemaViolation, "duplicate finding id %q", v.ID)
		}
		ids[v.ID] = true
		if !ValidSeverity(v.Severity) {
			return Errorf(ErrSchemaViolation, "finding %s: unknown severity %q", v.ID, v.Severity)
		}
		switch v.Severity {
		case SeverityHigh:
			counted.High++
		case SeverityMedium:
			counted.Medium++
		case SeverityLow:
			counted.Low++
		case SeverityInformational:
			counted.Informational++
		}
		counted.Total++
	}
	if counted != s.Summary {
		return Errorf(ErrSummaryMismatch,
			"declared %+v, counted %+v", s.Summary, counted)
	}
	return nil
}
