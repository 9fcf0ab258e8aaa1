package report

import (
	"bytes"
	"encoding/json"
	"fmt"

	domain "github.com/bryanwahyu/auditflow/internal/domain/analysis"
)

// Generator renders report artifacts. It is deliberately free of clocks and
// ids: the bytes are a pure function of snapshot, recommendations, and
// format, so regenerating the same findings yields a byte-identical artifact.
type Generator struct{}

func NewGenerator() *Generator { return &Generator{} }

func (g *Generator) Render(snap domain.Snapshot, recommendations []string, format domain.ReportFormat) ([]byte, error) {
	switch format {
	case domain.FormatJSON:
		return g.renderJSON(snap, recommendations)
	case domain.FormatMarkdown:
		return g.renderMarkdown(snap, recommendations)
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

type jsonReport struct {
	Summary                domain.Summary         `json:"summary"`
	Vulnerabilities        []domain.Vulnerability `json:"vulnerabilities"`
	GeneralRecommendations []string               `json:"general_recommendations"`
}

func (g *Generator) renderJSON(snap domain.Snapshot, recs []string) ([]byte, error) {
	doc := jsonReport{
		Summary:                snap.Summary,
		Vulnerabilities:        snap.Vulnerabilities,
		GeneralRecommendations: recs,
	}
	if doc.Vulnerabilities == nil {
		doc.Vulnerabilities = []domain.Vulnerability{}
	}
	if doc.GeneralRecommendations == nil {
		doc.GeneralRecommendations = []string{}
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func (g *Generator) renderMarkdown(snap domain.Snapshot, recs []string) ([]byte, error) {
	var b bytes.Buffer

	b.WriteString("# Security Analysis Report\n\n")
	b.WriteString("## Summary\n\n")
	b.WriteString("| Severity | Count |\n|----------|-------|\n")
	fmt.Fprintf(&b, "| High | %d |\n", snap.Summary.High)
	fmt.Fprintf(&b, "| Medium | %d |\n", snap.Summary.Medium)
	fmt.Fprintf(&b, "| Low | %d |\n", snap.Summary.Low)
	fmt.Fprintf(&b, "| Informational | %d |\n", snap.Summary.Informational)
	fmt.Fprintf(&b, "| **Total** | **%d** |\n", snap.Summary.Total)

	b.WriteString("\n## Vulnerabilities\n\n")
	if len(snap.Vulnerabilities) == 0 {
		b.WriteString("No vulnerabilities were identified in this analysis.\n")
	}
	for i, v := range snap.Vulnerabilities {
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, v.Title)
		fmt.Fprintf(&b, "**ID:** `%s`  \n", v.ID)
		fmt.Fprintf(&b, "**Severity:** %s  \n", v.Severity)
		if v.Impact != "" {
			fmt.Fprintf(&b, "**Impact:** %s  \n", v.Impact)
		}
		fmt.Fprintf(&b, "\n%s\n", v.Description)
		if v.Recommendation != "" {
			fmt.Fprintf(&b, "\n**Recommendation:** %s\n", v.Recommendation)
		}
		if v.CodeSnippet != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", v.CodeSnippet)
		}
		if len(v.References) > 0 {
			b.WriteString("\n**References:**\n")
			for _, r := range v.References {
				fmt.Fprintf(&b, "- %s\n", r)
			}
		}
		b.WriteString("\n")
	}

	if len(recs) > 0 {
		b.WriteString("## General Recommendations\n\n")
		for _, r := range recs {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	return b.Bytes(), nil
}
