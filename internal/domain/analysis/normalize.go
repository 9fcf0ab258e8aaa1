package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Slither JSON (simplified to what normalization needs)
type slitherSourceMapping struct {
	Filename string `json:"filename_relative"`
	Lines    []int  `json:"lines"`
}

type slitherElement struct {
	Name          string               `json:"name"`
	Type          string               `json:"type"`
	SourceMapping slitherSourceMapping `json:"source_mapping"`
}

type slitherDetector struct {
	Check       string           `json:"check"`
	Impact      string           `json:"impact"`
	Confidence  string           `json:"confidence"`
	Description string           `json:"description"`
	Elements    []slitherElement `json:"elements"`
}

type slitherOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Results struct {
		Detectors []slitherDetector `json:"detectors"`
	} `json:"results"`
}

// NormalizeSlither maps raw slither JSON into the canonical snapshot. It is a
// pure function: identical raw output and config always yield identical
// finding ids and an identical summary. The summary is recomputed by counting
// and never trusted from the tool.
func NormalizeSlither(raw []byte, cfg Config) (*Snapshot, error) {
	var out slitherOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parsing slither output: %w", err)
	}

	snap := &Snapshot{Vulnerabilities: []Vulnerability{}}
	seen := map[string]int{}

	for _, d := range out.Results.Detectors {
		sev := mapSlitherImpact(d.Impact)
		if cfg.ExcludeInformational && sev == SeverityInformational {
			continue
		}
		if cfg.ExcludeLow && sev == SeverityLow {
			continue
		}

		v := Vulnerability{
			ID:             findingID(d, seen),
			Title:          d.Check,
			Description:    strings.TrimSpace(d.Description),
			Severity:       sev,
			Impact:         d.Impact,
			Recommendation: "Review the slither detector documentation for remediation guidance",
			CodeSnippet:    firstLocation(d),
			References:     []string{"https://github.com/crytic/slither/wiki/Detector-Documentation"},
		}
		snap.Vulnerabilities = append(snap.Vulnerabilities, v)

		switch sev {
		case SeverityHigh:
			snap.Summary.High++
		case SeverityMedium:
			snap.Summary.Medium++
		case SeverityLow:
			snap.Summary.Low++
		default:
			snap.Summary.Informational++
		}
		snap.Summary.Total++
	}

	return snap, nil
}

func mapSlitherImpact(impact string) Severity {
	switch strings.ToLower(impact) {
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		// informational, optimization, and anything the tool invents later
		return SeverityInformational
	}
}

// findingID derives a stable synthetic id from the check name and the
// finding's source locations. Duplicate findings on the same location get a
// deterministic ordinal suffix so ids stay unique within a snapshot.
func findingID(d slitherDetector, seen map[string]int) string {
	h := sha256.New()
	h.Write([]byte(d.Check))
	for _, e := range d.Elements {
		fmt.Fprintf(h, "|%s:%s", e.SourceMapping.Filename, joinLines(e.SourceMapping.Lines))
	}
	id := "SL-" + hex.EncodeToString(h.Sum(nil))[:12]
	seen[id]++
	if n := seen[id]; n > 1 {
		return fmt.Sprintf("%s-%d", id, n)
	}
	return id
}

func joinLines(lines []int) string {
	if len(lines) == 0 {
		return ""
	}
	sorted := append([]int(nil), lines...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, l := range sorted {
		parts[i] = fmt.Sprintf("%d", l)
	}
	return strings.Join(parts, ",")
}

func firstLocation(d slitherDetector) string {
	for _, e := range d.Elements {
		if e.SourceMapping.Filename == "" {
			continue
		}
		loc := e.SourceMapping.Filename
		if len(e.SourceMapping.Lines) > 0 {
			loc = fmt.Sprintf("%s:L%d", loc, e.SourceMapping.Lines[0])
		}
		if e.Name != "" {
			return fmt.Sprintf("%s (%s)", loc, e.Name)
		}
		return loc
	}
	return ""
}
