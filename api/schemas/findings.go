package schemas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// -- Finding Schemas --

// Severity represents the severity level of a security finding, ranging from
// informational to critical. The values are lowercase to align with the
// analyzer report vocabulary and the baseline wire format.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityInformational Severity = "informational"
	SeverityLow           Severity = "low"
	SeverityMedium        Severity = "medium"
	SeverityHigh          Severity = "high"
	SeverityCritical      Severity = "critical"
)

// severityOrdinals is the total order over the severity scale. Comparison is
// by ordinal only.
var severityOrdinals = map[Severity]int{
	SeverityInformational: 0,
	SeverityLow:           1,
	SeverityMedium:        2,
	SeverityHigh:          3,
	SeverityCritical:      4,
}

// Ordinal returns the numeric rank of the severity. Unknown values rank
// below Informational so they never satisfy a threshold.
func (s Severity) Ordinal() int {
	if ord, ok := severityOrdinals[s]; ok {
		return ord
	}
	return -1
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Ordinal() >= other.Ordinal()
}

// Title returns the display form of the severity ("High", "Informational").
func (s Severity) Title() string {
	if len(s) == 0 {
		return ""
	}
	return strings.ToUpper(string(s[0])) + string(s[1:])
}

// ParseSeverity maps a free-form severity string onto the canonical scale,
// case-insensitively. The second return value is false when the input is
// unknown, in which case the result defaults to SeverityLow; callers decide
// whether that deserves a warning.
func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := severityOrdinals[s]; ok {
		return s, true
	}
	return SeverityLow, false
}

// Finding is the canonical issue record produced by a tool adapter. File and
// line, when present, refer to the checked-out head revision; File is a
// repository-relative POSIX path.
type Finding struct {
	Tool        string   `json:"tool"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Confidence  string   `json:"confidence,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description"`
	File        string   `json:"file"`
	Line        int      `json:"line"`

	// Raw preserves the tool's original record for debugging only.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Fingerprint derives the stable identity of a finding. Two findings with
// equal fingerprints are the same issue across runs. The tool name is part of
// the identity on purpose: the same vulnerability surfaced by two analyzers
// is attributed to each independently.
func (f Finding) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%d", f.Tool, f.Type, f.File, f.Line)
}

// SortFindings orders findings for reporting: severity descending, then file
// ascending, then line ascending. The sort is stable so equal keys keep their
// scan order.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Ordinal() != b.Severity.Ordinal() {
			return a.Severity.Ordinal() > b.Severity.Ordinal()
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
}

// DiffAgainstBaseline returns the findings whose fingerprint is not in the
// baseline set, preserving input order.
func DiffAgainstBaseline(findings []Finding, baseline map[string]struct{}) []Finding {
	fresh := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if _, known := baseline[f.Fingerprint()]; !known {
			fresh = append(fresh, f)
		}
	}
	return fresh
}

// DedupFindings removes findings that repeat an earlier fingerprint. The
// first occurrence wins and order is preserved, so the operation is
// idempotent.
func DedupFindings(findings []Finding) []Finding {
	seen := make(map[string]struct{}, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		fp := f.Fingerprint()
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, f)
	}
	return out
}
