// File: internal/analysis/mythril.go
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/config"
)

const mythrilReportName = "mythril_report.json"

// mythrilMaxDepth bounds symbolic execution. Deeper exploration finds more
// but each extra level costs real wall-clock time per contract.
const mythrilMaxDepth = "3"

// Mythril wraps the myth CLI, the symbolic-execution analyzer operating on
// compiled bytecode.
type Mythril struct {
	timeout time.Duration
	log     *zap.Logger
}

// NewMythril builds the mythril adapter.
func NewMythril(cfg config.AnalysisConfig, logger *zap.Logger) *Mythril {
	return &Mythril{
		timeout: cfg.MythrilTimeout,
		log:     logger.Named("mythril"),
	}
}

// Name implements Analyzer.
func (m *Mythril) Name() string { return ToolMythril }

type mythrilReport struct {
	Issues []mythrilIssue `json:"issues"`
}

type mythrilIssue struct {
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Confidence  string `json:"confidence"`
	Description string `json:"description"`
	Contract    string `json:"contract"`
	Function    string `json:"function"`
	SWCID       string `json:"swc-id"`
	SourceMap   string `json:"sourceMap"`
}

// Run implements Analyzer.
func (m *Mythril) Run(ctx context.Context, repoRoot string, files []string, minSeverity schemas.Severity) ([]schemas.Finding, error) {
	if files != nil && len(files) == 0 {
		m.log.Info("No candidate files for mythril, skipping.")
		return nil, nil
	}
	if files != nil {
		files = filterExisting(repoRoot, files, m.log)
		if len(files) == 0 {
			m.log.Warn("None of the candidate files exist on disk, skipping mythril.")
			return nil, nil
		}
	}

	report, err := m.execute(ctx, repoRoot, files)
	if err != nil {
		return nil, err
	}

	findings := make([]schemas.Finding, 0, len(report.Issues))
	for _, issue := range report.Issues {
		sev := mythrilSeverity(issue.Severity)
		if !sev.AtLeast(minSeverity) {
			continue
		}

		confidence := issue.Confidence
		if confidence == "" {
			confidence = "Medium"
		}

		raw, _ := jsonAPI.Marshal(issue)
		findings = append(findings, schemas.Finding{
			Tool:        ToolMythril,
			Type:        issue.Title,
			Severity:    sev,
			Confidence:  confidence,
			Title:       issue.Title,
			Description: issue.Description,
			File:        attributeFile(issue, files),
			Line:        lineFromSourceMap(issue.SourceMap),
			Raw:         json.RawMessage(raw),
		})
	}

	m.log.Info("Mythril scan finished.",
		zap.Int("findings", len(findings)), zap.String("min_severity", string(minSeverity)))
	return findings, nil
}

func (m *Mythril) execute(ctx context.Context, repoRoot string, files []string) (*mythrilReport, error) {
	args := []string{"analyze"}
	if len(files) > 0 {
		m.log.Info("Running partial mythril scan.", zap.Strings("files", files))
		args = append(args, files...)
	} else {
		m.log.Info("Running full mythril scan on repository root.")
		args = append(args, ".")
	}
	args = append(args, "--max-depth", mythrilMaxDepth, "-o", "json")

	res, runErr := runTool(ctx, repoRoot, m.timeout, "myth", args...)
	if res.TimedOut {
		return nil, &ToolError{Tool: ToolMythril, ExitCode: res.ExitCode, Err: fmt.Errorf("timed out after %s", m.timeout)}
	}
	if runErr != nil {
		return nil, &ToolError{Tool: ToolMythril, ExitCode: res.ExitCode, Err: runErr}
	}

	stdout := strings.TrimSpace(string(res.Stdout))
	stderr := strings.TrimSpace(string(res.Stderr))

	if stdout == "" {
		if stderr != "" {
			return nil, &ToolError{Tool: ToolMythril, ExitCode: res.ExitCode, Stderr: stderr,
				Err: fmt.Errorf("mythril produced no output")}
		}
		// Silence on both streams means a clean run with nothing to report.
		m.log.Info("Mythril produced no output; no issues found.")
		return &mythrilReport{}, nil
	}

	if res.ExitCode != 0 {
		return nil, &ToolError{Tool: ToolMythril, ExitCode: res.ExitCode, Stderr: stderr,
			Err: fmt.Errorf("mythril exited non-zero")}
	}

	var report mythrilReport
	if err := jsonAPI.Unmarshal([]byte(stdout), &report); err == nil {
		return &report, nil
	}

	// Some mythril configurations write the report to a file instead of
	// stdout; try that before giving up.
	if data, readErr := os.ReadFile(filepath.Join(repoRoot, mythrilReportName)); readErr == nil {
		if err := jsonAPI.Unmarshal(data, &report); err == nil {
			return &report, nil
		}
	}

	return nil, &ToolError{Tool: ToolMythril, ExitCode: res.ExitCode, Stderr: stderr,
		Err: fmt.Errorf("mythril output was not valid JSON")}
}

func mythrilSeverity(native string) schemas.Severity {
	switch native {
	case "High":
		return schemas.SeverityHigh
	case "Medium":
		return schemas.SeverityMedium
	case "Low":
		return schemas.SeverityLow
	default:
		return schemas.SeverityInformational
	}
}

// attributeFile picks the source file an issue belongs to. Mythril does not
// carry file paths in its issues, but we know exactly which files were
// handed to it; with several candidates the contract name breaks the tie.
func attributeFile(issue mythrilIssue, scanned []string) string {
	switch len(scanned) {
	case 0:
		return ""
	case 1:
		return scanned[0]
	}
	contract := strings.ToLower(issue.Contract)
	if contract != "" {
		for _, f := range scanned {
			if strings.Contains(strings.ToLower(f), contract) {
				return f
			}
		}
	}
	return scanned[0]
}

// lineFromSourceMap approximates a line number from the byte offset in a
// Solidity source map ("offset:length:sourceIndex:jump"). Roughly 40 bytes
// per line; imprecise, but far better than reporting line 0.
func lineFromSourceMap(sourceMap string) int {
	if sourceMap == "" || sourceMap == "Unknown" {
		return 0
	}
	parts := strings.SplitN(sourceMap, ":", 2)
	offset, err := strconv.Atoi(parts[0])
	if err != nil || offset <= 0 {
		return 0
	}
	line := offset / 40
	if line < 1 {
		line = 1
	}
	return line
}
