// File: internal/analysis/aderyn.go
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/config"
)

const aderynReportName = "aderyn_report.json"

// Aderyn wraps the aderyn CLI, the comprehensive whole-tree analyzer. It is
// a single invocation per repository with the longest timeout of the set and
// may be absent from minimal deployments.
type Aderyn struct {
	timeout time.Duration
	log     *zap.Logger
}

// NewAderyn builds the aderyn adapter.
func NewAderyn(cfg config.AnalysisConfig, logger *zap.Logger) *Aderyn {
	return &Aderyn{
		timeout: cfg.AderynTimeout,
		log:     logger.Named("aderyn"),
	}
}

// Name implements Analyzer.
func (a *Aderyn) Name() string { return ToolAderyn }

var aderynSeverities = map[string]schemas.Severity{
	"critical":      schemas.SeverityCritical,
	"high":          schemas.SeverityHigh,
	"medium":        schemas.SeverityMedium,
	"low":           schemas.SeverityLow,
	"info":          schemas.SeverityLow,
	"informational": schemas.SeverityLow,
}

type aderynReport struct {
	Issues []aderynIssue `json:"issues"`
}

type aderynIssue struct {
	Title       string `json:"title"`
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Confidence  string `json:"confidence"`
	Description string `json:"description"`
	File        string `json:"file"`
	Line        int    `json:"line"`
}

// Run implements Analyzer. The candidate file list is ignored; aderyn always
// analyzes the whole tree.
func (a *Aderyn) Run(ctx context.Context, repoRoot string, files []string, minSeverity schemas.Severity) ([]schemas.Finding, error) {
	if files != nil {
		a.log.Info("Aderyn scans the entire tree; candidate file list ignored.", zap.Int("candidates", len(files)))
	}

	report, err := a.execute(ctx, repoRoot)
	if err != nil {
		return nil, err
	}

	findings := make([]schemas.Finding, 0, len(report.Issues))
	for _, issue := range report.Issues {
		sev, ok := aderynSeverities[strings.ToLower(issue.Severity)]
		if !ok {
			sev = schemas.SeverityLow
		}
		if !sev.AtLeast(minSeverity) {
			continue
		}

		title := issue.Title
		if title == "" {
			title = issue.Name
		}
		raw, _ := jsonAPI.Marshal(issue)
		findings = append(findings, schemas.Finding{
			Tool:        ToolAderyn,
			Type:        title,
			Severity:    sev,
			Confidence:  issue.Confidence,
			Title:       title,
			Description: issue.Description,
			File:        normalizeRepoPath(repoRoot, issue.File),
			Line:        issue.Line,
			Raw:         json.RawMessage(raw),
		})
	}

	a.log.Info("Aderyn scan finished.",
		zap.Int("findings", len(findings)), zap.String("min_severity", string(minSeverity)))
	return findings, nil
}

func (a *Aderyn) execute(ctx context.Context, repoRoot string) (*aderynReport, error) {
	reportPath := filepath.Join(repoRoot, aderynReportName)
	defer os.Remove(reportPath)

	res, runErr := runTool(ctx, repoRoot, a.timeout, "aderyn", repoRoot, "-o", "json")
	if res.TimedOut {
		return nil, &ToolError{Tool: ToolAderyn, ExitCode: res.ExitCode, Err: fmt.Errorf("timed out after %s", a.timeout)}
	}
	if runErr != nil {
		return nil, &ToolError{Tool: ToolAderyn, ExitCode: res.ExitCode, Err: runErr}
	}

	var report aderynReport
	if stdout := strings.TrimSpace(string(res.Stdout)); stdout != "" {
		if err := jsonAPI.Unmarshal([]byte(stdout), &report); err == nil {
			return &report, nil
		}
		a.log.Warn("Aderyn stdout is not valid JSON, trying report file.")
	}
	if data, err := os.ReadFile(reportPath); err == nil {
		if err := jsonAPI.Unmarshal(data, &report); err == nil {
			return &report, nil
		}
		a.log.Warn("Aderyn report file is not valid JSON.")
	}

	if res.ExitCode != 0 {
		return nil, &ToolError{Tool: ToolAderyn, ExitCode: res.ExitCode,
			Stderr: strings.TrimSpace(string(res.Stderr)),
			Err:    fmt.Errorf("aderyn exited non-zero without a parseable report")}
	}

	// Clean exit with no JSON anywhere means nothing to report.
	a.log.Info("Aderyn produced no JSON output; no issues found.")
	return &aderynReport{}, nil
}
