// File: internal/analysis/oyente.go
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/config"
)

// Oyente wraps the oyente CLI, the bytecode-pattern analyzer. Every file is
// an independent invocation: a file that fails to analyze is skipped with a
// warning and the remaining files still run.
type Oyente struct {
	timeout time.Duration
	log     *zap.Logger
}

// NewOyente builds the oyente adapter.
func NewOyente(cfg config.AnalysisConfig, logger *zap.Logger) *Oyente {
	return &Oyente{
		timeout: cfg.OyenteTimeout,
		log:     logger.Named("oyente"),
	}
}

// Name implements Analyzer.
func (o *Oyente) Name() string { return ToolOyente }

// oyenteSeverities maps oyente's native labels onto the canonical scale.
var oyenteSeverities = map[string]schemas.Severity{
	"critical":      schemas.SeverityCritical,
	"high":          schemas.SeverityHigh,
	"medium":        schemas.SeverityMedium,
	"warning":       schemas.SeverityMedium,
	"low":           schemas.SeverityLow,
	"informational": schemas.SeverityLow,
	"info":          schemas.SeverityLow,
	"note":          schemas.SeverityLow,
}

type oyenteReport struct {
	Issues []oyenteIssue `json:"issues"`
}

type oyenteIssue struct {
	Title       string `json:"title"`
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Confidence  string `json:"confidence"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Run implements Analyzer.
func (o *Oyente) Run(ctx context.Context, repoRoot string, files []string, minSeverity schemas.Severity) ([]schemas.Finding, error) {
	if files == nil {
		o.log.Info("Running full oyente scan, discovering Solidity files.")
		files = discoverSolidityFiles(repoRoot)
	}
	if len(files) == 0 {
		o.log.Warn("No Solidity files for oyente scan.")
		return nil, nil
	}

	var findings []schemas.Finding
	for _, rel := range files {
		if info, err := os.Stat(filepath.Join(repoRoot, filepath.FromSlash(rel))); err != nil || !info.Mode().IsRegular() {
			o.log.Warn("File not found on disk, skipping.", zap.String("file", rel))
			continue
		}

		report, err := o.executeFile(ctx, repoRoot, rel)
		if err != nil {
			// Per-file isolation: log and continue with the next file.
			o.log.Error("Oyente failed on file.", zap.String("file", rel), zap.Error(err))
			continue
		}

		for _, issue := range report.Issues {
			sev, ok := oyenteSeverities[strings.ToLower(issue.Severity)]
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
				Tool:        ToolOyente,
				Type:        title,
				Severity:    sev,
				Confidence:  issue.Confidence,
				Title:       title,
				Description: issue.Description,
				File:        rel,
				Line:        issue.Line,
				Raw:         json.RawMessage(raw),
			})
		}
	}

	o.log.Info("Oyente scan finished.",
		zap.Int("findings", len(findings)), zap.String("min_severity", string(minSeverity)))
	return findings, nil
}

func (o *Oyente) executeFile(ctx context.Context, repoRoot, rel string) (*oyenteReport, error) {
	res, runErr := runTool(ctx, repoRoot, o.timeout, "oyente", "-s", rel, "-j")
	if res.TimedOut {
		return nil, &ToolError{Tool: ToolOyente, ExitCode: res.ExitCode, Err: fmt.Errorf("timed out after %s", o.timeout)}
	}
	if runErr != nil {
		return nil, &ToolError{Tool: ToolOyente, ExitCode: res.ExitCode, Err: runErr}
	}

	stdout := strings.TrimSpace(string(res.Stdout))
	if stdout != "" {
		var report oyenteReport
		if err := jsonAPI.Unmarshal([]byte(stdout), &report); err == nil {
			return &report, nil
		}
		o.log.Warn("Oyente output is not valid JSON, treating as empty.", zap.String("file", rel))
	}

	if res.ExitCode != 0 {
		o.log.Warn("Oyente exited non-zero.",
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", strings.TrimSpace(string(res.Stderr))))
	}
	return &oyenteReport{}, nil
}

// discoverSolidityFiles walks the tree for .sol sources, skipping hidden
// directories and node_modules.
func discoverSolidityFiles(root string) []string {
	var out []string
	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if p != root && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".sol") {
			if rel, relErr := filepath.Rel(root, p); relErr == nil {
				out = append(out, filepath.ToSlash(rel))
			}
		}
		return nil
	})
	return out
}
