// File: internal/analysis/slither.go
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/config"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const slitherReportName = "slither_report.json"

// solcSelectTimeout bounds the best-effort compiler pinning step.
const solcSelectTimeout = 60 * time.Second

// Slither wraps the slither CLI, the AST-pattern analyzer. It scans either
// the repository root or the filtered file list and reads its findings from
// the JSON report file slither writes.
type Slither struct {
	timeout     time.Duration
	solcVersion string
	log         *zap.Logger
}

// NewSlither builds the slither adapter.
func NewSlither(cfg config.AnalysisConfig, logger *zap.Logger) *Slither {
	return &Slither{
		timeout:     cfg.SlitherTimeout,
		solcVersion: cfg.SolcVersion,
		log:         logger.Named("slither"),
	}
}

// Name implements Analyzer.
func (s *Slither) Name() string { return ToolSlither }

// slitherSeverities maps slither's impact vocabulary onto the canonical
// scale. "Optimization" findings are informational.
var slitherSeverities = map[string]schemas.Severity{
	"critical":      schemas.SeverityCritical,
	"high":          schemas.SeverityHigh,
	"medium":        schemas.SeverityMedium,
	"low":           schemas.SeverityLow,
	"informational": schemas.SeverityInformational,
	"optimization":  schemas.SeverityInformational,
}

// slitherReport mirrors the subset of slither's JSON report we consume.
type slitherReport struct {
	Success bool `json:"success"`
	Results struct {
		Detectors []slitherDetector `json:"detectors"`
	} `json:"results"`
}

type slitherDetector struct {
	Check       string `json:"check"`
	Impact      string `json:"impact"`
	Confidence  string `json:"confidence"`
	Description string `json:"description"`
	Elements    []struct {
		SourceMapping struct {
			FilenameRelative string `json:"filename_relative"`
			Lines            []int  `json:"lines"`
		} `json:"source_mapping"`
	} `json:"elements"`
}

// Run implements Analyzer.
func (s *Slither) Run(ctx context.Context, repoRoot string, files []string, minSeverity schemas.Severity) ([]schemas.Finding, error) {
	if files != nil && len(files) == 0 {
		s.log.Info("No candidate files for slither, skipping.")
		return nil, nil
	}
	if files != nil {
		if existing := filterExisting(repoRoot, files, s.log); len(existing) > 0 {
			files = existing
		} else {
			s.log.Warn("None of the candidate files exist on disk, falling back to full scan.")
			files = nil
		}
	}

	s.pinSolc(ctx, repoRoot)

	report, err := s.execute(ctx, repoRoot, files)
	if err != nil {
		return nil, err
	}

	if !report.Success {
		s.log.Warn("Slither report indicates failure, treating as empty.")
		return nil, nil
	}

	findings := make([]schemas.Finding, 0, len(report.Results.Detectors))
	for _, det := range report.Results.Detectors {
		sev, ok := slitherSeverities[strings.ToLower(det.Impact)]
		if !ok {
			s.log.Warn("Unknown slither impact, defaulting to informational.", zap.String("impact", det.Impact))
			sev = schemas.SeverityInformational
		}
		if !sev.AtLeast(minSeverity) {
			continue
		}

		file, line := "", 0
		if len(det.Elements) > 0 {
			sm := det.Elements[0].SourceMapping
			file = normalizeRepoPath(repoRoot, sm.FilenameRelative)
			if len(sm.Lines) > 0 {
				line = sm.Lines[0]
			}
		}

		raw, _ := jsonAPI.Marshal(det)
		findings = append(findings, schemas.Finding{
			Tool:        ToolSlither,
			Type:        det.Check,
			Severity:    sev,
			Confidence:  det.Confidence,
			Title:       det.Check,
			Description: det.Description,
			File:        file,
			Line:        line,
			Raw:         json.RawMessage(raw),
		})
	}

	s.log.Info("Slither scan finished.",
		zap.Int("findings", len(findings)), zap.String("min_severity", string(minSeverity)))
	return findings, nil
}

// pinSolc asks solc-select for the configured compiler version. The compiler
// toolchain is pre-provisioned; a failure here only degrades analysis
// quality, so it is a warning.
func (s *Slither) pinSolc(ctx context.Context, repoRoot string) {
	if s.solcVersion == "" {
		return
	}
	res, err := runTool(ctx, repoRoot, solcSelectTimeout, "solc-select", "use", s.solcVersion)
	if err != nil || res.ExitCode != 0 {
		s.log.Warn("Could not pin solc version via solc-select.",
			zap.String("version", s.solcVersion),
			zap.String("stderr", strings.TrimSpace(string(res.Stderr))),
			zap.Error(err))
		return
	}
	s.log.Debug("Pinned solc version.", zap.String("version", s.solcVersion))
}

// execute runs the slither binary and parses the report file it writes.
// Slither exits non-zero whenever it finds issues, so success is judged by
// the report parsing, not the exit code.
func (s *Slither) execute(ctx context.Context, repoRoot string, files []string) (*slitherReport, error) {
	reportPath := filepath.Join(repoRoot, slitherReportName)
	defer os.Remove(reportPath)

	args := make([]string, 0, len(files)+4)
	if len(files) > 0 {
		s.log.Info("Running partial slither scan.", zap.Strings("files", files))
		args = append(args, files...)
	} else {
		s.log.Info("Running full slither scan on repository root.")
		args = append(args, ".")
	}
	args = append(args, "--exclude", "**/*.pem", "--json", slitherReportName)

	res, runErr := runTool(ctx, repoRoot, s.timeout, "slither", args...)
	if res.TimedOut {
		return nil, &ToolError{Tool: ToolSlither, ExitCode: res.ExitCode, Err: fmt.Errorf("timed out after %s", s.timeout)}
	}

	data, readErr := os.ReadFile(reportPath)
	if readErr != nil {
		return nil, s.reportFailure(res, runErr, readErr)
	}
	var report slitherReport
	if err := jsonAPI.Unmarshal(data, &report); err != nil {
		return nil, s.reportFailure(res, runErr, err)
	}
	return &report, nil
}

// reportFailure assembles the diagnostic for a run that produced no usable
// report file.
func (s *Slither) reportFailure(res execResult, runErr, cause error) error {
	stderr := strings.TrimSpace(string(res.Stderr))
	s.log.Error("Slither did not produce a valid report file.",
		zap.Int("exit_code", res.ExitCode),
		zap.String("stderr", stderr),
		zap.Error(cause))

	if strings.Contains(stderr, "is not a file or directory") {
		cause = fmt.Errorf("slither could not find the specified files; check path resolution against the repository root")
	}
	if runErr != nil {
		cause = fmt.Errorf("%v: %w", cause, runErr)
	}
	return &ToolError{Tool: ToolSlither, ExitCode: res.ExitCode, Stderr: stderr, Err: cause}
}
