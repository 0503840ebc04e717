// File: internal/analysis/analyzer.go
package analysis

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/config"
)

// Analyzer is the uniform contract over one external analysis tool. Run
// operates with repoRoot as the working directory. files, when non-nil, is
// the filtered candidate list (repo-relative POSIX paths); tree-scanning
// adapters are free to ignore it. Findings below minSeverity are filtered
// before returning.
//
// An invocation either completes with findings or fails with a *ToolError;
// there are no retries at this layer.
type Analyzer interface {
	Name() string
	Run(ctx context.Context, repoRoot string, files []string, minSeverity schemas.Severity) ([]schemas.Finding, error)
}

// binaryNames maps adapter names to the executable each one shells out to.
var binaryNames = map[string]string{
	ToolSlither: "slither",
	ToolMythril: "myth",
	ToolOyente:  "oyente",
	ToolAderyn:  "aderyn",
}

// Adapter name constants, used in Finding.Tool and the manifest's
// enabled_tools list.
const (
	ToolSlither = "slither"
	ToolMythril = "mythril"
	ToolOyente  = "oyente"
	ToolAderyn  = "aderyn"
)

// BuildRegistry instantiates the enabled adapters in declared order. An
// enabled adapter whose binary is not on PATH is dropped with a warning
// rather than failing the run; minimal deployments carry only the core set.
func BuildRegistry(cfg config.AnalysisConfig, enabled []string, logger *zap.Logger) []Analyzer {
	log := logger.Named("analysis")

	out := make([]Analyzer, 0, len(enabled))
	for _, name := range enabled {
		binary, known := binaryNames[name]
		if !known {
			log.Warn("Unknown analyzer requested, skipping.", zap.String("tool", name))
			continue
		}
		if _, err := exec.LookPath(binary); err != nil {
			log.Warn("Analyzer binary not found on PATH, adapter disabled.",
				zap.String("tool", name), zap.String("binary", binary))
			continue
		}
		switch name {
		case ToolSlither:
			out = append(out, NewSlither(cfg, log))
		case ToolMythril:
			out = append(out, NewMythril(cfg, log))
		case ToolOyente:
			out = append(out, NewOyente(cfg, log))
		case ToolAderyn:
			out = append(out, NewAderyn(cfg, log))
		}
	}

	log.Info("Analyzer registry built.", zap.Int("count", len(out)))
	return out
}

// filterExisting keeps only the candidates that currently exist on disk as
// regular files under root, warning about the rest. Deleted or renamed files
// still present in a diff are dropped here.
func filterExisting(root string, files []string, log *zap.Logger) []string {
	existing := make([]string, 0, len(files))
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil || !info.Mode().IsRegular() {
			log.Warn("Candidate file not found on disk, skipping.", zap.String("file", rel))
			continue
		}
		existing = append(existing, rel)
	}
	return existing
}

// normalizeRepoPath converts a tool-reported location into a repo-relative
// POSIX path with no leading slash or "./" prefix.
func normalizeRepoPath(root, reported string) string {
	p := reported
	if filepath.IsAbs(p) && strings.HasPrefix(p, root) {
		if rel, err := filepath.Rel(root, p); err == nil {
			p = rel
		}
	}
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}
