// File: internal/analysis/unified.go
// Description: Runs every enabled adapter over a workspace in declared
// order, isolating per-tool failures, and aggregates the results into one
// deduplicated finding list.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
)

// Unified aggregates findings from the registered analyzers.
type Unified struct {
	analyzers []Analyzer
	log       *zap.Logger
}

// NewUnified builds the unified scanner over an adapter registry.
func NewUnified(analyzers []Analyzer, logger *zap.Logger) *Unified {
	return &Unified{
		analyzers: analyzers,
		log:       logger.Named("unified_scanner"),
	}
}

// Run executes all adapters sequentially against repoRoot. A failing adapter
// is logged and the remaining adapters still run; if every adapter fails the
// result is an empty list with a warning, not an error. The returned error
// reports cancellation of ctx between adapters.
func (u *Unified) Run(ctx context.Context, repoRoot string, files []string, minSeverity schemas.Severity) ([]schemas.Finding, error) {
	u.log.Info("Starting multi-tool analysis.",
		zap.String("repo_root", repoRoot), zap.Int("tools", len(u.analyzers)))

	var (
		aggregate []schemas.Finding
		timings   []string
		failed    int
		total     time.Duration
	)

	for _, analyzer := range u.analyzers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scan cancelled: %w", err)
		}

		start := time.Now()
		findings, err := analyzer.Run(ctx, repoRoot, files, minSeverity)
		elapsed := time.Since(start)
		total += elapsed
		timings = append(timings, fmt.Sprintf("%s=%s", analyzer.Name(), elapsed.Round(time.Millisecond)))

		if err != nil {
			failed++
			u.log.Error("Analyzer failed; continuing with remaining tools.",
				zap.String("tool", analyzer.Name()), zap.Error(err))
			continue
		}

		u.log.Info("Analyzer completed.",
			zap.String("tool", analyzer.Name()),
			zap.Int("findings", len(findings)),
			zap.Duration("elapsed", elapsed))
		aggregate = append(aggregate, findings...)
	}

	if failed == len(u.analyzers) && len(u.analyzers) > 0 {
		u.log.Warn("Every analyzer failed; returning an empty result.")
	}

	deduped := schemas.DedupFindings(aggregate)
	if dropped := len(aggregate) - len(deduped); dropped > 0 {
		u.log.Debug("Deduplicated repeated findings.", zap.Int("dropped", dropped))
	}

	u.log.Info("Multi-tool analysis complete.",
		zap.Int("unique_findings", len(deduped)),
		zap.String("timings", strings.Join(timings, " ")),
		zap.Duration("total", total))
	return deduped, nil
}
