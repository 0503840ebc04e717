// File: internal/orchestrator/orchestrator.go
// Description: Runs one scan job through its seven steps: workspace, clone,
// config, file discovery, scan, report, cleanup. The runner is injected with
// its collaborators via interfaces, making it decoupled and testable.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/manifest"
)

// GitManager is the workspace and repository capability.
type GitManager interface {
	CreateWorkspace() (string, error)
	RemoveWorkspace(path string)
	Clone(ctx context.Context, workspace, repoURL, token string, shallow bool) error
	RepoRoot(workspace string) (string, error)
	FetchBaseRef(ctx context.Context, repoRoot, baseRef, token string)
	Checkout(ctx context.Context, repoRoot, ref string) error
	ChangedSolidityFiles(ctx context.Context, repoRoot, baseRef string, policy manifest.ScanConfig) ([]string, error)
}

// TokenIssuer mints per-job installation tokens.
type TokenIssuer interface {
	InstallationToken(ctx context.Context, installationID int64) (string, error)
}

// Scanner runs the enabled analyzers over a workspace.
type Scanner interface {
	Run(ctx context.Context, repoRoot string, files []string, minSeverity schemas.Severity) ([]schemas.Finding, error)
}

// ScannerFactory builds a scanner for one job's scan policy.
type ScannerFactory func(policy manifest.ScanConfig) Scanner

// BaselineStore is the keyed fingerprint persistence.
type BaselineStore interface {
	Read(ctx context.Context, owner, repo string) (map[string]struct{}, error)
	Write(ctx context.Context, owner, repo string, fingerprints []string) error
}

// Reporter publishes results onto the pull request.
type Reporter interface {
	PostReport(ctx context.Context, findings []schemas.Finding) error
	PostErrorReport(ctx context.Context, message string) error
	StartCheck(ctx context.Context) (int64, error)
	CompleteCheck(ctx context.Context, id int64, findings []schemas.Finding, blockOn schemas.Severity) (string, error)
	CompleteCheckWithSummary(ctx context.Context, id int64, conclusion, title, summary string) error
}

// ReporterFactory builds a reporter authenticated with one job's token.
type ReporterFactory func(token string, pr schemas.PRContext) (Reporter, error)

// ManifestLoader loads the per-repository scan policy. It never fails.
type ManifestLoader func(repoRoot string, logger *zap.Logger) manifest.ScanConfig

// Runner executes scan jobs.
type Runner struct {
	git          GitManager
	auth         TokenIssuer
	newScanner   ScannerFactory
	baselines    BaselineStore
	newReporter  ReporterFactory
	loadManifest ManifestLoader
	logger       *zap.Logger
}

// New creates a Runner with its dependencies.
func New(
	git GitManager,
	auth TokenIssuer,
	newScanner ScannerFactory,
	baselines BaselineStore,
	newReporter ReporterFactory,
	loadManifest ManifestLoader,
	logger *zap.Logger,
) (*Runner, error) {
	if git == nil || auth == nil || newScanner == nil || baselines == nil ||
		newReporter == nil || loadManifest == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize runner with nil dependencies")
	}
	return &Runner{
		git:          git,
		auth:         auth,
		newScanner:   newScanner,
		baselines:    baselines,
		newReporter:  newReporter,
		loadManifest: loadManifest,
		logger:       logger.Named("orchestrator"),
	}, nil
}

// failed builds the outcome record for a failed job.
func failed(mode schemas.ScanMode) schemas.ScanOutcome {
	return schemas.ScanOutcome{Status: schemas.StatusFailed, Mode: mode}
}

// Run executes one job through the seven steps in strict order. Workspace
// removal is guaranteed on every exit path, including panics and
// cancellation, by the deferred cleanup installed right after creation.
func (r *Runner) Run(ctx context.Context, job schemas.ScanJob) (outcome schemas.ScanOutcome, err error) {
	mode := job.Mode()
	log := r.logger.With(zap.String("job_id", job.ID), zap.String("mode", string(mode)))
	log.Info("Starting scan job.", zap.String("repo_url", job.RepoURL))

	// Step 1: workspace. Any failure here is fatal to the job.
	workspace, err := r.git.CreateWorkspace()
	if err != nil {
		return failed(mode), err
	}
	// Step 7 is installed immediately so it runs unconditionally.
	defer r.git.RemoveWorkspace(workspace)

	// Step 2: authenticate and clone.
	var token string
	if job.InstallationID != 0 {
		if token, err = r.auth.InstallationToken(ctx, job.InstallationID); err != nil {
			return failed(mode), err
		}
	}

	var (
		reporter Reporter
		checkID  int64
	)
	if mode == schemas.ModePR {
		if reporter, err = r.newReporter(token, *job.PR); err != nil {
			return failed(mode), err
		}
		// The in-progress check shows up before the clone so reviewers see
		// the gate immediately. Publishing is best-effort throughout.
		if id, startErr := reporter.StartCheck(ctx); startErr != nil {
			log.Warn("Could not start check run.", zap.Error(startErr))
		} else {
			checkID = id
		}
	}

	shallow := mode == schemas.ModeBaseline
	if err = r.git.Clone(ctx, workspace, job.RepoURL, token, shallow); err != nil {
		r.reportFailure(ctx, reporter, checkID, "repository clone failed")
		return failed(mode), err
	}
	repoRoot, err := r.git.RepoRoot(workspace)
	if err != nil {
		return failed(mode), err
	}
	if mode == schemas.ModePR && job.PR.HeadSHA != "" {
		if err = r.git.Checkout(ctx, repoRoot, job.PR.HeadSHA); err != nil {
			r.reportFailure(ctx, reporter, checkID, "head revision checkout failed")
			return failed(mode), err
		}
	}

	// Step 3: load config. Never fails the job.
	policy := r.loadManifest(repoRoot, r.logger)

	// Step 4: discover files (PR mode only).
	var files []string
	if mode == schemas.ModePR {
		r.git.FetchBaseRef(ctx, repoRoot, job.PR.BaseRef, token)
		if files, err = r.git.ChangedSolidityFiles(ctx, repoRoot, job.PR.BaseRef, policy); err != nil {
			r.reportFailure(ctx, reporter, checkID, "changed file discovery failed")
			return failed(mode), err
		}
		if len(files) == 0 {
			log.Info("No Solidity changes; skipping scan.")
			r.completeCheck(ctx, reporter, checkID, "success", "⏭️ Scan skipped", "no Solidity changes")
			return schemas.ScanOutcome{Status: schemas.StatusSuccess, NewIssues: 0, Mode: mode}, nil
		}
	}

	// Step 5: scan.
	findings, err := r.newScanner(policy).Run(ctx, repoRoot, files, policy.MinSeverity)
	if err != nil {
		// A scanner-level failure is systemic; publish the failure channel
		// and re-raise without retry.
		if reporter != nil {
			if postErr := reporter.PostErrorReport(ctx, "security scan failed: "+err.Error()); postErr != nil {
				log.Warn("Could not post error report.", zap.Error(postErr))
			}
		}
		r.completeCheck(ctx, reporter, checkID, "failure", "❌ Security scan failed", "The scan could not be completed.")
		return failed(mode), err
	}
	log.Info("Scan complete.", zap.Int("findings", len(findings)))

	// Step 6: report.
	switch mode {
	case schemas.ModePR:
		baseline, readErr := r.baselines.Read(ctx, job.PR.Owner, job.PR.Repo)
		if readErr != nil {
			// Prefer over-reporting to under-reporting on baseline loss.
			log.Warn("Baseline read failed; treating as empty.", zap.Error(readErr))
			baseline = map[string]struct{}{}
		}
		fresh := schemas.DiffAgainstBaseline(findings, baseline)
		log.Info("Computed new findings against baseline.",
			zap.Int("scanned", len(findings)), zap.Int("new", len(fresh)))

		if postErr := reporter.PostReport(ctx, fresh); postErr != nil {
			log.Warn("Could not post report comment.", zap.Error(postErr))
		}
		if checkID != 0 {
			if _, checkErr := reporter.CompleteCheck(ctx, checkID, fresh, policy.BlockOnSeverity); checkErr != nil {
				log.Warn("Could not complete check run.", zap.Error(checkErr))
			}
		}
		return schemas.ScanOutcome{Status: schemas.StatusSuccess, NewIssues: len(fresh), Mode: mode}, nil

	default:
		fingerprints := make([]string, len(findings))
		for i, f := range findings {
			fingerprints[i] = f.Fingerprint()
		}
		owner, repo := repoCoordinates(job)
		if writeErr := r.baselines.Write(ctx, owner, repo, fingerprints); writeErr != nil {
			return failed(mode), writeErr
		}
		return schemas.ScanOutcome{Status: schemas.StatusSuccess, NewIssues: 0, Mode: mode}, nil
	}
}

// reportFailure publishes the failure channel for mid-flight errors: an
// error comment plus a failed check.
func (r *Runner) reportFailure(ctx context.Context, reporter Reporter, checkID int64, reason string) {
	if reporter == nil {
		return
	}
	if err := reporter.PostErrorReport(ctx, reason); err != nil {
		r.logger.Warn("Could not post error report.", zap.Error(err))
	}
	r.completeCheck(ctx, reporter, checkID, "failure", "❌ Security scan failed", reason)
}

// completeCheck finishes the check run, tolerating a missing check or a
// publishing failure.
func (r *Runner) completeCheck(ctx context.Context, reporter Reporter, checkID int64, conclusion, title, summary string) {
	if reporter == nil || checkID == 0 {
		return
	}
	if err := reporter.CompleteCheckWithSummary(ctx, checkID, conclusion, title, summary); err != nil {
		r.logger.Warn("Could not complete check run.", zap.Error(err))
	}
}

// repoCoordinates derives the baseline key parts for a job. PR jobs carry
// them directly; baseline jobs fall back to parsing the clone URL.
func repoCoordinates(job schemas.ScanJob) (string, string) {
	if job.PR != nil {
		return job.PR.Owner, job.PR.Repo
	}
	return ParseRepoURL(job.RepoURL)
}

// ParseRepoURL extracts owner and repository name from a clone URL such as
// https://github.com/acme/vault.git.
func ParseRepoURL(repoURL string) (string, string) {
	trimmed := repoURL
	if idx := strings.IndexByte(trimmed, '?'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == '/' || r == ':' })
	if len(parts) < 2 {
		return "", trimmed
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}

// IsCancellation reports whether the error came from operator cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
