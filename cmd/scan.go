// -- cmd/scan.go --
package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/observability"
	"github.com/auditpitcrew/audit-pit-crew/internal/orchestrator"
)

var (
	scanInstallationID int64
	scanPRNumber       int
	scanBaseRef        string
	scanHeadSHA        string
	scanOwner          string
	scanRepo           string
)

// scanCmd runs a single scan job inline, without going through the queue.
// With only a repo URL it performs a baseline scan; with the PR flags it
// performs a differential scan.
var scanCmd = &cobra.Command{
	Use:   "scan <repo-url>",
	Short: "Run a one-shot scan of a repository.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		rt, err := buildRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer rt.close()

		job := schemas.ScanJob{
			ID:             uuid.NewString(),
			RepoURL:        args[0],
			InstallationID: scanInstallationID,
		}
		if scanPRNumber > 0 {
			if scanOwner == "" || scanRepo == "" {
				owner, repo := orchestrator.ParseRepoURL(args[0])
				if scanOwner == "" {
					scanOwner = owner
				}
				if scanRepo == "" {
					scanRepo = repo
				}
			}
			job.PR = &schemas.PRContext{
				Owner:          scanOwner,
				Repo:           scanRepo,
				PRNumber:       scanPRNumber,
				BaseRef:        scanBaseRef,
				HeadSHA:        scanHeadSHA,
				InstallationID: scanInstallationID,
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		worker := orchestrator.NewWorker(rt.queue, rt.runner, cfg.Worker, logger)
		outcome := worker.ProcessJob(ctx, job)

		logger.Info("Scan finished.",
			zap.String("status", string(outcome.Status)),
			zap.String("mode", string(outcome.Mode)),
			zap.Int("new_issues", outcome.NewIssues))
		if outcome.Status == schemas.StatusFailed {
			return fmt.Errorf("scan failed")
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().Int64Var(&scanInstallationID, "installation-id", 0, "GitHub App installation id for token minting")
	scanCmd.Flags().IntVar(&scanPRNumber, "pr", 0, "pull request number (enables differential mode)")
	scanCmd.Flags().StringVar(&scanBaseRef, "base-ref", "main", "base branch for the differential diff")
	scanCmd.Flags().StringVar(&scanHeadSHA, "head-sha", "", "head commit to check out and attach the check run to")
	scanCmd.Flags().StringVar(&scanOwner, "owner", "", "repository owner (derived from the URL when omitted)")
	scanCmd.Flags().StringVar(&scanRepo, "repo", "", "repository name (derived from the URL when omitted)")
	rootCmd.AddCommand(scanCmd)
}
