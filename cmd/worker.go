// -- cmd/worker.go --
package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auditpitcrew/audit-pit-crew/internal/observability"
	"github.com/auditpitcrew/audit-pit-crew/internal/orchestrator"
)

// workerCmd runs queue consumers that execute scan jobs.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run scan job workers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		rt, err := buildRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		worker := orchestrator.NewWorker(rt.queue, rt.runner, cfg.Worker, logger)
		logger.Info("Starting workers.",
			zap.Int("concurrency", cfg.Worker.Concurrency),
			zap.String("policy", worker.Describe()))

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < cfg.Worker.Concurrency; i++ {
			g.Go(func() error { return worker.Run(gctx) })
		}
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
