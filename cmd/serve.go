// -- cmd/serve.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/internal/observability"
	"github.com/auditpitcrew/audit-pit-crew/internal/webhook"
)

// serveCmd runs the webhook intake HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook intake server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		if cfg.GitHub.WebhookSecret == "" {
			return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required to run the intake server")
		}

		rt, err := buildRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer rt.close()

		handler := webhook.NewHandler(cfg.GitHub.WebhookSecret, rt.queue, logger)
		server := &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: handler.Router(),
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Webhook server listening.", zap.String("addr", cfg.Server.ListenAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case <-ctx.Done():
		}

		logger.Info("Shutting down webhook server.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
