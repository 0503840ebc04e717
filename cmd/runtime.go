// -- cmd/runtime.go --
package cmd

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/analysis"
	"github.com/auditpitcrew/audit-pit-crew/internal/baseline"
	"github.com/auditpitcrew/audit-pit-crew/internal/config"
	"github.com/auditpitcrew/audit-pit-crew/internal/githubapp"
	"github.com/auditpitcrew/audit-pit-crew/internal/gitops"
	"github.com/auditpitcrew/audit-pit-crew/internal/manifest"
	"github.com/auditpitcrew/audit-pit-crew/internal/orchestrator"
	"github.com/auditpitcrew/audit-pit-crew/internal/queue"
	"github.com/auditpitcrew/audit-pit-crew/internal/report"
)

// runtime bundles the wired collaborators a command needs.
type runtime struct {
	queue    *queue.Queue
	runner   *orchestrator.Runner
	redis    *redis.Client
	baseline *redis.Client
}

// newRedisClient connects to a redis URL.
func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// buildRuntime wires the queue, stores, git manager, GitHub App auth, and
// the orchestrator runner from the process configuration.
func buildRuntime(cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	queueClient, err := newRedisClient(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	baselineClient := queueClient
	if cfg.Redis.BaselineAddr() != cfg.Redis.URL {
		if baselineClient, err = newRedisClient(cfg.Redis.BaselineAddr()); err != nil {
			return nil, err
		}
	}

	auth, err := githubapp.NewAuth(cfg.GitHub, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GitHub App auth: %w", err)
	}

	git := gitops.NewManager(cfg.Git, logger)
	baselines := baseline.New(baselineClient, logger)

	newScanner := func(policy manifest.ScanConfig) orchestrator.Scanner {
		registry := analysis.BuildRegistry(cfg.Analysis, policy.EnabledTools, logger)
		return analysis.NewUnified(registry, logger)
	}

	newReporter := func(token string, pr schemas.PRContext) (orchestrator.Reporter, error) {
		client, err := githubapp.NewClient(cfg.GitHub, token, logger)
		if err != nil {
			return nil, err
		}
		return report.New(client, pr, logger), nil
	}

	runner, err := orchestrator.New(git, auth, newScanner, baselines, newReporter, manifest.Load, logger)
	if err != nil {
		return nil, err
	}

	return &runtime{
		queue:    queue.New(queueClient, logger),
		runner:   runner,
		redis:    queueClient,
		baseline: baselineClient,
	}, nil
}

// close releases the redis connections.
func (rt *runtime) close() {
	rt.redis.Close()
	if rt.baseline != rt.redis {
		rt.baseline.Close()
	}
}
