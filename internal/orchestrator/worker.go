// File: internal/orchestrator/worker.go
// Description: The queue consumer. Dequeues scan jobs, runs them through the
// Runner, and applies the retry policy: transient git failures get a bounded
// exponential retry, everything else fails once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/config"
	"github.com/auditpitcrew/audit-pit-crew/internal/gitops"
	"github.com/auditpitcrew/audit-pit-crew/internal/queue"
)

// Dequeuer is the queue capability the worker consumes.
type Dequeuer interface {
	Dequeue(ctx context.Context, wait time.Duration) (schemas.ScanJob, error)
}

// Worker drains the job queue. Multiple workers run concurrently; jobs are
// independent and share no mutable state beyond the baseline store.
type Worker struct {
	queue  Dequeuer
	runner *Runner
	cfg    config.WorkerConfig
	log    *zap.Logger
}

// NewWorker builds a queue consumer.
func NewWorker(q Dequeuer, runner *Runner, cfg config.WorkerConfig, logger *zap.Logger) *Worker {
	return &Worker{
		queue:  q,
		runner: runner,
		cfg:    cfg,
		log:    logger.Named("worker"),
	}
}

// Run consumes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker started.")
	for {
		job, err := w.queue.Dequeue(ctx, w.cfg.PollInterval)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				w.log.Info("Worker stopping.")
				return nil
			}
			w.log.Error("Dequeue failed; backing off.", zap.Error(err))
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		w.ProcessJob(ctx, job)
	}
}

// ProcessJob runs one job with the retry policy. A panic inside a job is
// contained here so one bad job cannot take the worker down; the deferred
// workspace cleanup inside the Runner has already run by the time the panic
// unwinds to us.
func (w *Worker) ProcessJob(ctx context.Context, job schemas.ScanJob) (outcome schemas.ScanOutcome) {
	log := w.log.With(zap.String("job_id", job.ID))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Job panicked.", zap.Any("panic", rec))
			outcome = schemas.ScanOutcome{Status: schemas.StatusFailed, Mode: job.Mode()}
		}
	}()

	delay := w.cfg.RetryBaseDelay
	for attempt := 0; ; attempt++ {
		var err error
		outcome, err = w.runner.Run(ctx, job)
		if err == nil {
			log.Info("Job finished.",
				zap.String("status", string(outcome.Status)),
				zap.Int("new_issues", outcome.NewIssues))
			return outcome
		}

		if IsCancellation(err) || ctx.Err() != nil {
			log.Warn("Job cancelled.", zap.Error(err))
			return schemas.ScanOutcome{Status: schemas.StatusFailed, Mode: job.Mode()}
		}
		if !IsTransient(err) || attempt >= w.cfg.MaxRetries {
			log.Error("Job failed.", zap.Int("attempts", attempt+1), zap.Error(err))
			return outcome
		}

		log.Warn("Transient job failure; retrying.",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return schemas.ScanOutcome{Status: schemas.StatusFailed, Mode: job.Mode()}
		}
		delay *= 2
	}
}

// IsTransient classifies an error for the retry policy. Git operations are
// most often transient network failures; credential, tool, and store
// problems are deterministic and retrying them only repeats the failure.
func IsTransient(err error) bool {
	return gitops.IsGitError(err)
}

// Describe renders the worker configuration for startup logging.
func (w *Worker) Describe() string {
	return fmt.Sprintf("poll=%s retries=%d base_delay=%s",
		w.cfg.PollInterval, w.cfg.MaxRetries, w.cfg.RetryBaseDelay)
}
