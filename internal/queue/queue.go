// File: internal/queue/queue.go
// Description: The scan job queue on a redis list. The webhook intake pushes
// jobs; worker processes block-pop them. Durability is whatever the broker
// provides; job recovery beyond that is out of scope.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
)

// jobsKey is the redis list holding pending scan jobs.
const jobsKey = "audit-pit-crew:jobs"

// ErrEmpty is returned by Dequeue when no job arrived within the poll
// window.
var ErrEmpty = errors.New("queue: no job available")

// Queue is a redis-list backed job queue.
type Queue struct {
	client redis.UniversalClient
	log    *zap.Logger
}

// New builds a queue over an existing redis client.
func New(client redis.UniversalClient, logger *zap.Logger) *Queue {
	return &Queue{
		client: client,
		log:    logger.Named("queue"),
	}
}

// Enqueue serializes the job and pushes it for the workers.
func (q *Queue) Enqueue(ctx context.Context, job schemas.ScanJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.LPush(ctx, jobsKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	q.log.Info("Job enqueued.",
		zap.String("job_id", job.ID),
		zap.String("repo_url", job.RepoURL),
		zap.String("mode", string(job.Mode())))
	return nil
}

// Dequeue blocks up to wait for the next job. ErrEmpty signals an idle poll
// window; the caller loops. A malformed payload is dropped with an error log
// rather than wedging the queue head.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (schemas.ScanJob, error) {
	var job schemas.ScanJob

	res, err := q.client.BRPop(ctx, wait, jobsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return job, ErrEmpty
		}
		return job, fmt.Errorf("failed to dequeue job: %w", err)
	}

	// BRPop returns [key, value].
	if len(res) != 2 {
		return job, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		q.log.Error("Dropping malformed job payload.", zap.Error(err))
		return job, ErrEmpty
	}

	q.log.Debug("Job dequeued.", zap.String("job_id", job.ID))
	return job, nil
}

// Len reports the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, jobsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
