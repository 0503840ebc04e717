package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return queue.New(client, zap.NewNop())
}

func TestEnqueueDequeueRoundtrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := schemas.ScanJob{
		ID:             "job-1",
		RepoURL:        "https://github.com/acme/vault.git",
		InstallationID: 99,
		PR: &schemas.PRContext{
			Owner: "acme", Repo: "vault", PRNumber: 7,
			BaseRef: "main", HeadSHA: "abc123", InstallationID: 99,
		},
	}
	require.NoError(t, q.Enqueue(ctx, job))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestDequeuePreservesFIFOOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, schemas.ScanJob{ID: id}))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got.ID)
	}
}

func TestDequeueEmptyQueue(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestBaselineJobHasNoPRContext(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, schemas.ScanJob{ID: "b1", RepoURL: "https://github.com/acme/vault"}))
	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got.PR)
	assert.Equal(t, schemas.ModeBaseline, got.Mode())
}
