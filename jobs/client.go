package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// reconcileUniqueFor keeps a second manual trigger from stacking on a pending run.
const reconcileUniqueFor = 15 * time.Minute

// Enqueuer is the slice of asynq.Client the jobs client depends on.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits back-office tasks to the queue.
type Client struct {
	enqueuer Enqueuer
}

// NewClient connects an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{enqueuer: asynq.NewClient(redisOpts)}
}

// NewClientWith wraps an existing enqueuer.
func NewClientWith(enqueuer Enqueuer) *Client {
	return &Client{enqueuer: enqueuer}
}

// EnqueueCountersReconcile enqueues a counter repair run.
func (c *Client) EnqueueCountersReconcile(ctx context.Context, payload CountersReconcilePayload) (*asynq.TaskInfo, error) {
	if c == nil || c.enqueuer == nil {
		return nil, errors.New("jobs: client not configured")
	}
	task, err := NewCountersReconcileTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueuer.EnqueueContext(ctx, task, ReconcileOptions()...)
}

// ReconcileOptions are the enqueue options shared by manual triggers and the cron entry.
func ReconcileOptions() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(30 * time.Minute),
		asynq.Unique(reconcileUniqueFor),
	}
}

// Close releases client resources.
func (c *Client) Close() error {
	if c == nil || c.enqueuer == nil {
		return nil
	}
	return c.enqueuer.Close()
}
