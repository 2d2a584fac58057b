package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues notification tasks. It satisfies inventory.Notifier.
type Client struct {
	client enqueuer
}

func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// NotifyBackorderFulfilled enqueues one task per backorder; the task id makes
// a second enqueue for the same backorder a no-op.
func (c *Client) NotifyBackorderFulfilled(ctx context.Context, backorderID string) error {
	task, err := NewBackorderNotifyTask(backorderID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.TaskID(TaskBackorderNotify+":"+backorderID),
		asynq.MaxRetry(10),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}
