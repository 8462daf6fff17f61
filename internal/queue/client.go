package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// ErrQueueUnavailable wraps any failure to place a task on the queue.
var ErrQueueUnavailable = errors.New("queue unavailable")

// Enqueuer is the subset of *asynq.Client used by Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Options are applied to every task sent through a Client.
type Options struct {
	// Attempts is the total number of deliveries, first one included.
	Attempts int
	// Retention keeps finished tasks visible (and their TaskID reserved).
	Retention time.Duration
	// Timeout bounds one handler run. Zero uses the asynq default.
	Timeout time.Duration
}

// Handle identifies an enqueued task.
type Handle struct {
	ID        string
	Queue     string
	Duplicate bool
}

// Client places payloads on named queues.
type Client struct {
	enq  Enqueuer
	opts Options
	log  *slog.Logger
}

func NewClient(enq Enqueuer, opts Options, log *slog.Logger) *Client {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Client{enq: enq, opts: opts, log: log}
}

// Enqueue sends p to queueName. A task already queued under the same dedupe
// key is reported as a duplicate, not an error.
func (c *Client) Enqueue(ctx context.Context, queueName string, p Payload) (*Handle, error) {
	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(c.opts.Attempts - 1),
	}
	if c.opts.Retention > 0 {
		opts = append(opts, asynq.Retention(c.opts.Retention))
	}
	if c.opts.Timeout > 0 {
		opts = append(opts, asynq.Timeout(c.opts.Timeout))
	}
	key := p.DedupKey()
	if key != "" {
		opts = append(opts, asynq.TaskID(key))
	}

	task, err := NewTask(p)
	if err != nil {
		return nil, err
	}

	info, err := c.enq.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		c.log.Info("task already queued", "queue", queueName, "type", p.TaskType(), "task_id", key)
		return &Handle{ID: key, Queue: queueName, Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: enqueue %s on %s: %v", ErrQueueUnavailable, p.TaskType(), queueName, err)
	}

	c.log.Debug("task enqueued", "queue", info.Queue, "type", info.Type, "task_id", info.ID)
	return &Handle{ID: info.ID, Queue: info.Queue}, nil
}
