// Package queue is how a created job reaches an engine: the Dispatcher
// contract plus the asynq-backed implementation used when API and workers
// run as separate processes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/metrics"
)

const TaskTypeConversion = "conversion:execute"

// ErrCapacityExceeded is returned when the queue is at its depth bound.
// Callers retry with backoff; the job was not accepted.
var ErrCapacityExceeded = errors.New("conversion queue is full")

// Dispatcher hands a Queued job to whatever executes it. Dispatch never
// blocks on a full queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *Task) error
	// Withdraw drops a job that has not been picked up yet. Unknown or
	// already running jobs are ignored.
	Withdraw(ctx context.Context, jobID string) error
	Name() string
}

// Task is the payload of a conversion task.
type Task struct {
	JobID     string    `json:"jobId"`
	ToolID    string    `json:"toolId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t *Task) Encode() ([]byte, error) {
	return json.Marshal(t)
}

func DecodeTask(payload []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if t.JobID == "" {
		return nil, errors.New("invalid task data: missing job id")
	}
	return &t, nil
}

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
	// MaxDepth bounds pending plus scheduled tasks in Queue.
	MaxDepth int
	// Timeout is the asynq deadline of one task. It sits above the engine's
	// own budget so the engine always records the outcome first.
	Timeout time.Duration
}

func (c *Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// AsynqQueue dispatches jobs as asynq tasks.
type AsynqQueue struct {
	client    enqueuer
	inspector inspector
	cfg       Config
	logger    logger.Logger
}

func NewAsynqQueue(cfg Config, log logger.Logger) *AsynqQueue {
	opt := cfg.RedisOpt()
	return newAsynqQueue(asynq.NewClient(opt), asynq.NewInspector(opt), cfg, log)
}

func newAsynqQueue(c enqueuer, i inspector, cfg Config, log logger.Logger) *AsynqQueue {
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	return &AsynqQueue{client: c, inspector: i, cfg: cfg, logger: log.Named("queue")}
}

func (q *AsynqQueue) Name() string { return "asynq" }

func (q *AsynqQueue) Dispatch(ctx context.Context, task *Task) error {
	if err := q.checkDepth(); err != nil {
		return err
	}

	payload, err := task.Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	// The engine retries internally; asynq only delivers.
	opts := []asynq.Option{
		asynq.Queue(q.cfg.Queue),
		asynq.MaxRetry(0),
		asynq.TaskID(task.JobID),
	}
	if q.cfg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(q.cfg.Timeout))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeConversion, payload), opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	q.logger.Debug("Task enqueued",
		logger.String("jobId", task.JobID),
		logger.String("queue", info.Queue),
	)
	return nil
}

func (q *AsynqQueue) checkDepth() error {
	if q.cfg.MaxDepth <= 0 {
		return nil
	}
	info, err := q.inspector.GetQueueInfo(q.cfg.Queue)
	if err != nil {
		// A queue that has never held a task does not exist yet.
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return nil
		}
		return fmt.Errorf("inspect queue %s: %w", q.cfg.Queue, err)
	}
	waiting := info.Pending + info.Scheduled + info.Retry
	metrics.SetQueueDepth(q.Name(), waiting)
	if waiting >= q.cfg.MaxDepth {
		metrics.CapacityRejected(q.Name())
		return ErrCapacityExceeded
	}
	return nil
}

func (q *AsynqQueue) Withdraw(ctx context.Context, jobID string) error {
	err := q.inspector.DeleteTask(q.cfg.Queue, jobID)
	switch {
	case err == nil:
		q.logger.Debug("Task withdrawn", logger.String("jobId", jobID))
		return nil
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		return nil
	}
	return fmt.Errorf("failed to withdraw task: %w", err)
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}
