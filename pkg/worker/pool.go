package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/metrics"
	"github.com/feichai0017/file-converter/pkg/queue"
)

var ErrStopped = errors.New("worker pool stopped")

// Pool is the in-process dispatcher: a fixed number of goroutines fed by a
// queue of bounded depth.
type Pool struct {
	exec        Executor
	concurrency int
	logger      logger.Logger

	mu      sync.RWMutex
	jobs    chan string
	stopped bool
	wg      sync.WaitGroup
}

func NewPool(exec Executor, concurrency, depth int, log logger.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if depth < 0 {
		depth = 0
	}
	return &Pool{
		exec:        exec,
		concurrency: concurrency,
		logger:      log.Named("pool"),
		jobs:        make(chan string, depth),
	}
}

func (p *Pool) Name() string { return "local" }

// Start launches the workers. Cancelling ctx cancels in-flight executions.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
	p.logger.Info("Worker pool started",
		logger.Int("concurrency", p.concurrency),
		logger.Int("queueDepth", cap(p.jobs)),
	)
	return nil
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for id := range p.jobs {
		metrics.SetQueueDepth(p.Name(), len(p.jobs))
		if ctx.Err() != nil {
			p.logger.Warn("Dropping job after shutdown", logger.String("jobId", id))
			continue
		}
		_ = execute(ctx, p.exec, id, p.logger)
	}
}

// Dispatch queues the job or fails fast with queue.ErrCapacityExceeded.
func (p *Pool) Dispatch(ctx context.Context, task *queue.Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- task.JobID:
		metrics.SetQueueDepth(p.Name(), len(p.jobs))
		return nil
	default:
		metrics.CapacityRejected(p.Name())
		return queue.ErrCapacityExceeded
	}
}

// Withdraw is a no-op: a queued id whose job was cancelled is skipped when
// it reaches a worker.
func (p *Pool) Withdraw(ctx context.Context, jobID string) error { return nil }

// Stop refuses new jobs and waits for the queued ones to drain.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
	return nil
}
