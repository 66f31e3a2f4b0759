package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/feichai0017/file-converter/internal/tracker"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/queue"
)

type fakeExecutor struct {
	mu      sync.Mutex
	ran     []string
	release chan struct{}
	err     error
}

func (f *fakeExecutor) Execute(ctx context.Context, jobID string) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.ran = append(f.ran, jobID)
	f.mu.Unlock()
	return f.err
}

func (f *fakeExecutor) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

func TestPoolRunsDispatchedJobs(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewPool(exec, 2, 8, logger.NewZap(zaptest.NewLogger(t)))
	require.NoError(t, p.Start(context.Background()))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.Dispatch(context.Background(), &queue.Task{JobID: id}))
	}
	require.NoError(t, p.Stop())

	assert.ElementsMatch(t, []string{"a", "b", "c"}, exec.executed())
	assert.ErrorIs(t, p.Dispatch(context.Background(), &queue.Task{JobID: "d"}), ErrStopped)
	assert.NoError(t, p.Stop())
}

func TestPoolFailsFastWhenFull(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{})}
	p := NewPool(exec, 1, 2, logger.NewNop())
	require.NoError(t, p.Start(context.Background()))

	// One job occupies the worker, two fill the queue.
	require.NoError(t, p.Dispatch(context.Background(), &queue.Task{JobID: "running"}))
	require.Eventually(t, func() bool { return len(p.jobs) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Dispatch(context.Background(), &queue.Task{JobID: "q1"}))
	require.NoError(t, p.Dispatch(context.Background(), &queue.Task{JobID: "q2"}))

	start := time.Now()
	err := p.Dispatch(context.Background(), &queue.Task{JobID: "overflow"})
	assert.ErrorIs(t, err, queue.ErrCapacityExceeded)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(exec.release)
	require.NoError(t, p.Stop())
	assert.ElementsMatch(t, []string{"running", "q1", "q2"}, exec.executed())
}

func TestExecuteDropsStaleJobs(t *testing.T) {
	log := logger.NewNop()
	for _, err := range []error{tracker.ErrAlreadyTerminal, tracker.ErrNotFound, tracker.ErrAlreadyExecuting} {
		exec := &fakeExecutor{err: err}
		assert.NoError(t, execute(context.Background(), exec, "j", log))
	}
	exec := &fakeExecutor{err: errors.New("redis: connection pool timeout")}
	assert.Error(t, execute(context.Background(), exec, "j", log))
}

func TestExecuteLogsCarryJobID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	exec := &fakeExecutor{err: errors.New("record failure: redis down")}

	require.Error(t, execute(context.Background(), exec, "job-4", logger.NewZap(zap.New(core))))

	entries := logs.FilterMessage("Job execution failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "job-4", entries[0].ContextMap()["jobId"])
}

func TestHandlerDecodesTasks(t *testing.T) {
	exec := &fakeExecutor{}
	h := NewHandler(exec, logger.NewZap(zaptest.NewLogger(t)))

	payload, err := (&queue.Task{JobID: "job-9", ToolID: "jpg-to-png"}).Encode()
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeConversion, payload)))
	assert.Equal(t, []string{"job-9"}, exec.executed())

	err = h.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeConversion, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	exec.err = errors.New("record failure: redis down")
	err = h.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeConversion, payload))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
