package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-converter/pkg/logger"
)

type fakeClient struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeClient) EnqueueContext(_ context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: "x", Queue: "conversions"}, nil
}

func (f *fakeClient) Close() error { return nil }

type fakeInspector struct {
	info    *asynq.QueueInfo
	infoErr error
	deleted []string
	delErr  error
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.infoErr }

func (f *fakeInspector) DeleteTask(_, id string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeInspector) Close() error { return nil }

func newTestQueue(c *fakeClient, i *fakeInspector, depth int) *AsynqQueue {
	return newAsynqQueue(c, i, Config{Queue: "conversions", MaxDepth: depth, Timeout: 3 * time.Minute}, logger.NewNop())
}

func TestDispatchEnqueuesTask(t *testing.T) {
	c := &fakeClient{}
	q := newTestQueue(c, &fakeInspector{info: &asynq.QueueInfo{Pending: 1}}, 4)

	task := &Task{JobID: "job-1", ToolID: "csv-to-yaml", CreatedAt: time.Now().UTC()}
	require.NoError(t, q.Dispatch(context.Background(), task))

	require.Len(t, c.tasks, 1)
	assert.Equal(t, TaskTypeConversion, c.tasks[0].Type())
	decoded, err := DecodeTask(c.tasks[0].Payload())
	require.NoError(t, err)
	assert.Equal(t, "job-1", decoded.JobID)
	assert.Equal(t, "csv-to-yaml", decoded.ToolID)
}

func TestDispatchFailsFastAtDepth(t *testing.T) {
	c := &fakeClient{}
	q := newTestQueue(c, &fakeInspector{info: &asynq.QueueInfo{Pending: 2, Scheduled: 1, Retry: 1, Active: 9}}, 4)

	err := q.Dispatch(context.Background(), &Task{JobID: "job-1"})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Empty(t, c.tasks)
}

func TestDispatchToFreshQueue(t *testing.T) {
	c := &fakeClient{}
	q := newTestQueue(c, &fakeInspector{infoErr: asynq.ErrQueueNotFound}, 4)

	require.NoError(t, q.Dispatch(context.Background(), &Task{JobID: "job-1"}))
	assert.Len(t, c.tasks, 1)
}

func TestDispatchSurfacesBrokerErrors(t *testing.T) {
	q := newTestQueue(&fakeClient{err: errors.New("dial tcp: connection refused")}, &fakeInspector{info: &asynq.QueueInfo{}}, 4)
	err := q.Dispatch(context.Background(), &Task{JobID: "job-1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCapacityExceeded)
}

func TestWithdrawIgnoresUnknownTasks(t *testing.T) {
	i := &fakeInspector{}
	q := newTestQueue(&fakeClient{}, i, 0)
	require.NoError(t, q.Withdraw(context.Background(), "job-1"))
	assert.Equal(t, []string{"job-1"}, i.deleted)

	i.delErr = asynq.ErrTaskNotFound
	assert.NoError(t, q.Withdraw(context.Background(), "job-2"))
}

func TestDecodeTaskRejectsBadPayloads(t *testing.T) {
	_, err := DecodeTask([]byte("{"))
	assert.Error(t, err)
	_, err = DecodeTask([]byte(`{"toolId":"x"}`))
	assert.Error(t, err)
}
