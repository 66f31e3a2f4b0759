package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// subscriberBuffer is how many updates a slow subscriber may lag behind
// before the oldest pending one is dropped.
const subscriberBuffer = 32

type memoryEntry struct {
	job       *models.Job
	executing bool
	subs      map[chan models.ProgressUpdate]struct{}
	cancels   map[int]context.CancelFunc
	nextWatch int
}

// Memory is the single-process tracker.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]*memoryEntry
	logger logger.Logger
	now    func() time.Time
}

func NewMemory(log logger.Logger) *Memory {
	return &Memory{
		jobs:   make(map[string]*memoryEntry),
		logger: log.Named("tracker"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Create(ctx context.Context, id, toolID string, inputs []models.InputRef, options map[string]any) (*models.Job, error) {
	j := newJob(id, toolID, inputs, options, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.jobs[j.ID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, j.ID)
	}
	m.jobs[j.ID] = &memoryEntry{
		job:     j,
		subs:    make(map[chan models.ProgressUpdate]struct{}),
		cancels: make(map[int]context.CancelFunc),
	}
	return j.Clone(), nil
}

func (m *Memory) entry(id string) (*memoryEntry, error) {
	e, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (m *Memory) Status(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	return e.job.Clone(), nil
}

func (m *Memory) Cancel(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	publish, err := applyCancel(e.job, m.now())
	if err != nil {
		return nil, err
	}
	if e.job.CancelRequested {
		for _, cancel := range e.cancels {
			cancel()
		}
	}
	if publish {
		m.publish(e)
	}
	m.logger.Info("Job cancel requested",
		logger.String("jobId", id),
		logger.String("status", string(e.job.Status)),
	)
	return e.job.Clone(), nil
}

func (m *Memory) Begin(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	if e.executing {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExecuting, id)
	}
	if err := applyBegin(e.job, m.now()); err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	e.executing = true
	m.publish(e)
	return e.job.Clone(), nil
}

func (m *Memory) ReportProgress(ctx context.Context, id string, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	verdict, err := applyProgress(e.job, pct, m.now())
	if err != nil {
		return err
	}
	switch verdict {
	case progressApplied:
		m.publish(e)
	case progressSame:
	default:
		m.logger.Debug("Progress update dropped",
			logger.String("jobId", id),
			logger.Int("progress", pct),
			logger.Int("current", e.job.Progress),
			logger.String("reason", string(verdict)),
		)
	}
	return nil
}

func (m *Memory) Succeed(ctx context.Context, id string, ref models.ArtifactRef, attempts int) (*models.Job, error) {
	return m.finishWith(id, func(j *models.Job, now time.Time) error {
		return applySucceed(j, ref, attempts, now)
	})
}

func (m *Memory) Fail(ctx context.Context, id string, detail models.ErrorDetail, attempts int) (*models.Job, error) {
	return m.finishWith(id, func(j *models.Job, now time.Time) error {
		return applyFail(j, detail, attempts, now)
	})
}

func (m *Memory) finishWith(id string, apply func(*models.Job, time.Time) error) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	if err := apply(e.job, m.now()); err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	m.publish(e)
	return e.job.Clone(), nil
}

func (m *Memory) Finish(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.jobs[id]; ok {
		e.executing = false
		for k, cancel := range e.cancels {
			cancel()
			delete(e.cancels, k)
		}
	}
	return nil
}

func (m *Memory) WatchCancel(ctx context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok || e.job.CancelRequested {
		cancel()
		return ctx, cancel
	}
	k := e.nextWatch
	e.nextWatch++
	e.cancels[k] = cancel
	return ctx, func() {
		cancel()
		m.mu.Lock()
		delete(e.cancels, k)
		m.mu.Unlock()
	}
}

func (m *Memory) Subscribe(ctx context.Context, id string) (<-chan models.ProgressUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan models.ProgressUpdate, subscriberBuffer)
	ch <- e.job.Update()
	if e.job.Status.Terminal() {
		close(ch)
		return ch, nil
	}
	e.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// publish fans the current state out. Callers hold m.mu. A full subscriber
// loses its oldest pending update, so order is kept and the newest state,
// including the terminal one, always lands.
func (m *Memory) publish(e *memoryEntry) {
	u := e.job.Update()
	for ch := range e.subs {
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
		if u.Status.Terminal() {
			delete(e.subs, ch)
			close(ch)
		}
	}
}

func (m *Memory) Purge(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return nil
	}
	for ch := range e.subs {
		delete(e.subs, ch)
		close(ch)
	}
	for _, cancel := range e.cancels {
		cancel()
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) FinishedBefore(ctx context.Context, t time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.jobs {
		if e.job.FinishedAt != nil && e.job.FinishedAt.Before(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
