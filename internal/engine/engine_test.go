package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/feichai0017/file-converter/internal/artifact"
	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/internal/tracker"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/storage/memory"
)

const testCatalog = `
tools:
  - id: shout
    name: Shout
    category: markup
    strategy: test
    accepts: {label: text, mime: [text/plain], ext: [.txt]}
    output: {mime: text/plain, ext: .txt, naming: suffix, suffix: -loud}
`

type runFunc func(ctx context.Context, call int, in converter.Input, progress converter.Reporter) (*converter.Output, error)

type fakeStrategy struct {
	reject bool
	run    runFunc
	calls  atomic.Int32
}

func (f *fakeStrategy) Name() string { return "test" }

func (f *fakeStrategy) Accepts(converter.Input) bool { return !f.reject }

func (f *fakeStrategy) Run(ctx context.Context, in converter.Input, _ options.Values, progress converter.Reporter) (*converter.Output, error) {
	call := int(f.calls.Add(1))
	return f.run(ctx, call, in, progress)
}

func shout(_ context.Context, _ int, in converter.Input, progress converter.Reporter) (*converter.Output, error) {
	if err := progress.Report(50); err != nil {
		return nil, err
	}
	return &converter.Output{Data: bytes.ToUpper(in.First().Data)}, nil
}

type harness struct {
	engine    *Engine
	tracker   *tracker.Memory
	inputs    *artifact.Inputs
	artifacts *artifact.Store
	sleeps    []time.Duration
}

func newHarness(t *testing.T, s converter.Strategy, cfg Config) *harness {
	t.Helper()
	log := logger.NewZap(zaptest.NewLogger(t))
	reg, err := registry.Load([]byte(testCatalog))
	require.NoError(t, err)

	store := memory.New()
	h := &harness{
		tracker:   tracker.NewMemory(log),
		inputs:    artifact.NewInputs(store, log),
		artifacts: artifact.NewStore(store, time.Hour, log),
	}
	table := converter.NewTable(map[string]converter.Strategy{"shout": s})
	h.engine = New(reg, table, h.tracker, h.inputs, h.artifacts, cfg, log)

	var mu sync.Mutex
	h.engine.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		h.sleeps = append(h.sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return h
}

func defaultConfig() Config {
	return Config{Timeout: 2 * time.Second, MaxRetries: 2, RetryBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

func (h *harness) submit(t *testing.T, name, data string) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	refs, err := h.inputs.Put(ctx, id, []artifact.Upload{{Name: name, MimeType: "text/plain", Data: []byte(data)}})
	require.NoError(t, err)
	_, err = h.tracker.Create(ctx, id, "shout", refs, map[string]any{})
	require.NoError(t, err)
	return id
}

func (h *harness) job(t *testing.T, id string) *models.Job {
	t.Helper()
	j, err := h.tracker.Status(context.Background(), id)
	require.NoError(t, err)
	return j
}

func TestExecuteSucceeds(t *testing.T) {
	h := newHarness(t, &fakeStrategy{run: shout}, defaultConfig())
	id := h.submit(t, "notes.txt", "hello")

	require.NoError(t, h.engine.Execute(context.Background(), id))

	j := h.job(t, id)
	assert.Equal(t, models.StatusSucceeded, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.Artifact)
	assert.Equal(t, "notes-loud.txt", j.Artifact.Filename)
	assert.Equal(t, "text/plain", j.Artifact.MimeType)

	a, err := h.artifacts.Get(context.Background(), *j.Artifact)
	require.NoError(t, err)
	defer a.Body.Close()
	data, err := io.ReadAll(a.Body)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(data))
}

func TestExecuteRetriesInternalFailures(t *testing.T) {
	s := &fakeStrategy{run: func(ctx context.Context, call int, in converter.Input, p converter.Reporter) (*converter.Output, error) {
		if call < 3 {
			return nil, converter.Internal(errors.New("flaky disk"))
		}
		return shout(ctx, call, in, p)
	}}
	h := newHarness(t, s, defaultConfig())
	id := h.submit(t, "notes.txt", "hi")

	require.NoError(t, h.engine.Execute(context.Background(), id))

	j := h.job(t, id)
	assert.Equal(t, models.StatusSucceeded, j.Status)
	assert.Equal(t, 3, j.Attempts)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, h.sleeps)
}

func TestExecuteGivesUpAfterMaxRetries(t *testing.T) {
	s := &fakeStrategy{run: func(context.Context, int, converter.Input, converter.Reporter) (*converter.Output, error) {
		return nil, converter.Internal(errors.New("connection refused by 10.0.0.7"))
	}}
	h := newHarness(t, s, defaultConfig())
	id := h.submit(t, "notes.txt", "hi")

	require.NoError(t, h.engine.Execute(context.Background(), id))

	j := h.job(t, id)
	assert.Equal(t, models.StatusFailed, j.Status)
	assert.Equal(t, 3, j.Attempts)
	assert.Equal(t, int32(3), s.calls.Load())
	require.NotNil(t, j.Error)
	assert.Equal(t, models.FailureInternal, j.Error.Kind)
	assert.Equal(t, "internal error", j.Error.Message)
	assert.Nil(t, j.Artifact)
}

func TestExecuteDoesNotRetryInputFailures(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
		kind models.FailureKind
	}{
		{"corrupt", converter.Corrupt("truncated stream at byte 12"), models.FailureCorrupt},
		{"unsupported", converter.Unsupported("encrypted entries are not supported"), models.FailureUnsupported},
		{"resource", converter.ResourceExceeded("archive expands past 1024 bytes"), models.FailureResourceExceeded},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStrategy{run: func(context.Context, int, converter.Input, converter.Reporter) (*converter.Output, error) {
				return nil, tt.err
			}}
			h := newHarness(t, s, defaultConfig())
			id := h.submit(t, "notes.txt", "hi")

			require.NoError(t, h.engine.Execute(context.Background(), id))

			j := h.job(t, id)
			assert.Equal(t, models.StatusFailed, j.Status)
			assert.Equal(t, 1, j.Attempts)
			assert.Empty(t, h.sleeps)
			assert.Equal(t, tt.kind, j.Error.Kind)
			assert.Equal(t, converter.Message(tt.err), j.Error.Message)
		})
	}
}

func TestExecuteRejectsContentTheStrategyRefuses(t *testing.T) {
	s := &fakeStrategy{reject: true, run: shout}
	h := newHarness(t, s, defaultConfig())
	id := h.submit(t, "notes.txt", "\x00\x01")

	require.NoError(t, h.engine.Execute(context.Background(), id))

	j := h.job(t, id)
	assert.Equal(t, models.FailureCorrupt, j.Error.Kind)
	assert.Equal(t, "content is not a valid text", j.Error.Message)
	assert.Zero(t, s.calls.Load())
}

func TestExecuteTimeout(t *testing.T) {
	s := &fakeStrategy{run: func(ctx context.Context, _ int, _ converter.Input, _ converter.Reporter) (*converter.Output, error) {
		<-ctx.Done()
		return nil, converter.Corrupt("read interrupted")
	}}
	cfg := defaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	h := newHarness(t, s, cfg)
	id := h.submit(t, "notes.txt", "hi")

	require.NoError(t, h.engine.Execute(context.Background(), id))

	j := h.job(t, id)
	assert.Equal(t, models.StatusFailed, j.Status)
	assert.Equal(t, models.FailureTimeout, j.Error.Kind)
	assert.Equal(t, 1, j.Attempts)
}

func TestExecuteCancelledWhileRunning(t *testing.T) {
	started := make(chan struct{})
	s := &fakeStrategy{run: func(ctx context.Context, _ int, _ converter.Input, p converter.Reporter) (*converter.Output, error) {
		if err := converter.Checkpoint(ctx, p, 30); err != nil {
			return nil, err
		}
		close(started)
		for pct := 31; ; pct = min(pct+1, 99) {
			if err := converter.Checkpoint(ctx, p, pct); err != nil {
				return nil, err
			}
			time.Sleep(time.Millisecond)
		}
	}}
	h := newHarness(t, s, defaultConfig())
	id := h.submit(t, "notes.txt", "hi")

	done := make(chan error, 1)
	go func() { done <- h.engine.Execute(context.Background(), id) }()

	<-started
	_, err := h.tracker.Cancel(context.Background(), id)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not stop after cancel")
	}

	j := h.job(t, id)
	assert.Equal(t, models.StatusFailed, j.Status)
	assert.Equal(t, models.FailureCancelled, j.Error.Kind)
	assert.Equal(t, tracker.CancelledMessage, j.Error.Message)
	assert.GreaterOrEqual(t, j.Progress, 30)
	assert.Nil(t, j.Artifact)
}

func TestExecuteCancelAfterLastCheckpoint(t *testing.T) {
	s := &fakeStrategy{}
	h := newHarness(t, s, defaultConfig())
	id := h.submit(t, "notes.txt", "hi")
	s.run = func(ctx context.Context, _ int, in converter.Input, p converter.Reporter) (*converter.Output, error) {
		if err := converter.Checkpoint(ctx, p, 90); err != nil {
			return nil, err
		}
		// Cancel lands once no checkpoint remains.
		if _, err := h.tracker.Cancel(context.Background(), id); err != nil {
			return nil, err
		}
		return &converter.Output{Data: in.First().Data}, nil
	}

	require.NoError(t, h.engine.Execute(context.Background(), id))

	j := h.job(t, id)
	assert.Equal(t, models.StatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, models.FailureCancelled, j.Error.Kind)
	assert.Equal(t, tracker.CancelledMessage, j.Error.Message)
	assert.Nil(t, j.Artifact)

	ref := models.ArtifactRef{JobID: id, Key: artifact.Key(id), ExpiresAt: time.Now().Add(time.Hour)}
	_, err := h.artifacts.Get(context.Background(), ref)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestExecuteRecoversFromPanics(t *testing.T) {
	s := &fakeStrategy{run: func(context.Context, int, converter.Input, converter.Reporter) (*converter.Output, error) {
		panic("index out of range")
	}}
	cfg := defaultConfig()
	cfg.MaxRetries = 0
	h := newHarness(t, s, cfg)
	id := h.submit(t, "notes.txt", "hi")

	require.NoError(t, h.engine.Execute(context.Background(), id))
	assert.Equal(t, models.FailureInternal, h.job(t, id).Error.Kind)
}

func TestExecuteRefusesFinishedAndRunningJobs(t *testing.T) {
	h := newHarness(t, &fakeStrategy{run: shout}, defaultConfig())
	id := h.submit(t, "notes.txt", "hi")
	require.NoError(t, h.engine.Execute(context.Background(), id))

	err := h.engine.Execute(context.Background(), id)
	assert.ErrorIs(t, err, tracker.ErrAlreadyTerminal)

	err = h.engine.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, tracker.ErrNotFound)

	other := h.submit(t, "b.txt", "x")
	_, err = h.tracker.Begin(context.Background(), other)
	require.NoError(t, err)
	err = h.engine.Execute(context.Background(), other)
	assert.ErrorIs(t, err, tracker.ErrAlreadyExecuting)
}

func TestBackoffIsCapped(t *testing.T) {
	e := &Engine{cfg: Config{RetryBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second}}
	assert.Equal(t, 200*time.Millisecond, e.backoff(1))
	assert.Equal(t, 400*time.Millisecond, e.backoff(2))
	assert.Equal(t, 3200*time.Millisecond, e.backoff(5))
	assert.Equal(t, 5*time.Second, e.backoff(6))
	assert.Equal(t, 5*time.Second, e.backoff(30))
}
