// Package engine runs conversion jobs: it takes the execution lock, loads
// inputs, runs the tool's strategy under a time budget with retries for
// internal failures, stores the artifact and records the terminal state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/file-converter/config"
	"github.com/feichai0017/file-converter/internal/artifact"
	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/internal/tracker"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/metrics"
)

type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func ConfigFrom(c config.EngineConfig) Config {
	return Config{
		Timeout:      c.Timeout,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		MaxBackoff:   c.MaxBackoff,
	}
}

// Executor is what dispatchers call. A nil error means the job reached a
// terminal state; errors are about the job's bookkeeping, never about the
// conversion itself.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

type Engine struct {
	registry  *registry.Registry
	table     *converter.Table
	tracker   tracker.Tracker
	inputs    *artifact.Inputs
	artifacts *artifact.Store
	cfg       Config
	logger    logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(
	reg *registry.Registry,
	table *converter.Table,
	tr tracker.Tracker,
	inputs *artifact.Inputs,
	artifacts *artifact.Store,
	cfg Config,
	log logger.Logger,
) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &Engine{
		registry:  reg,
		table:     table,
		tracker:   tr,
		inputs:    inputs,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    log.Named("engine"),
		sleep:     sleepCtx,
	}
}

func (e *Engine) Execute(ctx context.Context, jobID string) error {
	ctx = logger.WithJobID(ctx, jobID)
	job, err := e.tracker.Begin(ctx, jobID)
	if err != nil {
		return fmt.Errorf("begin job %s: %w", jobID, err)
	}
	started := time.Now()
	// Bookkeeping outlives the execution context so a timed-out or
	// cancelled job still reaches its terminal state.
	bookCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := e.tracker.Finish(bookCtx, jobID); err != nil {
			logger.FromContext(ctx, e.logger).Warn("Failed to release job lock", logger.Error(err))
		}
	}()

	log := logger.FromContext(ctx, e.logger).With(logger.String("tool", job.ToolID))
	log.Info("Job started", logger.Int("inputs", len(job.Inputs)))

	def, err := e.registry.Lookup(job.ToolID)
	if err != nil {
		return e.fail(bookCtx, log, job, converter.Internal(err), 0, started)
	}
	strategy, err := e.table.Get(job.ToolID)
	if err != nil {
		return e.fail(bookCtx, log, job, converter.Internal(err), 0, started)
	}

	runCtx, stopWatch := e.tracker.WatchCancel(ctx, jobID)
	defer stopWatch()
	runCtx, cancel := context.WithTimeout(runCtx, e.cfg.Timeout)
	defer cancel()

	out, attempts, err := e.run(runCtx, log, job, def, strategy)
	if err != nil {
		return e.fail(bookCtx, log, job, err, attempts, started)
	}

	filename, mimeType := OutputName(def, job.Inputs, out)
	ref, err := e.artifacts.Put(bookCtx, job.ID, out.Data, mimeType, filename)
	if err != nil {
		return e.fail(bookCtx, log, job, converter.Internal(fmt.Errorf("store artifact: %w", err)), attempts, started)
	}

	if _, err := e.tracker.Succeed(bookCtx, job.ID, ref, attempts); err != nil {
		if purgeErr := e.artifacts.Purge(bookCtx, job.ID); purgeErr != nil {
			log.Warn("Failed to purge orphaned artifact", logger.Error(purgeErr))
		}
		// Cancel was accepted after the strategy's last checkpoint.
		if errors.Is(err, tracker.ErrCancelled) {
			return e.fail(bookCtx, log, job, converter.ErrCancelled, attempts, started)
		}
		return fmt.Errorf("record success: %w", err)
	}
	metrics.JobFinished(job.ToolID, string(models.StatusSucceeded), "", time.Since(started))
	log.Info("Job succeeded",
		logger.String("filename", filename),
		logger.Int64("size", ref.Size),
		logger.Int("attempts", attempts),
		logger.Duration("took", time.Since(started)),
	)
	return nil
}

// run retries the strategy after internal failures only. Every attempt
// reloads the inputs.
func (e *Engine) run(ctx context.Context, log logger.Logger, job *models.Job, def *registry.ToolDefinition, s converter.Strategy) (*converter.Output, int, error) {
	var lastErr error
	attempts := 0
	for attempts < e.cfg.MaxRetries+1 {
		if attempts > 0 {
			metrics.JobRetried(job.ToolID)
			if err := e.sleep(ctx, e.backoff(attempts)); err != nil {
				return nil, attempts, classify(ctx, err)
			}
		}
		attempts++

		out, err := e.attempt(ctx, job, def, s)
		if err == nil {
			return out, attempts, nil
		}
		lastErr = classify(ctx, err)
		if !converter.KindOf(lastErr).Retryable() {
			return nil, attempts, lastErr
		}
		log.Warn("Attempt failed",
			logger.Int("attempt", attempts),
			logger.Error(lastErr),
		)
	}
	return nil, attempts, lastErr
}

func (e *Engine) attempt(ctx context.Context, job *models.Job, def *registry.ToolDefinition, s converter.Strategy) (out *converter.Output, err error) {
	files, err := e.inputs.Load(ctx, job.Inputs)
	if err != nil {
		return nil, converter.Internal(fmt.Errorf("load inputs: %w", err))
	}
	in := converter.Input{Files: files}
	if !s.Accepts(in) {
		return nil, converter.Corrupt("content is not a valid %s", def.Accepts.Label)
	}

	progress := converter.ReporterFunc(func(pct int) error {
		return e.tracker.ReportProgress(ctx, job.ID, pct)
	})

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, converter.Internal(fmt.Errorf("strategy %s panicked: %v", s.Name(), r))
		}
	}()
	out, err = s.Run(ctx, in, options.Values(job.Options), progress)
	if err == nil && out == nil {
		err = converter.Internal(fmt.Errorf("strategy %s returned no output", s.Name()))
	}
	return out, err
}

// classify prefers the execution context's verdict: once it is done, the
// strategy's own error is usually a side effect.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return context.DeadlineExceeded
	case ctx.Err() != nil:
		return converter.ErrCancelled
	}
	return err
}

func (e *Engine) backoff(retry int) time.Duration {
	d := e.cfg.RetryBackoff
	for i := 1; i < retry && d < e.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	return d
}

func (e *Engine) fail(ctx context.Context, log logger.Logger, job *models.Job, cause error, attempts int, started time.Time) error {
	kind := converter.KindOf(cause)
	detail := models.ErrorDetail{Kind: kind, Message: converter.Message(cause)}

	fields := []logger.Field{
		logger.String("kind", string(kind)),
		logger.Int("attempts", attempts),
		logger.Error(cause),
	}
	if kind == models.FailureInternal {
		log.Error("Job failed", fields...)
	} else {
		log.Info("Job failed", fields...)
	}

	if _, err := e.tracker.Fail(ctx, job.ID, detail, attempts); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	metrics.JobFinished(job.ToolID, string(models.StatusFailed), string(kind), time.Since(started))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
