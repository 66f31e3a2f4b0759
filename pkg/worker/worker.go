// Package worker runs conversion jobs: a local bounded pool for single
// process deployments and an asynq server for separate worker processes.
package worker

import (
	"context"
	"errors"

	"github.com/feichai0017/file-converter/internal/tracker"
	"github.com/feichai0017/file-converter/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

// Executor runs one job to its terminal state.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// execute runs a job and reports whether the failure is worth surfacing.
// Jobs that were cancelled, purged or picked up elsewhere are dropped.
func execute(ctx context.Context, exec Executor, jobID string, log logger.Logger) error {
	ctx = logger.WithJobID(ctx, jobID)
	log = logger.FromContext(ctx, log)
	err := exec.Execute(ctx, jobID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tracker.ErrAlreadyTerminal),
		errors.Is(err, tracker.ErrAlreadyExecuting),
		errors.Is(err, tracker.ErrNotFound):
		log.Info("Skipping job", logger.Error(err))
		return nil
	}
	log.Error("Job execution failed", logger.Error(err))
	return err
}
