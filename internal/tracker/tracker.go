// Package tracker owns job state: creation, the Queued→Running→terminal
// lifecycle, progress, cancellation, the per-job execution lock and the
// progress fan-out to subscribers.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/models"
)

var (
	ErrNotFound         = errors.New("job not found")
	ErrAlreadyTerminal  = errors.New("job already finished")
	ErrAlreadyExecuting = errors.New("job is already executing")
	ErrNotRunning       = errors.New("job is not running")
	ErrDuplicateID      = errors.New("job id already in use")

	// ErrCancelled is what ReportProgress returns once cancel was requested,
	// so the strategy stops at its next checkpoint.
	ErrCancelled = converter.ErrCancelled
)

// CancelledMessage is the error message of jobs ended by Cancel.
const CancelledMessage = "conversion was cancelled"

// Tracker is implemented by the in-memory and Redis stores.
type Tracker interface {
	// Create registers a Queued job. An empty id gets a fresh UUID.
	Create(ctx context.Context, id, toolID string, inputs []models.InputRef, options map[string]any) (*models.Job, error)
	Status(ctx context.Context, id string) (*models.Job, error)
	// Cancel fails a Queued job immediately and flags a Running one.
	Cancel(ctx context.Context, id string) (*models.Job, error)

	// Begin takes the execution lock and moves the job to Running.
	Begin(ctx context.Context, id string) (*models.Job, error)
	// ReportProgress records pct. Regressive, out-of-range and late updates
	// are dropped without error.
	ReportProgress(ctx context.Context, id string, pct int) error
	// Succeed returns ErrCancelled when cancel was requested meanwhile; the
	// caller is expected to Fail the job as cancelled.
	Succeed(ctx context.Context, id string, ref models.ArtifactRef, attempts int) (*models.Job, error)
	Fail(ctx context.Context, id string, detail models.ErrorDetail, attempts int) (*models.Job, error)
	// Finish releases the execution lock taken by Begin.
	Finish(ctx context.Context, id string) error
	// WatchCancel derives a context that is cancelled once Cancel is called
	// on the job, from any process.
	WatchCancel(ctx context.Context, id string) (context.Context, context.CancelFunc)

	// Subscribe streams the current state and then every change, in
	// non-decreasing progress order. The channel closes after a terminal
	// update or when ctx ends.
	Subscribe(ctx context.Context, id string) (<-chan models.ProgressUpdate, error)

	// Purge forgets the job. Purging an unknown job succeeds.
	Purge(ctx context.Context, id string) error
	// FinishedBefore lists terminal jobs that ended before t.
	FinishedBefore(ctx context.Context, t time.Time) ([]string, error)
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func newJob(id, toolID string, inputs []models.InputRef, options map[string]any, now time.Time) *models.Job {
	return &models.Job{
		ID:        newID(id),
		ToolID:    toolID,
		Inputs:    append([]models.InputRef(nil), inputs...),
		Options:   options,
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// The apply functions are the transition rules both stores share. They
// mutate j in place and report whether subscribers should hear about it.

func applyCancel(j *models.Job, now time.Time) (bool, error) {
	switch j.Status {
	case models.StatusQueued:
		j.Status = models.StatusFailed
		j.Error = &models.ErrorDetail{Kind: models.FailureCancelled, Message: CancelledMessage}
		j.UpdatedAt = now
		j.FinishedAt = &now
		return true, nil
	case models.StatusRunning:
		if j.CancelRequested {
			return false, nil
		}
		j.CancelRequested = true
		j.UpdatedAt = now
		return false, nil
	}
	return false, ErrAlreadyTerminal
}

func applyBegin(j *models.Job, now time.Time) error {
	switch j.Status {
	case models.StatusQueued:
		j.Status = models.StatusRunning
		j.Progress = 0
		j.StartedAt = &now
		j.UpdatedAt = now
		return nil
	case models.StatusRunning:
		return ErrAlreadyExecuting
	}
	return ErrAlreadyTerminal
}

// progressVerdict says why an update was dropped, for logging.
type progressVerdict string

const (
	progressApplied    progressVerdict = ""
	progressSame       progressVerdict = "unchanged"
	progressNotRunning progressVerdict = "job not running"
	progressRegressive progressVerdict = "regressive"
	progressOutOfRange progressVerdict = "out of range"
)

func applyProgress(j *models.Job, pct int, now time.Time) (progressVerdict, error) {
	if j.Status != models.StatusRunning {
		return progressNotRunning, nil
	}
	if j.CancelRequested {
		return progressNotRunning, ErrCancelled
	}
	switch {
	case pct < 0 || pct > 100:
		return progressOutOfRange, nil
	case pct < j.Progress:
		return progressRegressive, nil
	case pct == j.Progress:
		return progressSame, nil
	}
	j.Progress = pct
	j.UpdatedAt = now
	return progressApplied, nil
}

func applySucceed(j *models.Job, ref models.ArtifactRef, attempts int, now time.Time) error {
	if j.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if j.Status != models.StatusRunning {
		return ErrNotRunning
	}
	// An accepted cancel wins even when the strategy already finished.
	if j.CancelRequested {
		return ErrCancelled
	}
	j.Status = models.StatusSucceeded
	j.Progress = 100
	j.Artifact = &ref
	j.Attempts = attempts
	j.UpdatedAt = now
	j.FinishedAt = &now
	return nil
}

// applyFail allows Queued→Failed only for cancellation.
func applyFail(j *models.Job, detail models.ErrorDetail, attempts int, now time.Time) error {
	if j.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if j.Status != models.StatusRunning && detail.Kind != models.FailureCancelled {
		return ErrNotRunning
	}
	j.Status = models.StatusFailed
	j.Error = &detail
	j.Attempts = attempts
	j.UpdatedAt = now
	j.FinishedAt = &now
	return nil
}
