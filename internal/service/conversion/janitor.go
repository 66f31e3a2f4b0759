package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/file-converter/internal/artifact"
	"github.com/feichai0017/file-converter/internal/tracker"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/storage"
)

type RetentionConfig struct {
	ArtifactTTL time.Duration
	JobTTL      time.Duration
	Interval    time.Duration
}

// Janitor enforces retention. Artifact bytes go once their TTL from creation
// has passed; job records, with their inputs, go JobTTL after finishing.
type Janitor struct {
	tracker   tracker.Tracker
	inputs    *artifact.Inputs
	artifacts *artifact.Store
	storage   storage.Storage
	config    RetentionConfig
	logger    logger.Logger
	now       func() time.Time
}

func NewJanitor(tr tracker.Tracker, inputs *artifact.Inputs, artifacts *artifact.Store, s storage.Storage, cfg RetentionConfig, log logger.Logger) *Janitor {
	return &Janitor{
		tracker:   tr,
		inputs:    inputs,
		artifacts: artifacts,
		storage:   s,
		config:    cfg,
		logger:    log.Named("janitor"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (j *Janitor) WithClock(now func() time.Time) *Janitor {
	j.now = now
	return j
}

// Run sweeps every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) {
	interval := j.config.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("Retention sweep failed", logger.Error(err))
			}
		}
	}
}

// Sweep runs one retention pass.
func (j *Janitor) Sweep(ctx context.Context) error {
	now := j.now()
	var errs []error

	// Artifacts are written once at creation, so their storage timestamp is
	// their creation time. Job records keep the ref and report Expired.
	if err := j.storage.CleanupBefore(ctx, artifact.KeyPrefix, now.Add(-j.config.ArtifactTTL)); err != nil {
		errs = append(errs, fmt.Errorf("expire artifacts: %w", err))
	}

	threshold := now.Add(-j.config.JobTTL)
	ids, err := j.tracker.FinishedBefore(ctx, threshold)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, id := range ids {
		if err := j.purgeJob(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	if err := j.sweepOrphanedInputs(ctx, threshold); err != nil {
		errs = append(errs, fmt.Errorf("sweep orphaned inputs: %w", err))
	}

	if len(ids) > 0 {
		j.logger.Info("Completed retention sweep",
			logger.Int("purgedJobs", len(ids)),
			logger.Time("threshold", threshold),
		)
	}
	return errors.Join(errs...)
}

// sweepOrphanedInputs removes staged inputs whose job record is gone, e.g.
// after a crash between staging and create. Inputs of a job the tracker
// still knows are left alone, however long it has been queued.
func (j *Janitor) sweepOrphanedInputs(ctx context.Context, threshold time.Time) error {
	keys, err := j.storage.ListBefore(ctx, artifact.InputPrefix, threshold)
	if err != nil {
		return err
	}

	byJob := make(map[string][]string)
	var order []string
	for _, key := range keys {
		id, _, _ := strings.Cut(strings.TrimPrefix(key, artifact.InputPrefix), "/")
		if _, seen := byJob[id]; !seen {
			order = append(order, id)
		}
		byJob[id] = append(byJob[id], key)
	}

	var errs []error
	removed := 0
	for _, id := range order {
		_, err := j.tracker.Status(ctx, id)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, tracker.ErrNotFound):
			errs = append(errs, err)
			continue
		}
		for _, key := range byJob[id] {
			if err := j.storage.Delete(ctx, key); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		j.logger.Info("Removed orphaned inputs", logger.Int("files", removed))
	}
	return errors.Join(errs...)
}

func (j *Janitor) purgeJob(ctx context.Context, id string) error {
	job, err := j.tracker.Status(ctx, id)
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if err := j.inputs.Purge(ctx, job.Inputs); err != nil {
		return err
	}
	if err := j.artifacts.Purge(ctx, id); err != nil {
		return err
	}
	return j.tracker.Purge(ctx, id)
}
