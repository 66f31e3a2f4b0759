package conversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/file-converter/internal/artifact"
	"github.com/feichai0017/file-converter/internal/library"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/internal/tracker"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/metrics"
	"github.com/feichai0017/file-converter/pkg/queue"
)

var (
	// ErrNotReady is returned for downloads of jobs that have no artifact.
	ErrNotReady        = errors.New("artifact not ready")
	ErrUnauthenticated = errors.New("authentication required")
)

type ServiceConfig struct {
	// MaxFileSize bounds each uploaded file. Zero disables the check.
	MaxFileSize int64
}

type Deps struct {
	Registry   *registry.Registry
	Tracker    tracker.Tracker
	Inputs     *artifact.Inputs
	Artifacts  *artifact.Store
	Dispatcher queue.Dispatcher
	Library    *library.Library
}

type ConversionService struct {
	registry   *registry.Registry
	tracker    tracker.Tracker
	inputs     *artifact.Inputs
	artifacts  *artifact.Store
	dispatcher queue.Dispatcher
	library    *library.Library
	logger     logger.Logger
	config     ServiceConfig
}

func NewService(d Deps, cfg ServiceConfig, log logger.Logger) *ConversionService {
	return &ConversionService{
		registry:   d.Registry,
		tracker:    d.Tracker,
		inputs:     d.Inputs,
		artifacts:  d.Artifacts,
		dispatcher: d.Dispatcher,
		library:    d.Library,
		logger:     log.Named("conversion"),
		config:     cfg,
	}
}

var _ Converter = (*ConversionService)(nil)

func (s *ConversionService) Tools() []*registry.ToolDefinition {
	return s.registry.Tools()
}

func (s *ConversionService) Tool(toolID string) (*registry.ToolDefinition, error) {
	return s.registry.Lookup(toolID)
}

// Submit validates the request, stages the inputs and queues one job.
// Validation failures never create a job.
func (s *ConversionService) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	def, err := s.registry.Lookup(req.ToolID)
	if err != nil {
		return nil, err
	}
	if err := s.validateFiles(def, req.Files); err != nil {
		return nil, err
	}
	values, err := s.registry.ValidateOptions(def.ID, req.Options)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, def, req.Files, values)
}

func (s *ConversionService) SubmitBatch(ctx context.Context, req SubmitRequest) ([]*models.Job, error) {
	def, err := s.registry.Lookup(req.ToolID)
	if err != nil {
		return nil, err
	}
	if def.MinFiles > 1 {
		return nil, &registry.InputRejectedError{
			ToolID: def.ID,
			Reason: fmt.Sprintf("%s needs at least %d files per job", def.ID, def.MinFiles),
		}
	}
	if len(req.Files) == 0 {
		return nil, &registry.InputRejectedError{ToolID: def.ID, Reason: "expected a file, got none"}
	}
	for _, f := range req.Files {
		if err := s.validateFiles(def, []artifact.Upload{f}); err != nil {
			return nil, err
		}
	}
	values, err := s.registry.ValidateOptions(def.ID, req.Options)
	if err != nil {
		return nil, err
	}

	jobs := make([]*models.Job, len(req.Files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range req.Files {
		i, f := i, f
		g.Go(func() error {
			job, err := s.enqueue(gctx, def, []artifact.Upload{f}, values)
			if err != nil {
				return fmt.Errorf("submit %s: %w", f.Name, err)
			}
			jobs[i] = job
			return nil
		})
	}
	err = g.Wait()

	created := make([]*models.Job, 0, len(jobs))
	for _, j := range jobs {
		if j != nil {
			created = append(created, j)
		}
	}
	return created, err
}

func (s *ConversionService) validateFiles(def *registry.ToolDefinition, files []artifact.Upload) error {
	infos := make([]registry.FileInfo, len(files))
	for i, f := range files {
		if s.config.MaxFileSize > 0 && int64(len(f.Data)) > s.config.MaxFileSize {
			return &registry.InputRejectedError{
				ToolID: def.ID,
				Reason: fmt.Sprintf("%s is larger than %d bytes", f.Name, s.config.MaxFileSize),
			}
		}
		infos[i] = registry.FileInfo{Name: f.Name, MimeType: f.MimeType, Size: int64(len(f.Data))}
	}
	return s.registry.ValidateInputs(def.ID, infos)
}

// enqueue creates and dispatches a job. A dispatch failure rolls the job
// back so no Queued job is left without a worker.
func (s *ConversionService) enqueue(ctx context.Context, def *registry.ToolDefinition, files []artifact.Upload, values options.Values) (*models.Job, error) {
	id := uuid.NewString()
	ctx = logger.WithJobID(ctx, id)
	log := logger.FromContext(ctx, s.logger)
	refs, err := s.inputs.Put(ctx, id, files)
	if err != nil {
		return nil, err
	}

	job, err := s.tracker.Create(ctx, id, def.ID, refs, values)
	if err != nil {
		s.discardInputs(ctx, refs)
		return nil, fmt.Errorf("create job: %w", err)
	}

	task := &queue.Task{JobID: id, ToolID: def.ID, CreatedAt: job.CreatedAt}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		if purgeErr := s.tracker.Purge(context.WithoutCancel(ctx), id); purgeErr != nil {
			log.Error("Failed to roll back job", logger.Error(purgeErr))
		}
		s.discardInputs(ctx, refs)
		if errors.Is(err, queue.ErrCapacityExceeded) {
			log.Warn("Submission refused, queue full",
				logger.String("tool", def.ID),
				logger.String("dispatcher", s.dispatcher.Name()),
			)
			return nil, err
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobSubmitted(def.ID)
	log.Info("Conversion job created",
		logger.String("tool", def.ID),
		logger.Int("files", len(files)),
		logger.Any("options", values.Redacted(def.Options)),
	)
	return s.present(job), nil
}

func (s *ConversionService) discardInputs(ctx context.Context, refs []models.InputRef) {
	if err := s.inputs.Purge(context.WithoutCancel(ctx), refs); err != nil {
		logger.FromContext(ctx, s.logger).Warn("Failed to discard inputs", logger.Error(err))
	}
}

// present masks secret options before a job leaves the service.
func (s *ConversionService) present(job *models.Job) *models.Job {
	def, err := s.registry.Lookup(job.ToolID)
	if err != nil {
		return job
	}
	out := job.Clone()
	out.Options = options.Values(job.Options).Redacted(def.Options)
	return out
}

func (s *ConversionService) PollStatus(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.tracker.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.present(job), nil
}

func (s *ConversionService) Events(ctx context.Context, jobID string) (<-chan models.ProgressUpdate, error) {
	return s.tracker.Subscribe(ctx, jobID)
}

func (s *ConversionService) Download(ctx context.Context, jobID string) (*artifact.Artifact, error) {
	job, err := s.tracker.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.artifactOf(ctx, job)
}

func (s *ConversionService) artifactOf(ctx context.Context, job *models.Job) (*artifact.Artifact, error) {
	if job.Status != models.StatusSucceeded || job.Artifact == nil {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, job.ID, job.Status)
	}
	return s.artifacts.Get(ctx, *job.Artifact)
}

func (s *ConversionService) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.tracker.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.StatusFailed {
		if err := s.dispatcher.Withdraw(ctx, jobID); err != nil {
			s.logger.Warn("Failed to withdraw cancelled job", logger.String("jobId", jobID), logger.Error(err))
		}
	}
	return s.present(job), nil
}

// SaveToAccount copies a job's artifact into the caller's library. The
// caller has already decided whether the request is authenticated.
func (s *ConversionService) SaveToAccount(ctx context.Context, userID string, authenticated bool, jobID string) (*library.Entry, error) {
	if !authenticated || userID == "" {
		return nil, ErrUnauthenticated
	}
	job, err := s.tracker.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	art, err := s.artifactOf(ctx, job)
	if err != nil {
		return nil, err
	}
	defer art.Body.Close()
	return s.library.Save(ctx, userID, art.Ref, art.Body)
}

func (s *ConversionService) Library(ctx context.Context, userID string, authenticated bool) ([]library.Entry, error) {
	if !authenticated || userID == "" {
		return nil, ErrUnauthenticated
	}
	return s.library.List(ctx, userID)
}

// RetryAfter is the hint given to callers refused with CapacityExceeded.
const RetryAfter = 5 * time.Second
