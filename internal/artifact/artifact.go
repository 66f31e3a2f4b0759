// Package artifact keeps conversion outputs and staged inputs in the
// configured byte storage.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/storage"
)

var (
	ErrAlreadyExists = errors.New("artifact already exists")
	ErrExpired       = errors.New("artifact expired")
	ErrNotFound      = errors.New("artifact not found")
)

// Artifact is an open artifact. The caller closes Body.
type Artifact struct {
	Ref  models.ArtifactRef
	Body io.ReadCloser
}

// Store holds at most one artifact per job for a fixed TTL from creation.
type Store struct {
	storage storage.Storage
	ttl     time.Duration
	logger  logger.Logger
	now     func() time.Time

	// mu serialises the exists-then-write check within this process; across
	// processes the tracker's execution lock guarantees a single writer.
	mu sync.Mutex
}

func NewStore(s storage.Storage, ttl time.Duration, log logger.Logger) *Store {
	return &Store{storage: s, ttl: ttl, logger: log.Named("artifact"), now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// TTL is how long an artifact lives after creation.
func (s *Store) TTL() time.Duration { return s.ttl }

// KeyPrefix is where artifact bytes live in storage.
const KeyPrefix = "artifacts/"

func Key(jobID string) string {
	return KeyPrefix + jobID
}

// Put writes the artifact of jobID. A second Put for the same job fails with
// ErrAlreadyExists.
func (s *Store) Put(ctx context.Context, jobID string, data []byte, mimeType, filename string) (models.ArtifactRef, error) {
	key := Key(jobID)

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return models.ArtifactRef{}, fmt.Errorf("check artifact %s: %w", jobID, err)
	}
	if exists {
		return models.ArtifactRef{}, fmt.Errorf("%w: job %s", ErrAlreadyExists, jobID)
	}
	if _, err := s.storage.Store(ctx, bytes.NewReader(data), key); err != nil {
		return models.ArtifactRef{}, fmt.Errorf("store artifact %s: %w", jobID, err)
	}

	now := s.now().UTC()
	ref := models.ArtifactRef{
		JobID:     jobID,
		Key:       key,
		MimeType:  mimeType,
		Filename:  filename,
		Size:      int64(len(data)),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.logger.Debug("Stored artifact",
		logger.String("jobId", jobID),
		logger.String("filename", filename),
		logger.Int64("size", ref.Size),
	)
	return ref, nil
}

// Get opens the artifact behind ref. Expired artifacts are removed and
// reported as ErrExpired even if the sweep has not reached them yet.
func (s *Store) Get(ctx context.Context, ref models.ArtifactRef) (*Artifact, error) {
	if ref.Expired(s.now()) {
		if err := s.storage.Delete(ctx, ref.Key); err != nil {
			s.logger.Warn("Failed to remove expired artifact", logger.String("jobId", ref.JobID), logger.Error(err))
		}
		return nil, fmt.Errorf("%w: job %s", ErrExpired, ref.JobID)
	}
	body, err := s.storage.Get(ctx, ref.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, ref.JobID)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", ref.JobID, err)
	}
	return &Artifact{Ref: ref, Body: body}, nil
}

// Purge removes the artifact of jobID. Purging twice, or purging a job that
// never produced one, succeeds.
func (s *Store) Purge(ctx context.Context, jobID string) error {
	if err := s.storage.Delete(ctx, Key(jobID)); err != nil {
		return fmt.Errorf("purge artifact %s: %w", jobID, err)
	}
	return nil
}
