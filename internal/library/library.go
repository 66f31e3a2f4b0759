// Package library saves artifacts to a user's account. Saved copies live
// outside the artifact retention window; an index records who owns what.
package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/storage"
)

var ErrNotFound = errors.New("library entry not found")

type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	JobID      string    `json:"jobId"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	StorageKey string    `json:"-"`
	SavedAt    time.Time `json:"savedAt"`
}

// Index records saved entries.
type Index interface {
	// Insert stores e unless the user already saved e.JobID, and returns
	// the entry that is on record either way.
	Insert(ctx context.Context, e Entry) (*Entry, error)
	Get(ctx context.Context, userID, jobID string) (*Entry, error)
	List(ctx context.Context, userID string) ([]Entry, error)
}

type Library struct {
	storage storage.Storage
	index   Index
	logger  logger.Logger
	now     func() time.Time
}

func New(s storage.Storage, index Index, log logger.Logger) *Library {
	return &Library{
		storage: s,
		index:   index,
		logger:  log.Named("library"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Save copies the artifact body into the user's library. Saving the same
// job twice returns the first entry.
func (l *Library) Save(ctx context.Context, userID string, ref models.ArtifactRef, body io.Reader) (*Entry, error) {
	if existing, err := l.index.Get(ctx, userID, ref.JobID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	id := uuid.NewString()
	key := fmt.Sprintf("library/%s/%s", userID, id)
	if _, err := l.storage.Store(ctx, bytes.NewReader(data), key); err != nil {
		return nil, fmt.Errorf("store library copy: %w", err)
	}

	entry, err := l.index.Insert(ctx, Entry{
		ID:         id,
		UserID:     userID,
		JobID:      ref.JobID,
		Filename:   ref.Filename,
		MimeType:   ref.MimeType,
		Size:       int64(len(data)),
		StorageKey: key,
		SavedAt:    l.now(),
	})
	if err != nil {
		_ = l.storage.Delete(ctx, key)
		return nil, err
	}
	if entry.ID != id {
		// Lost a race with a concurrent save of the same job.
		_ = l.storage.Delete(ctx, key)
	}

	l.logger.Info("Artifact saved to library",
		logger.String("userId", userID),
		logger.String("jobId", ref.JobID),
		logger.String("entryId", entry.ID),
	)
	return entry, nil
}

func (l *Library) List(ctx context.Context, userID string) ([]Entry, error) {
	return l.index.List(ctx, userID)
}
