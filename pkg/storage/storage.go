// Package storage is the byte store behind artifacts and staged uploads.
package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/feichai0017/file-converter/config"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/storage/filesystem"
	"github.com/feichai0017/file-converter/pkg/storage/memory"
	"github.com/feichai0017/file-converter/pkg/storage/minio"
	"github.com/feichai0017/file-converter/pkg/storage/s3"
)

// StorageType names a backend.
type StorageType string

const (
	StorageTypeMemory     StorageType = "memory"
	StorageTypeFilesystem StorageType = "filesystem"
	StorageTypeS3         StorageType = "s3"
	StorageTypeMinio      StorageType = "minio"
)

// ErrNotFound is returned by Get for a missing key. Backends wrap
// fs.ErrNotExist so callers can test with errors.Is.
var ErrNotFound = fs.ErrNotExist

// Storage keeps opaque blobs under slash-separated keys.
type Storage interface {
	// Store writes the reader under key, replacing any previous value.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens the blob under key or fails with ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key; a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// ListBefore returns the keys under prefix last written before
	// threshold, sorted.
	ListBefore(ctx context.Context, prefix string, threshold time.Time) ([]string, error)
	// CleanupBefore removes blobs under prefix last written before
	// threshold. An empty prefix covers the whole store.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error
}

// NewStorage builds the backend selected in cfg.
func NewStorage(ctx context.Context, cfg *config.Config, log logger.Logger) (Storage, error) {
	log = log.Named("storage")
	switch StorageType(cfg.Storage.Backend) {
	case StorageTypeMemory:
		return memory.New(), nil
	case StorageTypeFilesystem:
		return filesystem.New(cfg.Storage.Path, log)
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, cfg.S3, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, cfg.Minio, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Backend)
	}
}

// ReadAll fetches the whole blob under key.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
