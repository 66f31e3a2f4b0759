// Package memory is an in-process storage backend for single-node use and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"
)

type blob struct {
	data     []byte
	modified time.Time
}

type Storage struct {
	mu    sync.RWMutex
	blobs map[string]blob
	now   func() time.Time
}

func New() *Storage {
	return &Storage{blobs: make(map[string]blob), now: time.Now}
}

// Touch sets the modification time of key if it exists.
func (s *Storage) Touch(key string, at time.Time) {
	s.mu.Lock()
	if b, ok := s.blobs[key]; ok {
		b.modified = at
		s.blobs[key] = b
	}
	s.mu.Unlock()
}

func (s *Storage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.blobs[key] = blob{data: data, modified: s.now()}
	s.mu.Unlock()
	return key, nil
}

func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.blobs[key]
	s.mu.RUnlock()
	return ok, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.blobs, key)
	s.mu.Unlock()
	return nil
}

func (s *Storage) ListBefore(ctx context.Context, prefix string, threshold time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key, b := range s.blobs {
		if strings.HasPrefix(key, prefix) && b.modified.Before(threshold) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Storage) CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.blobs {
		if strings.HasPrefix(key, prefix) && b.modified.Before(threshold) {
			delete(s.blobs, key)
		}
	}
	return nil
}
