package library

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex keeps entries in process memory.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]map[string]Entry // user → job → entry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]map[string]Entry)}
}

func (m *MemoryIndex) Insert(ctx context.Context, e Entry) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byJob, ok := m.entries[e.UserID]
	if !ok {
		byJob = make(map[string]Entry)
		m.entries[e.UserID] = byJob
	}
	if existing, ok := byJob[e.JobID]; ok {
		return &existing, nil
	}
	byJob[e.JobID] = e
	return &e, nil
}

func (m *MemoryIndex) Get(ctx context.Context, userID, jobID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID][jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, userID, jobID)
	}
	return &e, nil
}

func (m *MemoryIndex) List(ctx context.Context, userID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries[userID]))
	for _, e := range m.entries[userID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.Before(out[j].SavedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
