// Package storagetest holds the behaviour every storage backend shares.
package storagetest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-converter/pkg/storage"
)

// Backdate sets the last-modified time of key.
type Backdate func(t *testing.T, key string, at time.Time)

// Run exercises s. Each subtest uses its own keys.
func Run(t *testing.T, s storage.Storage, backdate Backdate) {
	ctx := context.Background()

	t.Run("StoreGet", func(t *testing.T) {
		key, err := s.Store(ctx, strings.NewReader("hello"), "jobs/a/result.txt")
		require.NoError(t, err)
		assert.Equal(t, "jobs/a/result.txt", key)

		data, err := storage.ReadAll(ctx, s, key)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))

		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := s.Store(ctx, strings.NewReader("one"), "jobs/b/x")
		require.NoError(t, err)
		_, err = s.Store(ctx, strings.NewReader("two"), "jobs/b/x")
		require.NoError(t, err)

		data, err := storage.ReadAll(ctx, s, "jobs/b/x")
		require.NoError(t, err)
		assert.Equal(t, "two", string(data))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := s.Get(ctx, "jobs/none/x")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		ok, err := s.Exists(ctx, "jobs/none/x")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, s.Delete(ctx, "jobs/none/x"))
	})

	t.Run("Delete", func(t *testing.T) {
		_, err := s.Store(ctx, strings.NewReader("bye"), "jobs/c/x")
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "jobs/c/x"))
		require.NoError(t, s.Delete(ctx, "jobs/c/x"))

		ok, err := s.Exists(ctx, "jobs/c/x")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ListBefore", func(t *testing.T) {
		now := time.Now()
		for _, key := range []string{"list/b/old", "list/a/old", "list/a/new", "other/old"} {
			_, err := s.Store(ctx, strings.NewReader("x"), key)
			require.NoError(t, err)
		}
		backdate(t, "list/b/old", now.Add(-2*time.Hour))
		backdate(t, "list/a/old", now.Add(-2*time.Hour))
		backdate(t, "other/old", now.Add(-2*time.Hour))

		keys, err := s.ListBefore(ctx, "list/", now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"list/a/old", "list/b/old"}, keys)
	})

	t.Run("CleanupBefore", func(t *testing.T) {
		now := time.Now()
		_, err := s.Store(ctx, strings.NewReader("old"), "sweep/old")
		require.NoError(t, err)
		_, err = s.Store(ctx, strings.NewReader("new"), "sweep/new")
		require.NoError(t, err)
		_, err = s.Store(ctx, strings.NewReader("kept"), "keep/old")
		require.NoError(t, err)
		backdate(t, "sweep/old", now.Add(-2*time.Hour))
		backdate(t, "keep/old", now.Add(-2*time.Hour))

		require.NoError(t, s.CleanupBefore(ctx, "sweep/", now.Add(-time.Hour)))

		ok, err := s.Exists(ctx, "sweep/old")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.Exists(ctx, "sweep/new")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.Exists(ctx, "keep/old")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
