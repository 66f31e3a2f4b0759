package memory_test

import (
	"testing"
	"time"

	"github.com/feichai0017/file-converter/pkg/storage/memory"
	"github.com/feichai0017/file-converter/pkg/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	s := memory.New()
	storagetest.Run(t, s, func(t *testing.T, key string, at time.Time) {
		s.Touch(key, at)
	})
}
