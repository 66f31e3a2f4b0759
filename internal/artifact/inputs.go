package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/storage"
)

// InputPrefix is where staged uploads live in storage.
const InputPrefix = "inputs/"

// Upload is one submitted file before it is staged.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// Inputs stages uploads in storage so any worker process can load them.
type Inputs struct {
	storage storage.Storage
	logger  logger.Logger
}

func NewInputs(s storage.Storage, log logger.Logger) *Inputs {
	return &Inputs{storage: s, logger: log.Named("inputs")}
}

// Put stores uploads under inputs/<jobID>/ and returns their refs in order.
func (in *Inputs) Put(ctx context.Context, jobID string, uploads []Upload) ([]models.InputRef, error) {
	refs := make([]models.InputRef, 0, len(uploads))
	for i, u := range uploads {
		key := fmt.Sprintf("%s%s/%03d-%s", InputPrefix, jobID, i, safeName(u.Name))
		if _, err := in.storage.Store(ctx, bytes.NewReader(u.Data), key); err != nil {
			_ = in.Purge(ctx, refs)
			return nil, fmt.Errorf("stage input %d of job %s: %w", i, jobID, err)
		}
		refs = append(refs, models.InputRef{Key: key, Name: u.Name, MimeType: u.MimeType, Size: int64(len(u.Data))})
	}
	return refs, nil
}

// Load reads staged inputs back in submission order.
func (in *Inputs) Load(ctx context.Context, refs []models.InputRef) ([]converter.File, error) {
	files := make([]converter.File, 0, len(refs))
	for _, ref := range refs {
		data, err := storage.ReadAll(ctx, in.storage, ref.Key)
		if err != nil {
			return nil, fmt.Errorf("load input %s: %w", ref.Key, err)
		}
		files = append(files, converter.File{Name: ref.Name, MimeType: ref.MimeType, Data: data})
	}
	return files, nil
}

// Purge deletes staged inputs. Missing keys are ignored.
func (in *Inputs) Purge(ctx context.Context, refs []models.InputRef) error {
	var first error
	for _, ref := range refs {
		if err := in.storage.Delete(ctx, ref.Key); err != nil {
			in.logger.Warn("Failed to purge input", logger.String("key", ref.Key), logger.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func safeName(name string) string {
	n := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if n == "." || n == "/" || n == ".." || n == "" {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, n)
}
