package archive

import (
	"bytes"
	"context"

	yzip "github.com/yeka/zip"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// Encrypt packs the uploads into an AES encrypted ZIP. AES entries carry a
// random salt, so unlike the other archive tools the output differs between
// runs.
type Encrypt struct {
	limits Limits
	logger logger.Logger
}

func (e *Encrypt) Name() string { return "zip-encrypt" }

func (e *Encrypt) Accepts(in converter.Input) bool { return len(in.Files) > 0 }

func (e *Encrypt) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	password := opts.String("password")
	if password == "" {
		return nil, converter.Unsupported("a password is required")
	}
	method := yzip.AES256Encryption
	if opts.String("encryption") == "aes128" {
		method = yzip.AES128Encryption
	}

	pack := &Repack{params: RepackParams{Format: "zip", PackInputs: true}, limits: e.limits, logger: e.logger}
	entries, err := pack.inputsAsEntries(in)
	if err != nil {
		return nil, err
	}
	entries = normalize(entries)

	var buf bytes.Buffer
	zw := yzip.NewWriter(&buf)
	for i, ent := range entries {
		w, err := zw.Encrypt(ent.Name, password, method)
		if err != nil {
			return nil, converter.Internal(err)
		}
		if _, err := w.Write(ent.Data); err != nil {
			return nil, converter.Internal(err)
		}
		if err := converter.Checkpoint(ctx, progress, converter.Scale(0, 95, i+1, len(entries))); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, converter.Internal(err)
	}
	e.logger.Debug("Encrypted archive", logger.Int("entries", len(entries)), logger.String("encryption", opts.String("encryption")))
	return &converter.Output{Data: buf.Bytes()}, converter.Checkpoint(ctx, progress, 100)
}
