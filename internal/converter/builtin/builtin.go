// Package builtin registers every strategy kind shipped with the server.
package builtin

import (
	"context"

	"github.com/feichai0017/file-converter/config"
	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/converter/archive"
	"github.com/feichai0017/file-converter/internal/converter/document"
	"github.com/feichai0017/file-converter/internal/converter/image"
	"github.com/feichai0017/file-converter/internal/converter/markup"
	"github.com/feichai0017/file-converter/internal/converter/media"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// Deps are the external collaborators some strategies need.
type Deps struct {
	// OCR may be nil; ocr-pdf then fails as unsupported.
	OCR    document.TextDetector
	FFmpeg media.Config
}

// DepsFromConfig builds Deps from application config.
func DepsFromConfig(ctx context.Context, cfg *config.Config) (Deps, error) {
	deps := Deps{FFmpeg: media.Config{Binary: cfg.Engine.FFmpegPath, TempDir: cfg.Engine.TempDir}}
	client, err := document.NewTextractClient(ctx, cfg.Textract)
	if err != nil {
		return Deps{}, err
	}
	if client != nil {
		deps.OCR = client
	}
	return deps, nil
}

// NewFactory returns a factory that knows every built-in strategy kind.
func NewFactory(log logger.Logger, deps Deps) *converter.Factory {
	f := converter.NewFactory(log)
	document.Register(f, log, deps.OCR)
	image.Register(f, log)
	media.Register(f, log, deps.FFmpeg)
	markup.Register(f, log)
	archive.Register(f, log)
	return f
}

// Table binds every tool in reg to its strategy.
func Table(log logger.Logger, deps Deps, reg *registry.Registry) (*converter.Table, error) {
	return NewFactory(log, deps).Build(reg)
}
