package image

import (
	"context"
	"fmt"
	"image/png"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// EncodeParams configure an image-encode tool. Format is fixed, or read
// from the option named by FormatOption.
type EncodeParams struct {
	Format       string `yaml:"format"`
	FormatOption string `yaml:"formatOption"`
}

// Encode re-encodes an image into another format.
type Encode struct {
	params EncodeParams
	logger logger.Logger
}

func NewEncode(p EncodeParams, log logger.Logger) (*Encode, error) {
	if p.FormatOption == "" {
		if _, ok := lookupTarget(p.Format); !ok {
			return nil, fmt.Errorf("image-encode: unknown format %q", p.Format)
		}
	}
	return &Encode{params: p, logger: log}, nil
}

func (e *Encode) Name() string { return "image-encode" }

func (e *Encode) Accepts(in converter.Input) bool { return sniff(in) }

func (e *Encode) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	name := e.params.Format
	if e.params.FormatOption != "" {
		name = opts.String(e.params.FormatOption)
	}
	t, ok := lookupTarget(name)
	if !ok {
		return nil, converter.Unsupported("cannot encode %q", name)
	}

	src, err := decode(in.First())
	if err != nil {
		return nil, err
	}
	if err := converter.Checkpoint(ctx, progress, 50); err != nil {
		return nil, err
	}

	data, err := encode(src.img, t, encodeOptions{
		quality:     opts.Int("quality"),
		compression: pngCompression(opts.String("compression")),
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Encoded image", logger.String("from", src.format), logger.String("to", t.extension))
	return &converter.Output{Data: data, MimeType: t.mime, Extension: t.extension}, converter.Checkpoint(ctx, progress, 100)
}

// Resize scales an image and keeps its format.
type Resize struct {
	logger logger.Logger
}

func (r *Resize) Name() string { return "image-resize" }

func (r *Resize) Accepts(in converter.Input) bool { return sniff(in) }

func (r *Resize) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	return transform(ctx, in.First(), opts, progress, ResizeStep{
		Width:      opts.Int("width"),
		Height:     opts.Int("height"),
		KeepAspect: opts.Bool("keepAspectRatio"),
	})
}

// Crop cuts a rectangle or an aspect-ratio preset out of an image.
type Crop struct {
	logger logger.Logger
}

func (c *Crop) Name() string { return "image-crop" }

func (c *Crop) Accepts(in converter.Input) bool { return sniff(in) }

func (c *Crop) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	return transform(ctx, in.First(), opts, progress, CropStep{
		Aspect: opts.String("aspect"),
		X:      opts.Int("x"),
		Y:      opts.Int("y"),
		Width:  opts.Int("width"),
		Height: opts.Int("height"),
	})
}

// Compress re-encodes with a lower JPEG quality or maximum PNG compression.
// Output that would be larger than the input is replaced by the input.
type Compress struct {
	logger logger.Logger
}

func (c *Compress) Name() string { return "image-compress" }

func (c *Compress) Accepts(in converter.Input) bool { return sniff(in) }

func (c *Compress) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	src, err := decode(f)
	if err != nil {
		return nil, err
	}
	if err := converter.Checkpoint(ctx, progress, 40); err != nil {
		return nil, err
	}

	t, changed := sameFormat(src.format)
	if src.format == "webp" {
		// Lossy WebP is closer to JPEG than to PNG.
		t = targets["jpeg"]
	}
	data, err := encode(src.img, t, encodeOptions{quality: opts.Int("quality"), compression: png.BestCompression})
	if err != nil {
		return nil, err
	}

	out := &converter.Output{Data: data, MimeType: t.mime}
	if changed {
		out.Extension = t.extension
	} else if len(data) >= len(f.Data) {
		out.Data = f.Data
	}
	c.logger.Debug("Compressed image",
		logger.Int("before", len(f.Data)),
		logger.Int("after", len(out.Data)),
	)
	return out, converter.Checkpoint(ctx, progress, 100)
}

// transform decodes, applies steps and re-encodes in the input's format.
func transform(ctx context.Context, f converter.File, opts options.Values, progress converter.Reporter, steps ...Step) (*converter.Output, error) {
	src, err := decode(f)
	if err != nil {
		return nil, err
	}
	if err := converter.Checkpoint(ctx, progress, 30); err != nil {
		return nil, err
	}

	img, err := runSteps(src.img, steps...)
	if err != nil {
		return nil, err
	}
	if err := converter.Checkpoint(ctx, progress, 70); err != nil {
		return nil, err
	}

	t, changed := sameFormat(src.format)
	data, err := encode(img, t, encodeOptions{quality: opts.Int("quality"), compression: png.DefaultCompression})
	if err != nil {
		return nil, err
	}
	out := &converter.Output{Data: data, MimeType: t.mime}
	if changed {
		out.Extension = t.extension
	}
	return out, converter.Checkpoint(ctx, progress, 100)
}
