package image

import (
	"bytes"
	"context"
	"image"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// defaultSVGSide is used when the drawing declares no usable size.
const defaultSVGSide = 512

// Rasterize renders an SVG to PNG.
type Rasterize struct {
	logger logger.Logger
}

func (r *Rasterize) Name() string { return "svg-rasterize" }

func (r *Rasterize) Accepts(in converter.Input) bool {
	head := in.First().Data
	if len(head) > 4096 {
		head = head[:4096]
	}
	return bytes.Contains(head, []byte("<svg"))
}

func (r *Rasterize) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	icon, err := oksvg.ReadIconStream(bytes.NewReader(f.Data), oksvg.WarnErrorMode)
	if err != nil {
		return nil, converter.Corrupt("%s is not a valid SVG: %v", f.Name, err)
	}
	if err := converter.Checkpoint(ctx, progress, 30); err != nil {
		return nil, err
	}

	w, h := svgSize(icon.ViewBox.W, icon.ViewBox.H, opts.Int("width"), opts.Int("height"))
	if w*h > maxPixels {
		return nil, converter.ResourceExceeded("rendering at %dx%d exceeds the pixel limit", w, h)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)
	if err := converter.Checkpoint(ctx, progress, 80); err != nil {
		return nil, err
	}

	data, err := encode(rgba, targets["png"], encodeOptions{})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Rasterized SVG", logger.Int("width", w), logger.Int("height", h))
	return &converter.Output{Data: data}, converter.Checkpoint(ctx, progress, 100)
}

// svgSize resolves the output size. A zero width or height follows the
// drawing's aspect ratio; both zero keeps the drawing size.
func svgSize(vbW, vbH float64, width, height int) (int, int) {
	if vbW <= 0 || vbH <= 0 {
		vbW, vbH = defaultSVGSide, defaultSVGSide
	}
	switch {
	case width > 0 && height > 0:
		return width, height
	case width > 0:
		return width, max(1, int(math.Round(float64(width)*vbH/vbW)))
	case height > 0:
		return max(1, int(math.Round(float64(height)*vbW/vbH))), height
	}
	return max(1, int(math.Ceil(vbW))), max(1, int(math.Ceil(vbH)))
}
