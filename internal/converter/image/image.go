// Package image holds the raster and vector image strategies.
package image

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// maxPixels bounds decoded image size; larger inputs fail as ResourceExceeded.
const maxPixels = 50_000_000

// Register adds the image strategy kinds to f.
func Register(f *converter.Factory, log logger.Logger) {
	log = log.Named("image")
	f.Register("image-encode", func(def *registry.ToolDefinition) (converter.Strategy, error) {
		var p EncodeParams
		if err := def.DecodeParams(&p); err != nil {
			return nil, err
		}
		return NewEncode(p, log)
	})
	f.Register("image-resize", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &Resize{logger: log}, nil
	})
	f.Register("image-crop", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &Crop{logger: log}, nil
	})
	f.Register("image-compress", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &Compress{logger: log}, nil
	})
	f.Register("svg-rasterize", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &Rasterize{logger: log}, nil
	})
}

// decoded is an input image plus the format name image.Decode reported.
type decoded struct {
	img    image.Image
	format string
}

func decode(f converter.File) (*decoded, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return nil, converter.Corrupt("%s could not be decoded: %v", f.Name, err)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, converter.ResourceExceeded("%s is %dx%d, the limit is %d megapixels", f.Name, cfg.Width, cfg.Height, maxPixels/1_000_000)
	}
	img, err := imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, converter.Corrupt("%s could not be decoded: %v", f.Name, err)
	}
	return &decoded{img: img, format: format}, nil
}

// sniff reports whether data decodes as a registered image format.
func sniff(in converter.Input) bool {
	if len(in.Files) == 0 {
		return false
	}
	for _, f := range in.Files {
		if _, _, err := image.DecodeConfig(bytes.NewReader(f.Data)); err != nil {
			return false
		}
	}
	return true
}

// target is an encodable output format.
type target struct {
	format    imaging.Format
	mime      string
	extension string
}

var targets = map[string]target{
	"jpeg": {imaging.JPEG, "image/jpeg", ".jpg"},
	"jpg":  {imaging.JPEG, "image/jpeg", ".jpg"},
	"png":  {imaging.PNG, "image/png", ".png"},
	"gif":  {imaging.GIF, "image/gif", ".gif"},
	"bmp":  {imaging.BMP, "image/bmp", ".bmp"},
	"tiff": {imaging.TIFF, "image/tiff", ".tiff"},
}

func lookupTarget(name string) (target, bool) {
	t, ok := targets[strings.ToLower(name)]
	return t, ok
}

// sameFormat picks the output for a transform that keeps the input format.
// WebP has no encoder here, so it becomes PNG.
func sameFormat(format string) (target, bool) {
	if t, ok := lookupTarget(format); ok {
		return t, false
	}
	return targets["png"], true
}

type encodeOptions struct {
	quality     int
	compression png.CompressionLevel
}

func encode(img image.Image, t target, o encodeOptions) ([]byte, error) {
	if t.format == imaging.JPEG {
		img = flatten(img, color.White)
	}
	opts := []imaging.EncodeOption{imaging.PNGCompressionLevel(o.compression)}
	if o.quality > 0 {
		opts = append(opts, imaging.JPEGQuality(o.quality))
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, t.format, opts...); err != nil {
		return nil, converter.Internal(fmt.Errorf("encode %s: %w", t.extension, err))
	}
	return buf.Bytes(), nil
}

// flatten composites img over bg; JPEG has no alpha channel.
func flatten(img image.Image, bg color.Color) image.Image {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func pngCompression(name string) png.CompressionLevel {
	switch name {
	case "fast":
		return png.BestSpeed
	case "best":
		return png.BestCompression
	}
	return png.DefaultCompression
}
