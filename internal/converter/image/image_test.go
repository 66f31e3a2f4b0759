package image

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

func testLogger(t *testing.T) logger.Logger {
	return logger.NewZap(zaptest.NewLogger(t))
}

func gradient(width, height int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8((x * 255) / width), uint8((y * 255) / height), 128, alpha})
		}
	}
	return img
}

func jpegFile(t *testing.T, width, height int) converter.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(width, height, 255), &jpeg.Options{Quality: 95}))
	return converter.File{Name: "photo.jpg", MimeType: "image/jpeg", Data: buf.Bytes()}
}

func pngFile(t *testing.T, width, height int, alpha uint8) converter.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(width, height, alpha)))
	return converter.File{Name: "shot.png", MimeType: "image/png", Data: buf.Bytes()}
}

func single(f converter.File) converter.Input {
	return converter.Input{Files: []converter.File{f}}
}

func decodeOutput(t *testing.T, out *converter.Output) (image.Image, string) {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	return img, format
}

func TestEncodeJPEGToPNG(t *testing.T) {
	e, err := NewEncode(EncodeParams{Format: "png"}, testLogger(t))
	require.NoError(t, err)
	in := single(jpegFile(t, 120, 80))
	require.True(t, e.Accepts(in))

	out, err := e.Run(context.Background(), in, options.Values{"compression": "default"}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.MimeType)

	img, format := decodeOutput(t, out)
	assert.Equal(t, "png", format)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())

	again, err := e.Run(context.Background(), in, options.Values{"compression": "default"}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, out.Data, again.Data, "lossless output must be byte-identical")
}

func TestEncodePNGToJPEGFlattensAlpha(t *testing.T) {
	e, err := NewEncode(EncodeParams{Format: "jpeg"}, testLogger(t))
	require.NoError(t, err)

	out, err := e.Run(context.Background(), single(pngFile(t, 40, 40, 0)), options.Values{"quality": 90}, converter.NopReporter)
	require.NoError(t, err)

	img, format := decodeOutput(t, out)
	assert.Equal(t, "jpeg", format)
	r, g, b, _ := img.At(20, 20).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestEncodeFormatFromOption(t *testing.T) {
	e, err := NewEncode(EncodeParams{FormatOption: "format"}, testLogger(t))
	require.NoError(t, err)

	out, err := e.Run(context.Background(), single(pngFile(t, 10, 10, 255)), options.Values{"format": "jpg", "quality": 80}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", out.MimeType)
	assert.Equal(t, ".jpg", out.Extension)
}

func TestNewEncodeRejectsUnknownFormat(t *testing.T) {
	_, err := NewEncode(EncodeParams{Format: "heic"}, testLogger(t))
	assert.Error(t, err)
}

func TestResize(t *testing.T) {
	r := &Resize{logger: testLogger(t)}
	in := single(jpegFile(t, 800, 600))

	out, err := r.Run(context.Background(), in, options.Values{"width": 400, "height": 400, "keepAspectRatio": true, "quality": 90}, converter.NopReporter)
	require.NoError(t, err)
	img, format := decodeOutput(t, out)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, image.Rect(0, 0, 400, 300), img.Bounds())
	assert.Empty(t, out.Extension)

	out, err = r.Run(context.Background(), in, options.Values{"width": 400, "height": 400, "keepAspectRatio": false, "quality": 90}, converter.NopReporter)
	require.NoError(t, err)
	img, _ = decodeOutput(t, out)
	assert.Equal(t, image.Rect(0, 0, 400, 400), img.Bounds())
}

func TestCrop(t *testing.T) {
	c := &Crop{logger: testLogger(t)}
	in := single(pngFile(t, 800, 600, 255))

	out, err := c.Run(context.Background(), in, options.Values{"aspect": "free", "x": 100, "y": 50, "width": 200, "height": 100}, converter.NopReporter)
	require.NoError(t, err)
	img, _ := decodeOutput(t, out)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())

	out, err = c.Run(context.Background(), in, options.Values{"aspect": "1:1"}, converter.NopReporter)
	require.NoError(t, err)
	img, _ = decodeOutput(t, out)
	assert.Equal(t, 600, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())

	_, err = c.Run(context.Background(), in, options.Values{"aspect": "free", "x": 700, "y": 0, "width": 200, "height": 100}, converter.NopReporter)
	assert.Equal(t, models.FailureUnsupported, converter.KindOf(err))
}

// Lossy output is checked for format and a size bound rather than bytes.
func TestCompressJPEG(t *testing.T) {
	c := &Compress{logger: testLogger(t)}
	src := jpegFile(t, 400, 300)

	out, err := c.Run(context.Background(), single(src), options.Values{"quality": 30}, converter.NopReporter)
	require.NoError(t, err)
	_, format := decodeOutput(t, out)
	assert.Equal(t, "jpeg", format)
	assert.Less(t, len(out.Data), len(src.Data))

	again, err := c.Run(context.Background(), single(src), options.Values{"quality": 30}, converter.NopReporter)
	require.NoError(t, err)
	assert.InDelta(t, len(out.Data), len(again.Data), float64(len(out.Data))*0.05)
}

func TestCorruptImage(t *testing.T) {
	bad := single(converter.File{Name: "x.jpg", Data: []byte("not an image")})
	r := &Resize{logger: testLogger(t)}
	assert.False(t, r.Accepts(bad))

	_, err := r.Run(context.Background(), bad, options.Values{"width": 10, "height": 10}, converter.NopReporter)
	assert.Equal(t, models.FailureCorrupt, converter.KindOf(err))
}

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="64" height="32" viewBox="0 0 64 32"><rect x="0" y="0" width="64" height="32" fill="#ff0000"/></svg>`

func TestRasterizeSVG(t *testing.T) {
	r := &Rasterize{logger: testLogger(t)}
	in := single(converter.File{Name: "logo.svg", Data: []byte(testSVG)})
	require.True(t, r.Accepts(in))

	out, err := r.Run(context.Background(), in, options.Values{"width": 0, "height": 0}, converter.NopReporter)
	require.NoError(t, err)
	img, format := decodeOutput(t, out)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Bounds())

	red, _, _, _ := img.At(10, 10).RGBA()
	assert.Greater(t, red>>8, uint32(200))

	out, err = r.Run(context.Background(), in, options.Values{"width": 128, "height": 0}, converter.NopReporter)
	require.NoError(t, err)
	img, _ = decodeOutput(t, out)
	assert.Equal(t, image.Rect(0, 0, 128, 64), img.Bounds())
}

func TestSVGSize(t *testing.T) {
	w, h := svgSize(0, 0, 0, 0)
	assert.Equal(t, defaultSVGSide, w)
	assert.Equal(t, defaultSVGSide, h)

	w, h = svgSize(100, 50, 0, 25)
	assert.Equal(t, 50, w)
	assert.Equal(t, 25, h)
}

func TestCheckpointStopsOnCancel(t *testing.T) {
	e, err := NewEncode(EncodeParams{Format: "png"}, testLogger(t))
	require.NoError(t, err)

	stop := converter.ReporterFunc(func(int) error { return converter.ErrCancelled })
	_, err = e.Run(context.Background(), single(jpegFile(t, 10, 10)), options.Values{}, stop)
	assert.Equal(t, models.FailureCancelled, converter.KindOf(err))
}
