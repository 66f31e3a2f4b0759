package image

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/file-converter/internal/converter"
)

// Step is one transform in an image pipeline.
type Step interface {
	Apply(img image.Image) (image.Image, error)
}

// ResizeStep scales to width x height. With KeepAspect the image is scaled
// to fit inside the box instead of being stretched.
type ResizeStep struct {
	Width, Height int
	KeepAspect    bool
}

func (s ResizeStep) Apply(img image.Image) (image.Image, error) {
	b := img.Bounds()
	w, h := s.Width, s.Height
	if s.KeepAspect {
		ratio := math.Min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
		w = max(1, int(math.Round(float64(b.Dx())*ratio)))
		h = max(1, int(math.Round(float64(b.Dy())*ratio)))
	}
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}

// CropStep cuts a rectangle. Aspect other than "free" ignores the rectangle
// and takes the largest centred region with that ratio.
type CropStep struct {
	Aspect              string
	X, Y, Width, Height int
}

var aspects = map[string][2]int{
	"1:1":  {1, 1},
	"4:3":  {4, 3},
	"16:9": {16, 9},
}

func (s CropStep) Apply(img image.Image) (image.Image, error) {
	b := img.Bounds()
	if r, ok := aspects[s.Aspect]; ok {
		w := b.Dx()
		h := w * r[1] / r[0]
		if h > b.Dy() {
			h = b.Dy()
			w = h * r[0] / r[1]
		}
		if w < 1 || h < 1 {
			return nil, converter.Unsupported("image is too small for a %s crop", s.Aspect)
		}
		return imaging.CropCenter(img, w, h), nil
	}

	rect := image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
	if !rect.In(image.Rect(0, 0, b.Dx(), b.Dy())) {
		return nil, converter.Unsupported("crop %dx%d at %d,%d does not fit the %dx%d image",
			s.Width, s.Height, s.X, s.Y, b.Dx(), b.Dy())
	}
	return imaging.Crop(img, rect.Add(b.Min)), nil
}

// runSteps applies steps in order.
func runSteps(img image.Image, steps ...Step) (image.Image, error) {
	var err error
	for _, s := range steps {
		img, err = s.Apply(img)
		if err != nil {
			return nil, err
		}
	}
	return img, nil
}
