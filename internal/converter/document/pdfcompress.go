package document

import (
	"bytes"
	"context"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

type level string

const (
	levelLow    level = "low"
	levelMedium level = "medium"
	levelHigh   level = "high"
)

const defaultJPEGQuality = 90

// maxEdge caps the longest side of an embedded image per level. Zero keeps
// the original dimensions.
var maxEdge = map[level]int{
	levelLow:    0,
	levelMedium: 2400,
	levelHigh:   1200,
}

func compressionLevel(s string) level {
	switch level(s) {
	case levelLow, levelHigh:
		return level(s)
	}
	return levelMedium
}

// optimizeConfig maps a compression level onto pdfcpu's writer settings.
// Anything above low merges duplicate resources, and high also packs objects
// into compressed object streams.
func optimizeConfig(l level) *model.Configuration {
	conf := pdfConfig("")
	conf.Cmd = model.OPTIMIZE
	conf.OptimizeResourceDicts = l != levelLow
	conf.OptimizeDuplicateContentStreams = l != levelLow
	conf.WriteObjectStream = l == levelHigh
	conf.WriteXRefStream = l == levelHigh
	return conf
}

type recompressStats struct {
	seen     int
	replaced int
}

// recompressImages re-encodes every 8-bit DeviceRGB JPEG image XObject at
// quality, shrinking it to the level's edge cap. A stream is only replaced
// when the new encoding is smaller.
func recompressImages(ctx context.Context, pdfCtx *model.Context, quality int, l level, step func(done, total int) error) (recompressStats, error) {
	var stats recompressStats

	var objNrs []int
	for nr, entry := range pdfCtx.Table {
		if entry == nil || entry.Free {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if ok && isRGBJPEG(sd) {
			objNrs = append(objNrs, nr)
		}
	}
	sort.Ints(objNrs)
	stats.seen = len(objNrs)

	for i, nr := range objNrs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		entry := pdfCtx.Table[nr]
		sd := entry.Object.(types.StreamDict)
		if data, w, h, ok := reencodeJPEG(sd.Raw, quality, maxEdge[l]); ok {
			n := int64(len(data))
			sd.Raw = data
			sd.Content = nil
			sd.StreamLength = &n
			sd.StreamLengthObjNr = nil
			sd.Dict.Update("Length", types.Integer(n))
			sd.Dict.Update("Width", types.Integer(w))
			sd.Dict.Update("Height", types.Integer(h))
			entry.Object = sd
			stats.replaced++
		}
		if err := step(i+1, len(objNrs)); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func isRGBJPEG(sd types.StreamDict) bool {
	if st := sd.Dict.NameEntry("Subtype"); st == nil || *st != "Image" {
		return false
	}
	if len(sd.FilterPipeline) != 1 || sd.FilterPipeline[0].Name != "DCTDecode" {
		return false
	}
	if cs := sd.Dict.NameEntry("ColorSpace"); cs == nil || *cs != "DeviceRGB" {
		return false
	}
	if bpc := sd.Dict.IntEntry("BitsPerComponent"); bpc != nil && *bpc != 8 {
		return false
	}
	return len(sd.Raw) > 0
}

// reencodeJPEG returns the new bytes and dimensions, or ok=false when the
// image cannot be decoded or would not shrink.
func reencodeJPEG(raw []byte, quality, edge int) ([]byte, int, int, bool) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, false
	}
	b := img.Bounds()
	if edge > 0 && (b.Dx() > edge || b.Dy() > edge) {
		img = imaging.Fit(img, edge, edge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, 0, 0, false
	}
	if buf.Len() >= len(raw) {
		return nil, 0, 0, false
	}
	nb := img.Bounds()
	return buf.Bytes(), nb.Dx(), nb.Dy(), true
}
