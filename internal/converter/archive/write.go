package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/feichai0017/file-converter/internal/converter"
)

// Level is a user-facing compression level.
type Level string

const (
	LevelStore   Level = "store"
	LevelFast    Level = "fast"
	LevelNormal  Level = "normal"
	LevelMaximum Level = "maximum"
)

func (l Level) flate() int {
	switch l {
	case LevelFast:
		return flate.BestSpeed
	case LevelMaximum:
		return flate.BestCompression
	}
	return flate.DefaultCompression
}

// writeZip writes entries in order. Progress spans [from, to].
func writeZip(ctx context.Context, entries []entry, level Level, progress converter.Reporter, from, to int) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	flateLevel := level.flate()
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flateLevel)
	})

	method := zip.Deflate
	if level == LevelStore {
		method = zip.Store
	}
	for i, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method, Modified: epoch})
		if err != nil {
			return nil, converter.Internal(err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, converter.Internal(err)
		}
		if err := converter.Checkpoint(ctx, progress, converter.Scale(from, to, i+1, len(entries))); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, converter.Internal(err)
	}
	return buf.Bytes(), nil
}

func writeTar(ctx context.Context, entries []entry, progress converter.Reporter, from, to int) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for i, e := range entries {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     e.Name,
			Mode:     0o644,
			Size:     int64(len(e.Data)),
			ModTime:  epoch,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, converter.Internal(err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return nil, converter.Internal(err)
		}
		if err := converter.Checkpoint(ctx, progress, converter.Scale(from, to, i+1, len(entries))); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, converter.Internal(err)
	}
	return buf.Bytes(), nil
}
