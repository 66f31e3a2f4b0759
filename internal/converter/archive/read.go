package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/nwaples/rardecode/v2"

	"github.com/feichai0017/file-converter/internal/converter"
)

// budget tracks how much an extraction has expanded so far.
type budget struct {
	limits  Limits
	entries int
	bytes   int64
}

// take reads one member while charging it to the budget, so a member that
// lies about its size still cannot expand past the limit.
func (b *budget) take(archive, name string, r io.Reader) (entry, error) {
	clean, err := cleanName(name)
	if err != nil {
		return entry{}, err
	}
	b.entries++
	if b.entries > b.limits.MaxEntries {
		return entry{}, converter.ResourceExceeded("%s holds more than %d entries", archive, b.limits.MaxEntries)
	}
	remaining := b.limits.MaxBytes - b.bytes
	data, err := io.ReadAll(io.LimitReader(r, remaining+1))
	b.bytes += int64(len(data))
	if int64(len(data)) > remaining {
		return entry{}, converter.ResourceExceeded("%s expands beyond %d bytes", archive, b.limits.MaxBytes)
	}
	if err != nil {
		return entry{}, converter.Corrupt("%s: member %s is damaged: %v", archive, name, err)
	}
	return entry{Name: clean, Data: data}, nil
}

// extract unpacks every regular file of an archive held in memory.
func extract(ctx context.Context, f converter.File, limits Limits) ([]entry, error) {
	b := &budget{limits: limits}
	switch Detect(f.Data) {
	case FormatZip:
		return readZip(ctx, f, b)
	case FormatTar:
		return readTar(ctx, f.Name, bytes.NewReader(f.Data), b)
	case FormatGzip:
		return readGzip(ctx, f, b)
	case FormatSevenZip:
		return readSevenZip(ctx, f, b)
	case FormatRar:
		return readRar(ctx, f, b)
	}
	return nil, converter.Unsupported("%s is not a ZIP, TAR, TAR.GZ, 7Z or RAR archive", f.Name)
}

func readZip(ctx context.Context, f converter.File, b *budget) ([]entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		return nil, converter.Corrupt("%s is not a readable ZIP: %v", f.Name, err)
	}
	var out []entry
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if zf.FileInfo().IsDir() {
			continue
		}
		if zf.Flags&0x1 != 0 {
			return nil, converter.Unsupported("%s contains password protected entries", f.Name)
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, converter.Corrupt("%s: cannot open %s: %v", f.Name, zf.Name, err)
		}
		e, err := b.take(f.Name, zf.Name, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func readTar(ctx context.Context, name string, r io.Reader, b *budget) ([]entry, error) {
	tr := tar.NewReader(r)
	var out []entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, converter.Corrupt("%s is not a readable TAR: %v", name, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		e, err := b.take(name, hdr.Name, tr)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

// readGzip handles .tar.gz and plain .gz files; the latter yield one entry
// named after the file without its .gz suffix.
func readGzip(ctx context.Context, f converter.File, b *budget) ([]entry, error) {
	zr, err := gzip.NewReader(bytes.NewReader(f.Data))
	if err != nil {
		return nil, converter.Corrupt("%s is not readable gzip: %v", f.Name, err)
	}
	defer zr.Close()

	inner := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
	switch {
	case strings.HasSuffix(strings.ToLower(inner), ".tgz"):
		inner = inner[:len(inner)-4] + ".tar"
	case strings.HasSuffix(strings.ToLower(inner), ".gz"):
		inner = inner[:len(inner)-3]
	}
	if inner == "" {
		inner = "data"
	}

	// Decompress once, charged to the budget, then decide whether it is a tar.
	whole := &budget{limits: Limits{MaxEntries: 1, MaxBytes: b.limits.MaxBytes}}
	e, err := whole.take(f.Name, inner, zr)
	if err != nil {
		return nil, err
	}
	if Detect(e.Data) == FormatTar {
		return readTar(ctx, f.Name, bytes.NewReader(e.Data), b)
	}
	b.entries, b.bytes = 1, whole.bytes
	return []entry{e}, nil
}

func readSevenZip(ctx context.Context, f converter.File, b *budget) ([]entry, error) {
	zr, err := sevenzip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		return nil, classifyRead(f.Name, "7Z", err)
	}
	var out []entry
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, converter.Corrupt("%s: cannot open %s: %v", f.Name, zf.Name, err)
		}
		e, err := b.take(f.Name, zf.Name, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func readRar(ctx context.Context, f converter.File, b *budget) ([]entry, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(f.Data))
	if err != nil {
		return nil, classifyRead(f.Name, "RAR", err)
	}
	var out []entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, classifyRead(f.Name, "RAR", err)
		}
		if hdr.IsDir {
			continue
		}
		e, err := b.take(f.Name, hdr.Name, rr)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

// classifyRead separates password protected archives, which are a
// limitation, from damaged ones.
func classifyRead(name, kind string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "password") || strings.Contains(msg, "encrypted") {
		return converter.Unsupported("%s is password protected", name)
	}
	return converter.Corrupt("%s is not a readable %s: %v", name, kind, err)
}
