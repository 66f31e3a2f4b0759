package document

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// zipEpoch is stamped on every entry so identical input yields identical archives.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Merge concatenates PDFs in submission order.
type Merge struct {
	logger logger.Logger
}

func (m *Merge) Name() string { return "pdf-merge" }

func (m *Merge) Accepts(in converter.Input) bool { return allPDF(in) }

func (m *Merge) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	conf := pdfConfig("")
	total := 0
	readers := make([]io.ReadSeeker, 0, len(in.Files))
	for i, f := range in.Files {
		n, err := pageCount(f, conf)
		if err != nil {
			return nil, err
		}
		total += n
		if total > maxPages {
			return nil, converter.ResourceExceeded("merged document would exceed %d pages", maxPages)
		}
		readers = append(readers, bytes.NewReader(f.Data))
		if err := converter.Checkpoint(ctx, progress, converter.Scale(0, 50, i+1, len(in.Files))); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := api.MergeRaw(readers, &buf, opts.Bool("dividerPage"), conf); err != nil {
		return nil, classifyPDFError("input", err)
	}
	m.logger.Debug("Merged PDFs", logger.Int("files", len(in.Files)), logger.Int("pages", total))
	return &converter.Output{Data: buf.Bytes()}, converter.Checkpoint(ctx, progress, 100)
}

// Split extracts a page selection into one PDF, or cuts the document into
// chunks of N pages delivered as a zip.
type Split struct {
	logger logger.Logger
}

func (s *Split) Name() string { return "pdf-split" }

func (s *Split) Accepts(in converter.Input) bool { return allPDF(in) }

func (s *Split) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	conf := pdfConfig("")
	n, err := pageCount(f, conf)
	if err != nil {
		return nil, err
	}
	if err := converter.Checkpoint(ctx, progress, 10); err != nil {
		return nil, err
	}

	if opts.String("mode") == "every" {
		return s.every(ctx, f, n, opts.Int("every"), progress)
	}

	selection, err := ParsePageRanges(opts.String("pages"), n)
	if err != nil {
		return nil, err
	}
	data, err := trimPages(f, selection, conf)
	if err != nil {
		return nil, err
	}
	return &converter.Output{Data: data}, converter.Checkpoint(ctx, progress, 100)
}

func (s *Split) every(ctx context.Context, f converter.File, pages, size int, progress converter.Reporter) (*converter.Output, error) {
	if size <= 0 {
		size = 1
	}
	conf := pdfConfig("")
	base := strings.TrimSuffix(path.Base(f.Name), path.Ext(f.Name))
	if base == "" || base == "." {
		base = "document"
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	chunks := (pages + size - 1) / size
	for c := 0; c < chunks; c++ {
		from := c*size + 1
		to := from + size - 1
		if to > pages {
			to = pages
		}
		data, err := trimPages(f, []string{fmt.Sprintf("%d-%d", from, to)}, conf)
		if err != nil {
			return nil, err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     fmt.Sprintf("%s-%03d.pdf", base, c+1),
			Method:   zip.Store,
			Modified: zipEpoch,
		})
		if err != nil {
			return nil, converter.Internal(err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, converter.Internal(err)
		}
		if err := converter.Checkpoint(ctx, progress, converter.Scale(10, 95, c+1, chunks)); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, converter.Internal(err)
	}
	s.logger.Debug("Split PDF", logger.Int("pages", pages), logger.Int("parts", chunks))
	return &converter.Output{Data: buf.Bytes(), MimeType: "application/zip", Extension: ".zip"},
		converter.Checkpoint(ctx, progress, 100)
}

// ParsePageRanges turns "1-3, 5" into pdfcpu page selections, checking every
// page against the document length.
func ParsePageRanges(expr string, pages int) ([]string, error) {
	var out []string
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to := part, part
		if i := strings.IndexByte(part, '-'); i >= 0 {
			from, to = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
		}
		a, err := strconv.Atoi(from)
		if err != nil {
			return nil, converter.Unsupported("bad page range %q", part)
		}
		b, err := strconv.Atoi(to)
		if err != nil {
			return nil, converter.Unsupported("bad page range %q", part)
		}
		if a < 1 || b < a {
			return nil, converter.Unsupported("bad page range %q", part)
		}
		if b > pages {
			return nil, converter.Unsupported("page %d is out of range, the document has %d pages", b, pages)
		}
		if a == b {
			out = append(out, strconv.Itoa(a))
		} else {
			out = append(out, fmt.Sprintf("%d-%d", a, b))
		}
	}
	if len(out) == 0 {
		return nil, converter.Unsupported("no pages selected")
	}
	return out, nil
}

// Optimize rewrites a PDF with pdfcpu's optimizer and re-encodes embedded
// JPEG images at the requested quality. The result is never larger than the
// input.
type Optimize struct {
	logger logger.Logger
}

func (o *Optimize) Name() string { return "pdf-optimize" }

func (o *Optimize) Accepts(in converter.Input) bool { return allPDF(in) }

func (o *Optimize) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	level := compressionLevel(opts.String("level"))
	quality := defaultJPEGQuality
	if opts.Has("quality") {
		quality = opts.Int("quality")
	}

	conf := optimizeConfig(level)
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(f.Data), conf)
	if err != nil {
		return nil, classifyPDFError(f.Name, err)
	}
	if pdfCtx.PageCount > maxPages {
		return nil, converter.ResourceExceeded("document has more than %d pages", maxPages)
	}
	if err := converter.Checkpoint(ctx, progress, 20); err != nil {
		return nil, err
	}

	stats, err := recompressImages(ctx, pdfCtx, quality, level, func(done, total int) error {
		return converter.Checkpoint(ctx, progress, converter.Scale(20, 90, done, total))
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := api.WriteContext(pdfCtx, &buf); err != nil {
		return nil, classifyPDFError(f.Name, err)
	}

	out := buf.Bytes()
	if len(out) >= len(f.Data) {
		out = f.Data
	}
	o.logger.Debug("Optimized PDF",
		logger.Int("before", len(f.Data)),
		logger.Int("after", len(out)),
		logger.String("level", string(level)),
		logger.Int("quality", quality),
		logger.Int("images", stats.seen),
		logger.Int("reencoded", stats.replaced),
	)
	return &converter.Output{Data: out}, converter.Checkpoint(ctx, progress, 100)
}

// Decrypt removes encryption, using the supplied password when the document
// needs one to open.
type Decrypt struct {
	logger logger.Logger
}

func (d *Decrypt) Name() string { return "pdf-decrypt" }

func (d *Decrypt) Accepts(in converter.Input) bool { return allPDF(in) }

func (d *Decrypt) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	if err := converter.Checkpoint(ctx, progress, 10); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err := api.Decrypt(bytes.NewReader(f.Data), &buf, pdfConfig(opts.String("password")))
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "not encrypted"):
			return nil, converter.Unsupported("%s is not password protected", f.Name)
		case strings.Contains(msg, "password"):
			return nil, converter.Unsupported("the password for %s is wrong", f.Name)
		}
		return nil, classifyPDFError(f.Name, err)
	}
	return &converter.Output{Data: buf.Bytes()}, converter.Checkpoint(ctx, progress, 100)
}
