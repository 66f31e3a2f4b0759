package document

import (
	"bytes"
	"context"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// DocxToPDF renders the paragraphs of a .docx as a flowing PDF. Legacy
// binary .doc files are recognised and refused.
type DocxToPDF struct {
	logger logger.Logger
}

func NewDocxToPDF(log logger.Logger) *DocxToPDF {
	return &DocxToPDF{logger: log}
}

func (s *DocxToPDF) Name() string { return "docx-pdf" }

func (s *DocxToPDF) Accepts(in converter.Input) bool {
	d := in.First().Data
	return bytes.HasPrefix(d, zipMagic) || bytes.HasPrefix(d, oleMagic)
}

func (s *DocxToPDF) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	if bytes.HasPrefix(f.Data, oleMagic) {
		return nil, converter.Unsupported("legacy .doc files are not supported, save %s as .docx", f.Name)
	}

	paras, err := readDocx(f)
	if err != nil {
		return nil, err
	}
	if err := converter.Checkpoint(ctx, progress, 30); err != nil {
		return nil, err
	}

	orientation := "P"
	if opts.String("orientation") == "landscape" {
		orientation = "L"
	}
	pageSize := opts.String("pageSize")
	if pageSize == "" {
		pageSize = "A4"
	}
	fontSize := float64(opts.Int("fontSize"))
	if fontSize <= 0 {
		fontSize = 11
	}

	doc := fpdf.New(orientation, "mm", pageSize, "")
	doc.SetCreationDate(time.Unix(0, 0).UTC())
	doc.SetModificationDate(time.Unix(0, 0).UTC())
	doc.SetCatalogSort(true)
	doc.SetMargins(20, 20, 20)
	doc.SetAutoPageBreak(true, 20)
	doc.AddPage()
	tr := doc.UnicodeTranslatorFromDescriptor("")

	lineHeight := fontSize * 0.5
	for i, p := range paras {
		if p.PageBreak {
			doc.AddPage()
		}
		size, style := fontSize, ""
		if lvl := headingLevel(p.Style); lvl > 0 {
			size, style = fontSize+float64(8-min(lvl, 4)*2), "B"
		}
		doc.SetFont("Helvetica", style, size)
		if p.Text == "" {
			doc.Ln(lineHeight)
		} else {
			doc.MultiCell(0, size*0.5, tr(p.Text), "", "L", false)
		}
		if i%50 == 0 {
			if err := converter.Checkpoint(ctx, progress, converter.Scale(30, 90, i+1, len(paras))); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, converter.Internal(err)
	}
	s.logger.Debug("Rendered docx", logger.Int("paragraphs", len(paras)), logger.Int("pages", doc.PageCount()))
	return &converter.Output{Data: buf.Bytes()}, converter.Checkpoint(ctx, progress, 100)
}
