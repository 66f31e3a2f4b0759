package document

import (
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// columnGap is how many character widths of horizontal space start a new cell.
const columnGap = 2.0

// TextToXlsx puts the text rows of a PDF into a workbook, one sheet per page
// or all pages stacked on one sheet.
type TextToXlsx struct {
	logger logger.Logger
}

func NewTextToXlsx(log logger.Logger) *TextToXlsx {
	return &TextToXlsx{logger: log}
}

func (s *TextToXlsx) Name() string { return "pdf-xlsx" }

func (s *TextToXlsx) Accepts(in converter.Input) bool { return allPDF(in) }

func (s *TextToXlsx) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	pages, err := extractPages(ctx, s.logger, in.First(), true, progress, 0, 70)
	if err != nil {
		return nil, err
	}

	wb := excelize.NewFile()
	defer wb.Close()

	perPage := opts.Bool("sheetPerPage")
	split := opts.Bool("splitColumns")
	sheet := "Sheet1"
	if perPage {
		sheet = pageTitle(1)
		if err := wb.SetSheetName("Sheet1", sheet); err != nil {
			return nil, converter.Internal(err)
		}
	}

	row := 1
	for i, p := range pages {
		if perPage && i > 0 {
			sheet = pageTitle(p.Number)
			if _, err := wb.NewSheet(sheet); err != nil {
				return nil, converter.Internal(err)
			}
			row = 1
		}
		for _, texts := range p.Rows {
			for col, value := range rowCells(texts, split) {
				cell, err := excelize.CoordinatesToCellName(col+1, row)
				if err != nil {
					return nil, converter.ResourceExceeded("page %d does not fit a worksheet: %v", p.Number, err)
				}
				if err := wb.SetCellValue(sheet, cell, value); err != nil {
					return nil, converter.Internal(err)
				}
			}
			row++
		}
		if err := converter.Checkpoint(ctx, progress, converter.Scale(70, 95, i+1, len(pages))); err != nil {
			return nil, err
		}
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, converter.Internal(err)
	}
	return &converter.Output{Data: buf.Bytes()}, converter.Checkpoint(ctx, progress, 100)
}

// rowCells merges the text runs of one row, starting a new cell at every
// gap wider than columnGap characters when split is set.
func rowCells(texts []pdf.Text, split bool) []string {
	var (
		cells []string
		cur   strings.Builder
		end   float64
	)
	for i, t := range texts {
		if i > 0 && split {
			width := t.FontSize * 0.5
			if width <= 0 {
				width = 5
			}
			if t.X-end > columnGap*width {
				cells = append(cells, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
		}
		cur.WriteString(t.S)
		end = t.X + t.W
	}
	if cur.Len() > 0 || len(cells) > 0 {
		cells = append(cells, strings.TrimSpace(cur.String()))
	}
	return cells
}
