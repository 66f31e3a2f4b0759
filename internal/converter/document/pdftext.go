package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// pageWorkers bounds concurrent page extraction within one job.
const pageWorkers = 4

// textPage is the text of one page, kept both flat and by row.
type textPage struct {
	Number int
	Text   string
	Rows   [][]pdf.Text
}

// extractPages reads every page concurrently, reporting progress across
// [from, to] as pages complete. Pages come back in document order.
func extractPages(ctx context.Context, log logger.Logger, f converter.File, withRows bool, progress converter.Reporter, from, to int) (pages []textPage, err error) {
	defer func() {
		// ledongthuc/pdf panics on some malformed streams.
		if r := recover(); r != nil {
			pages, err = nil, converter.Corrupt("%s could not be read as PDF: %v", f.Name, r)
		}
	}()

	reader := bytes.NewReader(f.Data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "encrypt") {
			return nil, converter.Unsupported("%s is password protected", f.Name)
		}
		return nil, converter.Corrupt("%s could not be read as PDF: %v", f.Name, err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return nil, converter.Corrupt("%s has no pages", f.Name)
	}
	if numPages > maxPages {
		return nil, converter.ResourceExceeded("%s has %d pages, the limit is %d", f.Name, numPages, maxPages)
	}

	pages = make([]textPage, numPages)
	var done atomic.Int32
	// progress is reported from one goroutine at a time so updates stay ordered.
	reportCh := make(chan int, numPages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageWorkers)
	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = converter.Corrupt("page %d of %s is malformed: %v", pageNum, f.Name, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}

			page := pdfReader.Page(pageNum)
			tp := textPage{Number: pageNum}
			if !page.V.IsNull() {
				text, err := page.GetPlainText(nil)
				if err != nil {
					return converter.Corrupt("failed to get text from page %d: %v", pageNum, err)
				}
				tp.Text = text
				if withRows {
					rows, err := page.GetTextByRow()
					if err != nil {
						return converter.Corrupt("failed to get rows from page %d: %v", pageNum, err)
					}
					for _, row := range rows {
						tp.Rows = append(tp.Rows, row.Content)
					}
				}
			}
			pages[pageNum-1] = tp
			reportCh <- int(done.Add(1))
			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(reportCh)
	}()

	var progressErr error
	for n := range reportCh {
		if progressErr != nil {
			continue
		}
		if err := converter.Checkpoint(ctx, progress, converter.Scale(from, to, n, numPages)); err != nil {
			progressErr = err
		}
	}
	if err := <-waitErr; err != nil {
		return nil, err
	}
	if progressErr != nil {
		return nil, progressErr
	}

	log.Debug("Extracted PDF text", logger.String("file", f.Name), logger.Int("pages", numPages))
	return pages, nil
}

// cleanText normalises line endings and trims trailing blanks per line.
func cleanText(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, strings.TrimRight(line, " \t\u00a0"))
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func pageTitle(n int) string {
	return fmt.Sprintf("Page %d", n)
}
