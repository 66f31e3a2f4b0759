package document

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

func testLogger(t *testing.T) logger.Logger {
	return logger.NewZap(zaptest.NewLogger(t))
}

// makePDF renders one page per entry of pages.
func makePDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 14)
	for _, text := range pages {
		doc.AddPage()
		doc.Cell(40, 10, text)
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func pdfInput(name string, data []byte) converter.Input {
	return converter.Input{Files: []converter.File{{Name: name, MimeType: "application/pdf", Data: data}}}
}

func countPages(t *testing.T, data []byte) int {
	t.Helper()
	n, err := api.PageCount(bytes.NewReader(data), pdfConfig(""))
	require.NoError(t, err)
	return n
}

// recorder collects progress and checks it never goes backwards.
type recorder struct {
	mu   sync.Mutex
	seen []int
}

func (r *recorder) Report(p int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, p)
	return nil
}

func (r *recorder) assertMonotonic(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.seen)
	for i := 1; i < len(r.seen); i++ {
		assert.LessOrEqual(t, r.seen[i-1], r.seen[i])
	}
	assert.Equal(t, 100, r.seen[len(r.seen)-1])
}

func TestMerge(t *testing.T) {
	in := converter.Input{Files: []converter.File{
		{Name: "a.pdf", Data: makePDF(t, "one")},
		{Name: "b.pdf", Data: makePDF(t, "two", "three")},
	}}
	m := &Merge{logger: testLogger(t)}
	require.True(t, m.Accepts(in))

	rec := &recorder{}
	out, err := m.Run(context.Background(), in, options.Values{"dividerPage": false}, rec)
	require.NoError(t, err)
	assert.Equal(t, 3, countPages(t, out.Data))
	rec.assertMonotonic(t)
}

func TestMergeRejectsNonPDFContent(t *testing.T) {
	in := converter.Input{Files: []converter.File{
		{Name: "a.pdf", Data: makePDF(t, "one")},
		{Name: "b.pdf", Data: []byte("not a pdf")},
	}}
	assert.False(t, (&Merge{logger: testLogger(t)}).Accepts(in))
}

func TestSplitRange(t *testing.T) {
	s := &Split{logger: testLogger(t)}
	in := pdfInput("doc.pdf", makePDF(t, "1", "2", "3", "4"))

	out, err := s.Run(context.Background(), in, options.Values{"mode": "range", "pages": "2-3"}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, 2, countPages(t, out.Data))
	assert.Empty(t, out.MimeType)

	_, err = s.Run(context.Background(), in, options.Values{"mode": "range", "pages": "9"}, converter.NopReporter)
	assert.Equal(t, models.FailureUnsupported, converter.KindOf(err))
}

func TestSplitEveryProducesZip(t *testing.T) {
	s := &Split{logger: testLogger(t)}
	in := pdfInput("doc.pdf", makePDF(t, "1", "2", "3"))

	out, err := s.Run(context.Background(), in, options.Values{"mode": "every", "every": 2}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, "application/zip", out.MimeType)
	assert.Equal(t, ".zip", out.Extension)

	zr, err := zip.NewReader(bytes.NewReader(out.Data), int64(len(out.Data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "doc-001.pdf", zr.File[0].Name)
	assert.Equal(t, "doc-002.pdf", zr.File[1].Name)

	again, err := s.Run(context.Background(), in, options.Values{"mode": "every", "every": 2}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, out.Data, again.Data)
}

func TestParsePageRanges(t *testing.T) {
	got, err := ParsePageRanges(" 1-3, 5 ,7-7", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1-3", "5", "7"}, got)

	for _, bad := range []string{"0", "3-1", "11", "a", ""} {
		_, err := ParsePageRanges(bad, 10)
		assert.Equal(t, models.FailureUnsupported, converter.KindOf(err), bad)
	}
}

func TestOptimizeNeverGrows(t *testing.T) {
	o := &Optimize{logger: testLogger(t)}
	data := makePDF(t, "a", "b")

	out, err := o.Run(context.Background(), pdfInput("a.pdf", data), options.Values{"quality": 90, "level": "medium"}, converter.NopReporter)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out.Data), len(data))
	assert.Equal(t, 2, countPages(t, out.Data))
}

// makePhotoPDF embeds a noisy full-quality JPEG, the kind of scan that
// dominates a document's size.
func makePhotoPDF(t *testing.T) []byte {
	t.Helper()
	rnd := rand.New(rand.NewSource(7))
	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			n := uint8(rnd.Intn(64))
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x/3) + n, G: uint8(y/2) + n, B: 128 + n, A: 255})
		}
	}
	var jpg bytes.Buffer
	require.NoError(t, imaging.Encode(&jpg, img, imaging.JPEG, imaging.JPEGQuality(100)))

	doc := fpdf.New("P", "mm", "A4", "")
	opt := fpdf.ImageOptions{ImageType: "JPG"}
	doc.RegisterImageOptionsReader("scan", opt, bytes.NewReader(jpg.Bytes()))
	doc.AddPage()
	doc.ImageOptions("scan", 10, 10, 190, 0, false, opt, 0, "")
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func optimize(t *testing.T, data []byte, lvl string, quality int) []byte {
	t.Helper()
	o := &Optimize{logger: testLogger(t)}
	rec := &recorder{}
	out, err := o.Run(context.Background(), pdfInput("scan.pdf", data), options.Values{"quality": quality, "level": lvl}, rec)
	require.NoError(t, err)
	rec.assertMonotonic(t)
	assert.LessOrEqual(t, len(out.Data), len(data))
	assert.Equal(t, 1, countPages(t, out.Data))
	return out.Data
}

func TestOptimizeHonoursLevelAndQuality(t *testing.T) {
	data := makePhotoPDF(t)

	gentle := optimize(t, data, "low", 100)
	strong := optimize(t, data, "high", 10)
	assert.Less(t, len(strong), len(gentle))
	assert.Less(t, len(strong), len(data))

	fine := optimize(t, data, "high", 90)
	assert.Less(t, len(strong), len(fine))
}

func TestOptimizeLevelsOnTextOnlyPDF(t *testing.T) {
	data := makePDF(t, "a", "b", "c")
	for _, lvl := range []string{"low", "medium", "high"} {
		o := &Optimize{logger: testLogger(t)}
		out, err := o.Run(context.Background(), pdfInput("a.pdf", data), options.Values{"quality": 10, "level": lvl}, converter.NopReporter)
		require.NoError(t, err, lvl)
		assert.LessOrEqual(t, len(out.Data), len(data), lvl)
		assert.Equal(t, 3, countPages(t, out.Data), lvl)
	}
}

func TestReencodeJPEGCapsEdge(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3000, 1500))
	var raw bytes.Buffer
	require.NoError(t, imaging.Encode(&raw, img, imaging.JPEG, imaging.JPEGQuality(100)))

	_, w, h, ok := reencodeJPEG(raw.Bytes(), 50, maxEdge[levelHigh])
	require.True(t, ok)
	assert.Equal(t, 1200, w)
	assert.Equal(t, 600, h)

	_, _, _, ok = reencodeJPEG([]byte("not a jpeg"), 50, 0)
	assert.False(t, ok)
}

func TestDecryptWithPassword(t *testing.T) {
	conf := pdfConfig("secret")
	var enc bytes.Buffer
	require.NoError(t, api.Encrypt(bytes.NewReader(makePDF(t, "locked")), &enc, conf))

	d := &Decrypt{logger: testLogger(t)}
	out, err := d.Run(context.Background(), pdfInput("l.pdf", enc.Bytes()), options.Values{"password": "secret"}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, 1, countPages(t, out.Data))

	_, err = d.Run(context.Background(), pdfInput("l.pdf", enc.Bytes()), options.Values{"password": "wrong"}, converter.NopReporter)
	assert.Error(t, err)
}

func TestPDFToDocxAndBack(t *testing.T) {
	log := testLogger(t)
	rec := &recorder{}

	out, err := NewTextToDocx(log).Run(context.Background(), pdfInput("a.pdf", makePDF(t, "Hello page one", "Hello page two")), options.Values{"pageBreaks": true}, rec)
	require.NoError(t, err)
	rec.assertMonotonic(t)

	paras, err := readDocx(converter.File{Name: "a.docx", Data: out.Data})
	require.NoError(t, err)
	var text []string
	breaks := 0
	for _, p := range paras {
		text = append(text, p.Text)
		if p.PageBreak {
			breaks++
		}
	}
	assert.Contains(t, strings.Join(text, "\n"), "Hello page one")
	assert.Equal(t, 1, breaks)

	docx := converter.Input{Files: []converter.File{{Name: "a.docx", Data: out.Data}}}
	back := NewDocxToPDF(log)
	require.True(t, back.Accepts(docx))
	pdfOut, err := back.Run(context.Background(), docx, options.Values{"pageSize": "A4", "orientation": "portrait", "fontSize": 11}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, 2, countPages(t, pdfOut.Data))

	again, err := back.Run(context.Background(), docx, options.Values{"pageSize": "A4", "orientation": "portrait", "fontSize": 11}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, pdfOut.Data, again.Data)
}

func TestDocxToPDFRefusesLegacyDoc(t *testing.T) {
	doc := append(append([]byte{}, oleMagic...), make([]byte, 512)...)
	in := converter.Input{Files: []converter.File{{Name: "old.doc", Data: doc}}}

	s := NewDocxToPDF(testLogger(t))
	require.True(t, s.Accepts(in))
	_, err := s.Run(context.Background(), in, options.Values{}, converter.NopReporter)
	assert.Equal(t, models.FailureUnsupported, converter.KindOf(err))
}

func TestPDFToExcelSheetPerPage(t *testing.T) {
	s := NewTextToXlsx(testLogger(t))
	out, err := s.Run(context.Background(), pdfInput("t.pdf", makePDF(t, "alpha", "beta")), options.Values{"sheetPerPage": true, "splitColumns": true}, converter.NopReporter)
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(out.Data))
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, []string{"Page 1", "Page 2"}, wb.GetSheetList())
}

func TestRowCellsSplitsOnGaps(t *testing.T) {
	row := []pdf.Text{
		{X: 0, W: 20, S: "Name", FontSize: 10},
		{X: 20, W: 5, S: "s", FontSize: 10},
		{X: 100, W: 20, S: "Age", FontSize: 10},
	}
	assert.Equal(t, []string{"Names", "Age"}, rowCells(row, true))
	assert.Equal(t, []string{"NamesAge"}, rowCells(row, false))
	assert.Empty(t, rowCells(nil, true))
}

func TestCorruptPDF(t *testing.T) {
	_, err := extractPages(context.Background(), testLogger(t), converter.File{Name: "x.pdf", Data: []byte("%PDF-1.4 garbage")}, false, converter.NopReporter, 0, 100)
	assert.Equal(t, models.FailureCorrupt, converter.KindOf(err))
}

type fakeDetector struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeDetector) DetectDocumentText(_ context.Context, in *textract.DetectDocumentTextInput, _ ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &textract.DetectDocumentTextOutput{Blocks: []types.Block{
		{BlockType: types.BlockTypePage},
		{BlockType: types.BlockTypeLine, Text: aws.String("clear line"), Confidence: aws.Float32(99)},
		{BlockType: types.BlockTypeLine, Text: aws.String("smudge"), Confidence: aws.Float32(20)},
	}}, nil
}

func TestOCRPerPage(t *testing.T) {
	det := &fakeDetector{}
	o := NewOCR(det, testLogger(t))
	in := pdfInput("scan.pdf", makePDF(t, "1", "2"))
	require.True(t, o.Accepts(in))

	out, err := o.Run(context.Background(), in, options.Values{"minConfidence": 50}, converter.NopReporter)
	require.NoError(t, err)
	assert.Equal(t, 2, det.calls)
	assert.Equal(t, 2, strings.Count(string(out.Data), "clear line"))
	assert.NotContains(t, string(out.Data), "smudge")
}

func TestOCRDisabled(t *testing.T) {
	o := NewOCR(nil, testLogger(t))
	_, err := o.Run(context.Background(), pdfInput("scan.pdf", makePDF(t, "1")), options.Values{}, converter.NopReporter)
	assert.Equal(t, models.FailureUnsupported, converter.KindOf(err))
}
