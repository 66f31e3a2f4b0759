package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// TextToDocx lays the text of each PDF page out as Word paragraphs.
type TextToDocx struct {
	logger logger.Logger
}

func NewTextToDocx(log logger.Logger) *TextToDocx {
	return &TextToDocx{logger: log}
}

func (s *TextToDocx) Name() string { return "pdf-text-docx" }

func (s *TextToDocx) Accepts(in converter.Input) bool { return allPDF(in) }

func (s *TextToDocx) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	pages, err := extractPages(ctx, s.logger, in.First(), false, progress, 0, 80)
	if err != nil {
		return nil, err
	}

	doc := &docxBuilder{}
	for i, p := range pages {
		if i > 0 && opts.Bool("pageBreaks") {
			doc.PageBreak()
		}
		for _, line := range cleanText(p.Text) {
			doc.Paragraph(line)
		}
	}
	data, err := doc.Bytes()
	if err != nil {
		return nil, converter.Internal(err)
	}
	return &converter.Output{Data: data}, converter.Checkpoint(ctx, progress, 100)
}

const (
	wordNS        = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	contentTypes  = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`
	packageRels   = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`
	documentStart = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" + `<w:document xmlns:w="` + wordNS + `"><w:body>`
	documentEnd   = `<w:sectPr><w:pgSz w:w="11906" w:h="16838"/><w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440"/></w:sectPr></w:body></w:document>`
)

// docxBuilder writes the smallest valid WordprocessingML package.
type docxBuilder struct {
	body bytes.Buffer
}

func (b *docxBuilder) Paragraph(text string) {
	if text == "" {
		b.body.WriteString(`<w:p/>`)
		return
	}
	b.body.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
	xml.EscapeText(&b.body, []byte(text))
	b.body.WriteString(`</w:t></w:r></w:p>`)
}

func (b *docxBuilder) PageBreak() {
	b.body.WriteString(`<w:p><w:r><w:br w:type="page"/></w:r></w:p>`)
}

func (b *docxBuilder) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct{ name, body string }{
		{"[Content_Types].xml", contentTypes},
		{"_rels/.rels", packageRels},
		{"word/document.xml", documentStart + b.body.String() + documentEnd},
	}
	for _, p := range parts {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: p.name, Method: zip.Deflate, Modified: zipEpoch})
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, p.body); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// docParagraph is one paragraph read back from a .docx.
type docParagraph struct {
	Text      string
	Style     string
	PageBreak bool
}

// readDocx pulls the paragraphs out of word/document.xml.
func readDocx(f converter.File) ([]docParagraph, error) {
	zr, err := zip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		return nil, converter.Corrupt("%s is not a valid .docx package: %v", f.Name, err)
	}

	var part *zip.File
	for _, zf := range zr.File {
		if zf.Name == "word/document.xml" {
			part = zf
			break
		}
	}
	if part == nil {
		return nil, converter.Corrupt("%s has no word/document.xml", f.Name)
	}
	rc, err := part.Open()
	if err != nil {
		return nil, converter.Corrupt("%s: %v", f.Name, err)
	}
	defer rc.Close()

	var (
		paras   []docParagraph
		current *docParagraph
		inText  bool
		text    strings.Builder
	)
	dec := xml.NewDecoder(io.LimitReader(rc, 64<<20))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, converter.Corrupt("%s: malformed document.xml: %v", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				current = &docParagraph{}
				text.Reset()
			case "t":
				inText = true
			case "tab":
				text.WriteString("    ")
			case "br":
				if attr(t, "type") == "page" && current != nil {
					current.PageBreak = true
				} else {
					text.WriteString("\n")
				}
			case "pStyle":
				if current != nil {
					current.Style = attr(t, "val")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if current != nil {
					current.Text = text.String()
					paras = append(paras, *current)
					current = nil
				}
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	return paras, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func headingLevel(style string) int {
	var n int
	if _, err := fmt.Sscanf(strings.ToLower(style), "heading%d", &n); err == nil {
		return n
	}
	if strings.EqualFold(style, "Title") {
		return 1
	}
	return 0
}
