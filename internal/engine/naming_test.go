package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/registry"
)

func TestOutputName(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)

	tests := []struct {
		tool     string
		input    models.InputRef
		out      *converter.Output
		filename string
		mime     string
	}{
		{tool: "csv-to-yaml", input: models.InputRef{Name: "data.csv", MimeType: "text/csv"}, filename: "data.yaml", mime: "application/x-yaml"},
		{tool: "jpg-to-png", input: models.InputRef{Name: "holiday.photo.JPG"}, filename: "holiday.photo.png", mime: "image/png"},
		{tool: "resize-image", input: models.InputRef{Name: "cat.webp", MimeType: "image/webp"}, filename: "cat-resized.webp", mime: "image/webp"},
		{tool: "compress-image", input: models.InputRef{Name: "cat.png", MimeType: "application/octet-stream"}, filename: "cat-compressed.png", mime: "image/png"},
		{tool: "minify-css", input: models.InputRef{Name: "site.css"}, filename: "site.min.css", mime: "text/css"},
		{tool: "merge-pdf", input: models.InputRef{Name: "a.pdf"}, filename: "merged-document.pdf", mime: "application/pdf"},
		{tool: "split-pdf", input: models.InputRef{Name: "book.pdf"}, out: &converter.Output{MimeType: "application/zip", Extension: ".zip"}, filename: "book-split.zip", mime: "application/zip"},
		{tool: "webp-converter", input: models.InputRef{Name: "pic.png"}, out: &converter.Output{MimeType: "image/webp", Extension: ".webp"}, filename: "pic.webp", mime: "image/webp"},
		{tool: "compress-files", input: models.InputRef{Name: "x.txt"}, out: &converter.Output{Extension: ".tar"}, filename: "archive.tar", mime: "application/zip"},
		{tool: "csv-to-yaml", input: models.InputRef{Name: ""}, filename: "output.yaml", mime: "application/x-yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.input.Name, func(t *testing.T) {
			def, err := reg.Lookup(tt.tool)
			require.NoError(t, err)
			filename, mime := OutputName(def, []models.InputRef{tt.input}, tt.out)
			assert.Equal(t, tt.filename, filename)
			assert.Equal(t, tt.mime, mime)
		})
	}
}
