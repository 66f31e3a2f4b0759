// Package document holds the PDF and office document strategies.
package document

import (
	"bytes"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// maxPages bounds the work a single document may ask for.
const maxPages = 2000

func init() {
	// pdfcpu would otherwise create a config directory under $HOME.
	api.DisableConfigDir()
}

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Register adds the document strategy kinds to f.
func Register(f *converter.Factory, log logger.Logger, ocr TextDetector) {
	log = log.Named("document")
	f.Register("pdf-text-docx", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return NewTextToDocx(log), nil
	})
	f.Register("docx-pdf", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return NewDocxToPDF(log), nil
	})
	f.Register("pdf-xlsx", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return NewTextToXlsx(log), nil
	})
	f.Register("pdf-merge", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &Merge{logger: log}, nil
	})
	f.Register("pdf-split", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &Split{logger: log}, nil
	})
	f.Register("pdf-optimize", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &Optimize{logger: log}, nil
	})
	f.Register("pdf-decrypt", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &Decrypt{logger: log}, nil
	})
	f.Register("pdf-ocr", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return NewOCR(ocr, log), nil
	})
}

func isPDF(data []byte) bool {
	// Some producers put junk before the header; readers tolerate 1 KiB of it.
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, pdfMagic)
}

func allPDF(in converter.Input) bool {
	if len(in.Files) == 0 {
		return false
	}
	for _, f := range in.Files {
		if !isPDF(f.Data) {
			return false
		}
	}
	return true
}

func pdfConfig(password string) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if password != "" {
		conf.UserPW = password
		conf.OwnerPW = password
	}
	return conf
}

// classifyPDFError turns a pdfcpu error into a typed failure.
func classifyPDFError(name string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password"), strings.Contains(msg, "encrypt"):
		return converter.Unsupported("%s is password protected", name)
	case strings.Contains(msg, "context canceled"), strings.Contains(msg, "deadline exceeded"):
		return err
	default:
		return converter.Corrupt("%s could not be read as PDF: %v", name, err)
	}
}

func pageCount(f converter.File, conf *model.Configuration) (int, error) {
	n, err := api.PageCount(bytes.NewReader(f.Data), conf)
	if err != nil {
		return 0, classifyPDFError(f.Name, err)
	}
	if n > maxPages {
		return 0, converter.ResourceExceeded("%s has %d pages, the limit is %d", f.Name, n, maxPages)
	}
	if n == 0 {
		return 0, converter.Corrupt("%s has no pages", f.Name)
	}
	return n, nil
}

func trimPages(f converter.File, pages []string, conf *model.Configuration) ([]byte, error) {
	var buf bytes.Buffer
	if err := api.Trim(bytes.NewReader(f.Data), &buf, pages, conf); err != nil {
		return nil, classifyPDFError(f.Name, err)
	}
	return buf.Bytes(), nil
}
