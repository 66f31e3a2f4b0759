package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/file-converter/config"
	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// TextDetector is the slice of the Textract client OCR needs.
type TextDetector interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// NewTextractClient builds a Textract client from cfg. It returns nil when
// OCR is disabled.
func NewTextractClient(ctx context.Context, cfg *config.TextractConfig) (*textract.Client, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	}), nil
}

// OCR recognises text page by page. PDFs are cut into single pages first
// because the synchronous Textract API takes one page per call.
type OCR struct {
	client TextDetector
	logger logger.Logger
}

func NewOCR(client TextDetector, log logger.Logger) *OCR {
	return &OCR{client: client, logger: log}
}

func (o *OCR) Name() string { return "pdf-ocr" }

func (o *OCR) Accepts(in converter.Input) bool {
	d := in.First().Data
	return isPDF(d) ||
		bytes.HasPrefix(d, []byte{0xFF, 0xD8, 0xFF}) ||
		bytes.HasPrefix(d, []byte("\x89PNG\r\n\x1a\n"))
}

func (o *OCR) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	if o.client == nil {
		return nil, converter.Unsupported("OCR is not enabled on this server")
	}
	f := in.First()
	minConfidence := float32(opts.Int("minConfidence"))

	pages := [][]byte{f.Data}
	if isPDF(f.Data) {
		conf := pdfConfig("")
		n, err := pageCount(f, conf)
		if err != nil {
			return nil, err
		}
		pages = make([][]byte, 0, n)
		for i := 1; i <= n; i++ {
			page, err := trimPages(f, []string{fmt.Sprint(i)}, conf)
			if err != nil {
				return nil, err
			}
			pages = append(pages, page)
		}
	}
	if err := converter.Checkpoint(ctx, progress, 5); err != nil {
		return nil, err
	}

	var out strings.Builder
	for i, page := range pages {
		res, err := o.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
			Document: &types.Document{Bytes: page},
		})
		if err != nil {
			return nil, classifyTextractError(i+1, err)
		}
		if i > 0 {
			out.WriteString("\n\f\n")
		}
		for _, line := range linesOf(res.Blocks, minConfidence) {
			out.WriteString(line)
			out.WriteByte('\n')
		}
		if err := converter.Checkpoint(ctx, progress, converter.Scale(5, 95, i+1, len(pages))); err != nil {
			return nil, err
		}
	}

	o.logger.Debug("OCR finished", logger.String("file", f.Name), logger.Int("pages", len(pages)))
	return &converter.Output{Data: []byte(out.String())}, converter.Checkpoint(ctx, progress, 100)
}

func linesOf(blocks []types.Block, minConfidence float32) []string {
	var lines []string
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < minConfidence {
			continue
		}
		lines = append(lines, *block.Text)
	}
	return lines
}

func classifyTextractError(page int, err error) error {
	var (
		unsupported *types.UnsupportedDocumentException
		bad         *types.BadDocumentException
		tooLarge    *types.DocumentTooLargeException
		invalid     *types.InvalidParameterException
	)
	switch {
	case errors.As(err, &unsupported):
		return converter.Unsupported("page %d: format not supported by OCR", page)
	case errors.As(err, &bad):
		return converter.Corrupt("page %d: OCR could not read the page", page)
	case errors.As(err, &tooLarge):
		return converter.ResourceExceeded("page %d is too large for OCR", page)
	case errors.As(err, &invalid):
		return converter.Unsupported("page %d: %v", page, err)
	}
	// Throttling and transport errors stay untyped and so are retried.
	return fmt.Errorf("detect text on page %d: %w", page, err)
}
