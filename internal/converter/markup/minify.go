package markup

import (
	"context"
	"fmt"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// MinifyParams name the media type a minify tool handles.
type MinifyParams struct {
	MediaType string `yaml:"mediaType"`
}

// Minify strips whitespace and comments from JavaScript, CSS or HTML.
type Minify struct {
	mediaType string
	logger    logger.Logger
}

func NewMinify(p MinifyParams, log logger.Logger) (*Minify, error) {
	switch p.MediaType {
	case "application/javascript", "text/css", "text/html":
	default:
		return nil, fmt.Errorf("minify: unsupported media type %q", p.MediaType)
	}
	return &Minify{mediaType: p.MediaType, logger: log}, nil
}

func (m *Minify) Name() string { return "minify" }

func (m *Minify) Accepts(in converter.Input) bool { return isText(in) }

func (m *Minify) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	if err := converter.Checkpoint(ctx, progress, 10); err != nil {
		return nil, err
	}

	mf := newMinifier(opts.Bool("keepComments"))
	out, err := mf.Bytes(m.mediaType, text(f))
	if err != nil {
		return nil, converter.Corrupt("%s could not be parsed: %v", f.Name, err)
	}
	m.logger.Debug("Minified",
		logger.String("mediaType", m.mediaType),
		logger.Int("before", len(f.Data)),
		logger.Int("after", len(out)),
	)
	return &converter.Output{Data: out}, converter.Checkpoint(ctx, progress, 100)
}

// newMinifier registers all three minifiers so inline scripts and styles in
// HTML are minified too.
func newMinifier(keepComments bool) *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("text/javascript", js.Minify)
	m.Add("text/html", &html.Minifier{KeepComments: keepComments, KeepDocumentTags: true})
	return m
}
