package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/feichai0017/file-converter/config"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/pkg/logger"
)

func TestEveryCatalogToolBinds(t *testing.T) {
	log := logger.NewZap(zaptest.NewLogger(t))
	reg, err := registry.Default()
	require.NoError(t, err)

	table, err := Table(log, Deps{}, reg)
	require.NoError(t, err)

	for _, def := range reg.Tools() {
		s, err := table.Get(def.ID)
		require.NoError(t, err, def.ID)
		assert.Equal(t, def.Strategy, s.Name(), def.ID)
	}
}

func TestFactoryKinds(t *testing.T) {
	f := NewFactory(logger.NewNop(), Deps{})
	assert.Equal(t, []string{
		"csv-yaml", "docx-pdf", "ffmpeg", "image-compress", "image-crop", "image-encode",
		"image-resize", "json-xml", "minify", "pdf-decrypt", "pdf-merge", "pdf-ocr",
		"pdf-optimize", "pdf-split", "pdf-text-docx", "pdf-xlsx", "repack",
		"svg-rasterize", "xml-json", "yaml-csv", "zip-encrypt",
	}, f.Kinds())
}

func TestDepsFromConfigWithoutOCR(t *testing.T) {
	cfg := config.Default()
	deps, err := DepsFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, deps.OCR)
	assert.Equal(t, "ffmpeg", deps.FFmpeg.Binary)
}
