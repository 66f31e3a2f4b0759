// Package markup holds the text and data-format strategies.
package markup

import (
	"bytes"
	"unicode/utf8"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// maxRecords bounds the rows a tabular conversion will hold in memory.
const maxRecords = 1_000_000

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Register adds the markup strategy kinds to f.
func Register(f *converter.Factory, log logger.Logger) {
	log = log.Named("markup")
	f.Register("csv-yaml", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &CSVToYAML{logger: log}, nil
	})
	f.Register("yaml-csv", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &YAMLToCSV{logger: log}, nil
	})
	f.Register("json-xml", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &JSONToXML{logger: log}, nil
	})
	f.Register("xml-json", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &XMLToJSON{logger: log}, nil
	})
	f.Register("minify", func(def *registry.ToolDefinition) (converter.Strategy, error) {
		var p MinifyParams
		if err := def.DecodeParams(&p); err != nil {
			return nil, err
		}
		return NewMinify(p, log)
	})
}

func text(f converter.File) []byte {
	return bytes.TrimPrefix(f.Data, utf8BOM)
}

func isText(in converter.Input) bool {
	if len(in.Files) == 0 {
		return false
	}
	return utf8.Valid(text(in.First()))
}

func delimiter(name string) rune {
	switch name {
	case "semicolon":
		return ';'
	case "tab":
		return '\t'
	}
	return ','
}
