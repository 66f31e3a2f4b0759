package engine

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/registry"
)

const fallbackMIME = "application/octet-stream"

// OutputName derives the artifact's suggested filename and MIME type from the
// tool's naming rule, the primary input and any strategy override.
func OutputName(def *registry.ToolDefinition, inputs []models.InputRef, out *converter.Output) (filename, mimeType string) {
	var primary models.InputRef
	if len(inputs) > 0 {
		primary = inputs[0]
	}
	inExt := filepath.Ext(primary.Name)
	base := strings.TrimSuffix(filepath.Base(primary.Name), inExt)
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "output"
	}

	ext := def.Output.Extension
	if out != nil && out.Extension != "" {
		ext = out.Extension
	}
	if ext == registry.SameAsInput {
		ext = inExt
	}

	mimeType = def.Output.MIME
	if out != nil && out.MimeType != "" {
		mimeType = out.MimeType
	}
	if mimeType == registry.SameAsInput {
		mimeType = sameMIME(primary, ext)
	}

	switch def.Output.Naming {
	case registry.NamingFixed:
		filename = def.Output.Filename
		if out != nil && out.Extension != "" {
			filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + out.Extension
		}
	case registry.NamingSuffix:
		filename = base + def.Output.Suffix + ext
	default:
		filename = base + ext
	}
	return filename, mimeType
}

func sameMIME(in models.InputRef, ext string) string {
	if m := in.MimeType; m != "" && m != fallbackMIME {
		if parsed, _, err := mime.ParseMediaType(m); err == nil {
			return parsed
		}
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		if parsed, _, err := mime.ParseMediaType(m); err == nil {
			return parsed
		}
	}
	return fallbackMIME
}
