// Package archive holds the strategies that read and write archives.
package archive

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/pkg/logger"
)

const (
	defaultMaxEntries = 10_000
	defaultMaxBytes   = 1 << 30
)

// epoch is stamped on every written entry so identical input yields
// identical archives.
var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Limits bound what an extraction may expand to.
type Limits struct {
	MaxEntries int
	MaxBytes   int64
}

func DefaultLimits() Limits {
	return Limits{MaxEntries: defaultMaxEntries, MaxBytes: defaultMaxBytes}
}

// Register adds the archive strategy kinds to f.
func Register(f *converter.Factory, log logger.Logger) {
	log = log.Named("archive")
	f.Register("repack", func(def *registry.ToolDefinition) (converter.Strategy, error) {
		var p RepackParams
		if err := def.DecodeParams(&p); err != nil {
			return nil, err
		}
		return NewRepack(p, DefaultLimits(), log)
	})
	f.Register("zip-encrypt", func(*registry.ToolDefinition) (converter.Strategy, error) {
		return &Encrypt{limits: DefaultLimits(), logger: log}, nil
	})
}

type entry struct {
	Name string
	Data []byte
}

// Format identifies an archive container by its leading bytes.
type Format string

const (
	FormatZip      Format = "zip"
	FormatTar      Format = "tar"
	FormatGzip     Format = "gzip"
	FormatSevenZip Format = "7z"
	FormatRar      Format = "rar"
)

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
	sevenZipMagic = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}
	rarMagic      = []byte("Rar!\x1a\x07")
)

// Detect sniffs data and returns "" when it is no known archive.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, zipMagic), bytes.HasPrefix(data, zipEmptyMagic):
		return FormatZip
	case bytes.HasPrefix(data, gzipMagic):
		return FormatGzip
	case bytes.HasPrefix(data, sevenZipMagic):
		return FormatSevenZip
	case bytes.HasPrefix(data, rarMagic):
		return FormatRar
	case len(data) >= 262 && string(data[257:262]) == "ustar":
		return FormatTar
	}
	return ""
}

// cleanName turns an archive member name into a relative slash path. It
// rejects names that would land outside the extraction root.
func cleanName(name string) (string, error) {
	n := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(n, "/") || (len(n) > 1 && n[1] == ':') {
		return "", converter.Corrupt("archive member %q has an absolute path", name)
	}
	n = path.Clean(n)
	if n == ".." || strings.HasPrefix(n, "../") {
		return "", converter.Corrupt("archive member %q escapes the archive root", name)
	}
	if n == "." {
		return "", converter.Corrupt("archive member has an empty name")
	}
	return n, nil
}

// normalize sorts entries by name and renames duplicates to "name-2.ext".
func normalize(entries []entry) []entry {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		name := entries[i].Name
		if seen[name] {
			ext := path.Ext(name)
			base := strings.TrimSuffix(name, ext)
			for n := 2; seen[name]; n++ {
				name = fmt.Sprintf("%s-%d%s", base, n, ext)
			}
			entries[i].Name = name
		}
		seen[name] = true
	}
	return entries
}
