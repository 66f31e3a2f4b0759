package archive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// RepackParams select the output container and whether the inputs are the
// members themselves rather than archives to unpack.
type RepackParams struct {
	Format     string `yaml:"format"`
	PackInputs bool   `yaml:"packInputs"`
}

// Repack unpacks an archive, or takes the uploads as they are, and writes
// the members into a new ZIP or TAR sorted by name.
type Repack struct {
	params RepackParams
	limits Limits
	logger logger.Logger
}

func NewRepack(p RepackParams, limits Limits, log logger.Logger) (*Repack, error) {
	switch p.Format {
	case "zip", "tar":
	default:
		return nil, fmt.Errorf("repack: unsupported output format %q", p.Format)
	}
	return &Repack{params: p, limits: limits, logger: log}, nil
}

func (r *Repack) Name() string { return "repack" }

func (r *Repack) Accepts(in converter.Input) bool {
	if len(in.Files) == 0 {
		return false
	}
	if r.params.PackInputs {
		return true
	}
	return Detect(in.First().Data) != ""
}

func (r *Repack) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	var (
		entries []entry
		err     error
	)
	if r.params.PackInputs {
		entries, err = r.inputsAsEntries(in)
	} else {
		entries, err = extract(ctx, in.First(), r.limits)
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, converter.Unsupported("%s contains no files", in.First().Name)
	}
	if err := converter.Checkpoint(ctx, progress, 40); err != nil {
		return nil, err
	}
	entries = normalize(entries)

	var data []byte
	switch r.params.Format {
	case "tar":
		data, err = writeTar(ctx, entries, progress, 40, 95)
	default:
		data, err = writeZip(ctx, entries, Level(opts.String("level")), progress, 40, 95)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Repacked archive",
		logger.String("format", r.params.Format),
		logger.Int("entries", len(entries)),
		logger.Int("bytes", len(data)),
	)
	return &converter.Output{Data: data}, converter.Checkpoint(ctx, progress, 100)
}

func (r *Repack) inputsAsEntries(in converter.Input) ([]entry, error) {
	if len(in.Files) > r.limits.MaxEntries {
		return nil, converter.ResourceExceeded("more than %d files", r.limits.MaxEntries)
	}
	var total int64
	entries := make([]entry, 0, len(in.Files))
	for i, f := range in.Files {
		total += int64(len(f.Data))
		if total > r.limits.MaxBytes {
			return nil, converter.ResourceExceeded("inputs exceed %d bytes", r.limits.MaxBytes)
		}
		entries = append(entries, entry{Name: baseName(f.Name, i), Data: f.Data})
	}
	return entries, nil
}

// baseName keeps only the final element of an upload name.
func baseName(name string, i int) string {
	n := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if n == "." || n == "/" || n == "" || n == ".." {
		return fmt.Sprintf("file-%d", i+1)
	}
	return n
}
