// Package converter defines the strategy contract every format transform
// satisfies and the table that binds tool ids to configured strategies.
package converter

import (
	"context"

	"github.com/feichai0017/file-converter/internal/options"
)

// File is one input loaded into memory.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

type Input struct {
	Files []File
}

// First returns the primary input; single-file tools only look at this one.
func (in Input) First() File {
	if len(in.Files) == 0 {
		return File{}
	}
	return in.Files[0]
}

// Size is the total input byte count.
func (in Input) Size() int64 {
	var n int64
	for _, f := range in.Files {
		n += int64(len(f.Data))
	}
	return n
}

// Output is what a strategy produces. MimeType and Extension override the
// tool's declared output when set.
type Output struct {
	Data      []byte
	MimeType  string
	Extension string
}

// Reporter receives progress checkpoints. A non-nil error means the job
// should stop; strategies return it unchanged.
type Reporter interface {
	Report(percent int) error
}

type ReporterFunc func(percent int) error

func (f ReporterFunc) Report(percent int) error { return f(percent) }

// NopReporter discards progress.
var NopReporter Reporter = ReporterFunc(func(int) error { return nil })

// Strategy is one format transform bound to a tool.
type Strategy interface {
	Name() string
	// Accepts looks at content, not names, and is cheap.
	Accepts(in Input) bool
	Run(ctx context.Context, in Input, opts options.Values, progress Reporter) (*Output, error)
}

// Checkpoint reports pct after checking ctx, so long loops stop promptly
// on timeout and cancellation.
func Checkpoint(ctx context.Context, progress Reporter, pct int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return progress.Report(pct)
}

// Scale maps step i of n onto the [from, to] progress span.
func Scale(from, to, i, n int) int {
	if n <= 0 {
		return to
	}
	return from + (to-from)*i/n
}
