// Package media runs audio and video tools through an ffmpeg subprocess.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// maxStderr bounds how much ffmpeg diagnostics are kept for error messages.
const maxStderr = 8 << 10

// Config locates the ffmpeg binary and its scratch space.
type Config struct {
	Binary  string
	TempDir string
}

// Register adds the ffmpeg strategy kind to f.
func Register(f *converter.Factory, log logger.Logger, cfg Config) {
	log = log.Named("media")
	f.Register("ffmpeg", func(def *registry.ToolDefinition) (converter.Strategy, error) {
		var p Params
		if err := def.DecodeParams(&p); err != nil {
			return nil, err
		}
		return NewFFmpeg(p, cfg, log)
	})
}

// FFmpeg converts one input file with a profile-specific argument list.
type FFmpeg struct {
	params Params
	cfg    Config
	logger logger.Logger
}

func NewFFmpeg(p Params, cfg Config, log logger.Logger) (*FFmpeg, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	return &FFmpeg{params: p, cfg: cfg, logger: log}, nil
}

func (s *FFmpeg) Name() string { return "ffmpeg" }

// Accepts only rules out empty input; ffmpeg itself decides whether the
// stream is decodable.
func (s *FFmpeg) Accepts(in converter.Input) bool {
	return len(in.Files) > 0 && len(in.First().Data) > 0
}

func (s *FFmpeg) Run(ctx context.Context, in converter.Input, opts options.Values, progress converter.Reporter) (*converter.Output, error) {
	f := in.First()
	if err := converter.Checkpoint(ctx, progress, 0); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(s.cfg.TempDir, "ffmpeg-*")
	if err != nil {
		return nil, converter.Internal(fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(dir)

	inExt := inputExt(f, s.params.NoVideo)
	outExt := inExt
	if s.params.Format != "" {
		outExt = formatExt[s.params.Format]
	}
	input := filepath.Join(dir, "input"+inExt)
	output := filepath.Join(dir, "output"+outExt)
	if err := os.WriteFile(input, f.Data, 0o600); err != nil {
		return nil, converter.Internal(fmt.Errorf("write input: %w", err))
	}

	args, err := BuildArgs(s.params, opts, input, output)
	if err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...)
	cmd.Stderr = &limitedWriter{buf: &stderr, max: maxStderr}
	cmd.WaitDelay = 5 * time.Second

	started := time.Now()
	s.logger.Debug("Running ffmpeg", logger.String("profile", string(s.params.Profile)), logger.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, converter.Internal(fmt.Errorf("ffmpeg binary %q: %w", s.cfg.Binary, err))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, converter.Corrupt("%s could not be converted: %s", f.Name, lastLine(stderr.String()))
		}
		return nil, converter.Internal(err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, converter.Internal(fmt.Errorf("read output: %w", err))
	}
	if len(data) == 0 {
		return nil, converter.Corrupt("%s produced no output", f.Name)
	}
	s.logger.Debug("ffmpeg finished",
		logger.String("profile", string(s.params.Profile)),
		logger.Int("bytes", len(data)),
		logger.Duration("elapsed", time.Since(started)),
	)

	out := &converter.Output{Data: data}
	if s.params.Format == "" {
		out.Extension = outExt
	}
	return out, converter.Checkpoint(ctx, progress, 100)
}

// inputExt keeps the upload's extension so ffmpeg can pick a demuxer, falling
// back to the declared MIME type.
func inputExt(f converter.File, audioOnly bool) string {
	if ext := strings.ToLower(filepath.Ext(f.Name)); ext != "" && len(ext) <= 6 {
		return ext
	}
	if f.MimeType != "" {
		if exts, err := mime.ExtensionsByType(f.MimeType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if audioOnly {
		return ".mka"
	}
	return ".mkv"
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return "ffmpeg failed"
	}
	return last
}

type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
