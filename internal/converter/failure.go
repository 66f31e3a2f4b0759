package converter

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/file-converter/internal/models"
)

// ErrCancelled is returned by a Reporter once cancellation was requested.
var ErrCancelled = errors.New("job cancelled")

// Failure is a typed strategy failure.
type Failure struct {
	Kind models.FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func Unsupported(format string, args ...any) error {
	return &Failure{Kind: models.FailureUnsupported, Err: fmt.Errorf(format, args...)}
}

func Corrupt(format string, args ...any) error {
	return &Failure{Kind: models.FailureCorrupt, Err: fmt.Errorf(format, args...)}
}

func ResourceExceeded(format string, args ...any) error {
	return &Failure{Kind: models.FailureResourceExceeded, Err: fmt.Errorf(format, args...)}
}

func Internal(err error) error {
	return &Failure{Kind: models.FailureInternal, Err: err}
}

// KindOf classifies err. Context errors map to Timeout and Cancelled;
// anything untyped is Internal.
func KindOf(err error) models.FailureKind {
	var f *Failure
	switch {
	case errors.As(err, &f):
		return f.Kind
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return models.FailureCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return models.FailureTimeout
	}
	return models.FailureInternal
}

// Message is the caller-facing text for err. Internal failures never leak
// their cause.
func Message(err error) string {
	switch KindOf(err) {
	case models.FailureInternal:
		return "internal error"
	case models.FailureTimeout:
		return "conversion exceeded its time budget"
	case models.FailureCancelled:
		return "conversion was cancelled"
	}
	var f *Failure
	if errors.As(err, &f) && f.Err != nil {
		return f.Err.Error()
	}
	return err.Error()
}
