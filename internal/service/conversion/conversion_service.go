package conversion

import (
	"context"

	"github.com/feichai0017/file-converter/internal/artifact"
	"github.com/feichai0017/file-converter/internal/library"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/registry"
)

// Converter is the inbound surface the HTTP handlers talk to.
type Converter interface {
	Tools() []*registry.ToolDefinition
	Tool(toolID string) (*registry.ToolDefinition, error)

	Submit(ctx context.Context, req SubmitRequest) (*models.Job, error)
	// SubmitBatch creates one job per file. On error it returns the jobs
	// created before the failure.
	SubmitBatch(ctx context.Context, req SubmitRequest) ([]*models.Job, error)
	PollStatus(ctx context.Context, jobID string) (*models.Job, error)
	Events(ctx context.Context, jobID string) (<-chan models.ProgressUpdate, error)
	Download(ctx context.Context, jobID string) (*artifact.Artifact, error)
	Cancel(ctx context.Context, jobID string) (*models.Job, error)

	SaveToAccount(ctx context.Context, userID string, authenticated bool, jobID string) (*library.Entry, error)
	Library(ctx context.Context, userID string, authenticated bool) ([]library.Entry, error)
}

type SubmitRequest struct {
	ToolID  string
	Files   []artifact.Upload
	Options map[string]any
}
