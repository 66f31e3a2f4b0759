package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/file-converter/api/middleware"
	"github.com/feichai0017/file-converter/internal/artifact"
	"github.com/feichai0017/file-converter/internal/models"
	"github.com/feichai0017/file-converter/internal/service/conversion"
	"github.com/feichai0017/file-converter/pkg/logger"
)

// optionFieldPrefix marks a multipart field carrying a single option.
const optionFieldPrefix = "opt."

type ConversionHandler struct {
	service        conversion.Converter
	maxUploadBytes int64
	logger         logger.Logger
}

// SubmitResponse is returned for every accepted job.
type SubmitResponse struct {
	JobID     string           `json:"jobId"`
	ToolID    string           `json:"toolId"`
	Status    models.JobStatus `json:"status"`
	CreatedAt string           `json:"createdAt"`
}

func NewConversionHandler(service conversion.Converter, maxUploadBytes int64, log logger.Logger) *ConversionHandler {
	return &ConversionHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		logger:         log.Named("http"),
	}
}

func submitResponse(job *models.Job) SubmitResponse {
	return SubmitResponse{
		JobID:     job.ID,
		ToolID:    job.ToolID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}
}

// Submit queues one job for all uploaded files.
func (h *ConversionHandler) Submit(c *gin.Context) {
	req, err := h.parseSubmit(c)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	job, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, submitResponse(job))
}

// SubmitBatch queues one job per uploaded file.
func (h *ConversionHandler) SubmitBatch(c *gin.Context) {
	req, err := h.parseSubmit(c)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	jobs, err := h.service.SubmitBatch(c.Request.Context(), req)
	if err != nil && len(jobs) == 0 {
		handleError(c, h.logger, err)
		return
	}

	responses := make([]SubmitResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = submitResponse(job)
	}
	body := gin.H{
		"message": fmt.Sprintf("Queued %d of %d files", len(jobs), len(req.Files)),
		"jobs":    responses,
	}
	if err != nil {
		_, e := classify(err)
		body["error"] = e
	}
	c.JSON(http.StatusAccepted, body)
}

func (h *ConversionHandler) Status(c *gin.Context) {
	job, err := h.service.PollStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Events streams progress updates as server-sent events until the job
// finishes or the client goes away.
func (h *ConversionHandler) Events(c *gin.Context) {
	updates, err := h.service.Events(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	for u := range updates {
		c.SSEvent("progress", u)
		c.Writer.Flush()
	}
}

func (h *ConversionHandler) Download(c *gin.Context) {
	art, err := h.service.Download(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	defer art.Body.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": art.Ref.Filename})
	c.DataFromReader(http.StatusOK, art.Ref.Size, art.Ref.MimeType, art.Body, map[string]string{
		"Content-Disposition": disposition,
	})
}

func (h *ConversionHandler) Cancel(c *gin.Context) {
	job, err := h.service.Cancel(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *ConversionHandler) Save(c *gin.Context) {
	userID, authenticated := middleware.Identity(c)
	entry, err := h.service.SaveToAccount(c.Request.Context(), userID, authenticated, c.Param("jobId"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *ConversionHandler) Library(c *gin.Context) {
	userID, authenticated := middleware.Identity(c)
	entries, err := h.service.Library(c.Request.Context(), userID, authenticated)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// parseSubmit reads the multipart form: the tool id, the files under "file"
// or "files", and options either as one JSON object in "options" or as
// individual "opt.<key>" fields.
func (h *ConversionHandler) parseSubmit(c *gin.Context) (conversion.SubmitRequest, error) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return conversion.SubmitRequest{}, fmt.Errorf("%w: upload exceeds %d bytes", errTooLarge, tooLarge.Limit)
		}
		return conversion.SubmitRequest{}, fmt.Errorf("%w: invalid form data: %v", errBadRequest, err)
	}

	req := conversion.SubmitRequest{ToolID: strings.TrimSpace(first(form.Value["tool"]))}
	if req.ToolID == "" {
		return req, fmt.Errorf("%w: tool is required", errBadRequest)
	}

	headers := append(append([]*multipart.FileHeader(nil), form.File["file"]...), form.File["files"]...)
	for _, fh := range headers {
		up, err := readUpload(fh)
		if err != nil {
			return req, err
		}
		req.Files = append(req.Files, up)
	}

	req.Options, err = parseOptions(form.Value)
	if err != nil {
		return req, err
	}
	return req, nil
}

func readUpload(fh *multipart.FileHeader) (artifact.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return artifact.Upload{}, fmt.Errorf("%w: open %s: %v", errBadRequest, fh.Filename, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return artifact.Upload{}, fmt.Errorf("%w: read %s: %v", errBadRequest, fh.Filename, err)
	}
	return artifact.Upload{
		Name:     fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Data:     buf.Bytes(),
	}, nil
}

func parseOptions(values map[string][]string) (map[string]any, error) {
	opts := map[string]any{}
	if raw := first(values["options"]); strings.TrimSpace(raw) != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("%w: options must be a JSON object: %v", errBadRequest, err)
		}
	}
	for key, vals := range values {
		if name, ok := strings.CutPrefix(key, optionFieldPrefix); ok && name != "" {
			opts[name] = first(vals)
		}
	}
	return opts, nil
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
