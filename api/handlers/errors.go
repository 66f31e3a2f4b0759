package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/file-converter/internal/artifact"
	"github.com/feichai0017/file-converter/internal/library"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/internal/service/conversion"
	"github.com/feichai0017/file-converter/internal/tracker"
	"github.com/feichai0017/file-converter/pkg/logger"
	"github.com/feichai0017/file-converter/pkg/queue"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// errBadRequest marks malformed requests the handlers reject before the
// service sees them.
var errBadRequest = errors.New("bad request")

var errTooLarge = errors.New("request too large")

// classify maps a service error to its HTTP status and response body.
func classify(err error) (int, ErrorResponse) {
	var rejected *registry.InputRejectedError
	var invalid *options.ValidationError
	switch {
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "input_rejected", Message: rejected.Reason}
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "option_invalid", Message: invalid.Reason, Field: invalid.Field}
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload_too_large", Message: err.Error()}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()}
	case errors.Is(err, registry.ErrToolNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "unsupported_operation", Message: err.Error()}
	case errors.Is(err, queue.ErrCapacityExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "capacity_exceeded", Message: "too many conversions in flight, retry later"}
	case errors.Is(err, conversion.ErrNotReady):
		return http.StatusConflict, ErrorResponse{Error: "not_ready", Message: err.Error()}
	case errors.Is(err, tracker.ErrAlreadyTerminal):
		return http.StatusConflict, ErrorResponse{Error: "already_terminal", Message: err.Error()}
	case errors.Is(err, artifact.ErrExpired):
		return http.StatusGone, ErrorResponse{Error: "artifact_expired", Message: err.Error()}
	case errors.Is(err, tracker.ErrNotFound), errors.Is(err, artifact.ErrNotFound), errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()}
	case errors.Is(err, conversion.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: err.Error()}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "internal error"}
}

// handleError writes err as JSON. Only server-side failures are logged at
// error level; caller mistakes are logged at debug.
func handleError(c *gin.Context, log logger.Logger, err error) {
	status, body := classify(err)
	l := logger.FromContext(c.Request.Context(), log)
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		l.Error("Request failed", fields...)
	} else {
		l.Debug("Request rejected", fields...)
	}

	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(int(conversion.RetryAfter.Seconds())))
	}
	c.AbortWithStatusJSON(status, body)
}
