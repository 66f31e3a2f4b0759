package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-converter/internal/artifact"
	"github.com/feichai0017/file-converter/internal/library"
	"github.com/feichai0017/file-converter/internal/options"
	"github.com/feichai0017/file-converter/internal/registry"
	"github.com/feichai0017/file-converter/internal/service/conversion"
	"github.com/feichai0017/file-converter/internal/tracker"
	"github.com/feichai0017/file-converter/pkg/queue"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&registry.InputRejectedError{Reason: "expected PDF, got .png"}, http.StatusUnprocessableEntity, "input_rejected"},
		{fmt.Errorf("submit: %w", &options.ValidationError{Field: "quality", Reason: "below minimum 10"}), http.StatusUnprocessableEntity, "option_invalid"},
		{fmt.Errorf("%w: heic-to-jpg", registry.ErrToolNotFound), http.StatusNotFound, "unsupported_operation"},
		{fmt.Errorf("%w: upload exceeds 1024 bytes", errTooLarge), http.StatusRequestEntityTooLarge, "payload_too_large"},
		{queue.ErrCapacityExceeded, http.StatusServiceUnavailable, "capacity_exceeded"},
		{conversion.ErrNotReady, http.StatusConflict, "not_ready"},
		{tracker.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
		{fmt.Errorf("%w: job 1", artifact.ErrExpired), http.StatusGone, "artifact_expired"},
		{tracker.ErrNotFound, http.StatusNotFound, "not_found"},
		{artifact.ErrNotFound, http.StatusNotFound, "not_found"},
		{library.ErrNotFound, http.StatusNotFound, "not_found"},
		{conversion.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{errors.New("redis: connection refused"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		status, body := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, body.Error, tt.err.Error())
	}
}

func TestClassifyHidesInternalDetail(t *testing.T) {
	_, body := classify(errors.New("dial tcp 10.0.0.3:6379: i/o timeout"))
	assert.Equal(t, "internal error", body.Message)
}

func TestClassifyKeepsOptionField(t *testing.T) {
	_, body := classify(&options.ValidationError{Field: "quality", Reason: "below minimum 10"})
	assert.Equal(t, "quality", body.Field)
	assert.Equal(t, "below minimum 10", body.Message)
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions(map[string][]string{
		"options":      {`{"quality": 40, "format": "png"}`},
		"opt.format":   {"jpeg"},
		"opt.":         {"ignored"},
		"tool":         {"compress-image"},
		"opt.quality2": {"x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "jpeg", opts["format"])
	assert.Equal(t, "40", fmt.Sprint(opts["quality"]))
	assert.Equal(t, "x", opts["quality2"])
	assert.NotContains(t, opts, "tool")
	assert.NotContains(t, opts, "")

	_, err = parseOptions(map[string][]string{"options": {`[1,2]`}})
	assert.ErrorIs(t, err, errBadRequest)

	opts, err = parseOptions(nil)
	require.NoError(t, err)
	assert.Empty(t, opts)
}
