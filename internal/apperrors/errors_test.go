package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsKind(t *testing.T) {
	err := New(KindDeviceBusy, "mixer.apply", "device held by recorder").WithCamera("cam1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, DeviceBusy))
	assert.False(t, errors.Is(err, KindTimeout_as_error()))
}

func KindTimeout_as_error() error {
	return Timeout
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindPipelineError, "ingest.start", "pipeline failed", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "pipeline failed")
	assert.Contains(t, err.Error(), "ingest.start")
}

func TestErrorContext(t *testing.T) {
	err := New(KindTimeout, "ingest.start", "deadline exceeded").WithCamera("cam2").WithStage("ingest")
	assert.Contains(t, err.Error(), "camera=cam2")
	assert.Contains(t, err.Error(), "stage=ingest")
}
