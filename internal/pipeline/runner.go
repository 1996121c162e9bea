package pipeline

import (
	"context"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// Pipeline is the owning-handle contract engines program against. The
// production implementation is *Handle; tests substitute fakes so engine
// state machines can be exercised without spawning processes.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context, eosThenTeardown bool) error
	HotReconfigure(ctx context.Context, newDesc Description) error
	State() State
	LastError() error
	LastBufferAge() time.Duration
	AttachBusListener() <-chan Event
	Description() Description
}

// Factory constructs a Pipeline from a built Description.
type Factory func(desc Description) Pipeline

// ProcessFactory returns the production Factory backed by *Handle.
func ProcessFactory(logger *logging.Logger) Factory {
	return func(desc Description) Pipeline {
		return NewHandle(desc, logger)
	}
}
