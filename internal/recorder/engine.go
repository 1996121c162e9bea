/*
Recorder Engine: writes a camera's output to a file on local storage.

Two modes, selected by global configuration. Branched pulls the
camera's media-server publish and remuxes it to disk, so the single
capture stays with the Ingest Engine and start/stop never touches the
device. Standalone runs a dedicated capture-to-file pipeline and
requires the camera's ingest to be Idle; the Supervisor enforces the
ordering.
*/
package recorder

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/devprobe"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/pipeline"
)

// CameraInfo is what the Recorder needs to know about one camera,
// supplied by the Supervisor at start time.
type CameraInfo struct {
	DevicePath  string
	PublishURL  string
	Caps        devprobe.Caps
	Encoder     pipeline.Encoder
	BitrateKb   int
	Template    string
	IngestState common.LifecycleState
}

// CameraSource resolves camera ids; the Supervisor is the production
// implementation.
type CameraSource interface {
	Info(cameraID string) (CameraInfo, bool)
}

// Status is the status(camera) result.
type Status struct {
	CameraID          string
	State             common.LifecycleState
	File              string
	BytesWritten      int64
	DurationMs        int64
	PossiblyTruncated bool
}

type session struct {
	handle    pipeline.Pipeline
	file      string
	startedAt time.Time
	state     common.LifecycleState
	truncated bool
}

// Engine manages one recording session per camera.
type Engine struct {
	cfg     config.RecorderConfig
	source  CameraSource
	builder *pipeline.Builder
	factory pipeline.Factory
	guard   *StorageGuard
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs the Recorder Engine.
func New(cfg config.RecorderConfig, source CameraSource, builder *pipeline.Builder, factory pipeline.Factory, guard *StorageGuard, logger *logging.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		source:   source,
		builder:  builder,
		factory:  factory,
		guard:    guard,
		logger:   logger,
		now:      time.Now,
		sessions: map[string]*session{},
	}
}

// Mode returns the configured acquisition mode.
func (e *Engine) Mode() config.RecorderMode { return e.cfg.Mode }

// Recording reports whether a session is active for the camera.
func (e *Engine) Recording(cameraID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[cameraID]
	return ok && (s.state == common.StateRunning || s.state == common.StateStarting)
}

// Start begins recording the camera. Re-issuing a start for a camera
// already recording succeeds and returns the existing session's status
// (idempotent mutator contract).
func (e *Engine) Start(ctx context.Context, cameraID string) (Status, error) {
	e.mu.Lock()
	if s, ok := e.sessions[cameraID]; ok && s.state == common.StateRunning {
		st := e.statusLocked(cameraID, s)
		e.mu.Unlock()
		return st, nil
	}
	e.mu.Unlock()

	info, ok := e.source.Info(cameraID)
	if !ok {
		return Status{}, apperrors.New(apperrors.KindNotFound, "recorder.Start", "unknown camera").WithCamera(cameraID)
	}
	if e.guard != nil {
		if err := e.guard.Check(e.cfg.RecordingsRoot); err != nil {
			return Status{}, err
		}
	}

	file, err := recordingPath(e.cfg.RecordingsRoot, cameraID, info.Template, e.cfg.Container, e.now())
	if err != nil {
		return Status{}, err
	}

	var spec pipeline.Spec
	switch e.cfg.Mode {
	case config.RecorderModeBranched:
		if info.IngestState != common.StateRunning {
			return Status{}, apperrors.New(apperrors.KindDeviceNoSignal, "recorder.Start",
				"branched recording requires a running ingest").WithCamera(cameraID)
		}
		spec = pipeline.Spec{
			Kind:      pipeline.SpecPublishToFile,
			Camera:    cameraID,
			SourceURL: info.PublishURL,
			File:      pipeline.Sink{Kind: pipeline.SinkFile, Target: file, Container: e.cfg.Container},
		}
	case config.RecorderModeStandalone:
		if info.IngestState != common.StateIdle {
			return Status{}, apperrors.New(apperrors.KindDeviceBusy, "recorder.Start",
				"standalone recording requires ingest to be stopped").WithCamera(cameraID)
		}
		spec = pipeline.Spec{
			Kind:       pipeline.SpecCaptureToFile,
			Camera:     cameraID,
			DevicePath: info.DevicePath,
			Caps:       info.Caps,
			Encoder:    info.Encoder,
			BitrateKb:  info.BitrateKb,
			File:       pipeline.Sink{Kind: pipeline.SinkFile, Target: file, Container: e.cfg.Container},
		}
	default:
		return Status{}, apperrors.New(apperrors.KindInternal, "recorder.Start", "unknown recorder mode")
	}

	desc, err := e.builder.Build(spec)
	if err != nil {
		return Status{}, err
	}

	handle := e.factory(desc)
	s := &session{handle: handle, file: file, startedAt: e.now(), state: common.StateStarting}
	e.mu.Lock()
	e.sessions[cameraID] = s
	e.mu.Unlock()

	if err := handle.Start(ctx); err != nil {
		_ = handle.Stop(context.Background(), false)
		e.mu.Lock()
		delete(e.sessions, cameraID)
		e.mu.Unlock()
		return Status{}, apperrors.Wrap(apperrors.KindTimeout, "recorder.Start", "recording pipeline failed to start", err).WithCamera(cameraID)
	}

	e.mu.Lock()
	s.state = common.StateRunning
	st := e.statusLocked(cameraID, s)
	e.mu.Unlock()

	e.logger.WithFields(logging.Fields{"camera_id": cameraID, "file": file, "mode": string(e.cfg.Mode)}).Info("recording started")
	return st, nil
}

// Stop finalizes the recording: EOS first so the container index is
// written, forceful teardown on deadline breach. The forced path is
// reported as possibly truncated but never as a failure.
func (e *Engine) Stop(ctx context.Context, cameraID string) (Status, error) {
	e.mu.Lock()
	s, ok := e.sessions[cameraID]
	if !ok {
		e.mu.Unlock()
		// already stopped: idempotent success
		return Status{CameraID: cameraID, State: common.StateIdle}, nil
	}
	s.state = common.StateStopping
	handle := s.handle
	e.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, e.cfg.StopDeadline)
	defer cancel()
	truncated := false
	if err := handle.Stop(stopCtx, true); err != nil {
		truncated = true
		e.logger.WithFields(logging.Fields{"camera_id": cameraID, "file": s.file}).
			Warn("recording finalization forced, file possibly truncated")
	}

	e.mu.Lock()
	s.state = common.StateIdle
	s.truncated = truncated
	st := e.statusLocked(cameraID, s)
	delete(e.sessions, cameraID)
	e.mu.Unlock()

	e.logger.WithFields(logging.Fields{"camera_id": cameraID, "file": st.File, "duration_ms": st.DurationMs}).Info("recording stopped")
	return st, nil
}

// StatusFor reports the camera's session status; Idle when none.
func (e *Engine) StatusFor(cameraID string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[cameraID]
	if !ok {
		return Status{CameraID: cameraID, State: common.StateIdle}
	}
	return e.statusLocked(cameraID, s)
}

// NeedsRotation reports whether the camera's session exceeded the
// configured max segment duration; the Supervisor rotates on poll.
func (e *Engine) NeedsRotation(cameraID string) bool {
	if e.cfg.MaxSegmentDuration <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[cameraID]
	if !ok || s.state != common.StateRunning {
		return false
	}
	return e.now().Sub(s.startedAt) >= e.cfg.MaxSegmentDuration
}

// Rotate closes the current segment and opens a new one.
func (e *Engine) Rotate(ctx context.Context, cameraID string) (Status, error) {
	if _, err := e.Stop(ctx, cameraID); err != nil {
		return Status{}, err
	}
	return e.Start(ctx, cameraID)
}

// StopAll finalizes every active session; used during graceful shutdown.
func (e *Engine) StopAll(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		_, _ = e.Stop(ctx, id)
	}
}

func (e *Engine) statusLocked(cameraID string, s *session) Status {
	st := Status{
		CameraID:          cameraID,
		State:             s.state,
		File:              s.file,
		DurationMs:        e.now().Sub(s.startedAt).Milliseconds(),
		PossiblyTruncated: s.truncated,
	}
	if fi, err := os.Stat(s.file); err == nil {
		st.BytesWritten = fi.Size()
	}
	return st
}
