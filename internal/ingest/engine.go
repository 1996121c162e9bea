/*
Ingest Engine: one long-lived capture pipeline per camera publishing to
the media server, and the single source of truth for camera liveness.

The engine owns its pipeline handle and steady-state self-transitions;
the Supervisor drives start/stop/rebuild decisions from its serialized
loop.
*/
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/devprobe"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/pipeline"
)

// Prober is the slice of the Device Probe the engine needs.
type Prober interface {
	Probe(ctx context.Context, devicePath string) devprobe.Result
}

// Config fixes one camera's ingest parameters at construction time.
type Config struct {
	CameraID    string
	DevicePath  string
	Encoder     pipeline.Encoder
	BitrateKb   int
	TargetFPS   int
	PublishURL  string
	PublishPath string

	StartDeadline   time.Duration
	StopDeadline    time.Duration
	LivenessTimeout time.Duration
}

// Snapshot is the observe() result: everything the Supervisor and
// /status need about one camera, copied under the engine lock.
type Snapshot struct {
	CameraID      string
	State         common.LifecycleState
	Caps          devprobe.Caps
	SignalPresent bool
	LastBufferAge time.Duration
	LastError     string
	PublishPath   string
}

// StartResult reports what a start attempt did. NoSignal means the
// engine parked without creating a pipeline and the call still
// succeeded.
type StartResult struct {
	State    common.LifecycleState
	NoSignal bool
	Caps     devprobe.Caps
}

type startOp struct {
	done   chan struct{}
	result StartResult
	err    error
}

// Engine runs one camera's publishing capture. It participates in
// coordinated shutdown through common.Stoppable.
type Engine struct {
	cfg     Config
	prober  Prober
	builder *pipeline.Builder
	factory pipeline.Factory
	logger  *logging.Logger

	// opMu serializes externally initiated start/stop sequences for
	// this camera; a stop issued during a start waits here.
	opMu sync.Mutex

	mu         sync.Mutex
	state      common.LifecycleState
	handle     pipeline.Pipeline
	caps       devprobe.Caps
	signal     bool
	lastErr    error
	inflight   *startOp
	generation int
}

var _ common.Stoppable = (*Engine)(nil)

// New constructs an Idle engine.
func New(cfg Config, prober Prober, builder *pipeline.Builder, factory pipeline.Factory, logger *logging.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		prober:  prober,
		builder: builder,
		factory: factory,
		logger:  logger,
		state:   common.StateIdle,
	}
}

// CameraID returns the engine's camera id.
func (e *Engine) CameraID() string { return e.cfg.CameraID }

// DevicePath returns the capture device this engine owns when running.
func (e *Engine) DevicePath() string { return e.cfg.DevicePath }

// PublishPath returns the media-server path the engine publishes to.
func (e *Engine) PublishPath() string { return e.cfg.PublishPath }

// Start brings the capture up. A start received while one is already in
// flight is coalesced onto the in-flight attempt. A start while Running
// with identical caps is a no-op; with different observed caps it
// becomes a stop-then-start rebuild.
func (e *Engine) Start(ctx context.Context) (StartResult, error) {
	e.mu.Lock()
	if op := e.inflight; op != nil {
		e.mu.Unlock()
		<-op.done
		return op.result, op.err
	}
	op := &startOp{done: make(chan struct{})}
	e.inflight = op
	e.mu.Unlock()

	result, err := e.startLocked(ctx)

	e.mu.Lock()
	op.result, op.err = result, err
	e.inflight = nil
	e.mu.Unlock()
	close(op.done)
	return result, err
}

func (e *Engine) startLocked(ctx context.Context) (StartResult, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	probe := e.prober.Probe(ctx, e.cfg.DevicePath)

	e.mu.Lock()
	e.signal = probe.HasSignal
	state := e.state
	runningCaps := e.caps
	e.mu.Unlock()

	if !probe.Exists {
		err := apperrors.New(apperrors.KindNotFound, "ingest.Start", "capture device not present").WithCamera(e.cfg.CameraID)
		e.fail(err)
		return StartResult{State: common.StateError}, err
	}
	if !probe.HasSignal {
		// not an error: park and wait for the Supervisor to see the
		// signal return
		e.stopPipeline(context.Background(), false)
		e.setState(common.StateNoSignal, nil)
		return StartResult{State: common.StateNoSignal, NoSignal: true}, nil
	}

	if state == common.StateRunning {
		if probe.Caps == runningCaps {
			return StartResult{State: common.StateRunning, Caps: runningCaps}, nil
		}
		// caps changed: rebuild
		e.logger.WithFields(logging.Fields{
			"camera_id": e.cfg.CameraID,
			"old_caps":  runningCaps,
			"new_caps":  probe.Caps,
		}).Info("ingest caps changed, rebuilding")
		e.stopPipeline(ctx, true)
	}

	desc, err := e.builder.Build(pipeline.Spec{
		Kind:       pipeline.SpecCaptureToPublish,
		Camera:     e.cfg.CameraID,
		DevicePath: e.cfg.DevicePath,
		Caps:       probe.Caps,
		TargetFPS:  e.cfg.TargetFPS,
		Encoder:    e.cfg.Encoder,
		BitrateKb:  e.cfg.BitrateKb,
		Publish:    pipeline.Sink{Kind: pipeline.SinkPublishRTSP, Target: e.cfg.PublishURL},
	})
	if err != nil {
		e.fail(err)
		return StartResult{State: common.StateError}, err
	}

	e.setState(common.StateStarting, nil)
	handle := e.factory(desc)

	startCtx, cancel := context.WithTimeout(ctx, e.cfg.StartDeadline)
	defer cancel()
	if err := handle.Start(startCtx); err != nil {
		_ = handle.Stop(context.Background(), false)
		terr := apperrors.Wrap(apperrors.KindTimeout, "ingest.Start", "pipeline did not reach Running within deadline", err).WithCamera(e.cfg.CameraID)
		e.fail(terr)
		return StartResult{State: common.StateError}, terr
	}

	e.mu.Lock()
	e.handle = handle
	e.caps = probe.Caps
	e.state = common.StateRunning
	e.lastErr = nil
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	events := handle.AttachBusListener()
	go e.monitor(events, gen)

	e.logger.WithFields(logging.Fields{
		"camera_id": e.cfg.CameraID,
		"caps":      probe.Caps,
		"publish":   e.cfg.PublishPath,
	}).Info("ingest running")
	return StartResult{State: common.StateRunning, Caps: probe.Caps}, nil
}

// Stop sends end-of-stream, waits up to the stop deadline for
// propagation, then forces teardown. Always leaves the engine Idle with
// the device fd released.
func (e *Engine) Stop(ctx context.Context) error {
	// wait out any in-flight start first (ordering guarantee from the
	// concurrency model: start/stop pairs never interleave)
	e.mu.Lock()
	op := e.inflight
	e.mu.Unlock()
	if op != nil {
		<-op.done
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.setState(common.StateStopping, nil)
	e.stopPipeline(ctx, true)
	e.setState(common.StateIdle, nil)
	return nil
}

// stopPipeline tears down the current handle, gracefully when eos is
// true. Safe to call with no handle.
func (e *Engine) stopPipeline(ctx context.Context, eos bool) {
	e.mu.Lock()
	handle := e.handle
	e.handle = nil
	e.generation++
	e.mu.Unlock()
	if handle == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, e.cfg.StopDeadline)
	defer cancel()
	if err := handle.Stop(stopCtx, eos); err != nil {
		e.logger.WithFields(logging.Fields{"camera_id": e.cfg.CameraID, "error": err.Error()}).Warn("ingest stop forced teardown")
	}
}

// Observe returns a consistent snapshot of the engine.
func (e *Engine) Observe() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		CameraID:      e.cfg.CameraID,
		State:         e.state,
		Caps:          e.caps,
		SignalPresent: e.signal,
		PublishPath:   e.cfg.PublishPath,
	}
	if e.handle != nil {
		snap.LastBufferAge = e.handle.LastBufferAge()
	}
	if e.lastErr != nil {
		snap.LastError = e.lastErr.Error()
	}
	return snap
}

// SetSignal records the latest probed signal status; called by the
// Supervisor on every poll tick whether or not the engine is running.
func (e *Engine) SetSignal(present bool) {
	e.mu.Lock()
	e.signal = present
	e.mu.Unlock()
}

// ParkNoSignal tears down any running pipeline and parks the engine in
// NoSignal. The Supervisor calls this when a poll tick sees the HDMI
// source go away on a Running camera; the engine auto-starts again when
// the Supervisor observes the signal return.
func (e *Engine) ParkNoSignal(ctx context.Context) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.stopPipeline(ctx, false)
	e.mu.Lock()
	e.state = common.StateNoSignal
	e.signal = false
	e.mu.Unlock()
	e.logger.WithFields(logging.Fields{"camera_id": e.cfg.CameraID}).Info("signal lost, ingest parked")
}

// CheckLiveness is the poll-tick self-transition: Running with a stale
// buffer timestamp becomes Degraded so the Supervisor can decide to
// rebuild. Returns the state after the check.
func (e *Engine) CheckLiveness() common.LifecycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != common.StateRunning || e.handle == nil {
		return e.state
	}
	age := e.handle.LastBufferAge()
	if age > e.cfg.LivenessTimeout {
		e.state = common.StateDegraded
		e.logger.WithFields(logging.Fields{
			"camera_id":  e.cfg.CameraID,
			"buffer_age": age.String(),
		}).Warn("ingest degraded: no buffer flow")
	}
	return e.state
}

// monitor consumes bus events for one pipeline generation. A fatal bus
// error transitions the engine to Error; events from a superseded
// handle are ignored.
func (e *Engine) monitor(events <-chan pipeline.Event, gen int) {
	for ev := range events {
		e.mu.Lock()
		current := e.generation == gen
		state := e.state
		e.mu.Unlock()
		if !current {
			return
		}
		switch ev.Kind {
		case pipeline.EventError:
			e.fail(apperrors.New(apperrors.KindPipelineError, "ingest.monitor", ev.Message).WithCamera(e.cfg.CameraID))
			return
		case pipeline.EventEOS:
			if state == common.StateRunning {
				e.fail(apperrors.New(apperrors.KindPipelineError, "ingest.monitor", "unexpected end of stream").WithCamera(e.cfg.CameraID))
			}
			return
		}
	}
}

func (e *Engine) setState(s common.LifecycleState, err error) {
	e.mu.Lock()
	e.state = s
	if err != nil {
		e.lastErr = err
	}
	e.mu.Unlock()
}

func (e *Engine) fail(err error) {
	e.setState(common.StateError, err)
	e.logger.WithFields(logging.Fields{"camera_id": e.cfg.CameraID, "error": err.Error()}).Error("ingest error")
}

// Handle exposes the current pipeline handle. Nil when not running.
func (e *Engine) Handle() pipeline.Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

// Caps returns the observed source caps of the running capture.
func (e *Engine) Caps() devprobe.Caps {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps
}

// State returns the current lifecycle state.
func (e *Engine) State() common.LifecycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
