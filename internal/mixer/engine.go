/*
Mixer Engine: builds and runs the compositor pipeline for the current
scene, applies scene changes with minimum disruption, and publishes the
program output.

The central decision lives in Apply: an unchanged source set is a hot
reconfiguration (same pipeline handle, new pad geometry); a changed
source set is a rebuild with a device-release pause so a camera shared
with the previous graph is free again before the new one starts.
*/
package mixer

import (
	"context"
	"sync"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/pipeline"
	"github.com/camerarecorder/hdmi-mixer-go/internal/scene"
)

// Status is the mixer snapshot surfaced on /mixer/status.
type Status struct {
	State         common.LifecycleState
	SceneID       string
	Health        string
	LastError     string
	PublishActive bool
	PublishPath   string
	FileActive    bool
	FilePath      string
}

// Engine owns the compositor pipeline.
type Engine struct {
	cfg     config.MixerConfig
	builder *pipeline.Builder
	factory pipeline.Factory
	encoder pipeline.Encoder
	bitrate int
	logger  *logging.Logger
	sleep   func(time.Duration)

	opMu sync.Mutex

	mu         sync.Mutex
	state      common.LifecycleState
	handle     pipeline.Pipeline
	applied    *scene.Resolved
	target     *scene.Resolved
	filePath   string
	lastErr    error
	generation int
}

var _ common.Stoppable = (*Engine)(nil)

// New constructs an Idle mixer.
func New(cfg config.MixerConfig, encoder pipeline.Encoder, bitrateKb int, builder *pipeline.Builder, factory pipeline.Factory, logger *logging.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		builder: builder,
		factory: factory,
		encoder: encoder,
		bitrate: bitrateKb,
		logger:  logger,
		sleep:   time.Sleep,
		state:   common.StateIdle,
	}
}

// AppliedSceneID reports the scene currently in force; when none has been
// applied yet it reports the stored target scene, and "" when the mixer
// has neither. The Scene Manager's in-use deletion guard reads this.
func (e *Engine) AppliedSceneID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applied != nil {
		return e.applied.SceneID
	}
	if e.target != nil {
		return e.target.SceneID
	}
	return ""
}

// State returns the current lifecycle state.
func (e *Engine) State() common.LifecycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Handle exposes the current pipeline; tests use it to verify identity
// across hot reconfigurations.
func (e *Engine) Handle() pipeline.Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

// SetFileSink arms (path != "") or disarms the optional program file
// branch; takes effect at the next build.
func (e *Engine) SetFileSink(path string) {
	e.mu.Lock()
	e.filePath = path
	e.mu.Unlock()
}

// Apply installs a resolved scene. Not running: the scene is stored for
// the next Start. Running with the same source set: per-pad hot
// reconfiguration, pipeline handle unchanged. Running with a different
// source set: stop, device-release pause, rebuild, start.
func (e *Engine) Apply(ctx context.Context, resolved scene.Resolved) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	state := e.state
	applied := e.applied
	e.mu.Unlock()

	if state != common.StateRunning || applied == nil {
		e.mu.Lock()
		e.target = &resolved
		e.mu.Unlock()
		return nil
	}

	if applied.Equal(resolved) {
		// re-applying the scene in force is a no-op
		return nil
	}

	if applied.SameSourceSet(resolved) {
		return e.hotReconfigure(ctx, resolved)
	}
	return e.rebuild(ctx, resolved)
}

func (e *Engine) hotReconfigure(ctx context.Context, resolved scene.Resolved) error {
	desc, err := e.buildDescription(resolved)
	if err != nil {
		return err
	}
	e.mu.Lock()
	handle := e.handle
	e.mu.Unlock()

	recCtx, cancel := context.WithTimeout(ctx, e.cfg.StartDeadline)
	defer cancel()
	if err := handle.HotReconfigure(recCtx, desc); err != nil {
		perr := apperrors.Wrap(apperrors.KindPipelineError, "mixer.Apply", "hot reconfiguration failed", err).WithScene(resolved.SceneID)
		e.fail(perr)
		return perr
	}

	e.mu.Lock()
	e.applied = &resolved
	e.target = &resolved
	e.mu.Unlock()
	e.logger.WithFields(logging.Fields{"scene_id": resolved.SceneID}).Info("scene hot-reconfigured")
	return nil
}

func (e *Engine) rebuild(ctx context.Context, resolved scene.Resolved) error {
	e.logger.WithFields(logging.Fields{"scene_id": resolved.SceneID}).Info("scene source set changed, rebuilding mixer")
	e.stopPipeline(ctx, true)

	// let a camera shared with the previous graph settle before the new
	// graph opens it again
	e.sleep(e.cfg.DeviceReleaseDelay)

	e.mu.Lock()
	e.target = &resolved
	e.mu.Unlock()
	return e.startTarget(ctx)
}

// Start builds and starts the pipeline for the stored target scene.
func (e *Engine) Start(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.state == common.StateRunning {
		e.mu.Unlock()
		return nil
	}
	if e.target == nil {
		e.mu.Unlock()
		return apperrors.New(apperrors.KindInvalidArgument, "mixer.Start", "no scene applied")
	}
	e.mu.Unlock()
	return e.startTarget(ctx)
}

func (e *Engine) startTarget(ctx context.Context) error {
	e.mu.Lock()
	target := *e.target
	e.mu.Unlock()

	desc, err := e.buildDescription(target)
	if err != nil {
		e.fail(err)
		return err
	}

	e.setState(common.StateStarting, nil)
	handle := e.factory(desc)

	startCtx, cancel := context.WithTimeout(ctx, e.cfg.StartDeadline)
	defer cancel()
	if err := handle.Start(startCtx); err != nil {
		_ = handle.Stop(context.Background(), false)
		terr := apperrors.Wrap(apperrors.KindTimeout, "mixer.Start", "mixer did not reach Running within deadline", err).WithScene(target.SceneID)
		e.fail(terr)
		return terr
	}

	e.mu.Lock()
	e.handle = handle
	e.applied = &target
	e.state = common.StateRunning
	e.lastErr = nil
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	go e.monitor(handle, gen)

	e.logger.WithFields(logging.Fields{"scene_id": target.SceneID, "publish": e.cfg.PublishPath}).Info("mixer running")
	return nil
}

// Stop sends EOS and tears the compositor down; always ends Idle.
func (e *Engine) Stop(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.setState(common.StateStopping, nil)
	e.stopPipeline(ctx, true)

	e.mu.Lock()
	e.state = common.StateIdle
	e.applied = nil
	e.mu.Unlock()
	return nil
}

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
		e.logger.WithFields(logging.Fields{"error": err.Error()}).Warn("mixer stop forced teardown")
	}
}

// StatusNow reports the mixer snapshot.
func (e *Engine) StatusNow() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		State:       e.state,
		PublishPath: e.cfg.PublishPath,
		FilePath:    e.filePath,
	}
	if e.applied != nil {
		st.SceneID = e.applied.SceneID
	} else if e.target != nil {
		st.SceneID = e.target.SceneID
	}
	if e.state == common.StateRunning {
		st.Health = "ok"
		st.PublishActive = true
		st.FileActive = e.filePath != ""
	} else {
		st.Health = string(e.state)
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// CheckLiveness degrades a Running mixer whose buffer flow stalled past
// threshold; called from the Supervisor's poll tick.
func (e *Engine) CheckLiveness(threshold time.Duration) common.LifecycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != common.StateRunning || e.handle == nil {
		return e.state
	}
	if age := e.handle.LastBufferAge(); age > threshold {
		e.state = common.StateDegraded
		e.logger.WithFields(logging.Fields{"buffer_age": age.String()}).Warn("mixer degraded: no buffer flow")
	}
	return e.state
}

// SourceSet reports the camera/source identities of the applied (or
// target) scene; the Supervisor serializes camera rebuilds against it.
func (e *Engine) SourceSet() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applied != nil {
		return e.applied.SourceSet()
	}
	if e.target != nil {
		return e.target.SourceSet()
	}
	return nil
}

func (e *Engine) buildDescription(resolved scene.Resolved) (pipeline.Description, error) {
	e.mu.Lock()
	filePath := e.filePath
	e.mu.Unlock()

	sinks := []pipeline.Sink{{Kind: pipeline.SinkPublishRTSP, Target: e.cfg.PublishPath}}
	if filePath != "" {
		sinks = append(sinks, pipeline.Sink{Kind: pipeline.SinkFile, Target: filePath, Container: "mp4"})
	}
	return e.builder.Build(pipeline.Spec{
		Kind:          pipeline.SpecMixerScene,
		OutputWidth:   resolved.Width,
		OutputHeight:  resolved.Height,
		Encoder:       e.encoder,
		BitrateKb:     e.bitrate,
		MixerBranches: resolved.Branches,
		OutputSinks:   sinks,
	})
}

func (e *Engine) monitor(handle pipeline.Pipeline, gen int) {
	events := handle.AttachBusListener()
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
			e.fail(apperrors.New(apperrors.KindPipelineError, "mixer.monitor", ev.Message))
			return
		case pipeline.EventEOS:
			if state == common.StateRunning {
				e.fail(apperrors.New(apperrors.KindPipelineError, "mixer.monitor", "unexpected end of stream"))
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
	e.logger.WithFields(logging.Fields{"error": err.Error()}).Error("mixer error")
}
