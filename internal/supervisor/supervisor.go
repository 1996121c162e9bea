/*
Supervisor / Watchdog: owns every engine and the system's serialized
control loop.

All mutating operations from the Control Facade are routed to a single
bounded command queue consumed by one goroutine; engines are invoked
from this loop, which provides global ordering (same-camera command
order, start/stop non-interleaving, mixer-vs-ingest rebuild
serialization) without locks on the engines themselves. Health polls
are admitted only when the command queue is drained, giving external
commands strict priority.

Restart policy is rate-limited per engine with golang.org/x/time/rate:
a Degraded or Error engine is rebuilt at most once per backoff window,
then parked until the window refills.
*/
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/devprobe"
	"github.com/camerarecorder/hdmi-mixer-go/internal/ingest"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/mixer"
	"github.com/camerarecorder/hdmi-mixer-go/internal/pipeline"
	"github.com/camerarecorder/hdmi-mixer-go/internal/recorder"
	"github.com/camerarecorder/hdmi-mixer-go/internal/scene"
)

// Prober is the Device Probe surface the Supervisor needs.
type Prober interface {
	Probe(ctx context.Context, devicePath string) devprobe.Result
	InitBridge(ctx context.Context, devicePath string) error
}

// SystemStatus is the /status payload: per-camera snapshots, recorder
// sessions, the mixer snapshot, and the device ownership table.
type SystemStatus struct {
	Cameras    map[string]ingest.Snapshot  `json:"cameras"`
	Recordings map[string]recorder.Status  `json:"recordings"`
	Mixer      mixer.Status                `json:"mixer"`
	DeviceBusy map[string]string           `json:"device_busy"`
}

type cmdResult struct {
	value any
	err   error
}

type command struct {
	name string
	run  func(ctx context.Context) (any, error)
	resp chan cmdResult
}

// Supervisor owns the engines and the control loop.
type Supervisor struct {
	cfg     *config.Config
	prober  Prober
	builder *pipeline.Builder
	factory pipeline.Factory
	logger  *logging.Logger

	cameraIDs []string
	ingests   map[string]*ingest.Engine
	rec       *recorder.Engine
	mix       *mixer.Engine
	scenes    *scene.Manager

	own    *ownership
	events *notifier
	killer ProcessKiller
	probes *semaphore.Weighted

	rebuildLimit map[string]*rate.Limiter
	encoders     EncoderCaps

	cmds chan *command
	done chan struct{}
}

// Deps carries the injectable seams; zero values select production
// implementations.
type Deps struct {
	Prober       Prober
	Factory      pipeline.Factory
	Killer       ProcessKiller
	Usage        recorder.UsageFunc
	EncoderProbe EncoderProbeFunc
}

// New wires the Supervisor and all engines from configuration.
func New(cfg *config.Config, deps Deps, logger *logging.Logger) (*Supervisor, error) {
	if deps.Prober == nil {
		deps.Prober = devprobe.New(
			devprobe.MinSignal{Width: cfg.DeviceProbe.MinSignalWidth, Height: cfg.DeviceProbe.MinSignalHeight},
			cfg.DeviceProbe.ProbeTimeout,
			logging.GetLogger("devprobe"),
		)
	}
	if deps.Factory == nil {
		deps.Factory = pipeline.ProcessFactory(logging.GetLogger("pipeline"))
	}
	if deps.Killer == nil {
		deps.Killer = NewFuserKiller(logger)
	}
	if deps.Usage == nil {
		deps.Usage = recorder.GopsutilUsage
	}
	if deps.EncoderProbe == nil {
		deps.EncoderProbe = ProbeEncoders(logger)
	}

	workers := cfg.Supervisor.WorkerPoolSize
	if workers <= 0 {
		workers = 4
	}
	queueDepth := cfg.Supervisor.CommandQueueDepth
	if queueDepth <= 0 {
		queueDepth = 64
	}

	s := &Supervisor{
		cfg:          cfg,
		prober:       deps.Prober,
		builder:      pipeline.New(),
		factory:      deps.Factory,
		logger:       logger,
		ingests:      map[string]*ingest.Engine{},
		own:          newOwnership(),
		events:       newNotifier(),
		killer:       deps.Killer,
		probes:       semaphore.NewWeighted(int64(workers)),
		rebuildLimit: map[string]*rate.Limiter{},
		cmds:         make(chan *command, queueDepth),
		done:         make(chan struct{}),
	}

	// one-time capability probe; engines get a concrete encoder choice
	s.encoders = deps.EncoderProbe(context.Background())

	for _, cam := range cfg.Cameras {
		if !cam.Enabled {
			continue
		}
		s.cameraIDs = append(s.cameraIDs, cam.ID)
		s.ingests[cam.ID] = ingest.New(ingest.Config{
			CameraID:        cam.ID,
			DevicePath:      cam.DevicePath,
			Encoder:         s.encoders.pick(cam.Codec),
			BitrateKb:       cam.BitrateKbps,
			TargetFPS:       cam.FrameRate,
			PublishURL:      s.publishURL(cam.PublishPath),
			PublishPath:     cam.PublishPath,
			StartDeadline:   cfg.Ingest.StartDeadline,
			StopDeadline:    cfg.Ingest.StopDeadline,
			LivenessTimeout: cfg.Ingest.LivenessTimeout,
		}, s.prober, s.builder, s.factory, logging.GetLogger("ingest."+cam.ID))
		s.rebuildLimit[cam.ID] = rate.NewLimiter(rate.Every(cfg.Supervisor.RebuildBackoff), 1)
	}
	sort.Strings(s.cameraIDs)
	s.rebuildLimit["mixer"] = rate.NewLimiter(rate.Every(cfg.Supervisor.RebuildBackoff), 1)

	guard := &recorder.StorageGuard{
		WarnPercent:  float64(cfg.Storage.WarnPercent),
		BlockPercent: float64(cfg.Storage.BlockPercent),
		Usage:        deps.Usage,
		Logger:       logging.GetLogger("recorder.storage"),
	}
	s.rec = recorder.New(cfg.Recorder, s, pipeline.New(), s.factory, guard, logging.GetLogger("recorder"))

	// the mixer sinks to the full publish URL; the ownership registry
	// keys on the bare media-server path like the cameras do
	mixCfg := cfg.Mixer
	mixCfg.PublishPath = s.publishURL(cfg.Mixer.PublishPath)
	s.mix = mixer.New(mixCfg, s.encoders.pick("h264"), 6000, pipeline.New(), s.factory, logging.GetLogger("mixer"))

	store, err := scene.NewStore(cfg.Scene.StoreDir, logging.GetLogger("scene"))
	if err != nil {
		return nil, err
	}
	if cfg.Scene.SeedBuiltins {
		out := scene.Resolution{Width: cfg.Mixer.OutputWidth, Height: cfg.Mixer.OutputHeight}
		if err := scene.SeedBuiltins(store, s.cameraIDs, out); err != nil {
			return nil, err
		}
	}
	s.scenes = scene.NewManager(store, s, s.mix.AppliedSceneID, logging.GetLogger("scene"))
	return s, nil
}

func (s *Supervisor) publishURL(path string) string {
	return fmt.Sprintf("rtsp://%s:%d/%s", s.cfg.MediaServer.Host, s.cfg.MediaServer.RTSPPort, path)
}

// Events subscribes to supervisor notifications; the cancel func
// unsubscribes.
func (s *Supervisor) Events() (<-chan Event, func()) {
	return s.events.subscribe()
}

// ResolveCamera implements scene.SourceResolver.
func (s *Supervisor) ResolveCamera(id string) (string, bool) {
	cam, ok := s.cfg.CameraByID(id)
	if !ok || !cam.Enabled {
		return "", false
	}
	return s.publishURL(cam.PublishPath), true
}

// FileExists implements scene.SourceResolver.
func (s *Supervisor) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// KnownMediaPath implements scene.SourceResolver. Any camera publish
// path plus the program path are known; other paths are accepted only
// if some pipeline registered them.
func (s *Supervisor) KnownMediaPath(path string) bool {
	for _, cam := range s.cfg.Cameras {
		if cam.PublishPath == path {
			return true
		}
	}
	if s.cfg.Mixer.PublishPath == path {
		return true
	}
	_, held := s.own.publishOwner(path)
	return held
}

// Info implements recorder.CameraSource.
func (s *Supervisor) Info(cameraID string) (recorder.CameraInfo, bool) {
	cam, ok := s.cfg.CameraByID(cameraID)
	if !ok || !cam.Enabled {
		return recorder.CameraInfo{}, false
	}
	eng := s.ingests[cameraID]
	info := recorder.CameraInfo{
		DevicePath: cam.DevicePath,
		PublishURL: s.publishURL(cam.PublishPath),
		Encoder:    s.encoders.pick(cam.Codec),
		BitrateKb:  cam.BitrateKbps,
		Template:   cam.RecordingFormat,
	}
	if eng != nil {
		info.IngestState = eng.State()
		info.Caps = eng.Caps()
	}
	return info, true
}

// Run starts every enabled ingest, then consumes commands and poll
// ticks until ctx is cancelled, then shuts everything down gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)

	s.bootIngests(ctx)

	ingestTick := time.NewTicker(s.cfg.Supervisor.IngestPollInterval)
	defer ingestTick.Stop()
	mixerTick := time.NewTicker(s.cfg.Supervisor.MixerPollInterval)
	defer mixerTick.Stop()

	for {
		// external commands strictly outrank poll work
		select {
		case cmd := <-s.cmds:
			s.execute(ctx, cmd)
			continue
		default:
		}

		select {
		case cmd := <-s.cmds:
			s.execute(ctx, cmd)
		case <-ingestTick.C:
			s.pollIngests(ctx)
		case <-mixerTick.C:
			s.pollMixer(ctx)
		case <-ctx.Done():
			s.shutdown()
			return nil
		}
	}
}

func (s *Supervisor) execute(ctx context.Context, cmd *command) {
	value, err := cmd.run(ctx)
	cmd.resp <- cmdResult{value: value, err: err}
}

// bootIngests probes all cameras concurrently on the bounded worker
// pool, then starts each engine from the loop goroutine.
func (s *Supervisor) bootIngests(ctx context.Context) {
	g, probeCtx := errgroup.WithContext(ctx)
	for _, id := range s.cameraIDs {
		id := id
		g.Go(func() error {
			if err := s.probes.Acquire(probeCtx, 1); err != nil {
				return err
			}
			defer s.probes.Release(1)
			s.prober.Probe(probeCtx, s.ingests[id].DevicePath())
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range s.cameraIDs {
		if _, err := s.startIngestLocked(ctx, id); err != nil {
			s.logger.WithFields(logging.Fields{"camera_id": id, "error": err.Error()}).Warn("ingest did not start at boot")
		}
	}
}

// do posts a command to the loop and waits for its result or the
// caller's deadline.
func (s *Supervisor) do(ctx context.Context, name string, run func(ctx context.Context) (any, error)) (any, error) {
	cmd := &command{name: name, run: run, resp: make(chan cmdResult, 1)}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.KindTimeout, name, "command queue full", ctx.Err())
	case <-s.done:
		return nil, apperrors.New(apperrors.KindInternal, name, "supervisor stopped")
	}
	select {
	case res := <-cmd.resp:
		return res.value, res.err
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.KindTimeout, name, "command did not complete within deadline", ctx.Err())
	case <-s.done:
		return nil, apperrors.New(apperrors.KindInternal, name, "supervisor stopped")
	}
}

// ---- Control Facade surface ----

// StartIngest starts (or no-ops, or rebuilds) the camera's ingest.
func (s *Supervisor) StartIngest(ctx context.Context, cameraID string) (ingest.StartResult, error) {
	v, err := s.do(ctx, "StartIngest", func(ctx context.Context) (any, error) {
		return s.startIngestLocked(ctx, cameraID)
	})
	if err != nil {
		return ingest.StartResult{}, err
	}
	return v.(ingest.StartResult), nil
}

// StopIngest stops the camera's ingest; always ends Idle.
func (s *Supervisor) StopIngest(ctx context.Context, cameraID string) error {
	_, err := s.do(ctx, "StopIngest", func(ctx context.Context) (any, error) {
		return nil, s.stopIngestLocked(ctx, cameraID)
	})
	return err
}

// StartRecord begins recording the camera per the configured mode.
func (s *Supervisor) StartRecord(ctx context.Context, cameraID string) (recorder.Status, error) {
	v, err := s.do(ctx, "StartRecord", func(ctx context.Context) (any, error) {
		return s.startRecordLocked(ctx, cameraID)
	})
	if err != nil {
		return recorder.Status{}, err
	}
	return v.(recorder.Status), nil
}

// StopRecord finalizes the camera's recording.
func (s *Supervisor) StopRecord(ctx context.Context, cameraID string) (recorder.Status, error) {
	v, err := s.do(ctx, "StopRecord", func(ctx context.Context) (any, error) {
		return s.stopRecordLocked(ctx, cameraID)
	})
	if err != nil {
		return recorder.Status{}, err
	}
	return v.(recorder.Status), nil
}

// Status reports the full system snapshot.
func (s *Supervisor) Status(ctx context.Context) (SystemStatus, error) {
	v, err := s.do(ctx, "Status", func(ctx context.Context) (any, error) {
		return s.statusLocked(), nil
	})
	if err != nil {
		return SystemStatus{}, err
	}
	return v.(SystemStatus), nil
}

// ListScenes lists scenes in insertion order.
func (s *Supervisor) ListScenes(ctx context.Context) ([]scene.Scene, error) {
	v, err := s.do(ctx, "ListScenes", func(ctx context.Context) (any, error) {
		return s.scenes.List(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]scene.Scene), nil
}

// GetScene returns one scene.
func (s *Supervisor) GetScene(ctx context.Context, id string) (scene.Scene, error) {
	v, err := s.do(ctx, "GetScene", func(ctx context.Context) (any, error) {
		return s.scenes.Get(id)
	})
	if err != nil {
		return scene.Scene{}, err
	}
	return v.(scene.Scene), nil
}

// PutScene creates or replaces a scene.
func (s *Supervisor) PutScene(ctx context.Context, id string, sc scene.Scene) error {
	_, err := s.do(ctx, "PutScene", func(ctx context.Context) (any, error) {
		return nil, s.scenes.Put(id, sc)
	})
	return err
}

// DeleteScene removes a scene; SceneInUse if applied to the mixer.
func (s *Supervisor) DeleteScene(ctx context.Context, id string) error {
	_, err := s.do(ctx, "DeleteScene", func(ctx context.Context) (any, error) {
		return nil, s.scenes.Delete(id)
	})
	return err
}

// ApplyScene resolves and applies a scene to the mixer.
func (s *Supervisor) ApplyScene(ctx context.Context, id string) error {
	_, err := s.do(ctx, "ApplyScene", func(ctx context.Context) (any, error) {
		return nil, s.applySceneLocked(ctx, id)
	})
	return err
}

// StartMixer starts the program output for the stored target scene.
func (s *Supervisor) StartMixer(ctx context.Context) error {
	_, err := s.do(ctx, "StartMixer", func(ctx context.Context) (any, error) {
		return nil, s.startMixerLocked(ctx)
	})
	return err
}

// StopMixer stops the program output.
func (s *Supervisor) StopMixer(ctx context.Context) error {
	_, err := s.do(ctx, "StopMixer", func(ctx context.Context) (any, error) {
		s.mixStopAndRelease(ctx)
		return nil, nil
	})
	return err
}

// MixerStatus reports the mixer snapshot.
func (s *Supervisor) MixerStatus(ctx context.Context) (mixer.Status, error) {
	v, err := s.do(ctx, "MixerStatus", func(ctx context.Context) (any, error) {
		return s.mix.StatusNow(), nil
	})
	if err != nil {
		return mixer.Status{}, err
	}
	return v.(mixer.Status), nil
}

// ---- loop-side handlers ----

func (s *Supervisor) engineFor(cameraID string) (*ingest.Engine, error) {
	eng, ok := s.ingests[cameraID]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "supervisor", "unknown camera").WithCamera(cameraID)
	}
	return eng, nil
}

func (s *Supervisor) startIngestLocked(ctx context.Context, cameraID string) (ingest.StartResult, error) {
	eng, err := s.engineFor(cameraID)
	if err != nil {
		return ingest.StartResult{}, err
	}
	owner := "ingest:" + cameraID
	if err := s.claimDevice(ctx, eng.DevicePath(), owner); err != nil {
		return ingest.StartResult{}, err
	}
	if err := s.own.acquirePublish(eng.PublishPath(), owner); err != nil {
		s.own.releaseDevice(eng.DevicePath(), owner)
		return ingest.StartResult{}, err
	}

	res, err := eng.Start(ctx)
	if err != nil || res.State != common.StateRunning {
		s.own.releaseDevice(eng.DevicePath(), owner)
		s.own.releasePublish(eng.PublishPath(), owner)
	}
	s.events.publish(Event{Kind: EventStateChange, Engine: "ingest", CameraID: cameraID, State: eng.State()})
	return res, err
}

func (s *Supervisor) stopIngestLocked(ctx context.Context, cameraID string) error {
	eng, err := s.engineFor(cameraID)
	if err != nil {
		return err
	}
	err = eng.Stop(ctx)
	owner := "ingest:" + cameraID
	s.own.releaseDevice(eng.DevicePath(), owner)
	s.own.releasePublish(eng.PublishPath(), owner)
	s.events.publish(Event{Kind: EventStateChange, Engine: "ingest", CameraID: cameraID, State: eng.State()})
	return err
}

// claimDevice acquires device ownership, invoking the stranded-process
// cleanup policy when the device is busy at the OS level but no engine
// of ours owns it.
func (s *Supervisor) claimDevice(ctx context.Context, devicePath, owner string) error {
	if err := s.own.acquireDevice(devicePath, owner); err != nil {
		return err
	}
	probe := s.prober.Probe(ctx, devicePath)
	if probe.Exists && !probe.OpenableExclusive {
		if !s.cfg.Supervisor.StrandedProcessKill {
			s.own.releaseDevice(devicePath, owner)
			return apperrors.New(apperrors.KindDeviceBusy, "supervisor.claimDevice",
				fmt.Sprintf("device %s busy and stranded-process cleanup disabled", devicePath))
		}
		if err := s.killer.KillHolder(ctx, devicePath); err != nil {
			s.own.releaseDevice(devicePath, owner)
			return apperrors.Wrap(apperrors.KindDeviceBusy, "supervisor.claimDevice",
				fmt.Sprintf("device %s busy, cleanup failed", devicePath), err)
		}
	}
	return nil
}

func (s *Supervisor) startRecordLocked(ctx context.Context, cameraID string) (recorder.Status, error) {
	eng, err := s.engineFor(cameraID)
	if err != nil {
		return recorder.Status{}, err
	}
	owner := "recorder:" + cameraID

	if s.cfg.Recorder.Mode == config.RecorderModeStandalone {
		// standalone needs the device: stop ingest first, restart after
		if eng.State() == common.StateRunning || eng.State() == common.StateDegraded {
			if err := s.stopIngestLocked(ctx, cameraID); err != nil {
				return recorder.Status{}, err
			}
		}
		if err := s.claimDevice(ctx, eng.DevicePath(), owner); err != nil {
			return recorder.Status{}, err
		}
	}

	st, err := s.rec.Start(ctx, cameraID)
	if err != nil && s.cfg.Recorder.Mode == config.RecorderModeStandalone {
		s.own.releaseDevice(eng.DevicePath(), owner)
	}
	if err == nil {
		s.events.publish(Event{Kind: EventRecording, CameraID: cameraID, State: st.State, Detail: st.File})
	}
	return st, err
}

func (s *Supervisor) stopRecordLocked(ctx context.Context, cameraID string) (recorder.Status, error) {
	eng, err := s.engineFor(cameraID)
	if err != nil {
		return recorder.Status{}, err
	}
	st, err := s.rec.Stop(ctx, cameraID)
	if err != nil {
		return st, err
	}
	s.events.publish(Event{Kind: EventRecording, CameraID: cameraID, State: st.State, Detail: st.File})

	if s.cfg.Recorder.Mode == config.RecorderModeStandalone {
		s.own.releaseDevice(eng.DevicePath(), "recorder:"+cameraID)
		// offer the camera back to ingest now that the device is free
		if _, err := s.startIngestLocked(ctx, cameraID); err != nil {
			s.logger.WithFields(logging.Fields{"camera_id": cameraID, "error": err.Error()}).
				Warn("ingest restart after standalone recording failed")
		}
	}
	return st, nil
}

func (s *Supervisor) applySceneLocked(ctx context.Context, id string) error {
	resolved, err := s.scenes.Resolve(id)
	if err != nil {
		return err
	}

	// a camera being recorded standalone cannot also feed the mixer:
	// refuse the apply and leave the recorder undisturbed
	if s.cfg.Recorder.Mode == config.RecorderModeStandalone {
		for _, src := range resolved.SourceSet() {
			const camPrefix = "camera:"
			if len(src) > len(camPrefix) && src[:len(camPrefix)] == camPrefix {
				camID := src[len(camPrefix):]
				if s.rec.Recording(camID) {
					return apperrors.New(apperrors.KindDeviceBusy, "supervisor.ApplyScene",
						fmt.Sprintf("camera %s is recording standalone", camID)).WithScene(id)
				}
			}
		}
	}

	if err := s.mix.Apply(ctx, resolved); err != nil {
		return err
	}
	s.events.publish(Event{Kind: EventSceneApply, SceneID: id, State: s.mix.State()})
	return nil
}

func (s *Supervisor) startMixerLocked(ctx context.Context) error {
	owner := "mixer"
	if err := s.own.acquirePublish(s.cfg.Mixer.PublishPath, owner); err != nil {
		return err
	}
	if err := s.mix.Start(ctx); err != nil {
		s.own.releasePublish(s.cfg.Mixer.PublishPath, owner)
		return err
	}
	s.events.publish(Event{Kind: EventStateChange, Engine: "mixer", State: s.mix.State(), SceneID: s.mix.AppliedSceneID()})
	return nil
}

func (s *Supervisor) mixStopAndRelease(ctx context.Context) {
	_ = s.mix.Stop(ctx)
	s.own.releasePublish(s.cfg.Mixer.PublishPath, "mixer")
	s.events.publish(Event{Kind: EventStateChange, Engine: "mixer", State: s.mix.State()})
}

func (s *Supervisor) statusLocked() SystemStatus {
	st := SystemStatus{
		Cameras:    map[string]ingest.Snapshot{},
		Recordings: map[string]recorder.Status{},
		Mixer:      s.mix.StatusNow(),
		DeviceBusy: s.own.deviceTable(),
	}
	for id, eng := range s.ingests {
		st.Cameras[id] = eng.Observe()
		st.Recordings[id] = s.rec.StatusFor(id)
	}
	return st
}

// shutdown drains every engine to EOS: recordings finalize, the mixer
// and ingests stop gracefully, devices are released.
func (s *Supervisor) shutdown() {
	grace := time.Duration(s.cfg.ServerDefaults.ShutdownTimeout * float64(time.Second))
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	s.rec.StopAll(ctx)
	s.mixStopAndRelease(ctx)
	for _, id := range s.cameraIDs {
		if err := s.stopIngestLocked(ctx, id); err != nil {
			s.logger.WithFields(logging.Fields{"camera_id": id, "error": err.Error()}).Warn("ingest shutdown error")
		}
	}
	s.logger.Info("supervisor shut down")
}
