package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/devprobe"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/pipeline"
	"github.com/camerarecorder/hdmi-mixer-go/internal/scene"
)

type fakeProber struct {
	mu      sync.Mutex
	results map[string]devprobe.Result
	inits   []string
}

func (f *fakeProber) Probe(ctx context.Context, devicePath string) devprobe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[devicePath]
}

func (f *fakeProber) InitBridge(ctx context.Context, devicePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits = append(f.inits, devicePath)
	return nil
}

func (f *fakeProber) set(devicePath string, r devprobe.Result) {
	f.mu.Lock()
	f.results[devicePath] = r
	f.mu.Unlock()
}

type fakePipeline struct {
	mu    sync.Mutex
	desc  pipeline.Description
	state pipeline.State
}

func (f *fakePipeline) Start(ctx context.Context) error {
	f.mu.Lock()
	f.state = pipeline.StateRunning
	f.mu.Unlock()
	return nil
}
func (f *fakePipeline) Stop(ctx context.Context, eos bool) error {
	f.mu.Lock()
	f.state = pipeline.StateStopped
	f.mu.Unlock()
	return nil
}
func (f *fakePipeline) HotReconfigure(ctx context.Context, d pipeline.Description) error {
	f.mu.Lock()
	f.desc = d
	f.mu.Unlock()
	return nil
}
func (f *fakePipeline) State() pipeline.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
func (f *fakePipeline) LastError() error                             { return nil }
func (f *fakePipeline) LastBufferAge() time.Duration                 { return 0 }
func (f *fakePipeline) AttachBusListener() <-chan pipeline.Event     { return make(chan pipeline.Event) }
func (f *fakePipeline) Description() pipeline.Description            { f.mu.Lock(); defer f.mu.Unlock(); return f.desc }

type fakeKiller struct {
	mu     sync.Mutex
	killed []string
}

func (f *fakeKiller) KillHolder(ctx context.Context, devicePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, devicePath)
	return nil
}

func signalProbe() devprobe.Result {
	return devprobe.Result{
		Exists: true, OpenableExclusive: true, Kind: devprobe.KindHdmiBridge,
		Caps:      devprobe.Caps{Width: 1920, Height: 1080, FrameRate: 30, PixFmt: "NV12"},
		HasSignal: true,
	}
}

func noSignalProbe() devprobe.Result {
	return devprobe.Result{Exists: true, OpenableExclusive: true, Kind: devprobe.KindHdmiBridge}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MediaServer: config.MediaServerConfig{Host: "127.0.0.1", RTSPPort: 8554},
		Cameras: []config.CameraConfig{
			{ID: "cam0", DevicePath: "/dev/video0", Codec: "h264", BitrateKbps: 4000, Enabled: true, PublishPath: "cam/cam0", RecordingFormat: "%Y%m%d_%H%M%S_{camera}", FrameRate: 30},
			{ID: "cam1", DevicePath: "/dev/video1", Codec: "h264", BitrateKbps: 4000, Enabled: true, PublishPath: "cam/cam1", RecordingFormat: "%Y%m%d_%H%M%S_{camera}", FrameRate: 30},
		},
		DeviceProbe: config.DeviceProbeConfig{MinSignalWidth: 640, MinSignalHeight: 480, ProbeTimeout: time.Second},
		Ingest: config.IngestConfig{
			StartDeadline: 200 * time.Millisecond, StopDeadline: 200 * time.Millisecond,
			LivenessTimeout: 15 * time.Second, PollInterval: 10 * time.Second,
		},
		Recorder: config.RecorderConfig{
			Mode: config.RecorderModeBranched, RecordingsRoot: t.TempDir(),
			Container: "mp4", StopDeadline: 200 * time.Millisecond,
		},
		Scene: config.SceneConfig{StoreDir: t.TempDir(), SeedBuiltins: true},
		Mixer: config.MixerConfig{
			StartDeadline: 200 * time.Millisecond, StopDeadline: 200 * time.Millisecond,
			DeviceReleaseDelay: time.Millisecond,
			OutputWidth:        1920, OutputHeight: 1080,
			PublishPath: "program",
		},
		Supervisor: config.SupervisorConfig{
			MixerPollInterval: time.Hour, IngestPollInterval: time.Hour,
			RebuildBackoff: 30 * time.Second, CommandQueueDepth: 16, WorkerPoolSize: 4,
			StrandedProcessKill: true,
		},
	}
}

type rig struct {
	sup    *Supervisor
	prober *fakeProber
	killer *fakeKiller
	cancel context.CancelFunc
}

func newRig(t *testing.T, cfg *config.Config) *rig {
	t.Helper()
	prober := &fakeProber{results: map[string]devprobe.Result{
		"/dev/video0": noSignalProbe(),
		"/dev/video1": signalProbe(),
	}}
	killer := &fakeKiller{}
	factory := func(desc pipeline.Description) pipeline.Pipeline {
		return &fakePipeline{desc: desc}
	}
	sup, err := New(cfg, Deps{
		Prober:       prober,
		Factory:      factory,
		Killer:       killer,
		Usage:        func(string) (float64, error) { return 10, nil },
		EncoderProbe: func(context.Context) EncoderCaps { return EncoderCaps{} },
	}, logging.GetLogger("supervisor-test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-sup.done:
		case <-time.After(2 * time.Second):
			t.Log("supervisor did not shut down in time")
		}
	})

	r := &rig{sup: sup, prober: prober, killer: killer, cancel: cancel}
	// wait until boot finished and the loop answers commands
	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	_, err = sup.Status(reqCtx)
	require.NoError(t, err)
	return r
}

// pollIngestsForTest runs one watchdog tick on the loop goroutine so
// tests never race the command path.
func (s *Supervisor) pollIngestsForTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = s.do(ctx, "pollIngests", func(ctx context.Context) (any, error) {
		s.pollIngests(ctx)
		return nil, nil
	})
}

func reqCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestBootStartsIngestPerSignal(t *testing.T) {
	r := newRig(t, testConfig(t))
	st, err := r.sup.Status(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateNoSignal, st.Cameras["cam0"].State)
	assert.Equal(t, common.StateRunning, st.Cameras["cam1"].State)
}

func TestApplySceneAndStartMixer(t *testing.T) {
	r := newRig(t, testConfig(t))
	require.NoError(t, r.sup.ApplyScene(reqCtx(t), "quad"))
	require.NoError(t, r.sup.StartMixer(reqCtx(t)))

	st, err := r.sup.MixerStatus(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, st.State)
	assert.Equal(t, "quad", st.SceneID)
	assert.Equal(t, "ok", st.Health)
}

func TestPutSceneWithUnknownCameraRejected(t *testing.T) {
	r := newRig(t, testConfig(t))
	bad := scene.Scene{
		ID:         "bad",
		Resolution: scene.Resolution{Width: 1920, Height: 1080},
		Slots: []scene.Slot{
			{Source: "cam9", SourceType: scene.SourceCamera, W: 1, H: 1, Alpha: 1},
		},
	}
	err := r.sup.PutScene(reqCtx(t), "bad", bad)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))

	// mixer untouched
	st, err := r.sup.MixerStatus(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateIdle, st.State)
}

func TestDeleteAppliedSceneRefused(t *testing.T) {
	r := newRig(t, testConfig(t))
	require.NoError(t, r.sup.ApplyScene(reqCtx(t), "quad"))
	require.NoError(t, r.sup.StartMixer(reqCtx(t)))

	err := r.sup.DeleteScene(reqCtx(t), "quad")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindSceneInUse))

	_, err = r.sup.GetScene(reqCtx(t), "quad")
	assert.NoError(t, err, "refused delete must leave the store unchanged")
}

func TestRecordStartStopBranched(t *testing.T) {
	r := newRig(t, testConfig(t))
	st, err := r.sup.StartRecord(reqCtx(t), "cam1")
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, st.State)
	assert.NotEmpty(t, st.File)

	// ingest uninterrupted by branched recording
	sys, err := r.sup.Status(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, sys.Cameras["cam1"].State)

	stopped, err := r.sup.StopRecord(reqCtx(t), "cam1")
	require.NoError(t, err)
	assert.Equal(t, common.StateIdle, stopped.State)
	assert.False(t, stopped.PossiblyTruncated)
}

func TestRecordUnknownCamera(t *testing.T) {
	r := newRig(t, testConfig(t))
	_, err := r.sup.StartRecord(reqCtx(t), "cam9")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestSignalLossParksAndRecoveryRestarts(t *testing.T) {
	r := newRig(t, testConfig(t))

	r.prober.set("/dev/video1", noSignalProbe())
	r.sup.pollIngestsForTest()

	st, err := r.sup.Status(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateNoSignal, st.Cameras["cam1"].State)

	r.prober.set("/dev/video1", signalProbe())
	r.sup.pollIngestsForTest()

	st, err = r.sup.Status(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, st.Cameras["cam1"].State)

	// HdmiBridge devices get re-initialized on recovery
	r.prober.mu.Lock()
	inits := append([]string(nil), r.prober.inits...)
	r.prober.mu.Unlock()
	assert.Contains(t, inits, "/dev/video1")
}

func TestCapsChangeTriggersRebuild(t *testing.T) {
	r := newRig(t, testConfig(t))

	uhd := signalProbe()
	uhd.Caps = devprobe.Caps{Width: 3840, Height: 2160, FrameRate: 30, PixFmt: "NV12"}
	r.prober.set("/dev/video1", uhd)
	r.sup.pollIngestsForTest()

	st, err := r.sup.Status(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, st.Cameras["cam1"].State)
	assert.Equal(t, 3840, st.Cameras["cam1"].Caps.Width)
}

func TestPublishCollisionRefused(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cameras[0].PublishPath = "cam/shared"
	cfg.Cameras[1].PublishPath = "cam/shared"
	// both cameras have signal so both try to publish
	r := newRig(t, cfg)
	r.prober.set("/dev/video0", signalProbe())

	st, err := r.sup.Status(reqCtx(t))
	require.NoError(t, err)
	running := 0
	for _, snap := range st.Cameras {
		if snap.State == common.StateRunning {
			running++
		}
	}
	assert.LessOrEqual(t, running, 1, "two pipelines must never publish the same path")

	_, err = r.sup.StartIngest(reqCtx(t), "cam0")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPublishCollision))
}

func TestStrandedProcessCleanup(t *testing.T) {
	cfg := testConfig(t)
	r := newRig(t, cfg)

	busy := signalProbe()
	busy.OpenableExclusive = false
	r.prober.set("/dev/video0", busy)

	_, err := r.sup.StartIngest(reqCtx(t), "cam0")
	require.NoError(t, err)
	r.killer.mu.Lock()
	killed := append([]string(nil), r.killer.killed...)
	r.killer.mu.Unlock()
	assert.Contains(t, killed, "/dev/video0")
}

func TestStrandedCleanupDisabledYieldsDeviceBusy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.StrandedProcessKill = false
	r := newRig(t, cfg)

	busy := signalProbe()
	busy.OpenableExclusive = false
	r.prober.set("/dev/video0", busy)

	_, err := r.sup.StartIngest(reqCtx(t), "cam0")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDeviceBusy))
}

func TestStandaloneRecordingStopsAndRestoresIngest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recorder.Mode = config.RecorderModeStandalone
	r := newRig(t, cfg)

	st, err := r.sup.StartRecord(reqCtx(t), "cam1")
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, st.State)

	sys, err := r.sup.Status(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateIdle, sys.Cameras["cam1"].State, "standalone recording requires ingest stopped")

	_, err = r.sup.StopRecord(reqCtx(t), "cam1")
	require.NoError(t, err)

	sys, err = r.sup.Status(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, sys.Cameras["cam1"].State, "ingest restarts after standalone recording stops")
}

func TestApplySceneRefusedWhileStandaloneRecording(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recorder.Mode = config.RecorderModeStandalone
	r := newRig(t, cfg)

	_, err := r.sup.StartRecord(reqCtx(t), "cam1")
	require.NoError(t, err)

	err = r.sup.ApplyScene(reqCtx(t), "cam1_full")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDeviceBusy))

	// recorder undisturbed
	sys, err := r.sup.Status(reqCtx(t))
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, sys.Recordings["cam1"].State)
}

func TestApplyUnknownScene(t *testing.T) {
	r := newRig(t, testConfig(t))
	err := r.sup.ApplyScene(reqCtx(t), "nope")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}
