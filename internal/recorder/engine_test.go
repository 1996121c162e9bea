package recorder

import (
	"context"
	"errors"
	"os"
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
)

type fakePipeline struct {
	desc    pipeline.Description
	stopErr error

	mu      sync.Mutex
	state   pipeline.State
	stopped bool
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
	f.stopped = true
	f.mu.Unlock()
	return f.stopErr
}

func (f *fakePipeline) HotReconfigure(ctx context.Context, d pipeline.Description) error { return nil }
func (f *fakePipeline) State() pipeline.State                                            { return f.state }
func (f *fakePipeline) LastError() error                                                 { return nil }
func (f *fakePipeline) LastBufferAge() time.Duration                                     { return 0 }
func (f *fakePipeline) AttachBusListener() <-chan pipeline.Event {
	return make(chan pipeline.Event)
}
func (f *fakePipeline) Description() pipeline.Description { return f.desc }

type fakeSource struct {
	info map[string]CameraInfo
}

func (f fakeSource) Info(id string) (CameraInfo, bool) {
	i, ok := f.info[id]
	return i, ok
}

func testEngine(t *testing.T, mode config.RecorderMode, ingestState common.LifecycleState) (*Engine, *[]*fakePipeline) {
	t.Helper()
	made := &[]*fakePipeline{}
	factory := func(desc pipeline.Description) pipeline.Pipeline {
		p := &fakePipeline{desc: desc}
		*made = append(*made, p)
		return p
	}
	cfg := config.RecorderConfig{
		Mode:           mode,
		RecordingsRoot: t.TempDir(),
		Container:      "mp4",
		StopDeadline:   200 * time.Millisecond,
	}
	source := fakeSource{info: map[string]CameraInfo{
		"cam1": {
			DevicePath:  "/dev/video1",
			PublishURL:  "rtsp://127.0.0.1:8554/cam/cam1",
			Caps:        devprobe.Caps{Width: 1920, Height: 1080, FrameRate: 30, PixFmt: "NV12"},
			Encoder:     pipeline.EncoderH264SW,
			BitrateKb:   4000,
			Template:    "%Y-%m-%d_%H-%M-%S_{camera}",
			IngestState: ingestState,
		},
	}}
	return New(cfg, source, pipeline.New(), factory, nil, logging.GetLogger("recorder-test")), made
}

func TestExpandTemplate(t *testing.T) {
	ts := time.Date(2026, 8, 1, 9, 30, 5, 0, time.UTC)
	got := expandTemplate("%Y-%m-%d_%H-%M-%S_{camera}", "cam2", ts)
	assert.Equal(t, "2026-08-01_09-30-05_cam2", got)
}

func TestRecordingPathDisambiguates(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	p1, err := recordingPath(root, "cam1", "take_%H", "mp4", ts)
	require.NoError(t, err)

	require.NoError(t, touch(p1))
	p2, err := recordingPath(root, "cam1", "take_%H", "mp4", ts)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
	assert.Contains(t, p2, "take_09_1.mp4")
}

func touch(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func TestBranchedStartRequiresRunningIngest(t *testing.T) {
	e, made := testEngine(t, config.RecorderModeBranched, common.StateIdle)
	_, err := e.Start(context.Background(), "cam1")
	require.Error(t, err)
	assert.Empty(t, *made)
}

func TestBranchedStartPullsPublishPath(t *testing.T) {
	e, made := testEngine(t, config.RecorderModeBranched, common.StateRunning)
	st, err := e.Start(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, st.State)
	require.Len(t, *made, 1)
	argv := (*made)[0].desc.Argv
	assert.Contains(t, argv, "rtsp://127.0.0.1:8554/cam/cam1")
	// remux only: the branched path must not re-encode
	assert.Contains(t, argv, "copy")
	for _, a := range argv {
		assert.NotEqual(t, "/dev/video1", a, "branched recording must never open the device")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	e, made := testEngine(t, config.RecorderModeBranched, common.StateRunning)
	st1, err := e.Start(context.Background(), "cam1")
	require.NoError(t, err)
	st2, err := e.Start(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, st1.File, st2.File)
	assert.Len(t, *made, 1)
}

func TestStandaloneRequiresIdleIngest(t *testing.T) {
	e, _ := testEngine(t, config.RecorderModeStandalone, common.StateRunning)
	_, err := e.Start(context.Background(), "cam1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDeviceBusy))
}

func TestStandaloneOpensDevice(t *testing.T) {
	e, made := testEngine(t, config.RecorderModeStandalone, common.StateIdle)
	_, err := e.Start(context.Background(), "cam1")
	require.NoError(t, err)
	require.Len(t, *made, 1)
	assert.Contains(t, (*made)[0].desc.Argv, "/dev/video1")
}

func TestStartUnknownCamera(t *testing.T) {
	e, _ := testEngine(t, config.RecorderModeBranched, common.StateRunning)
	_, err := e.Start(context.Background(), "cam9")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestStopFinalizesAndIsIdempotent(t *testing.T) {
	e, made := testEngine(t, config.RecorderModeBranched, common.StateRunning)
	_, err := e.Start(context.Background(), "cam1")
	require.NoError(t, err)

	st, err := e.Stop(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, common.StateIdle, st.State)
	assert.False(t, st.PossiblyTruncated)
	assert.True(t, (*made)[0].stopped)

	st, err = e.Stop(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, common.StateIdle, st.State)
}

func TestForcedStopReportsPossiblyTruncated(t *testing.T) {
	e, made := testEngine(t, config.RecorderModeBranched, common.StateRunning)
	_, err := e.Start(context.Background(), "cam1")
	require.NoError(t, err)
	(*made)[0].stopErr = errors.New("stop timeout, forced teardown")

	st, err := e.Stop(context.Background(), "cam1")
	require.NoError(t, err, "stop always succeeds from the caller's perspective")
	assert.True(t, st.PossiblyTruncated)
}

func TestStorageGuardBlocksWhenFull(t *testing.T) {
	e, _ := testEngine(t, config.RecorderModeBranched, common.StateRunning)
	e.guard = &StorageGuard{
		BlockPercent: 95,
		Usage:        func(string) (float64, error) { return 97.2, nil },
		Logger:       logging.GetLogger("recorder-test"),
	}
	_, err := e.Start(context.Background(), "cam1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistenceError))
}

func TestNeedsRotation(t *testing.T) {
	e, _ := testEngine(t, config.RecorderModeBranched, common.StateRunning)
	e.cfg.MaxSegmentDuration = time.Hour

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	current := base
	e.now = func() time.Time { return current }

	_, err := e.Start(context.Background(), "cam1")
	require.NoError(t, err)
	assert.False(t, e.NeedsRotation("cam1"))

	current = base.Add(61 * time.Minute)
	assert.True(t, e.NeedsRotation("cam1"))
}

func TestStatusForIdleCamera(t *testing.T) {
	e, _ := testEngine(t, config.RecorderModeBranched, common.StateRunning)
	st := e.StatusFor("cam1")
	assert.Equal(t, common.StateIdle, st.State)
	assert.Empty(t, st.File)
}
