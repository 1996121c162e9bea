package mixer

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
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/pipeline"
	"github.com/camerarecorder/hdmi-mixer-go/internal/scene"
)

type fakePipeline struct {
	mu          sync.Mutex
	desc        pipeline.Description
	state       pipeline.State
	stopped     bool
	reconfigured int
	blockStart  bool
}

func (f *fakePipeline) Start(ctx context.Context) error {
	if f.blockStart {
		<-ctx.Done()
		return ctx.Err()
	}
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
	return nil
}

func (f *fakePipeline) HotReconfigure(ctx context.Context, d pipeline.Description) error {
	f.mu.Lock()
	f.desc = d
	f.reconfigured++
	f.mu.Unlock()
	return nil
}

func (f *fakePipeline) State() pipeline.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePipeline) LastError() error             { return nil }
func (f *fakePipeline) LastBufferAge() time.Duration { return 0 }
func (f *fakePipeline) AttachBusListener() <-chan pipeline.Event {
	return make(chan pipeline.Event)
}
func (f *fakePipeline) Description() pipeline.Description {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.desc
}

type fakeResolver struct{}

func (fakeResolver) ResolveCamera(id string) (string, bool) {
	return "rtsp://127.0.0.1:8554/cam/" + id, true
}
func (fakeResolver) FileExists(string) bool    { return true }
func (fakeResolver) KnownMediaPath(string) bool { return true }

func resolved(t *testing.T, sc scene.Scene) scene.Resolved {
	t.Helper()
	r, err := scene.Resolve(sc, fakeResolver{})
	require.NoError(t, err)
	return r
}

func quad(t *testing.T) scene.Resolved {
	return resolved(t, scene.Scene{
		ID:         "quad",
		Resolution: scene.Resolution{Width: 1920, Height: 1080},
		Slots: []scene.Slot{
			{Source: "cam1", SourceType: scene.SourceCamera, X: 0, Y: 0, W: 0.5, H: 0.5, Alpha: 1},
			{Source: "cam2", SourceType: scene.SourceCamera, X: 0.5, Y: 0, W: 0.5, H: 0.5, Alpha: 1},
		},
	})
}

func cam1Full(t *testing.T) scene.Resolved {
	return resolved(t, scene.Scene{
		ID:         "cam1_full",
		Resolution: scene.Resolution{Width: 1920, Height: 1080},
		Slots: []scene.Slot{
			{Source: "cam1", SourceType: scene.SourceCamera, X: 0, Y: 0, W: 1, H: 1, Alpha: 1},
		},
	})
}

type testRig struct {
	engine *Engine
	made   []*fakePipeline
	slept  []time.Duration
}

func newRig(block bool) *testRig {
	rig := &testRig{}
	factory := func(desc pipeline.Description) pipeline.Pipeline {
		p := &fakePipeline{desc: desc, blockStart: block}
		rig.made = append(rig.made, p)
		return p
	}
	cfg := config.MixerConfig{
		StartDeadline:      200 * time.Millisecond,
		StopDeadline:       200 * time.Millisecond,
		DeviceReleaseDelay: 500 * time.Millisecond,
		OutputWidth:        1920,
		OutputHeight:       1080,
		PublishPath:        "rtsp://127.0.0.1:8554/program",
	}
	rig.engine = New(cfg, pipeline.EncoderH264SW, 6000, pipeline.New(), factory, logging.GetLogger("mixer-test"))
	rig.engine.sleep = func(d time.Duration) { rig.slept = append(rig.slept, d) }
	return rig
}

func TestApplyBeforeStartStoresTarget(t *testing.T) {
	rig := newRig(false)
	require.NoError(t, rig.engine.Apply(context.Background(), quad(t)))
	assert.Empty(t, rig.made, "apply while stopped must not build a pipeline")
	assert.Equal(t, "quad", rig.engine.AppliedSceneID())

	require.NoError(t, rig.engine.Start(context.Background()))
	assert.Equal(t, common.StateRunning, rig.engine.State())
	assert.Len(t, rig.made, 1)
}

func TestStartWithoutSceneFails(t *testing.T) {
	rig := newRig(false)
	err := rig.engine.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))
}

func TestStartIsIdempotent(t *testing.T) {
	rig := newRig(false)
	require.NoError(t, rig.engine.Apply(context.Background(), quad(t)))
	require.NoError(t, rig.engine.Start(context.Background()))
	require.NoError(t, rig.engine.Start(context.Background()))
	assert.Len(t, rig.made, 1)
}

func TestApplySameSceneTwiceIsNoOp(t *testing.T) {
	rig := newRig(false)
	require.NoError(t, rig.engine.Apply(context.Background(), quad(t)))
	require.NoError(t, rig.engine.Start(context.Background()))

	require.NoError(t, rig.engine.Apply(context.Background(), quad(t)))
	assert.Len(t, rig.made, 1)
	assert.Zero(t, rig.made[0].reconfigured)
}

func TestGeometryChangeHotReconfigures(t *testing.T) {
	rig := newRig(false)
	require.NoError(t, rig.engine.Apply(context.Background(), quad(t)))
	require.NoError(t, rig.engine.Start(context.Background()))
	first := rig.engine.Handle()

	moved := resolved(t, scene.Scene{
		ID:         "quad",
		Resolution: scene.Resolution{Width: 1920, Height: 1080},
		Slots: []scene.Slot{
			{Source: "cam1", SourceType: scene.SourceCamera, X: 0, Y: 0.5, W: 0.5, H: 0.5, Alpha: 1},
			{Source: "cam2", SourceType: scene.SourceCamera, X: 0.5, Y: 0.5, W: 0.5, H: 0.5, Alpha: 1},
		},
	})
	require.NoError(t, rig.engine.Apply(context.Background(), moved))

	assert.Same(t, first, rig.engine.Handle(), "geometry-only apply must keep the pipeline handle")
	assert.Len(t, rig.made, 1)
	assert.Equal(t, 1, rig.made[0].reconfigured)
	assert.Empty(t, rig.slept, "hot reconfiguration must not pause for device release")
}

func TestShrinkingSourceSubsetStillRebuilds(t *testing.T) {
	// quad -> cam1_full drops cam2: the source set differs, so this is
	// a rebuild even though cam1 is present in both
	rig := newRig(false)
	require.NoError(t, rig.engine.Apply(context.Background(), quad(t)))
	require.NoError(t, rig.engine.Start(context.Background()))
	first := rig.engine.Handle()

	require.NoError(t, rig.engine.Apply(context.Background(), cam1Full(t)))
	assert.NotSame(t, first, rig.engine.Handle())
	assert.True(t, rig.made[0].stopped)
	require.Len(t, rig.slept, 1)
	assert.Equal(t, 500*time.Millisecond, rig.slept[0])
	assert.Equal(t, common.StateRunning, rig.engine.State())
	assert.Equal(t, "cam1_full", rig.engine.AppliedSceneID())
}

func TestApplyABAReturnsToSameObservableState(t *testing.T) {
	rig := newRig(false)
	a := quad(t)
	b := cam1Full(t)

	require.NoError(t, rig.engine.Apply(context.Background(), a))
	require.NoError(t, rig.engine.Start(context.Background()))
	require.NoError(t, rig.engine.Apply(context.Background(), b))
	require.NoError(t, rig.engine.Apply(context.Background(), a))

	st := rig.engine.StatusNow()
	assert.Equal(t, common.StateRunning, st.State)
	assert.Equal(t, "quad", st.SceneID)
	assert.ElementsMatch(t, []string{"camera:cam1", "camera:cam2"}, rig.engine.SourceSet())
}

func TestStopEndsIdleAndClearsScene(t *testing.T) {
	rig := newRig(false)
	require.NoError(t, rig.engine.Apply(context.Background(), quad(t)))
	require.NoError(t, rig.engine.Start(context.Background()))
	require.NoError(t, rig.engine.Stop(context.Background()))

	assert.Equal(t, common.StateIdle, rig.engine.State())
	assert.True(t, rig.made[0].stopped)
	st := rig.engine.StatusNow()
	assert.False(t, st.PublishActive)
}

func TestStartDeadlineYieldsTimeoutError(t *testing.T) {
	rig := newRig(true)
	require.NoError(t, rig.engine.Apply(context.Background(), quad(t)))
	err := rig.engine.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindTimeout))
	assert.Equal(t, common.StateError, rig.engine.State())
	assert.True(t, rig.made[0].stopped)
}

func TestStatusReportsBranches(t *testing.T) {
	rig := newRig(false)
	rig.engine.SetFileSink("/recordings/program/live.mp4")
	require.NoError(t, rig.engine.Apply(context.Background(), quad(t)))
	require.NoError(t, rig.engine.Start(context.Background()))

	st := rig.engine.StatusNow()
	assert.Equal(t, "ok", st.Health)
	assert.True(t, st.PublishActive)
	assert.True(t, st.FileActive)
	assert.Equal(t, "/recordings/program/live.mp4", st.FilePath)

	// the file branch is part of the built graph
	assert.Contains(t, rig.made[0].desc.Summary, "live.mp4")
}
