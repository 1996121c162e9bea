package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/devprobe"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/pipeline"
)

type fakeProber struct {
	mu     sync.Mutex
	result devprobe.Result
}

func (f *fakeProber) Probe(ctx context.Context, devicePath string) devprobe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *fakeProber) set(r devprobe.Result) {
	f.mu.Lock()
	f.result = r
	f.mu.Unlock()
}

// fakePipeline is an in-memory pipeline.Pipeline with controllable
// start behavior and a scriptable bus.
type fakePipeline struct {
	desc      pipeline.Description
	startErr  error
	blockStart bool

	mu        sync.Mutex
	state     pipeline.State
	bufferAge time.Duration
	stopped   bool
	listeners []chan pipeline.Event
}

func (f *fakePipeline) Start(ctx context.Context) error {
	if f.blockStart {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.startErr != nil {
		return f.startErr
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
	f.mu.Unlock()
	return nil
}

func (f *fakePipeline) State() pipeline.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePipeline) LastError() error { return nil }

func (f *fakePipeline) LastBufferAge() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufferAge
}

func (f *fakePipeline) AttachBusListener() <-chan pipeline.Event {
	ch := make(chan pipeline.Event, 16)
	f.mu.Lock()
	f.listeners = append(f.listeners, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakePipeline) Description() pipeline.Description {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.desc
}

func (f *fakePipeline) emit(ev pipeline.Event) {
	f.mu.Lock()
	listeners := append([]chan pipeline.Event(nil), f.listeners...)
	f.mu.Unlock()
	for _, ch := range listeners {
		ch <- ev
	}
}

func (f *fakePipeline) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeFactory struct {
	mu       sync.Mutex
	made     []*fakePipeline
	nextErr  error
	block    bool
}

func (ff *fakeFactory) factory(desc pipeline.Description) pipeline.Pipeline {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	p := &fakePipeline{desc: desc, startErr: ff.nextErr, blockStart: ff.block}
	ff.made = append(ff.made, p)
	return p
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.made)
}

func (ff *fakeFactory) last() *fakePipeline {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.made) == 0 {
		return nil
	}
	return ff.made[len(ff.made)-1]
}

func goodProbe() devprobe.Result {
	return devprobe.Result{
		Exists: true, OpenableExclusive: true, Kind: devprobe.KindHdmiBridge,
		Caps:      devprobe.Caps{Width: 1920, Height: 1080, FrameRate: 30, PixFmt: "NV12"},
		HasSignal: true,
	}
}

func newTestEngine(prober Prober, factory pipeline.Factory) *Engine {
	cfg := Config{
		CameraID:        "cam1",
		DevicePath:      "/dev/video1",
		Encoder:         pipeline.EncoderH264SW,
		BitrateKb:       4000,
		PublishURL:      "rtsp://127.0.0.1:8554/cam/cam1",
		PublishPath:     "cam/cam1",
		StartDeadline:   200 * time.Millisecond,
		StopDeadline:    200 * time.Millisecond,
		LivenessTimeout: 15 * time.Second,
	}
	return New(cfg, prober, pipeline.New(), factory, logging.GetLogger("ingest-test"))
}

func TestStartNoSignalParksEngine(t *testing.T) {
	prober := &fakeProber{result: devprobe.Result{Exists: true, OpenableExclusive: true}}
	ff := &fakeFactory{}
	e := newTestEngine(prober, ff.factory)

	res, err := e.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NoSignal)
	assert.Equal(t, common.StateNoSignal, e.State())
	assert.Zero(t, ff.count(), "no pipeline may be created without signal")
}

func TestStartReachesRunning(t *testing.T) {
	prober := &fakeProber{result: goodProbe()}
	ff := &fakeFactory{}
	e := newTestEngine(prober, ff.factory)

	res, err := e.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.StateRunning, res.State)
	assert.Equal(t, 1920, res.Caps.Width)
	assert.Equal(t, common.StateRunning, e.State())
	assert.Equal(t, 1, ff.count())
}

func TestStartIdempotentWithIdenticalCaps(t *testing.T) {
	prober := &fakeProber{result: goodProbe()}
	ff := &fakeFactory{}
	e := newTestEngine(prober, ff.factory)

	_, err := e.Start(context.Background())
	require.NoError(t, err)
	_, err = e.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ff.count(), "identical-caps start must be a no-op")
}

func TestStartRebuildsOnCapsChange(t *testing.T) {
	prober := &fakeProber{result: goodProbe()}
	ff := &fakeFactory{}
	e := newTestEngine(prober, ff.factory)

	_, err := e.Start(context.Background())
	require.NoError(t, err)
	first := ff.last()

	r := goodProbe()
	r.Caps = devprobe.Caps{Width: 3840, Height: 2160, FrameRate: 30, PixFmt: "NV12"}
	prober.set(r)

	res, err := e.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3840, res.Caps.Width)
	assert.Equal(t, 2, ff.count())
	assert.True(t, first.wasStopped(), "old pipeline must be torn down before rebuild")
	assert.Equal(t, common.StateRunning, e.State())
}

func TestStartDeadlineForcesErrorState(t *testing.T) {
	prober := &fakeProber{result: goodProbe()}
	ff := &fakeFactory{block: true}
	e := newTestEngine(prober, ff.factory)

	_, err := e.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindTimeout))
	assert.Equal(t, common.StateError, e.State())
	assert.True(t, ff.last().wasStopped(), "timed-out pipeline must be torn down")
}

func TestConcurrentStartsCoalesce(t *testing.T) {
	prober := &fakeProber{result: goodProbe()}
	ff := &fakeFactory{}
	e := newTestEngine(prober, ff.factory)

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Start(context.Background()); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(4), successes.Load())
	assert.Equal(t, 1, ff.count(), "concurrent starts must coalesce onto one attempt")
}

func TestStopAlwaysEndsIdle(t *testing.T) {
	prober := &fakeProber{result: goodProbe()}
	ff := &fakeFactory{}
	e := newTestEngine(prober, ff.factory)

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, common.StateIdle, e.State())

	_, err := e.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, common.StateIdle, e.State())
	assert.True(t, ff.last().wasStopped())
}

func TestLivenessTimeoutDegrades(t *testing.T) {
	prober := &fakeProber{result: goodProbe()}
	ff := &fakeFactory{}
	e := newTestEngine(prober, ff.factory)

	_, err := e.Start(context.Background())
	require.NoError(t, err)

	ff.last().mu.Lock()
	ff.last().bufferAge = 20 * time.Second
	ff.last().mu.Unlock()

	assert.Equal(t, common.StateDegraded, e.CheckLiveness())
	assert.Equal(t, common.StateDegraded, e.State())
}

func TestBusErrorTransitionsToError(t *testing.T) {
	prober := &fakeProber{result: goodProbe()}
	ff := &fakeFactory{}
	e := newTestEngine(prober, ff.factory)

	_, err := e.Start(context.Background())
	require.NoError(t, err)

	ff.last().emit(pipeline.Event{Kind: pipeline.EventError, Message: "device disappeared", At: time.Now()})

	require.Eventually(t, func() bool {
		return e.State() == common.StateError
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, e.Observe().LastError, "device disappeared")
}
