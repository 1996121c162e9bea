package devprobe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

type fakeExists struct{ paths map[string]bool }

func (f fakeExists) Exists(path string) bool { return f.paths[path] }

type fakeRunner struct {
	out map[string]string
	err map[string]error
}

func (f fakeRunner) Run(ctx context.Context, devicePath string, args ...string) (string, error) {
	if err, ok := f.err[devicePath]; ok {
		return "", err
	}
	return f.out[devicePath], nil
}

func testLogger() *logging.Logger {
	return logging.GetLogger("devprobe-test")
}

func TestProbeDeviceNotPresent(t *testing.T) {
	p := NewWithDeps(fakeExists{paths: map[string]bool{}}, fakeRunner{}, MinSignal{640, 480}, time.Second, testLogger())
	res := p.Probe(context.Background(), "/dev/video9")
	assert.False(t, res.Exists)
}

func TestProbeHasSignal(t *testing.T) {
	out := "Format Video Capture:\n\tWidth/Height      : 1920/1080\n\tPixel Format      : 'NV12'\n"
	p := NewWithDeps(
		fakeExists{paths: map[string]bool{"/dev/video0": true}},
		fakeRunner{out: map[string]string{"/dev/video0": out}},
		MinSignal{640, 480}, time.Second, testLogger(),
	)
	res := p.Probe(context.Background(), "/dev/video0")
	require.True(t, res.Exists)
	assert.True(t, res.HasSignal)
	assert.Equal(t, 1920, res.Caps.Width)
	assert.Equal(t, "NV12", res.Caps.PixFmt)
}

func TestProbeNoSignalBelowThreshold(t *testing.T) {
	out := "Format Video Capture:\n\tWidth/Height      : 320/240\n\tPixel Format      : 'YUYV'\n"
	p := NewWithDeps(
		fakeExists{paths: map[string]bool{"/dev/video1": true}},
		fakeRunner{out: map[string]string{"/dev/video1": out}},
		MinSignal{640, 480}, time.Second, testLogger(),
	)
	res := p.Probe(context.Background(), "/dev/video1")
	require.True(t, res.Exists)
	assert.False(t, res.HasSignal)
}

func TestProbeQueryFailedYieldsUnknownCaps(t *testing.T) {
	p := NewWithDeps(
		fakeExists{paths: map[string]bool{"/dev/video2": true}},
		fakeRunner{err: map[string]error{"/dev/video2": assertErr("no such device")}},
		MinSignal{640, 480}, time.Second, testLogger(),
	)
	res := p.Probe(context.Background(), "/dev/video2")
	require.True(t, res.Exists)
	assert.False(t, res.HasSignal)
	assert.NotEmpty(t, res.Error)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestClassifyKind(t *testing.T) {
	assert.Equal(t, KindHdmiBridge, classifyKind("/dev/video0"))
	assert.Equal(t, KindHdmiNative, classifyKind("/dev/video4"))
	assert.Equal(t, KindUnknown, classifyKind("/dev/usbcam0"))
}
