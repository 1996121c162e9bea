package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/devprobe"
)

func captureSpec() Spec {
	return Spec{
		Kind:       SpecCaptureToPublish,
		Camera:     "cam0",
		DevicePath: "/dev/video0",
		Caps:       devprobe.Caps{Width: 1920, Height: 1080, FrameRate: 30, PixFmt: "NV12"},
		Encoder:    EncoderH264SW,
		BitrateKb:  4000,
		Publish:    Sink{Kind: SinkPublishRTSP, Target: "rtsp://127.0.0.1:8554/cam/cam0"},
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := New()
	d1, err := b.Build(captureSpec())
	require.NoError(t, err)
	d2, err := b.Build(captureSpec())
	require.NoError(t, err)
	assert.Equal(t, d1.Summary, d2.Summary)
	assert.Equal(t, d1.Argv, d2.Argv)
}

func TestBuildCaptureLowLatencyTuning(t *testing.T) {
	b := New()
	d, err := b.Build(captureSpec())
	require.NoError(t, err)
	assert.Contains(t, d.Argv, "zerolatency")
	// keyframe interval = target framerate
	assert.Contains(t, d.Argv, "-g")
	for i, a := range d.Argv {
		if a == "-g" {
			assert.Equal(t, "30", d.Argv[i+1])
		}
	}
}

func TestBuildCaptureRejectsBadCaps(t *testing.T) {
	spec := captureSpec()
	spec.Caps.Width = 0
	_, err := New().Build(spec)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindDeviceCapsUnsupported))
}

func TestBuildCaptureScaleInsertedWhenTargetDiffers(t *testing.T) {
	spec := captureSpec()
	spec.TargetWidth = 1280
	spec.TargetHeight = 720
	d, err := New().Build(spec)
	require.NoError(t, err)
	assert.Contains(t, d.Argv, "-vf")
	joined := ""
	for i, a := range d.Argv {
		if a == "-vf" {
			joined = d.Argv[i+1]
		}
	}
	assert.Contains(t, joined, "scale=1280:720")
	assert.Contains(t, joined, "format=nv12")
}

func TestBuildCaptureFramerateNormalizer(t *testing.T) {
	spec := captureSpec()
	spec.Caps.FrameRate = 60
	spec.TargetFPS = 30
	d, err := New().Build(spec)
	require.NoError(t, err)
	var vf string
	for i, a := range d.Argv {
		if a == "-vf" {
			vf = d.Argv[i+1]
		}
	}
	assert.Contains(t, vf, "fps=30")
}

func TestBuildCaptureBayerChain(t *testing.T) {
	spec := captureSpec()
	spec.Caps.PixFmt = "SBGGR8"
	d, err := New().Build(spec)
	require.NoError(t, err)
	var vf string
	for i, a := range d.Argv {
		if a == "-vf" {
			vf = d.Argv[i+1]
		}
	}
	assert.Contains(t, vf, "bayer")
}

func TestBuildTeeUsesSingleEncode(t *testing.T) {
	spec := captureSpec()
	spec.Kind = SpecCaptureTee
	spec.Branches = []Sink{
		{Kind: SinkPublishRTSP, Target: "rtsp://127.0.0.1:8554/cam/cam0"},
		{Kind: SinkFile, Target: "/recordings/cam0/out.mp4", Container: "mp4"},
	}
	d, err := New().Build(spec)
	require.NoError(t, err)
	assert.Contains(t, d.Argv, "tee")
	encoders := 0
	for _, a := range d.Argv {
		if a == "-c:v" {
			encoders++
		}
	}
	assert.Equal(t, 1, encoders)
}

func mixerSpec() Spec {
	return Spec{
		Kind:         SpecMixerScene,
		OutputWidth:  1920,
		OutputHeight: 1080,
		Encoder:      EncoderH264SW,
		BitrateKb:    6000,
		MixerBranches: []MixerBranch{
			{
				Source:   SourceRef{Kind: SourceCamera, CameraID: "cam0", Path: "rtsp://127.0.0.1:8554/cam/cam0"},
				PadIDs:   []string{"pad0"},
				Geometry: []Rect{{X: 0, Y: 0, W: 960, H: 540}},
				ZOrder:   []int{0},
				Alpha:    []float64{1.0},
			},
			{
				Source:   SourceRef{Kind: SourceCamera, CameraID: "cam1", Path: "rtsp://127.0.0.1:8554/cam/cam1"},
				PadIDs:   []string{"pad1"},
				Geometry: []Rect{{X: 960, Y: 0, W: 960, H: 540}},
				ZOrder:   []int{0},
				Alpha:    []float64{1.0},
			},
		},
		OutputSinks: []Sink{{Kind: SinkPublishRTSP, Target: "rtsp://127.0.0.1:8554/program"}},
	}
}

func TestBuildMixerDeterministicPadOrder(t *testing.T) {
	b := New()
	d1, err := b.Build(mixerSpec())
	require.NoError(t, err)
	d2, err := b.Build(mixerSpec())
	require.NoError(t, err)
	assert.Equal(t, d1.Argv, d2.Argv)

	var graph string
	for i, a := range d1.Argv {
		if a == "-filter_complex" {
			graph = d1.Argv[i+1]
		}
	}
	require.NotEmpty(t, graph)
	assert.Contains(t, graph, "overlay=x=0:y=0")
	assert.Contains(t, graph, "overlay=x=960:y=0")
}

func TestBuildMixerRejectsEmptyScene(t *testing.T) {
	spec := mixerSpec()
	spec.MixerBranches = nil
	_, err := New().Build(spec)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))
}

func TestSourceKeyIdentity(t *testing.T) {
	cam := SourceRef{Kind: SourceCamera, CameraID: "cam2"}
	assert.Equal(t, "cam2", sourceKey(cam))
	file := SourceRef{Kind: SourceFileVideo, Path: "/media/clip.mp4"}
	assert.Equal(t, "/media/clip.mp4", sourceKey(file))
}
