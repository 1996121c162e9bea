/*
Pipeline Builder types: the tagged Spec variants the Builder translates
into deterministic, byte-stable Descriptions. Every source kind flows
through the same tagged variant with explicit matching; there is no
runtime polymorphism beyond the Kind switch.
*/
package pipeline

import "github.com/camerarecorder/hdmi-mixer-go/internal/devprobe"

// Encoder selects the codec implementation. Availability is decided
// once at startup by the Supervisor's capability probe: the builder
// never searches, it only accepts the caller's choice.
type Encoder string

const (
	EncoderH264HW Encoder = "h264_v4l2m2m"
	EncoderH264SW Encoder = "libx264"
	EncoderH265HW Encoder = "hevc_v4l2m2m"
	EncoderH265SW Encoder = "libx265"
)

// SinkKind is the terminal consumer of an encoded branch.
type SinkKind string

const (
	SinkPublishRTSP SinkKind = "rtsp"
	SinkPublishRTMP SinkKind = "rtmp"
	SinkFile        SinkKind = "file"
)

// Sink is one branch terminus: a publish path or a file path.
type Sink struct {
	Kind SinkKind
	// Target is an rtsp://, rtmp:// URL for publish sinks, or a
	// filesystem path for file sinks.
	Target string
	// Container names the muxer for file sinks ("mp4", "mkv").
	Container string
}

// SourceRefKind discriminates a mixer slot's source.
type SourceRefKind string

const (
	SourceCamera           SourceRefKind = "camera"
	SourceFileVideo        SourceRefKind = "file_video"
	SourceStillImage       SourceRefKind = "still_image"
	SourceSyntheticGraphic SourceRefKind = "graphic"
	SourceMediaServerPath  SourceRefKind = "media_server_path"
)

// SourceRef is a resolved source reference; only the fields its Kind
// uses are populated.
type SourceRef struct {
	Kind       SourceRefKind
	CameraID   string // SourceCamera
	Path       string // SourceFileVideo, SourceStillImage, SourceMediaServerPath
	Loop       bool   // SourceFileVideo
	HoldSecs   float64 // SourceStillImage: hold duration
	GraphicID  string // SourceSyntheticGraphic
}

// SpecKind tags the Spec variant.
type SpecKind string

const (
	SpecCaptureToPublish SpecKind = "CaptureToPublish"
	SpecCaptureToFile    SpecKind = "CaptureToFile"
	SpecCaptureTee       SpecKind = "CaptureTee"
	SpecPublishToFile    SpecKind = "PublishToFile"
	SpecMixerScene       SpecKind = "MixerScene"
	SpecFileSource       SpecKind = "FileSource"
	SpecStillSource      SpecKind = "StillSource"
)

// MixerBranch is one compositor input: a resolved source feeding one or
// more pads. Duplicate slots on the same source share a branch.
type MixerBranch struct {
	Source SourceRef
	// PadIDs are the deterministic, slot-order-assigned compositor pad
	// names fed from this branch.
	PadIDs []string
	// Geometry per pad, in pixels, indexed the same as PadIDs.
	Geometry []Rect
	ZOrder   []int
	Alpha    []float64
	// Crop per pad, relative to the source frame; nil entries mean no
	// crop.
	Crop []*RelRect
}

// RelRect is a relative rectangle in [0,1] source space.
type RelRect struct {
	X, Y, W, H float64
}

// Rect is an absolute-pixel rectangle in compositor output space.
type Rect struct {
	X, Y, W, H int
}

// Spec is a single PipelineSpec value; only the fields relevant to Kind
// are populated, matching the spec's tagged-variant description.
type Spec struct {
	Kind SpecKind

	// CaptureToPublish / CaptureToFile / CaptureTee
	Camera       string
	DevicePath   string
	Caps         devprobe.Caps
	TargetWidth  int
	TargetHeight int
	TargetFPS    int
	Encoder      Encoder
	BitrateKb    int
	Publish      Sink
	File         Sink
	Branches     []Sink

	// MixerScene
	OutputWidth  int
	OutputHeight int
	MixerBranches []MixerBranch
	OutputSinks  []Sink

	// FileSource / StillSource
	SourcePath string
	Loop       bool
	HoldSecs   float64

	// PublishToFile: remux a media-server publish into a file without
	// re-encoding (the branched Recorder path).
	SourceURL string
}
