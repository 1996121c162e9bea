/*
Builder translates a Spec into a deterministic Description: the ffmpeg
argv that realizes it, plus a byte-stable summary string used for
equivalence checks. Identical specs always produce identical
descriptions, which is what makes in-place scene-update comparisons
trivial.
*/
package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/devprobe"
)

// bayerFormats lists source pixel formats the builder recognizes as raw
// Bayer patterns requiring a debayer stage before any other conversion.
var bayerFormats = map[string]bool{
	"SBGGR8": true, "SGBRG8": true, "SGRBG8": true, "SRGGB8": true,
	"SBGGR10": true, "SBGGR12": true,
}

// Description is the builder's output: a byte-stable Summary for
// equivalence checks and the concrete ffmpeg Argv that realizes it.
type Description struct {
	Summary string
	Argv    []string
}

// Builder is a pure function object: no state is mutated across calls,
// and identical Specs always yield identical Descriptions.
type Builder struct {
	// FFmpegPath lets tests and non-standard installs override the
	// binary name without touching PATH.
	FFmpegPath string
}

// New constructs a Builder using the "ffmpeg" binary from PATH.
func New() *Builder {
	return &Builder{FFmpegPath: "ffmpeg"}
}

// Build realizes spec into a Description, or returns a typed error
// (DeviceCapsUnsupported, InvalidArgument) if the spec cannot be
// realized.
func (b *Builder) Build(spec Spec) (Description, error) {
	bin := b.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	switch spec.Kind {
	case SpecCaptureToPublish:
		return b.buildCapture(bin, spec, []Sink{spec.Publish})
	case SpecCaptureToFile:
		return b.buildCapture(bin, spec, []Sink{spec.File})
	case SpecCaptureTee:
		return b.buildCapture(bin, spec, spec.Branches)
	case SpecPublishToFile:
		return b.buildPublishToFile(bin, spec)
	case SpecMixerScene:
		return b.buildMixer(bin, spec)
	case SpecFileSource:
		return b.buildFileSource(bin, spec)
	case SpecStillSource:
		return b.buildStillSource(bin, spec)
	default:
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.Build", fmt.Sprintf("unknown spec kind %q", spec.Kind))
	}
}

// buildCapture assembles a single v4l2 capture input, the
// format-conversion/scale/framerate chain, one encoder, and a tee to
// every requested sink.
func (b *Builder) buildCapture(bin string, spec Spec, sinks []Sink) (Description, error) {
	if spec.DevicePath == "" {
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.buildCapture", "device path required").WithCamera(spec.Camera)
	}
	if spec.Caps.Width <= 0 || spec.Caps.Height <= 0 {
		return Description{}, apperrors.New(apperrors.KindDeviceCapsUnsupported, "pipeline.buildCapture", "non-positive source caps").WithCamera(spec.Camera)
	}

	argv := []string{bin, "-hide_banner", "-loglevel", "warning", "-nostdin"}
	// keep capture buffering shallow so publish branches drop rather
	// than accumulate latency
	argv = append(argv, "-fflags", "nobuffer", "-flags", "low_delay")
	argv = append(argv, "-f", "v4l2")
	argv = append(argv, "-input_format", inputFormatFor(spec.Caps.PixFmt))
	argv = append(argv, "-framerate", strconv.Itoa(spec.Caps.FrameRate))
	argv = append(argv, "-video_size", fmt.Sprintf("%dx%d", spec.Caps.Width, spec.Caps.Height))
	argv = append(argv, "-i", spec.DevicePath)

	targetW, targetH, targetFPS := spec.TargetWidth, spec.TargetHeight, spec.TargetFPS
	if targetW <= 0 {
		targetW = spec.Caps.Width
	}
	if targetH <= 0 {
		targetH = spec.Caps.Height
	}
	if targetFPS <= 0 {
		targetFPS = spec.Caps.FrameRate
	}
	filter := conversionChain(spec.Caps, targetW, targetH, targetFPS)
	if filter != "" {
		argv = append(argv, "-vf", filter)
	}

	encArgs, err := encoderArgs(spec.Encoder, spec.BitrateKb, targetFPS)
	if err != nil {
		return Description{}, apperrors.Wrap(apperrors.KindDeviceCapsUnsupported, "pipeline.buildCapture", "encoder unsupported", err).WithCamera(spec.Camera)
	}
	argv = append(argv, encArgs...)

	if len(sinks) == 0 {
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.buildCapture", "at least one sink required").WithCamera(spec.Camera)
	}
	argv = append(argv, sinkArgs(sinks)...)

	summary := fmt.Sprintf("capture(cam=%s dev=%s caps=%dx%d@%d enc=%s sinks=%s)",
		spec.Camera, spec.DevicePath, spec.Caps.Width, spec.Caps.Height, spec.Caps.FrameRate, spec.Encoder, summarizeSinks(sinks))
	return Description{Summary: summary, Argv: argv}, nil
}

// buildMixer assembles the compositor pipeline: one input per distinct
// source branch, a filter_complex graph (overlay chain, deterministic
// pad order), a single encoder, and a tee to every output sink.
func (b *Builder) buildMixer(bin string, spec Spec) (Description, error) {
	if spec.OutputWidth <= 0 || spec.OutputHeight <= 0 {
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.buildMixer", "non-positive output resolution")
	}
	if len(spec.MixerBranches) == 0 {
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.buildMixer", "scene has no branches")
	}

	argv := []string{bin, "-hide_banner", "-loglevel", "warning", "-nostdin"}

	// Branches arrive in slot order already, so iterating MixerBranches
	// as given keeps the pad assignment deterministic.
	for _, br := range spec.MixerBranches {
		inArgs, err := sourceInputArgs(br.Source)
		if err != nil {
			return Description{}, err
		}
		argv = append(argv, inArgs...)
	}

	filterGraph, lastLabel := buildFilterComplex(spec.MixerBranches, spec.OutputWidth, spec.OutputHeight)
	argv = append(argv, "-filter_complex", filterGraph, "-map", lastLabel)

	encArgs, err := encoderArgs(spec.Encoder, spec.BitrateKb, 30)
	if err != nil {
		return Description{}, apperrors.Wrap(apperrors.KindDeviceCapsUnsupported, "pipeline.buildMixer", "encoder unsupported", err)
	}
	argv = append(argv, encArgs...)

	if len(spec.OutputSinks) == 0 {
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.buildMixer", "at least one output sink required")
	}
	argv = append(argv, sinkArgs(spec.OutputSinks)...)

	summary := fmt.Sprintf("mixer(out=%dx%d branches=%s enc=%s sinks=%s)",
		spec.OutputWidth, spec.OutputHeight, summarizeBranches(spec.MixerBranches), spec.Encoder, summarizeSinks(spec.OutputSinks))
	return Description{Summary: summary, Argv: argv}, nil
}

// buildPublishToFile remuxes an already-encoded media-server publish
// into a file. No re-encode: the ingest already produced the elementary
// stream, so a branched recording costs one demux+mux and stopping it
// can never disturb the capture.
func (b *Builder) buildPublishToFile(bin string, spec Spec) (Description, error) {
	if spec.SourceURL == "" {
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.buildPublishToFile", "source url required").WithCamera(spec.Camera)
	}
	if spec.File.Target == "" {
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.buildPublishToFile", "file target required").WithCamera(spec.Camera)
	}
	container := spec.File.Container
	if container == "" {
		container = "mp4"
	}
	argv := []string{bin, "-hide_banner", "-loglevel", "warning", "-nostdin"}
	argv = append(argv, "-rtsp_transport", "tcp", "-i", spec.SourceURL)
	argv = append(argv, "-c", "copy", "-movflags", "+faststart")
	argv = append(argv, "-f", container, spec.File.Target)
	summary := fmt.Sprintf("publish_to_file(cam=%s src=%s file=%s)", spec.Camera, spec.SourceURL, spec.File.Target)
	return Description{Summary: summary, Argv: argv}, nil
}

func (b *Builder) buildFileSource(bin string, spec Spec) (Description, error) {
	if spec.SourcePath == "" {
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.buildFileSource", "source path required")
	}
	argv := []string{bin, "-hide_banner", "-loglevel", "warning", "-nostdin"}
	if spec.Loop {
		argv = append(argv, "-stream_loop", "-1")
	}
	argv = append(argv, "-re", "-i", spec.SourcePath)
	summary := fmt.Sprintf("file_source(path=%s loop=%t)", spec.SourcePath, spec.Loop)
	return Description{Summary: summary, Argv: argv}, nil
}

func (b *Builder) buildStillSource(bin string, spec Spec) (Description, error) {
	if spec.SourcePath == "" {
		return Description{}, apperrors.New(apperrors.KindInvalidArgument, "pipeline.buildStillSource", "source path required")
	}
	argv := []string{bin, "-hide_banner", "-loglevel", "warning", "-nostdin"}
	argv = append(argv, "-loop", "1", "-i", spec.SourcePath)
	summary := fmt.Sprintf("still_source(path=%s hold=%.2f)", spec.SourcePath, spec.HoldSecs)
	return Description{Summary: summary, Argv: argv}, nil
}

// inputFormatFor maps a driver-reported pixel format to the v4l2 input
// format token ffmpeg expects; unrecognized formats fall back to the
// raw value so ffmpeg's own negotiation can try.
func inputFormatFor(pixFmt string) string {
	switch strings.ToUpper(pixFmt) {
	case "YUYV", "YUY2":
		return "yuyv422"
	case "NV12":
		return "nv12"
	case "MJPG", "MJPEG":
		return "mjpeg"
	case "":
		return "yuyv422"
	default:
		if bayerFormats[strings.ToUpper(pixFmt)] {
			return "bayer_bggr8"
		}
		return strings.ToLower(pixFmt)
	}
}

// conversionChain builds the -vf filter string: debayer (if needed),
// scale (if target differs from source), framerate normalize (if source
// exceeds target), and a final format=nv12 to match the encoder's
// accepted format. Stage order is fixed so the same spec always yields
// the same filter string.
func conversionChain(caps devprobe.Caps, targetW, targetH, targetFPS int) string {
	var stages []string
	if bayerFormats[strings.ToUpper(caps.PixFmt)] {
		stages = append(stages, "format=bayer_bggr8", "scale=in_range=full:out_range=full")
	}
	if targetW > 0 && targetH > 0 && (targetW != caps.Width || targetH != caps.Height) {
		stages = append(stages, fmt.Sprintf("scale=%d:%d", targetW, targetH))
	}
	if caps.FrameRate > 0 && targetFPS > 0 && caps.FrameRate > targetFPS {
		stages = append(stages, fmt.Sprintf("fps=%d", targetFPS))
	}
	stages = append(stages, "format=nv12")
	return strings.Join(stages, ",")
}

// encoderArgs picks the codec argv fragment: hardware encoder when
// requested, tuned for low latency (no lookahead, no B-frames,
// keyframe interval = framerate).
func encoderArgs(enc Encoder, bitrateKb, frameRate int) ([]string, error) {
	if frameRate <= 0 {
		frameRate = 30
	}
	gop := strconv.Itoa(frameRate)
	switch enc {
	case EncoderH264HW:
		return []string{"-c:v", "h264_v4l2m2m", "-b:v", kbps(bitrateKb), "-g", gop}, nil
	case EncoderH264SW:
		return []string{"-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency",
			"-b:v", kbps(bitrateKb), "-g", gop, "-bf", "0"}, nil
	case EncoderH265HW:
		return []string{"-c:v", "hevc_v4l2m2m", "-b:v", kbps(bitrateKb), "-g", gop}, nil
	case EncoderH265SW:
		return []string{"-c:v", "libx265", "-preset", "ultrafast", "-tune", "zerolatency",
			"-b:v", kbps(bitrateKb), "-g", gop, "-bf", "0"}, nil
	default:
		return nil, fmt.Errorf("unknown encoder %q", enc)
	}
}

func kbps(bitrateKb int) string {
	if bitrateKb <= 0 {
		bitrateKb = 4000
	}
	return fmt.Sprintf("%dk", bitrateKb)
}

// sinkArgs appends one -f/target pair per sink; when more than one sink
// is present it uses ffmpeg's tee muxer so a single encode feeds every
// branch.
func sinkArgs(sinks []Sink) []string {
	if len(sinks) == 1 {
		return singleSinkArgs(sinks[0])
	}
	var targets []string
	for _, s := range sinks {
		targets = append(targets, teeTarget(s))
	}
	return []string{"-f", "tee", strings.Join(targets, "|")}
}

func singleSinkArgs(s Sink) []string {
	switch s.Kind {
	case SinkPublishRTSP:
		return []string{"-f", "rtsp", "-rtsp_transport", "tcp", s.Target}
	case SinkPublishRTMP:
		return []string{"-f", "flv", s.Target}
	case SinkFile:
		container := s.Container
		if container == "" {
			container = "mp4"
		}
		return []string{"-f", container, s.Target}
	default:
		return []string{s.Target}
	}
}

func teeTarget(s Sink) string {
	switch s.Kind {
	case SinkPublishRTSP:
		return fmt.Sprintf("[f=rtsp:rtsp_transport=tcp]%s", s.Target)
	case SinkPublishRTMP:
		return fmt.Sprintf("[f=flv]%s", s.Target)
	case SinkFile:
		container := s.Container
		if container == "" {
			container = "mp4"
		}
		return fmt.Sprintf("[f=%s]%s", container, s.Target)
	default:
		return s.Target
	}
}

func summarizeSinks(sinks []Sink) string {
	var parts []string
	for _, s := range sinks {
		parts = append(parts, fmt.Sprintf("%s:%s", s.Kind, s.Target))
	}
	return strings.Join(parts, ",")
}

func summarizeBranches(branches []MixerBranch) string {
	var parts []string
	for _, br := range branches {
		parts = append(parts, fmt.Sprintf("%s:%s[%s]", br.Source.Kind, sourceKey(br.Source), strings.Join(br.PadIDs, ",")))
	}
	return strings.Join(parts, ";")
}

// sourceKey is the stable identity string used for "source set
// unchanged" comparisons.
func sourceKey(ref SourceRef) string {
	switch ref.Kind {
	case SourceCamera:
		return ref.CameraID
	case SourceFileVideo, SourceStillImage, SourceMediaServerPath:
		return ref.Path
	case SourceSyntheticGraphic:
		return ref.GraphicID
	default:
		return ""
	}
}

// sourceInputArgs builds the -i input fragment for one mixer branch
// source. Camera and media-server-path sources are consumed from the
// media server's restreamed path; the mixer does not open capture
// devices directly.
func sourceInputArgs(ref SourceRef) ([]string, error) {
	switch ref.Kind {
	case SourceCamera, SourceMediaServerPath:
		if ref.Path == "" {
			return nil, apperrors.New(apperrors.KindInvalidArgument, "pipeline.sourceInputArgs", "media-server path required").WithCamera(ref.CameraID)
		}
		return []string{"-rtsp_transport", "tcp", "-i", ref.Path}, nil
	case SourceFileVideo:
		args := []string{}
		if ref.Loop {
			args = append(args, "-stream_loop", "-1")
		}
		args = append(args, "-re", "-i", ref.Path)
		return args, nil
	case SourceStillImage:
		return []string{"-loop", "1", "-i", ref.Path}, nil
	case SourceSyntheticGraphic:
		return []string{"-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=hd720:r=30@%s", ref.GraphicID)}, nil
	default:
		return nil, apperrors.New(apperrors.KindInvalidArgument, "pipeline.sourceInputArgs", fmt.Sprintf("unknown source kind %q", ref.Kind))
	}
}

// buildFilterComplex builds the overlay-chain filtergraph: each branch
// is cropped/scaled to its pad geometry and composited onto a black
// canvas in z-order.
func buildFilterComplex(branches []MixerBranch, outW, outH int) (string, string) {
	var parts []string
	parts = append(parts, fmt.Sprintf("color=c=black:s=%dx%d[base0]", outW, outH))

	var overlays []padOverlay
	for i, br := range branches {
		for j := range br.PadIDs {
			rect := Rect{}
			if j < len(br.Geometry) {
				rect = br.Geometry[j]
			}
			z := 0
			if j < len(br.ZOrder) {
				z = br.ZOrder[j]
			}
			alpha := 1.0
			if j < len(br.Alpha) {
				alpha = br.Alpha[j]
			}
			label := fmt.Sprintf("scaled%d_%d", i, j)
			stage := fmt.Sprintf("[%d:v]", i)
			if j < len(br.Crop) && br.Crop[j] != nil {
				c := br.Crop[j]
				stage += fmt.Sprintf("crop=iw*%.4f:ih*%.4f:iw*%.4f:ih*%.4f,", c.W, c.H, c.X, c.Y)
			}
			stage += fmt.Sprintf("scale=%d:%d", rect.W, rect.H)
			if alpha < 1.0 {
				stage += fmt.Sprintf(",format=yuva420p,colorchannelmixer=aa=%.3f", alpha)
			}
			parts = append(parts, fmt.Sprintf("%s[%s]", stage, label))
			overlays = append(overlays, padOverlay{z: z, label: label, rect: rect})
		}
	}
	stableSortOverlaysByZ(overlays)

	base := "base0"
	for idx, ov := range overlays {
		next := fmt.Sprintf("mix%d", idx)
		parts = append(parts, fmt.Sprintf("[%s][%s]overlay=x=%d:y=%d[%s]", base, ov.label, ov.rect.X, ov.rect.Y, next))
		base = next
	}
	return strings.Join(parts, ";"), fmt.Sprintf("[%s]", base)
}

type padOverlay struct {
	z     int
	label string
	rect  Rect
}

func stableSortOverlaysByZ(overlays []padOverlay) {
	// insertion sort: branch counts are small (<= slot count) and the
	// order must be stable for equal z so pad assignment stays
	// deterministic.
	for i := 1; i < len(overlays); i++ {
		j := i
		for j > 0 && overlays[j-1].z > overlays[j].z {
			overlays[j-1], overlays[j] = overlays[j], overlays[j-1]
			j--
		}
	}
}

