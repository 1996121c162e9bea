package supervisor

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/pipeline"
)

// EncoderCaps is the one-time startup capability probe result: which
// hardware encoders the platform offers. Engines receive a concrete
// encoder choice; the builder never searches.
type EncoderCaps struct {
	H264Hardware bool
	H265Hardware bool
}

// EncoderProbeFunc performs the capability probe; injectable for tests
// and development hosts.
type EncoderProbeFunc func(ctx context.Context) EncoderCaps

// ProbeEncoders asks ffmpeg for its encoder list and reports which
// v4l2m2m hardware codecs are usable.
func ProbeEncoders(logger *logging.Logger) EncoderProbeFunc {
	return func(ctx context.Context) EncoderCaps {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		out, err := exec.CommandContext(probeCtx, "ffmpeg", "-hide_banner", "-encoders").Output()
		if err != nil {
			logger.WithFields(logging.Fields{"error": err.Error()}).Warn("encoder capability probe failed, using software encoders")
			return EncoderCaps{}
		}
		listing := string(out)
		caps := EncoderCaps{
			H264Hardware: strings.Contains(listing, "h264_v4l2m2m"),
			H265Hardware: strings.Contains(listing, "hevc_v4l2m2m"),
		}
		logger.WithFields(logging.Fields{
			"h264_hw": caps.H264Hardware,
			"h265_hw": caps.H265Hardware,
		}).Info("encoder capabilities probed")
		return caps
	}
}

// pick maps a configured codec preference onto the best available
// encoder for it.
func (c EncoderCaps) pick(codec string) pipeline.Encoder {
	switch codec {
	case "h265", "hevc":
		if c.H265Hardware {
			return pipeline.EncoderH265HW
		}
		return pipeline.EncoderH265SW
	default:
		if c.H264Hardware {
			return pipeline.EncoderH264HW
		}
		return pipeline.EncoderH264SW
	}
}
