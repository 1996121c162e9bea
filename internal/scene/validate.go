package scene

import (
	"fmt"
	"math"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// SourceResolver answers whether a source reference names something real
// at validation/apply time: a configured camera, an existing file, or a
// known media-server path. The Supervisor supplies the production
// implementation; tests supply fakes.
type SourceResolver interface {
	// ResolveCamera maps a camera id to its media-server publish URL.
	ResolveCamera(id string) (string, bool)
	// FileExists reports whether a file-backed source is present on disk.
	FileExists(path string) bool
	// KnownMediaPath reports whether a media-server path is published.
	KnownMediaPath(path string) bool
}

// Validate checks a scene against the acceptance rules and clamps
// out-of-range geometry in place. Clamped values are logged, not
// rejected; structural problems (empty slots, duplicate slots,
// unresolvable sources, bad resolution) return InvalidArgument.
func Validate(sc *Scene, resolver SourceResolver, logger *logging.Logger) error {
	if sc.ID == "" {
		return apperrors.New(apperrors.KindInvalidArgument, "scene.Validate", "scene id required")
	}
	if sc.Resolution.Width <= 0 || sc.Resolution.Height <= 0 {
		return apperrors.New(apperrors.KindInvalidArgument, "scene.Validate", "output resolution must be positive").WithScene(sc.ID)
	}
	if len(sc.Slots) == 0 {
		return apperrors.New(apperrors.KindInvalidArgument, "scene.Validate", "scene has no slots").WithScene(sc.ID)
	}

	seen := map[string]int{}
	for i := range sc.Slots {
		sl := &sc.Slots[i]
		if sl.Source == "" {
			return apperrors.New(apperrors.KindInvalidArgument, "scene.Validate", fmt.Sprintf("slot %d has no source", i)).WithScene(sc.ID)
		}
		dupKey := fmt.Sprintf("%s/%.4f,%.4f,%.4f,%.4f/%d", sourceIdentity(*sl), sl.X, sl.Y, sl.W, sl.H, sl.Z)
		if prev, ok := seen[dupKey]; ok {
			return apperrors.New(apperrors.KindInvalidArgument, "scene.Validate",
				fmt.Sprintf("slot %d duplicates slot %d", i, prev)).WithScene(sc.ID)
		}
		seen[dupKey] = i

		if err := resolveSlot(sl, resolver); err != nil {
			return err
		}
		clampSlot(sc.ID, i, sl, logger)
	}
	return nil
}

func resolveSlot(sl *Slot, resolver SourceResolver) error {
	switch sl.SourceType {
	case SourceCamera:
		if _, ok := resolver.ResolveCamera(sl.Source); !ok {
			return apperrors.New(apperrors.KindInvalidArgument, "scene.Validate",
				fmt.Sprintf("unknown camera %q", sl.Source))
		}
	case SourceFileVideo, SourceStillImage:
		if !resolver.FileExists(sl.Source) {
			return apperrors.New(apperrors.KindInvalidArgument, "scene.Validate",
				fmt.Sprintf("source file %q not found", sl.Source))
		}
	case SourceMediaServerPath:
		if !resolver.KnownMediaPath(sl.Source) {
			return apperrors.New(apperrors.KindInvalidArgument, "scene.Validate",
				fmt.Sprintf("unknown media-server path %q", sl.Source))
		}
	case SourceGraphic:
		// synthetic graphics are generated, nothing to resolve
	default:
		return apperrors.New(apperrors.KindInvalidArgument, "scene.Validate",
			fmt.Sprintf("unknown source_type %q", sl.SourceType))
	}
	return nil
}

// clampSlot forces geometry and alpha into [0,1]. Out-of-range inputs
// are accepted but logged so operators can spot bad UI payloads.
func clampSlot(sceneID string, idx int, sl *Slot, logger *logging.Logger) {
	clamped := false
	clamp := func(v *float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = 0
			clamped = true
			return
		}
		if *v < 0 {
			*v = 0
			clamped = true
		} else if *v > 1 {
			*v = 1
			clamped = true
		}
	}
	clamp(&sl.X)
	clamp(&sl.Y)
	clamp(&sl.W)
	clamp(&sl.H)
	clamp(&sl.Alpha)
	if sl.Crop != nil {
		clamp(&sl.Crop.X)
		clamp(&sl.Crop.Y)
		clamp(&sl.Crop.W)
		clamp(&sl.Crop.H)
	}
	if clamped && logger != nil {
		logger.WithFields(logging.Fields{
			"scene_id": sceneID,
			"slot":     idx,
		}).Warn("slot geometry clamped to [0,1]")
	}
}
