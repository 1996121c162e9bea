package scene

import (
	"fmt"
	"math"
	"sort"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/pipeline"
)

// Resolved is a scene with absolute pixel geometries and every source
// reference mapped to a concrete pipeline source. Resolution is
// deterministic: semantically equal scenes produce equal Resolved
// values, which is what lets the Mixer detect "sources unchanged,
// geometry changed" cheaply.
type Resolved struct {
	SceneID  string
	Width    int
	Height   int
	Branches []pipeline.MixerBranch

	sources []string
}

// SourceSet returns the distinct source identities, sorted.
func (r Resolved) SourceSet() []string {
	return append([]string(nil), r.sources...)
}

// SameSourceSet reports whether two resolved scenes reference exactly
// the same sources, which is the hot-reconfigure-vs-rebuild decision.
func (r Resolved) SameSourceSet(other Resolved) bool {
	if len(r.sources) != len(other.sources) {
		return false
	}
	for i := range r.sources {
		if r.sources[i] != other.sources[i] {
			return false
		}
	}
	return true
}

// Equal reports full semantic equality (same sources, same geometry,
// same output), used for apply-idempotence short-circuits.
func (r Resolved) Equal(other Resolved) bool {
	if r.SceneID != other.SceneID || r.Width != other.Width || r.Height != other.Height {
		return false
	}
	if len(r.Branches) != len(other.Branches) {
		return false
	}
	for i := range r.Branches {
		if !branchEqual(r.Branches[i], other.Branches[i]) {
			return false
		}
	}
	return true
}

func branchEqual(a, b pipeline.MixerBranch) bool {
	if a.Source != b.Source || len(a.PadIDs) != len(b.PadIDs) {
		return false
	}
	for i := range a.PadIDs {
		if a.PadIDs[i] != b.PadIDs[i] || a.Geometry[i] != b.Geometry[i] ||
			a.ZOrder[i] != b.ZOrder[i] || a.Alpha[i] != b.Alpha[i] {
			return false
		}
		if !cropEqual(a.Crop[i], b.Crop[i]) {
			return false
		}
	}
	return true
}

func cropEqual(a, b *pipeline.RelRect) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// cropOf converts a slot's optional crop into the pipeline's relative
// form.
func cropOf(sl Slot) *pipeline.RelRect {
	if sl.Crop == nil {
		return nil
	}
	return &pipeline.RelRect{X: sl.Crop.X, Y: sl.Crop.Y, W: sl.Crop.W, H: sl.Crop.H}
}

// Resolve converts a validated scene into its Resolved form. Duplicate
// slots on the same source share a single branch with one compositor pad
// per slot; pad ids are assigned in slot order so they stay stable
// across applies.
func Resolve(sc Scene, resolver SourceResolver) (Resolved, error) {
	r := Resolved{SceneID: sc.ID, Width: sc.Resolution.Width, Height: sc.Resolution.Height}

	branchIdx := map[string]int{}
	for i, sl := range sc.Slots {
		ref, err := resolveRef(sl, resolver)
		if err != nil {
			return Resolved{}, err
		}
		identity := sourceIdentity(sl)
		idx, ok := branchIdx[identity]
		if !ok {
			idx = len(r.Branches)
			branchIdx[identity] = idx
			r.Branches = append(r.Branches, pipeline.MixerBranch{Source: ref})
		}
		br := &r.Branches[idx]
		br.PadIDs = append(br.PadIDs, fmt.Sprintf("sink_%d", i))
		br.Geometry = append(br.Geometry, pixelRect(sl, sc.Resolution))
		br.ZOrder = append(br.ZOrder, sl.Z)
		br.Alpha = append(br.Alpha, sl.Alpha)
		br.Crop = append(br.Crop, cropOf(sl))
	}

	sources := make([]string, 0, len(branchIdx))
	for identity := range branchIdx {
		sources = append(sources, identity)
	}
	sort.Strings(sources)
	r.sources = sources
	return r, nil
}

func resolveRef(sl Slot, resolver SourceResolver) (pipeline.SourceRef, error) {
	switch sl.SourceType {
	case SourceCamera:
		url, ok := resolver.ResolveCamera(sl.Source)
		if !ok {
			return pipeline.SourceRef{}, apperrors.New(apperrors.KindInvalidArgument, "scene.Resolve",
				fmt.Sprintf("unknown camera %q", sl.Source))
		}
		return pipeline.SourceRef{Kind: pipeline.SourceCamera, CameraID: sl.Source, Path: url}, nil
	case SourceFileVideo:
		if !resolver.FileExists(sl.Source) {
			return pipeline.SourceRef{}, apperrors.New(apperrors.KindInvalidArgument, "scene.Resolve",
				fmt.Sprintf("source file %q not found", sl.Source))
		}
		return pipeline.SourceRef{Kind: pipeline.SourceFileVideo, Path: sl.Source, Loop: sl.Loop}, nil
	case SourceStillImage:
		if !resolver.FileExists(sl.Source) {
			return pipeline.SourceRef{}, apperrors.New(apperrors.KindInvalidArgument, "scene.Resolve",
				fmt.Sprintf("source file %q not found", sl.Source))
		}
		return pipeline.SourceRef{Kind: pipeline.SourceStillImage, Path: sl.Source, HoldSecs: sl.HoldSecs}, nil
	case SourceGraphic:
		return pipeline.SourceRef{Kind: pipeline.SourceSyntheticGraphic, GraphicID: sl.Source}, nil
	case SourceMediaServerPath:
		if !resolver.KnownMediaPath(sl.Source) {
			return pipeline.SourceRef{}, apperrors.New(apperrors.KindInvalidArgument, "scene.Resolve",
				fmt.Sprintf("unknown media-server path %q", sl.Source))
		}
		return pipeline.SourceRef{Kind: pipeline.SourceMediaServerPath, Path: sl.Source}, nil
	default:
		return pipeline.SourceRef{}, apperrors.New(apperrors.KindInvalidArgument, "scene.Resolve",
			fmt.Sprintf("unknown source_type %q", sl.SourceType))
	}
}

// pixelRect converts a slot's relative geometry to compositor pixels,
// rounding to even values so 4:2:0 encoders never see odd dimensions.
func pixelRect(sl Slot, res Resolution) pipeline.Rect {
	toEven := func(v float64) int {
		n := int(math.Round(v))
		if n%2 != 0 {
			n--
		}
		if n < 0 {
			n = 0
		}
		return n
	}
	return pipeline.Rect{
		X: toEven(sl.X * float64(res.Width)),
		Y: toEven(sl.Y * float64(res.Height)),
		W: toEven(sl.W * float64(res.Width)),
		H: toEven(sl.H * float64(res.Height)),
	}
}
