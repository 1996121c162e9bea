/*
Scene model: the declarative layout mapping sources to positioned,
sized, z-ordered slots in a fixed-resolution output canvas.

JSON round-trip preserves unknown keys verbatim, so scenes written by
newer UIs survive being loaded and re-saved by this build. The
custom Marshal/Unmarshal pair follows the raw-map capture pattern
rather than struct tags alone.
*/
package scene

import (
	"encoding/json"
	"fmt"
)

// SourceType discriminates a slot's source reference, matching the wire
// values {camera, file_video, still_image, graphic, media_server_path}.
type SourceType string

const (
	SourceCamera          SourceType = "camera"
	SourceFileVideo       SourceType = "file_video"
	SourceStillImage      SourceType = "still_image"
	SourceGraphic         SourceType = "graphic"
	SourceMediaServerPath SourceType = "media_server_path"
)

// Resolution is the scene's declared output canvas size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Crop is an optional relative crop rectangle applied to a slot's source
// before scaling, all values in [0,1].
type Crop struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Slot is one entry in a scene: a (source, geometry, z, alpha, crop)
// tuple plus per-kind metadata.
type Slot struct {
	Source     string     `json:"source"`
	SourceType SourceType `json:"source_type"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	W          float64    `json:"w"`
	H          float64    `json:"h"`
	Z          int        `json:"z"`
	Alpha      float64    `json:"alpha"`
	Crop       *Crop      `json:"crop,omitempty"`
	Loop       bool       `json:"loop,omitempty"`
	HoldSecs   float64    `json:"hold,omitempty"`

	// extra carries keys this build does not understand, preserved
	// verbatim on re-serialization.
	extra map[string]json.RawMessage
}

var slotKnownKeys = map[string]bool{
	"source": true, "source_type": true,
	"x": true, "y": true, "w": true, "h": true,
	"z": true, "alpha": true, "crop": true, "loop": true, "hold": true,
}

// UnmarshalJSON decodes the known slot fields and stashes everything
// else in extra.
func (s *Slot) UnmarshalJSON(data []byte) error {
	type alias Slot
	var a alias
	a.Alpha = 1.0
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Slot(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if !slotKnownKeys[k] {
			if s.extra == nil {
				s.extra = map[string]json.RawMessage{}
			}
			s.extra[k] = raw[k]
		}
	}
	return nil
}

// MarshalJSON re-emits the known fields merged with any preserved
// unknown keys.
func (s Slot) MarshalJSON() ([]byte, error) {
	type alias Slot
	base, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Scene is the persisted layout definition.
type Scene struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Resolution Resolution `json:"resolution"`
	Slots      []Slot     `json:"slots"`

	extra map[string]json.RawMessage
}

var sceneKnownKeys = map[string]bool{
	"id": true, "label": true, "resolution": true, "slots": true,
}

func (sc *Scene) UnmarshalJSON(data []byte) error {
	type alias Scene
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*sc = Scene(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if !sceneKnownKeys[k] {
			if sc.extra == nil {
				sc.extra = map[string]json.RawMessage{}
			}
			sc.extra[k] = raw[k]
		}
	}
	return nil
}

func (sc Scene) MarshalJSON() ([]byte, error) {
	type alias Scene
	base, err := json.Marshal(alias(sc))
	if err != nil {
		return nil, err
	}
	if len(sc.extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range sc.extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// SlotCount is the summary count used by list responses.
func (sc *Scene) SlotCount() int {
	return len(sc.Slots)
}

// sourceIdentity is the stable per-slot source identity used for
// duplicate detection and source-set comparison: the type plus whichever
// field identifies the source.
func sourceIdentity(sl Slot) string {
	return fmt.Sprintf("%s:%s", sl.SourceType, sl.Source)
}
