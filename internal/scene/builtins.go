package scene

import "fmt"

// Builtins returns the factory scene set for the given camera ids:
// a quad grid, one full-screen scene per camera, side-by-side of the
// first two cameras, and picture-in-picture of the first two. Seeded on
// first run; operators may overwrite or delete them afterwards.
func Builtins(cameraIDs []string, out Resolution) []Scene {
	var scenes []Scene

	if len(cameraIDs) >= 1 {
		quad := Scene{ID: "quad", Label: "4-up grid", Resolution: out}
		positions := [][2]float64{{0, 0}, {0.5, 0}, {0, 0.5}, {0.5, 0.5}}
		for i, cam := range cameraIDs {
			if i >= 4 {
				break
			}
			quad.Slots = append(quad.Slots, Slot{
				Source: cam, SourceType: SourceCamera,
				X: positions[i][0], Y: positions[i][1], W: 0.5, H: 0.5,
				Z: 0, Alpha: 1.0,
			})
		}
		scenes = append(scenes, quad)
	}

	for _, cam := range cameraIDs {
		scenes = append(scenes, Scene{
			ID:         fmt.Sprintf("%s_full", cam),
			Label:      fmt.Sprintf("%s full screen", cam),
			Resolution: out,
			Slots: []Slot{{
				Source: cam, SourceType: SourceCamera,
				X: 0, Y: 0, W: 1, H: 1, Z: 0, Alpha: 1.0,
			}},
		})
	}

	if len(cameraIDs) >= 2 {
		scenes = append(scenes, Scene{
			ID:         "side_by_side",
			Label:      "Side by side",
			Resolution: out,
			Slots: []Slot{
				{Source: cameraIDs[0], SourceType: SourceCamera, X: 0, Y: 0.25, W: 0.5, H: 0.5, Z: 0, Alpha: 1.0},
				{Source: cameraIDs[1], SourceType: SourceCamera, X: 0.5, Y: 0.25, W: 0.5, H: 0.5, Z: 0, Alpha: 1.0},
			},
		})
		scenes = append(scenes, Scene{
			ID:         "pip",
			Label:      "Picture in picture",
			Resolution: out,
			Slots: []Slot{
				{Source: cameraIDs[0], SourceType: SourceCamera, X: 0, Y: 0, W: 1, H: 1, Z: 0, Alpha: 1.0},
				{Source: cameraIDs[1], SourceType: SourceCamera, X: 0.7, Y: 0.7, W: 0.25, H: 0.25, Z: 1, Alpha: 1.0},
			},
		})
	}
	return scenes
}

// SeedBuiltins writes the factory scenes into an empty store. A store
// that already has scenes is left alone so operator edits survive
// restarts.
func SeedBuiltins(store *Store, cameraIDs []string, out Resolution) error {
	if store.Len() > 0 {
		return nil
	}
	for _, sc := range Builtins(cameraIDs, out) {
		if err := store.Put(sc); err != nil {
			return err
		}
	}
	return nil
}
