/*
Scene Manager: owns the SceneStore and the validation/resolution rules.
Mutations are expected to arrive from the Supervisor loop only; readers
get value copies, never shared pointers.
*/
package scene

import (
	"fmt"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// ActiveSceneFunc reports the scene id currently applied to the Mixer,
// or "" when none is. The Supervisor wires this to the Mixer Engine so
// the manager can refuse in-use deletions without holding a reference
// to the engine itself.
type ActiveSceneFunc func() string

// Manager implements the Scene Manager operations.
type Manager struct {
	store    *Store
	resolver SourceResolver
	active   ActiveSceneFunc
	logger   *logging.Logger
}

// NewManager wires a Manager over its store and resolver.
func NewManager(store *Store, resolver SourceResolver, active ActiveSceneFunc, logger *logging.Logger) *Manager {
	if active == nil {
		active = func() string { return "" }
	}
	return &Manager{store: store, resolver: resolver, active: active, logger: logger}
}

// List returns all scenes in insertion order.
func (m *Manager) List() []Scene {
	return m.store.List()
}

// Get returns the scene with the given id.
func (m *Manager) Get(id string) (Scene, error) {
	return m.store.Get(id)
}

// Validate runs acceptance checks and clamps geometry in place without
// persisting anything.
func (m *Manager) Validate(sc *Scene) error {
	return Validate(sc, m.resolver, m.logger)
}

// Create validates and persists a new scene. The id must not already
// exist; Update is the replacement path.
func (m *Manager) Create(sc Scene) error {
	if _, err := m.store.Get(sc.ID); err == nil {
		return apperrors.New(apperrors.KindInvalidArgument, "scene.Create",
			fmt.Sprintf("scene %q already exists", sc.ID)).WithScene(sc.ID)
	}
	if err := Validate(&sc, m.resolver, m.logger); err != nil {
		return err
	}
	return m.store.Put(sc)
}

// Update validates and persists a replacement for an existing scene.
// The store id wins over any id embedded in the body.
func (m *Manager) Update(id string, sc Scene) error {
	if _, err := m.store.Get(id); err != nil {
		return err
	}
	sc.ID = id
	if err := Validate(&sc, m.resolver, m.logger); err != nil {
		return err
	}
	return m.store.Put(sc)
}

// Put creates or replaces a scene under the given id (the HTTP PUT
// semantics: upsert).
func (m *Manager) Put(id string, sc Scene) error {
	sc.ID = id
	if err := Validate(&sc, m.resolver, m.logger); err != nil {
		return err
	}
	return m.store.Put(sc)
}

// Delete removes a scene unless it is the one currently applied to the
// Mixer, in which case SceneInUse is returned and the store is left
// untouched.
func (m *Manager) Delete(id string) error {
	if m.active() == id {
		return apperrors.New(apperrors.KindSceneInUse, "scene.Delete",
			fmt.Sprintf("scene %q is applied to the mixer", id)).WithScene(id)
	}
	return m.store.Delete(id)
}

// Resolve computes the ResolvedScene for the given id.
func (m *Manager) Resolve(id string) (Resolved, error) {
	sc, err := m.store.Get(id)
	if err != nil {
		return Resolved{}, err
	}
	if err := Validate(&sc, m.resolver, m.logger); err != nil {
		return Resolved{}, err
	}
	return Resolve(sc, m.resolver)
}
