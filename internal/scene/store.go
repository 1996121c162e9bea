/*
File-backed SceneStore: one JSON document per scene id under a
configured directory, plus an order index so listing preserves
insertion order across restarts.

Writes go through a temp-file rename so a crash mid-save never leaves a
half-written scene on disk.
*/
package scene

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

const orderIndexFile = "scenes.index.json"

// Store persists scenes as JSON files in a directory.
type Store struct {
	dir    string
	logger *logging.Logger

	mu     sync.RWMutex
	order  []string
	scenes map[string]*Scene
}

// NewStore opens (creating if needed) the scene directory and loads
// every persisted scene.
func NewStore(dir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistenceError, "scene.NewStore", "create scene directory", err)
	}
	s := &Store{dir: dir, logger: logger, scenes: map[string]*Scene{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) scenePath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// load reads the order index and every scene file. Scene files present
// on disk but missing from the index (edited by hand, copied in) are
// appended in name order.
func (s *Store) load() error {
	indexPath := filepath.Join(s.dir, orderIndexFile)
	if data, err := os.ReadFile(indexPath); err == nil {
		var order []string
		if err := json.Unmarshal(data, &order); err == nil {
			s.order = order
		}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistenceError, "scene.load", "read scene directory", err)
	}
	onDisk := map[string]bool{}
	var unindexed []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == orderIndexFile {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		id := strings.TrimSuffix(name, ext)
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.WithFields(logging.Fields{"scene_id": id, "error": err.Error()}).Warn("skipping unreadable scene file")
			continue
		}
		if ext != ".json" {
			// operators may drop hand-written YAML scenes into the
			// directory; normalize to the JSON form before decoding
			if data, err = yamlToJSON(data); err != nil {
				s.logger.WithFields(logging.Fields{"scene_id": id, "error": err.Error()}).Warn("skipping malformed yaml scene file")
				continue
			}
		}
		var sc Scene
		if err := json.Unmarshal(data, &sc); err != nil {
			s.logger.WithFields(logging.Fields{"scene_id": id, "error": err.Error()}).Warn("skipping malformed scene file")
			continue
		}
		if sc.ID == "" {
			sc.ID = id
		}
		s.scenes[id] = &sc
		onDisk[id] = true
		if !contains(s.order, id) {
			unindexed = append(unindexed, id)
		}
	}

	// drop index entries whose file vanished, then append strays
	var kept []string
	for _, id := range s.order {
		if onDisk[id] {
			kept = append(kept, id)
		}
	}
	sort.Strings(unindexed)
	s.order = append(kept, unindexed...)
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// List returns copies of all scenes in insertion order.
func (s *Store) List() []Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Scene, 0, len(s.order))
	for _, id := range s.order {
		if sc, ok := s.scenes[id]; ok {
			out = append(out, *sc)
		}
	}
	return out
}

// Get returns a copy of the scene with the given id.
func (s *Store) Get(id string) (Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenes[id]
	if !ok {
		return Scene{}, apperrors.New(apperrors.KindNotFound, "scene.Get", fmt.Sprintf("scene %q not found", id)).WithScene(id)
	}
	return *sc, nil
}

// Put inserts or replaces a scene and persists it. New ids are appended
// to the listing order; replacements keep their position.
func (s *Store) Put(sc Scene) error {
	data, err := json.MarshalIndent(&sc, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistenceError, "scene.Put", "marshal scene", err).WithScene(sc.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.scenePath(sc.ID), data); err != nil {
		return apperrors.Wrap(apperrors.KindPersistenceError, "scene.Put", "write scene file", err).WithScene(sc.ID)
	}
	cp := sc
	s.scenes[sc.ID] = &cp
	if !contains(s.order, sc.ID) {
		s.order = append(s.order, sc.ID)
	}
	return s.writeIndexLocked()
}

// Delete removes a scene from memory and disk.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenes[id]; !ok {
		return apperrors.New(apperrors.KindNotFound, "scene.Delete", fmt.Sprintf("scene %q not found", id)).WithScene(id)
	}
	if err := os.Remove(s.scenePath(id)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.KindPersistenceError, "scene.Delete", "remove scene file", err).WithScene(id)
	}
	// hand-written yaml variants too, so a delete cannot resurrect on reload
	for _, ext := range []string{".yaml", ".yml"} {
		_ = os.Remove(filepath.Join(s.dir, id+ext))
	}
	delete(s.scenes, id)
	var kept []string
	for _, x := range s.order {
		if x != id {
			kept = append(kept, x)
		}
	}
	s.order = kept
	return s.writeIndexLocked()
}

// Len reports how many scenes are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scenes)
}

func (s *Store) writeIndexLocked() error {
	data, err := json.Marshal(s.order)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistenceError, "scene.writeIndex", "marshal order index", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, orderIndexFile), data); err != nil {
		return apperrors.Wrap(apperrors.KindPersistenceError, "scene.writeIndex", "write order index", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// yamlToJSON re-encodes a YAML document as JSON so the Scene decoder
// (and its unknown-key preservation) has a single input form.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
