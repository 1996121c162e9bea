/*
HTTP binding for the Control Facade: a thin JSON layer over the
facade's operations, mounted next to the WebSocket event endpoint. All
policy stays in the Supervisor; this file only routes, authenticates,
and translates typed errors to status codes.
*/
package facade

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/scene"
	"github.com/camerarecorder/hdmi-mixer-go/internal/security"
)

// HTTPBinding mounts the control routes onto a mux.
type HTTPBinding struct {
	facade *Facade
	auth   *security.Authenticator
	logger *logging.Logger
}

// NewHTTPBinding wires the binding. auth may be nil to disable
// authentication in development.
func NewHTTPBinding(f *Facade, auth *security.Authenticator, logger *logging.Logger) *HTTPBinding {
	return &HTTPBinding{facade: f, auth: auth, logger: logger}
}

// Mount registers every control route.
func (b *HTTPBinding) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/status", b.guard("get_status", "read", b.handleStatus))
	mux.HandleFunc("/record/start/", b.guard("record_start", "mutate", b.handleRecordStart))
	mux.HandleFunc("/record/stop/", b.guard("record_stop", "mutate", b.handleRecordStop))
	mux.HandleFunc("/scenes", b.guard("list_scenes", "read", b.handleScenes))
	mux.HandleFunc("/scenes/", b.handleSceneByID)
	mux.HandleFunc("/mixer/apply", b.guard("apply_scene", "mutate", b.handleMixerApply))
	mux.HandleFunc("/mixer/start", b.guard("mixer_start", "mutate", b.handleMixerStart))
	mux.HandleFunc("/mixer/stop", b.guard("mixer_stop", "mutate", b.handleMixerStop))
	mux.HandleFunc("/mixer/status", b.guard("get_mixer_status", "read", b.handleMixerStatus))
}

type handlerWithID func(w http.ResponseWriter, r *http.Request, id security.Identity)

// guard applies the auth chain when configured.
func (b *HTTPBinding) guard(op, class string, next handlerWithID) http.HandlerFunc {
	if b.auth == nil {
		return func(w http.ResponseWriter, r *http.Request) {
			next(w, r, security.Identity{Actor: "anonymous", Role: security.RoleAdmin})
		}
	}
	return b.auth.Require(op, class, func(w http.ResponseWriter, r *http.Request, id security.Identity) {
		next(w, r, id)
	})
}

func (b *HTTPBinding) handleStatus(w http.ResponseWriter, r *http.Request, _ security.Identity) {
	st, err := b.facade.GetStatus(r.Context())
	b.respond(w, st, err)
}

func lastSegment(path string) string {
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	return parts[len(parts)-1]
}

func (b *HTTPBinding) handleRecordStart(w http.ResponseWriter, r *http.Request, id security.Identity) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := b.facade.StartRecord(r.Context(), id.Actor, lastSegment(r.URL.Path))
	b.respond(w, st, err)
}

func (b *HTTPBinding) handleRecordStop(w http.ResponseWriter, r *http.Request, id security.Identity) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := b.facade.StopRecord(r.Context(), id.Actor, lastSegment(r.URL.Path))
	b.respond(w, st, err)
}

func (b *HTTPBinding) handleScenes(w http.ResponseWriter, r *http.Request, _ security.Identity) {
	list, err := b.facade.ListScenes(r.Context())
	b.respond(w, list, err)
}

// handleSceneByID dispatches GET/PUT/DELETE /scenes/{id} with the
// per-method operation gate.
func (b *HTTPBinding) handleSceneByID(w http.ResponseWriter, r *http.Request) {
	sceneID := lastSegment(r.URL.Path)
	switch r.Method {
	case http.MethodGet:
		b.guard("get_scene", "read", func(w http.ResponseWriter, r *http.Request, _ security.Identity) {
			sc, err := b.facade.GetScene(r.Context(), sceneID)
			b.respond(w, sc, err)
		})(w, r)
	case http.MethodPut:
		b.guard("put_scene", "mutate", func(w http.ResponseWriter, r *http.Request, id security.Identity) {
			var sc scene.Scene
			if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
				http.Error(w, "malformed scene json", http.StatusBadRequest)
				return
			}
			err := b.facade.PutScene(r.Context(), id.Actor, sceneID, sc)
			b.respond(w, map[string]string{"id": sceneID}, err)
		})(w, r)
	case http.MethodDelete:
		b.guard("delete_scene", "mutate", func(w http.ResponseWriter, r *http.Request, id security.Identity) {
			err := b.facade.DeleteScene(r.Context(), id.Actor, sceneID)
			b.respond(w, map[string]string{"deleted": sceneID}, err)
		})(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (b *HTTPBinding) handleMixerApply(w http.ResponseWriter, r *http.Request, id security.Identity) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		http.Error(w, "scene id required", http.StatusBadRequest)
		return
	}
	err := b.facade.ApplyScene(r.Context(), id.Actor, body.ID)
	b.respond(w, map[string]string{"applied": body.ID}, err)
}

func (b *HTTPBinding) handleMixerStart(w http.ResponseWriter, r *http.Request, id security.Identity) {
	err := b.facade.StartMixer(r.Context(), id.Actor)
	b.respond(w, map[string]string{"mixer": "started"}, err)
}

func (b *HTTPBinding) handleMixerStop(w http.ResponseWriter, r *http.Request, id security.Identity) {
	err := b.facade.StopMixer(r.Context(), id.Actor)
	b.respond(w, map[string]string{"mixer": "stopped"}, err)
}

func (b *HTTPBinding) handleMixerStatus(w http.ResponseWriter, r *http.Request, _ security.Identity) {
	st, err := b.facade.GetMixerStatus(r.Context())
	b.respond(w, st, err)
}

func (b *HTTPBinding) respond(w http.ResponseWriter, value any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(statusFor(err))
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "kind": kindFor(err)})
		return
	}
	_ = json.NewEncoder(w).Encode(value)
}

func kindFor(err error) string {
	if appErr, ok := err.(*apperrors.Error); ok {
		return string(appErr.Kind)
	}
	return string(apperrors.KindInternal)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	appErr, ok := err.(*apperrors.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindInvalidArgument:
		return http.StatusBadRequest
	case apperrors.KindSceneInUse, apperrors.KindDeviceBusy, apperrors.KindPublishCollision:
		return http.StatusConflict
	case apperrors.KindDeviceNoSignal:
		return http.StatusConflict
	case apperrors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
