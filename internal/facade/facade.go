/*
Control Facade: the narrow synchronous API consumed by the HTTP layer.

Every call marshals the request into the Supervisor's command queue,
awaits the response under a bounded deadline, and returns a value or a
typed apperrors error. The facade adds nothing but the deadline, audit
logging, and the event-push transport; policy lives in the Supervisor.
*/
package facade

import (
	"context"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/ingest"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/mixer"
	"github.com/camerarecorder/hdmi-mixer-go/internal/recorder"
	"github.com/camerarecorder/hdmi-mixer-go/internal/scene"
	"github.com/camerarecorder/hdmi-mixer-go/internal/security"
	"github.com/camerarecorder/hdmi-mixer-go/internal/supervisor"
)

// Controller is the Supervisor surface the facade fronts; split out so
// facade tests run against a fake.
type Controller interface {
	StartIngest(ctx context.Context, cameraID string) (ingest.StartResult, error)
	StopIngest(ctx context.Context, cameraID string) error
	StartRecord(ctx context.Context, cameraID string) (recorder.Status, error)
	StopRecord(ctx context.Context, cameraID string) (recorder.Status, error)
	Status(ctx context.Context) (supervisor.SystemStatus, error)
	ListScenes(ctx context.Context) ([]scene.Scene, error)
	GetScene(ctx context.Context, id string) (scene.Scene, error)
	PutScene(ctx context.Context, id string, sc scene.Scene) error
	DeleteScene(ctx context.Context, id string) error
	ApplyScene(ctx context.Context, id string) error
	StartMixer(ctx context.Context) error
	StopMixer(ctx context.Context) error
	MixerStatus(ctx context.Context) (mixer.Status, error)
	Events() (<-chan supervisor.Event, func())
}

// SceneSummary is the list-scenes row: id, label, slot count.
type SceneSummary struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	SlotCount int    `json:"slot_count"`
}

// Facade wraps a Controller with per-operation deadlines and audit
// logging.
type Facade struct {
	ctrl    Controller
	timeout time.Duration
	audit   *security.AuditLogger
	logger  *logging.Logger
}

// New constructs the facade. timeout bounds every call; zero selects
// the 10s default.
func New(ctrl Controller, timeout time.Duration, audit *security.AuditLogger, logger *logging.Logger) *Facade {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Facade{ctrl: ctrl, timeout: timeout, audit: audit, logger: logger}
}

func (f *Facade) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.timeout)
}

func (f *Facade) record(actor, op, target string, err error) {
	if f.audit != nil {
		f.audit.RecordCommand(actor, op, target, err)
	}
}

// StartIngest starts the camera's ingest pipeline.
func (f *Facade) StartIngest(ctx context.Context, actor, cameraID string) (ingest.StartResult, error) {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	res, err := f.ctrl.StartIngest(ctx, cameraID)
	f.record(actor, "start_ingest", cameraID, err)
	return res, err
}

// StopIngest stops the camera's ingest pipeline.
func (f *Facade) StopIngest(ctx context.Context, actor, cameraID string) error {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	err := f.ctrl.StopIngest(ctx, cameraID)
	f.record(actor, "stop_ingest", cameraID, err)
	return err
}

// StartRecord begins recording the camera.
func (f *Facade) StartRecord(ctx context.Context, actor, cameraID string) (recorder.Status, error) {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	st, err := f.ctrl.StartRecord(ctx, cameraID)
	f.record(actor, "record_start", cameraID, err)
	return st, err
}

// StopRecord finalizes the camera's recording.
func (f *Facade) StopRecord(ctx context.Context, actor, cameraID string) (recorder.Status, error) {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	st, err := f.ctrl.StopRecord(ctx, cameraID)
	f.record(actor, "record_stop", cameraID, err)
	return st, err
}

// GetStatus returns the full system snapshot.
func (f *Facade) GetStatus(ctx context.Context) (supervisor.SystemStatus, error) {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	return f.ctrl.Status(ctx)
}

// ListScenes returns scene summaries in insertion order.
func (f *Facade) ListScenes(ctx context.Context) ([]SceneSummary, error) {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	scenes, err := f.ctrl.ListScenes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SceneSummary, 0, len(scenes))
	for _, sc := range scenes {
		out = append(out, SceneSummary{ID: sc.ID, Label: sc.Label, SlotCount: sc.SlotCount()})
	}
	return out, nil
}

// GetScene returns the full scene.
func (f *Facade) GetScene(ctx context.Context, id string) (scene.Scene, error) {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	return f.ctrl.GetScene(ctx, id)
}

// PutScene creates or replaces a scene.
func (f *Facade) PutScene(ctx context.Context, actor, id string, sc scene.Scene) error {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	err := f.ctrl.PutScene(ctx, id, sc)
	f.record(actor, "put_scene", id, err)
	return err
}

// DeleteScene removes a scene; SceneInUse when applied to the mixer.
func (f *Facade) DeleteScene(ctx context.Context, actor, id string) error {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	err := f.ctrl.DeleteScene(ctx, id)
	f.record(actor, "delete_scene", id, err)
	return err
}

// ApplyScene applies a scene to the mixer.
func (f *Facade) ApplyScene(ctx context.Context, actor, id string) error {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	err := f.ctrl.ApplyScene(ctx, id)
	f.record(actor, "apply_scene", id, err)
	return err
}

// StartMixer starts the program output.
func (f *Facade) StartMixer(ctx context.Context, actor string) error {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	err := f.ctrl.StartMixer(ctx)
	f.record(actor, "mixer_start", "", err)
	return err
}

// StopMixer stops the program output.
func (f *Facade) StopMixer(ctx context.Context, actor string) error {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	err := f.ctrl.StopMixer(ctx)
	f.record(actor, "mixer_stop", "", err)
	return err
}

// GetMixerStatus returns the mixer snapshot.
func (f *Facade) GetMixerStatus(ctx context.Context) (mixer.Status, error) {
	ctx, cancel := f.opCtx(ctx)
	defer cancel()
	return f.ctrl.MixerStatus(ctx)
}
