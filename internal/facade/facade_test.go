package facade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/ingest"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/mixer"
	"github.com/camerarecorder/hdmi-mixer-go/internal/recorder"
	"github.com/camerarecorder/hdmi-mixer-go/internal/scene"
	"github.com/camerarecorder/hdmi-mixer-go/internal/security"
	"github.com/camerarecorder/hdmi-mixer-go/internal/supervisor"
)

type fakeController struct {
	calls   []string
	applyErr error
	slow    time.Duration
}

func (f *fakeController) note(op string) { f.calls = append(f.calls, op) }

func (f *fakeController) StartIngest(ctx context.Context, id string) (ingest.StartResult, error) {
	f.note("start_ingest:" + id)
	return ingest.StartResult{State: common.StateRunning}, nil
}
func (f *fakeController) StopIngest(ctx context.Context, id string) error {
	f.note("stop_ingest:" + id)
	return nil
}
func (f *fakeController) StartRecord(ctx context.Context, id string) (recorder.Status, error) {
	f.note("record_start:" + id)
	return recorder.Status{CameraID: id, State: common.StateRunning, File: "/r/x.mp4"}, nil
}
func (f *fakeController) StopRecord(ctx context.Context, id string) (recorder.Status, error) {
	f.note("record_stop:" + id)
	return recorder.Status{CameraID: id, State: common.StateIdle}, nil
}
func (f *fakeController) Status(ctx context.Context) (supervisor.SystemStatus, error) {
	if f.slow > 0 {
		select {
		case <-time.After(f.slow):
		case <-ctx.Done():
			return supervisor.SystemStatus{}, apperrors.Wrap(apperrors.KindTimeout, "Status", "deadline", ctx.Err())
		}
	}
	return supervisor.SystemStatus{}, nil
}
func (f *fakeController) ListScenes(ctx context.Context) ([]scene.Scene, error) {
	return []scene.Scene{
		{ID: "quad", Label: "4-up grid", Slots: make([]scene.Slot, 4)},
		{ID: "pip", Label: "Picture in picture", Slots: make([]scene.Slot, 2)},
	}, nil
}
func (f *fakeController) GetScene(ctx context.Context, id string) (scene.Scene, error) {
	return scene.Scene{ID: id}, nil
}
func (f *fakeController) PutScene(ctx context.Context, id string, sc scene.Scene) error {
	f.note("put_scene:" + id)
	return nil
}
func (f *fakeController) DeleteScene(ctx context.Context, id string) error {
	f.note("delete_scene:" + id)
	return nil
}
func (f *fakeController) ApplyScene(ctx context.Context, id string) error {
	f.note("apply_scene:" + id)
	return f.applyErr
}
func (f *fakeController) StartMixer(ctx context.Context) error { f.note("mixer_start"); return nil }
func (f *fakeController) StopMixer(ctx context.Context) error  { f.note("mixer_stop"); return nil }
func (f *fakeController) MixerStatus(ctx context.Context) (mixer.Status, error) {
	return mixer.Status{State: common.StateRunning, SceneID: "quad", Health: "ok"}, nil
}
func (f *fakeController) Events() (<-chan supervisor.Event, func()) {
	ch := make(chan supervisor.Event)
	return ch, func() { close(ch) }
}

func newFacade(t *testing.T, ctrl Controller) *Facade {
	t.Helper()
	audit, err := security.NewAuditLogger("", logging.GetLogger("facade-test"))
	require.NoError(t, err)
	return New(ctrl, time.Second, audit, logging.GetLogger("facade-test"))
}

func TestFacadeRoutesOperations(t *testing.T) {
	ctrl := &fakeController{}
	f := newFacade(t, ctrl)
	ctx := context.Background()

	_, err := f.StartRecord(ctx, "op1", "cam1")
	require.NoError(t, err)
	require.NoError(t, f.ApplyScene(ctx, "op1", "quad"))
	require.NoError(t, f.StartMixer(ctx, "op1"))

	assert.Equal(t, []string{"record_start:cam1", "apply_scene:quad", "mixer_start"}, ctrl.calls)
}

func TestFacadePropagatesTypedErrors(t *testing.T) {
	ctrl := &fakeController{applyErr: apperrors.New(apperrors.KindInvalidArgument, "x", "bad scene")}
	f := newFacade(t, ctrl)

	err := f.ApplyScene(context.Background(), "op1", "bad")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidArgument))
}

func TestFacadeAppliesDeadline(t *testing.T) {
	ctrl := &fakeController{slow: 5 * time.Second}
	audit, err := security.NewAuditLogger("", logging.GetLogger("facade-test"))
	require.NoError(t, err)
	f := New(ctrl, 50*time.Millisecond, audit, logging.GetLogger("facade-test"))

	_, err = f.GetStatus(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindTimeout))
}

func TestListScenesSummarizes(t *testing.T) {
	f := newFacade(t, &fakeController{})
	out, err := f.ListScenes(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, SceneSummary{ID: "quad", Label: "4-up grid", SlotCount: 4}, out[0])
}

func TestMixerStatusPassthrough(t *testing.T) {
	f := newFacade(t, &fakeController{})
	st, err := f.GetMixerStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "quad", st.SceneID)
	assert.Equal(t, "ok", st.Health)
}
