package facade

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/hdmi-mixer-go/internal/apperrors"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

func newBinding(t *testing.T, ctrl Controller) *httptest.Server {
	t.Helper()
	b := NewHTTPBinding(newFacade(t, ctrl), nil, logging.GetLogger("http-test"))
	mux := http.NewServeMux()
	b.Mount(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPStatusRoute(t *testing.T) {
	srv := newBinding(t, &fakeController{})
	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHTTPRecordStartRoutesCameraID(t *testing.T) {
	ctrl := &fakeController{}
	srv := newBinding(t, ctrl)
	resp, err := http.Post(srv.URL+"/record/start/cam2", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, ctrl.calls, "record_start:cam2")
}

func TestHTTPRecordStartRejectsGet(t *testing.T) {
	srv := newBinding(t, &fakeController{})
	resp, err := http.Get(srv.URL + "/record/start/cam2")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPMixerApplyTranslatesTypedError(t *testing.T) {
	ctrl := &fakeController{applyErr: apperrors.New(apperrors.KindInvalidArgument, "x", "unknown camera cam9")}
	srv := newBinding(t, ctrl)
	resp, err := http.Post(srv.URL+"/mixer/apply", "application/json", strings.NewReader(`{"id":"bad"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPMixerApplyRequiresSceneID(t *testing.T) {
	srv := newBinding(t, &fakeController{})
	resp, err := http.Post(srv.URL+"/mixer/apply", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPScenePutDelete(t *testing.T) {
	ctrl := &fakeController{}
	srv := newBinding(t, ctrl)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/scenes/custom",
		strings.NewReader(`{"id":"custom","label":"x","resolution":{"width":1280,"height":720},"slots":[]}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, ctrl.calls, "put_scene:custom")

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/scenes/custom", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, ctrl.calls, "delete_scene:custom")
}
