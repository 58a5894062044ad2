package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"callmesh/internal/core/domain"
	"callmesh/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeManager struct {
	startErr   error
	switchErr  error
	muteErr    error
	snapshot   domain.SessionSnapshot
	hasSession bool
	ended      bool
	lastMode   domain.CallMode
}

func (f *fakeManager) Start(ctx context.Context, channel domain.ChannelID, local domain.ParticipantID, mode domain.CallMode) (domain.SessionSnapshot, error) {
	if f.startErr != nil {
		return domain.SessionSnapshot{}, f.startErr
	}
	f.snapshot = domain.SessionSnapshot{
		ID:      "s-1",
		Channel: channel,
		Local:   local,
		Mode:    mode,
		State:   domain.SessionRequesting,
	}
	f.hasSession = true
	return f.snapshot, nil
}

func (f *fakeManager) End(ctx context.Context) { f.ended = true }

func (f *fakeManager) SwitchMode(ctx context.Context, mode domain.CallMode) error {
	if f.switchErr != nil {
		return f.switchErr
	}
	f.lastMode = mode
	return nil
}

func (f *fakeManager) SetMuted(ctx context.Context, muted bool) error { return f.muteErr }
func (f *fakeManager) SetPictureInPicture(on bool) error              { return nil }

func (f *fakeManager) Snapshot() (domain.SessionSnapshot, bool) {
	return f.snapshot, f.hasSession
}

func (f *fakeManager) Events() <-chan domain.CallEvent { return nil }

type fakeDevices struct {
	devices   []domain.DeviceDescriptor
	selectErr error
	selected  string
	sample    domain.QualitySample
	sampleErr error
}

func (f *fakeDevices) ListOutputDevices(ctx context.Context) ([]domain.DeviceDescriptor, error) {
	return f.devices, nil
}

func (f *fakeDevices) SelectOutputDevice(ctx context.Context, deviceID string) error {
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selected = deviceID
	return nil
}

func (f *fakeDevices) SampleQuality(remote domain.ParticipantID) (domain.QualitySample, error) {
	if f.sampleErr != nil {
		return domain.QualitySample{}, f.sampleErr
	}
	return f.sample, nil
}

type fakeRegistry struct {
	replaced []domain.DeviceDescriptor
}

func (f *fakeRegistry) Replace(devices []domain.DeviceDescriptor) { f.replaced = devices }

func newTestRouter(m *fakeManager, d *fakeDevices, r *fakeRegistry) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	NewCallHandler(m, d, r).SetupRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartCall(t *testing.T) {
	m := &fakeManager{}
	router := newTestRouter(m, &fakeDevices{}, &fakeRegistry{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/call/start", gin.H{
		"channel": "room-1", "participant": "alice", "mode": "video",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Session domain.SessionSnapshot `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.ChannelID("room-1"), resp.Session.Channel)
	assert.Equal(t, domain.CallModeVideo, resp.Session.Mode)
}

func TestStartCallAlreadyInCall(t *testing.T) {
	m := &fakeManager{startErr: domain.ErrAlreadyInCall}
	router := newTestRouter(m, &fakeDevices{}, &fakeRegistry{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/call/start", gin.H{
		"channel": "room-1", "participant": "alice", "mode": "audio",
	})

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ALREADY_IN_CALL")
}

func TestStartCallRejectsMissingFields(t *testing.T) {
	router := newTestRouter(&fakeManager{}, &fakeDevices{}, &fakeRegistry{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/call/start", gin.H{"channel": "room-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEndCallIsIdempotent(t *testing.T) {
	m := &fakeManager{}
	router := newTestRouter(m, &fakeDevices{}, &fakeRegistry{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/call/end", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, m.ended)

	w = doJSON(t, router, http.MethodPost, "/api/v1/call/end", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSwitchMode(t *testing.T) {
	m := &fakeManager{}
	router := newTestRouter(m, &fakeDevices{}, &fakeRegistry{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/call/mode", gin.H{"mode": "video"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, domain.CallModeVideo, m.lastMode)
}

func TestSwitchModeWithoutCall(t *testing.T) {
	m := &fakeManager{switchErr: domain.ErrNoActiveCall}
	router := newTestRouter(m, &fakeDevices{}, &fakeRegistry{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/call/mode", gin.H{"mode": "video"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "NO_ACTIVE_CALL")
}

func TestGetCallWithoutSession(t *testing.T) {
	router := newTestRouter(&fakeManager{}, &fakeDevices{}, &fakeRegistry{})

	w := doJSON(t, router, http.MethodGet, "/api/v1/call", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetQuality(t *testing.T) {
	d := &fakeDevices{sample: domain.QualitySample{BitrateKbps: 512}}
	router := newTestRouter(&fakeManager{}, d, &fakeRegistry{})

	w := doJSON(t, router, http.MethodGet, "/api/v1/call/quality/bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "512")
}

func TestGetQualityNotConnected(t *testing.T) {
	d := &fakeDevices{sampleErr: domain.ErrNotConnected}
	router := newTestRouter(&fakeManager{}, d, &fakeRegistry{})

	w := doJSON(t, router, http.MethodGet, "/api/v1/call/quality/bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplaceAndListDevices(t *testing.T) {
	r := &fakeRegistry{}
	d := &fakeDevices{devices: []domain.DeviceDescriptor{
		{ID: "spk-1", Label: "Speakers", Kind: domain.DeviceAudioOutput},
	}}
	router := newTestRouter(&fakeManager{}, d, r)

	w := doJSON(t, router, http.MethodPut, "/api/v1/devices", gin.H{
		"devices": []gin.H{{"id": "spk-1", "label": "Speakers", "kind": "audiooutput"}},
	})
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, r.replaced, 1)
	assert.Equal(t, "spk-1", r.replaced[0].ID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Speakers")
}

func TestSelectDevice(t *testing.T) {
	d := &fakeDevices{}
	router := newTestRouter(&fakeManager{}, d, &fakeRegistry{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/devices/select", gin.H{"device_id": "hs-1"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "hs-1", d.selected)
}

func TestSelectDeviceUnavailable(t *testing.T) {
	d := &fakeDevices{selectErr: domain.ErrDeviceUnavailable}
	router := newTestRouter(&fakeManager{}, d, &fakeRegistry{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/devices/select", gin.H{"device_id": "gone"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "DEVICE_UNAVAILABLE")
}
