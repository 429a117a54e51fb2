package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	backend *fakeBackend
	ctrl    *Controller
	notes   *Notifications
	poller  *Poller
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	voron := printer("ZB3D-001", "Voron")
	voron.WebcamURL = "http://10.0.0.1:8080/webcam/?action=stream"
	backend := newFakeBackend(voron, printer("ZB3D-002", "Prusa"))
	backend.statuses["ZB3D-001"] = &models.PrinterStatus{
		Online:      true,
		PrintStats:  &models.PrintStats{State: models.StatePrinting, Filename: "benchy.gcode", Progress: 0.42, PrintDuration: 3700, Info: &models.LayerInfo{CurrentLayer: 12, TotalLayer: 80}},
		Temperature: &models.Temperature{Extruder: &models.Heater{Temperature: 215, Target: 215}},
	}
	backend.files = []*models.File{{ID: "file-001", Name: "cube.gcode", Type: "gcode", Size: 2048, Uploaded: time.Now()}}
	backend.jobs = []*models.Job{{ID: "job-001", Name: "clips", Status: models.JobRunning, Priority: "normal", Material: "PLA", Quantity: 1, Printers: []string{"ZB3D-001"}}}
	backend.users = []*models.User{{ID: "admin-001", Name: "Administrator", Email: "admin@example.com", Role: models.RoleAdmin}}

	ctrl := NewController()
	notes := NewNotifications(20)
	settings, err := LoadSettings("")
	require.NoError(t, err)
	poller := NewPoller(backend, ctrl, nil, time.Second, nil)

	s := NewServer(ServerConfig{
		Controller:    ctrl,
		Dispatcher:    NewDispatcher(backend, ctrl, notes, nil),
		Router:        NewRouter(backend, ctrl, notes, settings, nil),
		Notifications: notes,
		Settings:      settings,
		Poller:        poller,
	})
	return &testServer{Server: s, backend: backend, ctrl: ctrl, notes: notes, poller: poller}
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func (s *testServer) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestPrintersPanelRenders(t *testing.T) {
	s := newTestServer(t)

	w := s.get("/panel/printers")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Voron")
	assert.Contains(t, w.Body.String(), "Prusa")

	require.True(t, s.poller.Poll(context.Background()))
	w = s.get("/panel/dashboard")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "benchy.gcode")
	assert.Contains(t, body, "42%")
	assert.Contains(t, body, "1h1m")
	assert.Contains(t, body, "layer 12/80")
	assert.Contains(t, body, `http-equiv="refresh"`)
}

func TestEveryPanelRenders(t *testing.T) {
	s := newTestServer(t)
	for _, p := range append(Panels, "nowhere") {
		w := s.get("/panel/" + string(p))
		assert.Equal(t, http.StatusOK, w.Code, p)
	}

	assert.Contains(t, s.get("/panel/files").Body.String(), "2 KB")
	assert.Contains(t, s.get("/panel/jobs").Body.String(), "clips")
	assert.Contains(t, s.get("/panel/users").Body.String(), "admin@example.com")
	assert.Contains(t, s.get("/panel/settings").Body.String(), "fleet3d")

	w := s.get("/")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/panel/printers", w.Header().Get("Location"))
}

func TestControlRedirectsAndNotifies(t *testing.T) {
	s := newTestServer(t)
	s.get("/panel/printers")

	w := s.post("/printers/ZB3D-001/pause", url.Values{})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/panel/printers", w.Header().Get("Location"))
	assert.Contains(t, s.backend.Calls(), "pause ZB3D-001")

	active := s.notes.Active()
	require.NotEmpty(t, active)
	assert.Equal(t, "Print paused", active[len(active)-1].Message)
}

func TestBulkDeleteThroughForm(t *testing.T) {
	s := newTestServer(t)
	s.get("/panel/printers")
	s.backend.failDelete["ZB3D-002"] = true

	s.post("/select/all", url.Values{})
	assert.Len(t, s.ctrl.Selected(), 2)

	w := s.post("/bulk/delete", url.Values{})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, []string{"ZB3D-002"}, s.ctrl.PrinterIDs())

	s.post("/select", url.Values{"id": {"ZB3D-002"}, "checked": {"false"}})
	assert.Empty(t, s.ctrl.Selected())
}

func TestFilterAndView(t *testing.T) {
	s := newTestServer(t)

	s.post("/filter", url.Values{"filter": {"attention"}})
	assert.Equal(t, FilterAttention, s.ctrl.Filter())

	s.post("/filter", url.Values{"filter": {"bogus"}})
	assert.Equal(t, FilterAttention, s.ctrl.Filter())

	s.post("/view", url.Values{"mode": {"list"}})
	assert.Equal(t, ViewList, s.ctrl.ViewMode())
}

func TestSettingsFormUpdatesPoller(t *testing.T) {
	s := newTestServer(t)

	w := s.post("/settings/general", url.Values{
		"panel":           {"settings"},
		"system_name":     {"Farm"},
		"update_interval": {"9"},
		"timezone":        {"UTC"},
	})
	assert.Equal(t, "/panel/settings", w.Header().Get("Location"))
	assert.Equal(t, 9*time.Second, s.poller.Interval())

	s.post("/settings/general", url.Values{"update_interval": {"0"}})
	assert.Equal(t, 9*time.Second, s.poller.Interval())
	active := s.notes.Active()
	assert.Equal(t, Error, active[len(active)-1].Type)
}

func TestUploadAndDownload(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "cube.gcode")
	require.NoError(t, err)
	part.Write([]byte("G28\nG1 X10\n"))
	mw.WriteField("description", "calibration")
	mw.WriteField("panel", "files")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "/panel/files", w.Header().Get("Location"))
	assert.Contains(t, s.backend.Calls(), "upload cube.gcode")

	w = s.get("/files/file-001/download?name=cube.gcode")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "G28\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "cube.gcode")
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	s.backend.err = errors.New("connection refused")
	w = s.get("/files/file-001/download")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/panel/files", w.Header().Get("Location"))
	active := s.notes.Active()
	assert.Equal(t, "Failed to download file", active[len(active)-1].Message)
}

func TestStateJSON(t *testing.T) {
	s := newTestServer(t)
	s.get("/panel/printers")
	s.poller.Poll(context.Background())

	w := s.get("/api/state")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Counters Counters `json:"counters"`
		Printers []struct {
			ID      string   `json:"id"`
			Display string   `json:"display"`
			Buttons []string `json:"buttons"`
		} `json:"printers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Counters.Total)
	assert.Equal(t, 1, out.Counters.Attention)
	require.Len(t, out.Printers, 2)
	assert.Equal(t, DisplayPrinting, out.Printers[0].Display)
	assert.Equal(t, []string{"pause", "cancel", "light", "delete"}, out.Printers[0].Buttons)
}

func TestEditFormsReachBackend(t *testing.T) {
	s := newTestServer(t)

	w := s.post("/jobs/job-001/edit", url.Values{"panel": {"jobs"}, "name": {"clips v2"}, "quantity": {"4"}, "priority": {"high"}, "material": {"PETG"}})
	assert.Equal(t, "/panel/jobs", w.Header().Get("Location"))
	s.post("/jobs/job-001/progress", url.Values{"panel": {"jobs"}, "progress": {"55"}})
	s.post("/jobs/job-001/progress", url.Values{"panel": {"jobs"}, "progress": {"lots"}})
	active := s.notes.Active()
	assert.Equal(t, "Progress must be between 0 and 100", active[len(active)-1].Message)

	w = s.post("/users/admin-001/edit", url.Values{"panel": {"users"}, "name": {"Root"}, "email": {"root@example.com"}, "role": {"admin"}})
	assert.Equal(t, "/panel/users", w.Header().Get("Location"))

	assert.Subset(t, s.backend.Calls(), []string{"update job job-001", "progress job job-001 55", "update user admin-001"})

	page := s.get("/panel/jobs").Body.String()
	assert.Contains(t, page, `action="/jobs/job-001/edit"`)
	assert.Contains(t, page, `action="/jobs/job-001/progress"`)
	assert.Contains(t, s.get("/panel/users").Body.String(), `action="/users/admin-001/edit"`)
}

func TestSendFileToPrinter(t *testing.T) {
	s := newTestServer(t)
	s.get("/panel/printers")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "benchy.gcode")
	require.NoError(t, err)
	part.Write([]byte("G28\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/printers/ZB3D-001/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/printers/ZB3D-001", w.Header().Get("Location"))
	assert.Contains(t, s.backend.Calls(), "send ZB3D-001 benchy.gcode")

	// No file attached
	w = s.post("/printers/ZB3D-001/upload", url.Values{})
	assert.Equal(t, "/printers/ZB3D-001", w.Header().Get("Location"))
	active := s.notes.Active()
	assert.Equal(t, "Select a file", active[len(active)-1].Message)

	assert.Contains(t, s.get("/printers/ZB3D-001").Body.String(), `action="/printers/ZB3D-001/upload"`)
}
