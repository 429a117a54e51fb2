package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devadigapratham/fleet3d/api/handlers"
	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/devadigapratham/fleet3d/monitor"
	"github.com/devadigapratham/fleet3d/moonraker"
	"github.com/devadigapratham/fleet3d/raft"
	"github.com/devadigapratham/fleet3d/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeMoonraker records what the API asks a printer to do
type fakeMoonraker struct {
	mu      sync.Mutex
	state   string
	files   []string
	started []string
	paused  int
	led     float64
	srv     *httptest.Server
}

func newFakeMoonraker(t *testing.T, state string) *fakeMoonraker {
	f := &fakeMoonraker{state: state}
	mux := http.NewServeMux()
	mux.HandleFunc("/printer/info", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result":{"state":"ready"}}`)
	})
	mux.HandleFunc("/printer/objects/query", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.Contains(r.URL.RawQuery, "print_stats"):
			json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]interface{}{"status": map[string]interface{}{
				"print_stats": map[string]interface{}{"state": f.state, "filename": ""},
			}}})
		case strings.Contains(r.URL.RawQuery, "led"):
			json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]interface{}{"status": map[string]interface{}{
				"led": map[string]interface{}{"color_data": [][]float64{{f.led, f.led, f.led, 0}}},
			}}})
		default:
			io.WriteString(w, `{"result":{"status":{"extruder":{"temperature":24,"target":0}}}}`)
		}
	})
	mux.HandleFunc("/server/files/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		entries := []map[string]interface{}{}
		for _, name := range f.files {
			entries = append(entries, map[string]interface{}{"path": name, "size": 1})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"result": entries})
	})
	mux.HandleFunc("/server/files/upload", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.files = append(f.files, header.Filename)
		f.mu.Unlock()
		io.WriteString(w, `{"result":{}}`)
	})
	mux.HandleFunc("/printer/print/start", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.started = append(f.started, body["filename"])
		f.state = models.StatePrinting
		f.mu.Unlock()
		io.WriteString(w, `{"result":"ok"}`)
	})
	mux.HandleFunc("/printer/print/pause", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paused++
		f.state = models.StatePaused
		f.mu.Unlock()
		io.WriteString(w, `{"result":"ok"}`)
	})
	mux.HandleFunc("/printer/print/resume", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.state = models.StatePrinting
		f.mu.Unlock()
		io.WriteString(w, `{"result":"ok"}`)
	})
	mux.HandleFunc("/printer/print/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.state = models.StateCancelled
		f.mu.Unlock()
		io.WriteString(w, `{"result":"ok"}`)
	})
	mux.HandleFunc("/printer/gcode/script", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.led = 1
		f.mu.Unlock()
		io.WriteString(w, `{"result":"ok"}`)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeMoonraker) hostPort(t *testing.T) (string, int) {
	host, port, err := net.SplitHostPort(strings.TrimPrefix(f.srv.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	node, err := raft.NewNode(&raft.Config{NodeID: "test", Bootstrap: true, InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { node.Shutdown() })
	require.Eventually(t, node.Leader, 5*time.Second, 10*time.Millisecond)

	store, err := storage.NewStore("", 0)
	require.NoError(t, err)
	return routerFor(node, store)
}

// routerFor builds the API of node serving library bytes from store
func routerFor(node *raft.Node, store *storage.Store) *gin.Engine {
	pool := moonraker.NewPool()
	mon := monitor.New(node.GetFSM(), pool, nil, monitor.Config{}, nil)

	h := handlers.NewHandler(node, store, pool, mon, nil, nil)
	h.MoonrakerPort = 7130
	return SetupRouter(h, raft.NewTransport(node), RouterConfig{CORSOrigins: []string{"*"}})
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func addPrinter(t *testing.T, r http.Handler, f *fakeMoonraker) *models.Printer {
	host, port := f.hostPort(t)
	w := doJSON(t, r, http.MethodPost, "/api/printers", gin.H{"name": "Voron", "ip_address": host, "port": port})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p models.Printer
	decode(t, w, &p)
	return &p
}

func uploadFile(t *testing.T, r http.Handler, name, content string) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	io.WriteString(part, content)
	mw.WriteField("description", "test part")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPrinterCRUD(t *testing.T) {
	r := newTestRouter(t)
	f := newFakeMoonraker(t, models.StateStandby)

	w := doJSON(t, r, http.MethodPost, "/api/printers", gin.H{"name": "no ip"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p := addPrinter(t, r, f)
	assert.Equal(t, "ZB3D-001", p.ID)
	assert.Equal(t, f.srv.URL, p.MoonrakerURL)
	assert.Equal(t, "offline", p.Status)

	w = doJSON(t, r, http.MethodGet, "/api/printers/"+p.ID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.PrinterStatus
	decode(t, w, &status)
	assert.True(t, status.Online)
	assert.Equal(t, models.StateStandby, status.State())

	// Listing reflects the status just fetched
	w = doJSON(t, r, http.MethodGet, "/api/printers", nil)
	var printers []models.Printer
	decode(t, w, &printers)
	require.Len(t, printers, 1)
	assert.Equal(t, "online", printers[0].Status)
	assert.NotNil(t, printers[0].LastSeen)

	w = doJSON(t, r, http.MethodPost, "/api/printers/"+p.ID+"/light/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var light map[string]interface{}
	decode(t, w, &light)
	assert.EqualValues(t, 1, light["state"])

	w = doJSON(t, r, http.MethodDelete, "/api/printers/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodDelete, "/api/printers/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrinterDefaultPort(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/printers", gin.H{"name": "Prusa", "ip_address": "10.0.0.9"})
	require.Equal(t, http.StatusCreated, w.Code)
	var p models.Printer
	decode(t, w, &p)
	assert.Equal(t, "http://10.0.0.9:7130", p.MoonrakerURL)
	assert.Equal(t, "http://10.0.0.9:8080/webcam/?action=stream", p.WebcamURL)
}

func TestUnreachablePrinterIsOffline(t *testing.T) {
	r := newTestRouter(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	host, port, _ := net.SplitHostPort(strings.TrimPrefix(dead.URL, "http://"))
	dead.Close()

	w := doJSON(t, r, http.MethodPost, "/api/printers", gin.H{"name": "gone", "ip_address": host, "port": port})
	require.Equal(t, http.StatusBadRequest, w.Code, "port must be a number")

	portNum, _ := strconv.Atoi(port)
	w = doJSON(t, r, http.MethodPost, "/api/printers", gin.H{"name": "gone", "ip_address": host, "port": portNum})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/printers/ZB3D-001/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.PrinterStatus
	decode(t, w, &status)
	assert.False(t, status.Online)
	assert.NotEmpty(t, status.Error)

	w = doJSON(t, r, http.MethodPost, "/api/printers/ZB3D-001/print/pause", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestFileLibrary(t *testing.T) {
	r := newTestRouter(t)

	w := uploadFile(t, r, "notes.txt", "hello")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = uploadFile(t, r, "bracket v2.gcode", "G28\n")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var file models.File
	decode(t, w, &file)
	assert.Equal(t, "file-001", file.ID)
	assert.Equal(t, "bracket_v2.gcode", file.Name)
	assert.Equal(t, "gcode", file.Type)
	assert.EqualValues(t, 4, file.Size)
	assert.Equal(t, "test part", file.Description)

	w = doJSON(t, r, http.MethodGet, "/api/files/"+file.ID+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "G28\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "bracket_v2.gcode")

	w = doJSON(t, r, http.MethodDelete, "/api/files/"+file.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/files/"+file.ID+"/download", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobLifecycle(t *testing.T) {
	r := newTestRouter(t)
	f := newFakeMoonraker(t, models.StateStandby)
	p := addPrinter(t, r, f)

	w := doJSON(t, r, http.MethodPost, "/api/jobs", gin.H{"name": "clips", "filename": "file-404", "printers": []string{p.ID}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = uploadFile(t, r, "clip.gcode", "G28\n")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/jobs", gin.H{"name": "clips", "filename": "file-001", "printers": []string{p.ID}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var job models.Job
	decode(t, w, &job)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 1, job.Quantity)
	assert.Equal(t, models.PriorityNormal, job.Priority)
	assert.Equal(t, "PLA", job.Material)

	// Pending jobs cannot be paused
	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/pause", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &job)
	assert.Equal(t, models.JobRunning, job.Status)
	assert.NotNil(t, job.Started)
	assert.Equal(t, []string{"clip.gcode"}, f.files)
	assert.Equal(t, []string{"clip.gcode"}, f.started)

	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &job)
	assert.Equal(t, models.JobPaused, job.Status)
	assert.Equal(t, 1, f.paused)

	// Resuming a paused job resumes paused printers
	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, f.started, 1)

	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/progress", gin.H{"progress": 100})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &job)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.NotNil(t, job.Completed)

	w = doJSON(t, r, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobStartWithoutAvailablePrinters(t *testing.T) {
	r := newTestRouter(t)
	f := newFakeMoonraker(t, models.StatePrinting)
	p := addPrinter(t, r, f)
	require.Equal(t, http.StatusCreated, uploadFile(t, r, "clip.gcode", "G28\n").Code)

	w := doJSON(t, r, http.MethodPost, "/api/jobs", gin.H{"name": "clips", "filename": "file-001", "printers": []string{p.ID}})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/jobs/job-001/start", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "no available printers", body["error"])
}

func TestJobUpdateAndFilter(t *testing.T) {
	r := newTestRouter(t)
	require.Equal(t, http.StatusCreated, uploadFile(t, r, "clip.3mf", "x").Code)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/api/jobs", gin.H{"name": "a", "filename": "file-001"}).Code)

	w := doJSON(t, r, http.MethodPut, "/api/jobs/job-001", gin.H{"quantity": 3, "priority": "high"})
	require.Equal(t, http.StatusOK, w.Code)
	var job models.Job
	decode(t, w, &job)
	assert.Equal(t, 3, job.Quantity)
	assert.Equal(t, models.PriorityHigh, job.Priority)
	assert.NotNil(t, job.Modified)

	w = doJSON(t, r, http.MethodPut, "/api/jobs/job-001", gin.H{"priority": "urgent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/jobs/job-001/progress", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/jobs?status=running", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestUsers(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/users", gin.H{"name": "Ana"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/users", gin.H{"name": "Ana", "email": "ana@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	var user models.User
	decode(t, w, &user)
	assert.Equal(t, "user-001", user.ID)
	assert.Equal(t, models.RoleOperator, user.Role)

	w = doJSON(t, r, http.MethodPut, "/api/users/"+user.ID, gin.H{"role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &user)
	assert.Equal(t, models.RoleAdmin, user.Role)

	w = doJSON(t, r, http.MethodGet, "/api/users/"+user.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &user)
	assert.Equal(t, "ana@example.com", user.Email)
	w = doJSON(t, r, http.MethodGet, "/api/users/user-404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/users/user-404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, r, http.MethodDelete, "/api/users/"+user.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodOptions, "/api/printers", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))

	w = doJSON(t, r, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	decode(t, w, &status)
	assert.Equal(t, true, status["is_leader"])
}
