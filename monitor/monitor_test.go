package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/devadigapratham/fleet3d/moonraker"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource []*models.Printer

func (s staticSource) GetPrinters() []*models.Printer { return s }

func (s staticSource) GetPrinter(id string) (*models.Printer, bool) {
	for _, p := range s {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// shrinkingSource loses its printers once the first status query arrives
type shrinkingSource struct {
	mu       sync.Mutex
	printers []*models.Printer
}

func (s *shrinkingSource) GetPrinters() []*models.Printer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Printer(nil), s.printers...)
}

func (s *shrinkingSource) GetPrinter(id string) (*models.Printer, bool) {
	return staticSource(s.GetPrinters()).GetPrinter(id)
}

func (s *shrinkingSource) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printers = nil
}

func moonrakerStub(t *testing.T, state string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/printer/info":
			io.WriteString(w, `{"result":{"state":"ready"}}`)
		case "/printer/objects/query":
			if strings.Contains(r.URL.RawQuery, "print_stats") {
				io.WriteString(w, `{"result":{"status":{"print_stats":{"state":"`+state+`","filename":""}}}}`)
				return
			}
			io.WriteString(w, `{"result":{"status":{"extruder":{"temperature":25,"target":0}}}}`)
		case "/server/files/list":
			io.WriteString(w, `{"result":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func printerAt(id, url string) *models.Printer {
	p := models.NewPrinter(id, "127.0.0.1", 0, 0, nil)
	p.ID = id
	p.MoonrakerURL = url
	return p
}

func TestRefreshCachesStatus(t *testing.T) {
	up := moonrakerStub(t, models.StateStandby)
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	source := staticSource{printerAt("ZB3D-001", up.URL), printerAt("ZB3D-002", down.URL)}
	m := New(source, moonraker.NewPool(), nil, Config{Workers: 1}, nil)

	m.Refresh(context.Background())

	s1, ok := m.Status("ZB3D-001")
	require.True(t, ok)
	assert.True(t, s1.Online)
	assert.Equal(t, models.StateStandby, s1.State())

	s2, ok := m.Status("ZB3D-002")
	require.True(t, ok)
	assert.False(t, s2.Online)
	assert.NotEmpty(t, s2.Error)

	printers := []*models.Printer{printerAt("ZB3D-001", up.URL), printerAt("ZB3D-002", down.URL)}
	m.Decorate(printers...)
	assert.Equal(t, "online", printers[0].Status)
	assert.NotNil(t, printers[0].LastSeen)
	assert.Equal(t, "offline", printers[1].Status)
	assert.Nil(t, printers[1].LastSeen)
}

func TestRefreshForgetsRemovedPrinters(t *testing.T) {
	up := moonrakerStub(t, models.StateStandby)
	m := New(staticSource{printerAt("ZB3D-001", up.URL)}, moonraker.NewPool(), nil, Config{}, nil)
	m.Refresh(context.Background())

	m.source = staticSource{}
	m.Refresh(context.Background())

	_, ok := m.Status("ZB3D-001")
	assert.False(t, ok)
}

func TestFetchDropsPrinterRemovedMidQuery(t *testing.T) {
	source := &shrinkingSource{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source.clear()
		io.WriteString(w, `{"result":{"state":"ready"}}`)
	}))
	defer srv.Close()
	p := printerAt("ZB3D-001", srv.URL)
	source.printers = []*models.Printer{p}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)

	m := New(source, moonraker.NewPool(), hub, Config{}, nil)
	status := m.Fetch(context.Background(), p)
	require.NotNil(t, status)

	_, ok := m.Status("ZB3D-001")
	assert.False(t, ok)
	assert.Empty(t, m.Snapshot())
	assert.Zero(t, m.seq.Load())
}

func TestSetIntervalIgnoresNonPositive(t *testing.T) {
	m := New(staticSource{}, moonraker.NewPool(), nil, Config{Interval: time.Second}, nil)
	m.SetInterval(0)
	assert.Equal(t, time.Second, m.Interval())
	m.SetInterval(2 * time.Second)
	assert.Equal(t, 2*time.Second, m.Interval())
}

func TestHubDeliversEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(ctx, conn, Event{Type: "status", PrinterID: "ZB3D-009", Seq: 0})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var first Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "ZB3D-009", first.PrinterID)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(Event{Type: "status", PrinterID: "ZB3D-001", Seq: 7, Status: &models.PrinterStatus{Online: true}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, uint64(7), ev.Seq)
	assert.True(t, ev.Status.Online)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)

	slow := &Subscriber{ID: "slow", hub: hub, send: make(chan []byte, 1)}
	slow.send <- []byte("backlog")
	fast := &Subscriber{ID: "fast", hub: hub, send: make(chan []byte, sendBuffer)}
	hub.register <- slow
	hub.register <- fast
	require.Eventually(t, func() bool { return hub.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(Event{Type: EventStatus, PrinterID: "ZB3D-001", Seq: 1})

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("backlog"), <-slow.send)
	_, open := <-slow.send
	assert.False(t, open)

	var ev Event
	require.NoError(t, json.Unmarshal(<-fast.send, &ev))
	assert.Equal(t, "ZB3D-001", ev.PrinterID)
}

func TestServeReturnsAfterHubStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	served := make(chan struct{}, 2)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// The request context outlives the hub
		hub.Serve(context.Background(), conn)
		served <- struct{}{}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	conn.Close()

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the hub stopped")
	}

	// Late subscribers are turned away
	conn2, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn2.Close()
	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn2.ReadMessage()
	assert.Error(t, err)
}
