package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/devadigapratham/fleet3d/monitor"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchAppliesPushedStatuses(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(monitor.Event{Type: "hello"})
		conn.WriteJSON(monitor.Event{Type: monitor.EventStatus, PrinterID: "ZB3D-001"})
		conn.WriteJSON(monitor.Event{
			Type:      monitor.EventStatus,
			PrinterID: "ZB3D-001",
			Seq:       3,
			Status:    &models.PrinterStatus{Online: true, PrintStats: &models.PrintStats{State: models.StatePaused, Filename: "a.gcode"}},
		})
		// Hold the connection until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctrl := onePrinterController()
	seq := &Sequencer{}
	w := NewWatch("ws"+strings.TrimPrefix(srv.URL, "http"), ctrl, seq, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return ctrl.Status("ZB3D-001") != nil }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, DisplayPaused, DisplayStatus(ctrl.Status("ZB3D-001")))
	assert.Equal(t, uint64(1), w.Received())
	assert.True(t, w.Connected())

	// A poll that started before the push is older
	assert.False(t, ctrl.ApplyStatus("ZB3D-001", status(false, "", ""), 0))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.False(t, w.Connected())
}

func TestWatchStopsWhileBackingOff(t *testing.T) {
	w := NewWatch("ws://127.0.0.1:1/api/events", NewController(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	w.Run(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)
}
