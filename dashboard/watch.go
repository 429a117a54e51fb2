package dashboard

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/devadigapratham/fleet3d/monitor"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// Watch follows the backend's status feed and applies every pushed
// status through the same StateSync the Poller uses
type Watch struct {
	url    string
	fleet  StateSync
	seq    *Sequencer
	dialer *websocket.Dialer
	logger hclog.Logger

	minDelay time.Duration
	maxDelay time.Duration

	received  atomic.Uint64
	connected atomic.Bool
}

// NewWatch creates a Watch on the feed at url (ws:// or wss://)
func NewWatch(url string, fleet StateSync, seq *Sequencer, logger hclog.Logger) *Watch {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if seq == nil {
		seq = &Sequencer{}
	}
	return &Watch{
		url:      url,
		fleet:    fleet,
		seq:      seq,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger.Named("watch"),
		minDelay: time.Second,
		maxDelay: 30 * time.Second,
	}
}

// Received returns how many statuses the feed has delivered
func (w *Watch) Received() uint64 {
	return w.received.Load()
}

// Connected reports whether the feed is currently open
func (w *Watch) Connected() bool {
	return w.connected.Load()
}

// Run keeps the feed open until ctx is done, reconnecting with
// exponential backoff
func (w *Watch) Run(ctx context.Context) {
	delay := w.minDelay
	for {
		start := time.Now()
		err := w.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		// A connection that lived a while starts the backoff over
		if time.Since(start) > w.maxDelay {
			delay = w.minDelay
		}
		w.logger.Warn("status feed lost, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > w.maxDelay {
			delay = w.maxDelay
		}
	}
}

// listen reads one connection until it fails or ctx is done
func (w *Watch) listen(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.Close()

	w.connected.Store(true)
	defer w.connected.Store(false)
	w.logger.Info("status feed connected", "url", w.url)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var ev monitor.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if ev.Type != monitor.EventStatus || ev.Status == nil {
			continue
		}
		w.received.Add(1)
		w.fleet.ApplyStatus(ev.PrinterID, ev.Status, w.seq.Next())
	}
}
