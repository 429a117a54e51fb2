package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// EventStatus is the type of an event carrying a printer status
const EventStatus = "status"

// Event is a printer status change pushed to subscribers
type Event struct {
	Type      string                `json:"type"`
	PrinterID string                `json:"printer_id"`
	Seq       uint64                `json:"seq"`
	Status    *models.PrinterStatus `json:"status"`
}

// Subscriber is one websocket consumer of the status feed
type Subscriber struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans status events out to websocket subscribers
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	register    chan *Subscriber
	unregister  chan *Subscriber
	broadcast   chan []byte
	done        chan struct{}
	logger      hclog.Logger
}

// NewHub creates a new Hub
func NewHub(logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
		logger:      logger.Named("hub"),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, s := range h.subscribers {
				delete(h.subscribers, id)
				close(s.send)
			}
			h.mu.Unlock()
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s.ID] = s
			h.mu.Unlock()
			h.logger.Debug("subscriber connected", "id", s.ID)

		case s := <-h.unregister:
			h.remove(s)

		case data := <-h.broadcast:
			h.mu.RLock()
			var slow []*Subscriber
			for _, s := range h.subscribers {
				select {
				case s.send <- data:
				default:
					// Subscriber buffer full, disconnect
					slow = append(slow, s)
				}
			}
			h.mu.RUnlock()
			for _, s := range slow {
				h.logger.Warn("dropping slow subscriber", "id", s.ID)
				h.remove(s)
			}
		}
	}
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[s.ID]; ok {
		delete(h.subscribers, s.ID)
		close(s.send)
		h.logger.Debug("subscriber disconnected", "id", s.ID)
	}
}

// Publish queues an event for every subscriber. It never blocks; events
// are dropped when the broadcast queue is full.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "printer", ev.PrinterID)
	}
}

// Count returns the number of connected subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Serve registers conn as a subscriber and pumps events to it until the
// connection closes. initial messages are written before any event.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, initial ...Event) {
	s := &Subscriber{
		ID:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer+len(initial)),
	}
	for _, ev := range initial {
		if data, err := json.Marshal(ev); err == nil {
			s.send <- data
		}
	}

	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	case <-ctx.Done():
		conn.Close()
		return
	}

	go s.writePump()
	s.readPump(ctx)
}

// readPump discards client messages and detects disconnects
func (s *Subscriber) readPump(ctx context.Context) {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		case <-ctx.Done():
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
