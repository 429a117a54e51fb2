package moonraker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/gorilla/websocket"
)

const subscribeID = 1

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	Result  json.RawMessage   `json:"result"`
	Error   *rpcError         `json:"error"`
	ID      int               `json:"id"`
}

// subscribedObjects are the printer objects pushed over the websocket
var subscribedObjects = []string{"print_stats", "virtual_sdcard", "extruder", "heater_bed"}

// WebsocketURL returns the JSON-RPC endpoint of the Moonraker instance
func (c *Client) WebsocketURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/websocket"
}

// Subscribe opens the Moonraker websocket, subscribes to print and heater
// objects and calls onUpdate with the merged status after every change.
// It returns when ctx is cancelled or the connection drops.
func (c *Client) Subscribe(ctx context.Context, onUpdate func(*models.PrinterStatus)) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.statusTimeout}
	conn, _, err := dialer.DialContext(ctx, c.WebsocketURL(), nil)
	if err != nil {
		return fmt.Errorf("moonraker subscribe: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	objects := make(map[string]interface{}, len(subscribedObjects))
	for _, name := range subscribedObjects {
		objects[name] = nil
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "printer.objects.subscribe",
		Params:  map[string]interface{}{"objects": objects},
		ID:      subscribeID,
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("moonraker subscribe: %w", err)
	}

	state := make(map[string]map[string]json.RawMessage)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("moonraker subscribe: read: %w", err)
		}

		var msg rpcMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug("skipping malformed websocket message", "error", err)
			continue
		}

		switch {
		case msg.ID == subscribeID && msg.Error != nil:
			return fmt.Errorf("moonraker subscribe: rpc error %d: %s", msg.Error.Code, msg.Error.Message)

		case msg.ID == subscribeID:
			var raw struct {
				Status map[string]map[string]json.RawMessage `json:"status"`
			}
			if err := json.Unmarshal(msg.Result, &raw); err != nil {
				return fmt.Errorf("moonraker subscribe: decode result: %w", err)
			}
			merge(state, raw.Status)

		case msg.Method == "notify_status_update" && len(msg.Params) > 0:
			var update map[string]map[string]json.RawMessage
			if err := json.Unmarshal(msg.Params[0], &update); err != nil {
				continue
			}
			merge(state, update)

		case msg.Method == "notify_klippy_disconnected" || msg.Method == "notify_klippy_shutdown":
			onUpdate(models.OfflineStatus(fmt.Errorf("klippy %s", strings.TrimPrefix(msg.Method, "notify_klippy_")), time.Now().UTC()))
			continue

		default:
			continue
		}

		status, err := snapshot(state)
		if err != nil {
			c.logger.Debug("failed to build status from update", "error", err)
			continue
		}
		onUpdate(status)
	}
}

// merge applies a partial object update on top of the accumulated state
func merge(state, update map[string]map[string]json.RawMessage) {
	for obj, fields := range update {
		cur, ok := state[obj]
		if !ok {
			cur = make(map[string]json.RawMessage, len(fields))
			state[obj] = cur
		}
		for k, v := range fields {
			cur[k] = v
		}
	}
}

func snapshot(state map[string]map[string]json.RawMessage) (*models.PrinterStatus, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var objs statusObjects
	if err := json.Unmarshal(data, &objs); err != nil {
		return nil, err
	}
	return &models.PrinterStatus{
		Online:      true,
		LastUpdate:  time.Now().UTC(),
		PrintStats:  objs.printStats(),
		Temperature: objs.temperature(),
	}, nil
}
