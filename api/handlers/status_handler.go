package handlers

import (
	"net/http"

	"github.com/devadigapratham/fleet3d/monitor"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events upgrades to a websocket carrying printer status events. The
// cached status of every printer is sent first.
func (h *Handler) Events(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status feed disabled"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	var initial []monitor.Event
	if h.Monitor != nil {
		initial = h.Monitor.Snapshot()
	}
	h.Hub.Serve(c.Request.Context(), conn, initial...)
}

// Status reports this node's view of the cluster
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"is_leader":   h.Node.Leader(),
		"leader_addr": h.Node.LeaderAddress(),
		"state":       h.Node.State().String(),
		"stats":       h.Node.Stats(),
	})
}

// Health reports liveness together with fleet counts. files_missing counts
// library files whose content is not stored on this node.
func (h *Handler) Health(c *gin.Context) {
	fsm := h.Node.GetFSM()
	files := fsm.GetFiles()
	missing := 0
	for _, f := range files {
		if !h.Files.Exists(f.Path) {
			missing++
		}
	}
	body := gin.H{
		"status":        "ok",
		"leader":        h.Node.LeaderAddress() != "",
		"printers":      len(fsm.GetPrinters()),
		"jobs":          len(fsm.GetJobs()),
		"files":         len(files),
		"files_missing": missing,
	}
	if h.Hub != nil {
		body["subscribers"] = h.Hub.Count()
	}
	c.JSON(http.StatusOK, body)
}
