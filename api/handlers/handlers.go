package handlers

import (
	"errors"
	"net/http"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/devadigapratham/fleet3d/monitor"
	"github.com/devadigapratham/fleet3d/moonraker"
	"github.com/devadigapratham/fleet3d/raft"
	"github.com/devadigapratham/fleet3d/storage"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// Handler represents the API handlers
type Handler struct {
	Node       *raft.Node
	Files      *storage.Store
	Printers   *moonraker.Pool
	Monitor    *monitor.Monitor
	Hub        *monitor.Hub
	Extensions []string
	// Ports given to printers added without one, 0 for the Moonraker defaults
	MoonrakerPort int
	WebcamPort    int
	Logger        hclog.Logger
}

// NewHandler creates a new Handler
func NewHandler(node *raft.Node, files *storage.Store, printers *moonraker.Pool, mon *monitor.Monitor, hub *monitor.Hub, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		Node:       node,
		Files:      files,
		Printers:   printers,
		Monitor:    mon,
		Hub:        hub,
		Extensions: storage.DefaultExtensions,
		Logger:     logger.Named("api"),
	}
}

// RaftLeaderMiddleware rejects writes on followers with the leader's address
func (h *Handler) RaftLeaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to write operations
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead && c.Request.Method != http.MethodOptions {
			// Check if this node is the leader
			if !h.Node.Leader() {
				// Respond with the leader's address
				c.JSON(http.StatusConflict, gin.H{
					"error":  "not the leader",
					"leader": h.Node.LeaderAddress(),
				})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// apply proposes a command, writing the error response when it fails
func (h *Handler) apply(c *gin.Context, cmd *models.Command) (interface{}, bool) {
	res, err := h.Node.Apply(cmd)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return res, true
}

// fail maps a state machine error to an HTTP status
func (h *Handler) fail(c *gin.Context, err error) {
	var se *moonraker.StatusError
	switch {
	case errors.Is(err, raft.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, raft.ErrNotLeader):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "leader": h.Node.LeaderAddress()})
	case errors.As(err, &se):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// badGateway reports a failed call to a printer
func (h *Handler) badGateway(c *gin.Context, printerID string, err error) {
	h.Logger.Warn("printer request failed", "printer", printerID, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

func (h *Handler) printer(c *gin.Context) (*models.Printer, bool) {
	id := c.Param("id")
	p, ok := h.Node.GetFSM().GetPrinter(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return nil, false
	}
	return p, true
}

func (h *Handler) job(c *gin.Context) (*models.Job, bool) {
	job, ok := h.Node.GetFSM().GetJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	return job, true
}

func (h *Handler) client(p *models.Printer) *moonraker.Client {
	return h.Printers.Get(p.MoonrakerURL)
}
