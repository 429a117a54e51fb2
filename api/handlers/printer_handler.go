package handlers

import (
	"net/http"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/devadigapratham/fleet3d/storage"
	"github.com/gin-gonic/gin"
)

type createPrinterRequest struct {
	Name       string   `json:"name" binding:"required"`
	IPAddress  string   `json:"ip_address" binding:"required"`
	Port       int      `json:"port"`
	WebcamPort int      `json:"webcam_port"`
	Tags       []string `json:"tags"`
}

// CreatePrinter adds a printer to the fleet
func (h *Handler) CreatePrinter(c *gin.Context) {
	var req createPrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return
	}

	if req.Port == 0 {
		req.Port = h.MoonrakerPort
	}
	if req.WebcamPort == 0 {
		req.WebcamPort = h.WebcamPort
	}

	// Create the command
	cmd := &models.Command{
		Type:    models.AddPrinter,
		Printer: models.NewPrinter(req.Name, req.IPAddress, req.Port, req.WebcamPort, req.Tags),
	}

	// Apply the command
	res, ok := h.apply(c, cmd)
	if !ok {
		return
	}

	printer := res.(*models.Printer)
	h.Logger.Info("printer added", "id", printer.ID, "url", printer.MoonrakerURL)
	c.JSON(http.StatusCreated, printer)
}

// GetPrinters returns all printers with their live online state
func (h *Handler) GetPrinters(c *gin.Context) {
	printers := h.Node.GetFSM().GetPrinters()
	if h.Monitor != nil {
		h.Monitor.Decorate(printers...)
	}
	c.JSON(http.StatusOK, printers)
}

// DeletePrinter removes a printer from the fleet
func (h *Handler) DeletePrinter(c *gin.Context) {
	id := c.Param("id")
	p, ok := h.printer(c)
	if !ok {
		return
	}

	if _, ok := h.apply(c, &models.Command{Type: models.RemovePrinter, TargetID: id}); !ok {
		return
	}

	if h.Monitor != nil {
		h.Monitor.Forget(id)
	}
	h.Printers.Drop(p.MoonrakerURL)
	h.Logger.Info("printer removed", "id", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetPrinterStatus queries the printer now and returns its status.
// An unreachable printer is reported as offline, not as an error.
func (h *Handler) GetPrinterStatus(c *gin.Context) {
	p, ok := h.printer(c)
	if !ok {
		return
	}

	var status *models.PrinterStatus
	if h.Monitor != nil {
		status = h.Monitor.Fetch(c.Request.Context(), p)
	} else {
		status, _ = h.client(p).Status(c.Request.Context())
	}
	c.JSON(http.StatusOK, status)
}

// GetPrinterFiles lists the files stored on the printer
func (h *Handler) GetPrinterFiles(c *gin.Context) {
	p, ok := h.printer(c)
	if !ok {
		return
	}

	files, err := h.client(p).Files(c.Request.Context())
	if err != nil {
		h.badGateway(c, p.ID, err)
		return
	}
	c.JSON(http.StatusOK, files)
}

// UploadToPrinter sends a multipart file straight to the printer
func (h *Handler) UploadToPrinter(c *gin.Context) {
	p, ok := h.printer(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file in request"})
		return
	}
	if header.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file selected"})
		return
	}
	if !storage.AllowedFile(header.Filename, h.Extensions) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}
	name := storage.SecureFilename(header.Filename)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	if err := h.client(p).Upload(c.Request.Context(), name, f); err != nil {
		h.badGateway(c, p.ID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "filename": name})
}

type startPrintRequest struct {
	Filename string `json:"filename" binding:"required"`
}

// StartPrint starts printing a file already on the printer
func (h *Handler) StartPrint(c *gin.Context) {
	p, ok := h.printer(c)
	if !ok {
		return
	}

	var req startPrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.client(p).StartPrint(c.Request.Context(), req.Filename); err != nil {
		h.badGateway(c, p.ID, err)
		return
	}
	h.Logger.Info("print started", "printer", p.ID, "file", req.Filename)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PausePrint pauses the current print
func (h *Handler) PausePrint(c *gin.Context) {
	h.control(c, "pause")
}

// ResumePrint resumes a paused print
func (h *Handler) ResumePrint(c *gin.Context) {
	h.control(c, "resume")
}

// CancelPrint cancels the current print
func (h *Handler) CancelPrint(c *gin.Context) {
	h.control(c, "cancel")
}

func (h *Handler) control(c *gin.Context, action string) {
	p, ok := h.printer(c)
	if !ok {
		return
	}

	client := h.client(p)
	var err error
	switch action {
	case "pause":
		err = client.Pause(c.Request.Context())
	case "resume":
		err = client.Resume(c.Request.Context())
	case "cancel":
		err = client.Cancel(c.Request.Context())
	}
	if err != nil {
		h.badGateway(c, p.ID, err)
		return
	}
	h.Logger.Info("print "+action, "printer", p.ID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ToggleLight flips the printer's LED and returns the new state
func (h *Handler) ToggleLight(c *gin.Context) {
	p, ok := h.printer(c)
	if !ok {
		return
	}

	state, err := h.client(p).ToggleLight(c.Request.Context())
	if err != nil {
		h.badGateway(c, p.ID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": state})
}
