package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/gin-gonic/gin"
)

type createJobRequest struct {
	Name          string   `json:"name" binding:"required"`
	Filename      string   `json:"filename" binding:"required"`
	Quantity      int      `json:"quantity"`
	Priority      string   `json:"priority"`
	Material      string   `json:"material"`
	Printers      []string `json:"printers"`
	EstimatedTime string   `json:"estimated_time"`
}

// jobResponse is a job plus the printers that failed during a fan-out
type jobResponse struct {
	*models.Job
	PrinterErrors map[string]string `json:"printer_errors,omitempty"`
}

// CreateJob creates a pending print job
func (h *Handler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := &models.Job{
		Name:          req.Name,
		Filename:      req.Filename,
		Quantity:      req.Quantity,
		Priority:      req.Priority,
		Material:      req.Material,
		Printers:      req.Printers,
		EstimatedTime: req.EstimatedTime,
	}
	job.ApplyDefaults()

	if err := h.validateJob(job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.apply(c, &models.Command{Type: models.AddJob, Job: job})
	if !ok {
		return
	}

	created := res.(*models.Job)
	h.Logger.Info("job created", "id", created.ID, "file", created.Filename, "printers", len(created.Printers))
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) validateJob(job *models.Job) error {
	if !models.IsValidPriority(job.Priority) {
		return fmt.Errorf("invalid priority %q", job.Priority)
	}
	if !models.IsValidMaterial(job.Material) {
		return fmt.Errorf("invalid material %q", job.Material)
	}
	fsm := h.Node.GetFSM()
	if _, ok := fsm.GetFile(job.Filename); !ok {
		return fmt.Errorf("unknown file %q", job.Filename)
	}
	for _, id := range job.Printers {
		if _, ok := fsm.GetPrinter(id); !ok {
			return fmt.Errorf("unknown printer %q", id)
		}
	}
	return nil
}

// GetJobs returns all jobs, optionally filtered by ?status=
func (h *Handler) GetJobs(c *gin.Context) {
	if status := c.Query("status"); status != "" {
		if !models.IsValidJobStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		jobs := h.Node.GetFSM().GetJobsByStatus(models.JobStatus(status))
		if jobs == nil {
			jobs = []*models.Job{}
		}
		c.JSON(http.StatusOK, jobs)
		return
	}
	c.JSON(http.StatusOK, h.Node.GetFSM().GetJobs())
}

// GetJob returns a single job
func (h *Handler) GetJob(c *gin.Context) {
	job, ok := h.job(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// UpdateJob patches the editable fields of a job
func (h *Handler) UpdateJob(c *gin.Context) {
	var patch models.JobPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := patch.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.apply(c, &models.Command{Type: models.UpdateJob, TargetID: c.Param("id"), JobPatch: &patch})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteJob removes a job
func (h *Handler) DeleteJob(c *gin.Context) {
	if _, ok := h.apply(c, &models.Command{Type: models.RemoveJob, TargetID: c.Param("id")}); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// StartJob sends the job's file to every available job printer and
// starts it. Paused printers of a paused job are resumed instead.
func (h *Handler) StartJob(c *gin.Context) {
	job, ok := h.job(c)
	if !ok {
		return
	}
	if err := models.ValidateStatusChange(job.Status, models.JobRunning); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, ok := h.Node.GetFSM().GetFile(job.Filename)
	if !ok && job.Status == models.JobPending {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file %s no longer exists", job.Filename)})
		return
	}

	ctx := c.Request.Context()
	errs := make(map[string]string)
	started := 0
	candidates := 0

	for _, id := range job.Printers {
		p, ok := h.Node.GetFSM().GetPrinter(id)
		if !ok {
			errs[id] = "printer not found"
			continue
		}

		status := h.status(ctx, p)
		switch {
		case job.Status == models.JobPaused && status.IsOnline() && status.State() == models.StatePaused:
			candidates++
			if err := h.client(p).Resume(ctx); err != nil {
				errs[id] = err.Error()
				continue
			}
		case status.IsOnline() && (status.State() == models.StateIdle || status.State() == models.StateStandby):
			if file == nil {
				continue
			}
			candidates++
			if err := h.sendAndPrint(ctx, p, file); err != nil {
				errs[id] = err.Error()
				continue
			}
		default:
			continue
		}
		started++
	}

	if candidates == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no available printers", "printer_errors": errs})
		return
	}
	if started == 0 {
		h.Logger.Warn("job start failed on every printer", "job", job.ID, "errors", errs)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to start job on any printer", "printer_errors": errs})
		return
	}

	res, ok := h.apply(c, &models.Command{Type: models.SetJobStatus, TargetID: job.ID, NewStatus: models.JobRunning})
	if !ok {
		return
	}
	h.Logger.Info("job started", "id", job.ID, "printers", started)
	c.JSON(http.StatusOK, h.jobResponse(res, errs))
}

// sendAndPrint uploads the library file when the printer lacks it, then prints it
func (h *Handler) sendAndPrint(ctx context.Context, p *models.Printer, file *models.File) error {
	client := h.client(p)

	present, err := client.HasFile(ctx, file.Name)
	if err != nil {
		return err
	}
	if !present {
		rc, _, err := h.Files.Open(file.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", file.Name, err)
		}
		err = client.Upload(ctx, file.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return client.StartPrint(ctx, file.Name)
}

func (h *Handler) status(ctx context.Context, p *models.Printer) *models.PrinterStatus {
	if h.Monitor != nil {
		return h.Monitor.Fetch(ctx, p)
	}
	s, _ := h.client(p).Status(ctx)
	return s
}

// PauseJob pauses a running job on all of its printers
func (h *Handler) PauseJob(c *gin.Context) {
	h.fanOut(c, models.JobPaused)
}

// CancelJob cancels a job on all of its printers
func (h *Handler) CancelJob(c *gin.Context) {
	h.fanOut(c, models.JobCancelled)
}

func (h *Handler) fanOut(c *gin.Context, next models.JobStatus) {
	job, ok := h.job(c)
	if !ok {
		return
	}
	if err := models.ValidateStatusChange(job.Status, next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	errs := make(map[string]string)
	// A pending job never reached its printers
	if job.Status != models.JobPending {
		for _, id := range job.Printers {
			p, ok := h.Node.GetFSM().GetPrinter(id)
			if !ok {
				errs[id] = "printer not found"
				continue
			}
			var err error
			if next == models.JobPaused {
				err = h.client(p).Pause(ctx)
			} else {
				err = h.client(p).Cancel(ctx)
			}
			if err != nil {
				h.Logger.Warn("job printer command failed", "job", job.ID, "printer", id, "status", next, "error", err)
				errs[id] = err.Error()
			}
		}
	}

	res, ok := h.apply(c, &models.Command{Type: models.SetJobStatus, TargetID: job.ID, NewStatus: next})
	if !ok {
		return
	}
	h.Logger.Info("job status changed", "id", job.ID, "status", next)
	c.JSON(http.StatusOK, h.jobResponse(res, errs))
}

type progressRequest struct {
	Progress *int `json:"progress"`
}

// UpdateJobProgress records the progress of a job
func (h *Handler) UpdateJobProgress(c *gin.Context) {
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Progress == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "progress is required"})
		return
	}
	if *req.Progress < 0 || *req.Progress > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "progress must be between 0 and 100"})
		return
	}

	res, ok := h.apply(c, &models.Command{Type: models.SetJobProgress, TargetID: c.Param("id"), Progress: *req.Progress})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) jobResponse(res interface{}, errs map[string]string) jobResponse {
	out := jobResponse{Job: res.(*models.Job)}
	if len(errs) > 0 {
		out.PrinterErrors = errs
	}
	return out
}
