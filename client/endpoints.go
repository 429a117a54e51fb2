package client

import (
	"context"
	"io"
	"net/http"

	"github.com/devadigapratham/fleet3d/api/models"
)

// NewPrinter is the body of an add-printer request
type NewPrinter struct {
	Name      string   `json:"name"`
	IPAddress string   `json:"ip_address"`
	Port      int      `json:"port,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// NewJob is the body of a create-job request
type NewJob struct {
	Name          string   `json:"name"`
	Filename      string   `json:"filename"`
	Quantity      int      `json:"quantity,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Material      string   `json:"material,omitempty"`
	Printers      []string `json:"printers"`
	EstimatedTime string   `json:"estimated_time,omitempty"`
}

// NewUser is the body of a create-user request
type NewUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// JobResult is a job returned by a start, pause or cancel request
type JobResult struct {
	models.Job
	PrinterErrors map[string]string `json:"printer_errors,omitempty"`
}

// ListPrinters returns every printer in the fleet
func (c *Client) ListPrinters(ctx context.Context) ([]*models.Printer, error) {
	var printers []*models.Printer
	err := c.getJSON(ctx, "/api/printers", &printers)
	return printers, err
}

// AddPrinter registers a printer
func (c *Client) AddPrinter(ctx context.Context, p NewPrinter) (*models.Printer, error) {
	var out models.Printer
	if err := c.sendJSON(ctx, http.MethodPost, "/api/printers", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePrinter removes a printer
func (c *Client) DeletePrinter(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/api/printers/"+escape(id), nil, nil)
}

// PrinterStatus returns the live status of a printer
func (c *Client) PrinterStatus(ctx context.Context, id string) (*models.PrinterStatus, error) {
	var status models.PrinterStatus
	if err := c.getJSON(ctx, "/api/printers/"+escape(id)+"/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// PrinterFiles lists the files stored on a printer
func (c *Client) PrinterFiles(ctx context.Context, id string) ([]models.PrinterFile, error) {
	var files []models.PrinterFile
	err := c.getJSON(ctx, "/api/printers/"+escape(id)+"/files", &files)
	return files, err
}

// UploadToPrinter sends a file straight to a printer
func (c *Client) UploadToPrinter(ctx context.Context, id, filename string, content io.Reader) error {
	return c.upload(ctx, "/api/printers/"+escape(id)+"/upload", filename, content, nil, nil)
}

// StartPrint starts printing a file already on the printer
func (c *Client) StartPrint(ctx context.Context, id, filename string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/printers/"+escape(id)+"/print/start", map[string]string{"filename": filename}, nil)
}

// PausePrint pauses the printer
func (c *Client) PausePrint(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/printers/"+escape(id)+"/print/pause", nil, nil)
}

// ResumePrint resumes the printer
func (c *Client) ResumePrint(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/printers/"+escape(id)+"/print/resume", nil, nil)
}

// CancelPrint cancels the printer's current print
func (c *Client) CancelPrint(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/printers/"+escape(id)+"/print/cancel", nil, nil)
}

// ToggleLight flips the printer light and returns the new state
func (c *Client) ToggleLight(ctx context.Context, id string) (int, error) {
	var out struct {
		State int `json:"state"`
	}
	err := c.sendJSON(ctx, http.MethodPost, "/api/printers/"+escape(id)+"/light/toggle", nil, &out)
	return out.State, err
}

// ListFiles returns the file library
func (c *Client) ListFiles(ctx context.Context) ([]*models.File, error) {
	var files []*models.File
	err := c.getJSON(ctx, "/api/files", &files)
	return files, err
}

// UploadFile adds a file to the library
func (c *Client) UploadFile(ctx context.Context, filename, description string, content io.Reader) (*models.File, error) {
	var out models.File
	fields := map[string]string{}
	if description != "" {
		fields["description"] = description
	}
	if err := c.upload(ctx, "/api/files", filename, content, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFile removes a library file
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/api/files/"+escape(id), nil, nil)
}

// DownloadFile opens a library file for reading. The caller closes it.
func (c *Client) DownloadFile(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, cancel, err := c.open(ctx, c.transfer, http.MethodGet, "/api/files/"+escape(id)+"/download", nil, "")
	if err != nil {
		return nil, err
	}
	return &download{ReadCloser: resp.Body, cancel: cancel}, nil
}

// ListJobs returns all jobs
func (c *Client) ListJobs(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	err := c.getJSON(ctx, "/api/jobs", &jobs)
	return jobs, err
}

// CreateJob creates a pending job
func (c *Client) CreateJob(ctx context.Context, job NewJob) (*models.Job, error) {
	var out models.Job
	if err := c.sendJSON(ctx, http.MethodPost, "/api/jobs", job, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateJob patches a job
func (c *Client) UpdateJob(ctx context.Context, id string, patch models.JobPatch) (*models.Job, error) {
	var out models.Job
	if err := c.sendJSON(ctx, http.MethodPut, "/api/jobs/"+escape(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartJob starts a job on its available printers
func (c *Client) StartJob(ctx context.Context, id string) (*JobResult, error) {
	return c.jobAction(ctx, id, "start")
}

// PauseJob pauses a job on all its printers
func (c *Client) PauseJob(ctx context.Context, id string) (*JobResult, error) {
	return c.jobAction(ctx, id, "pause")
}

// CancelJob cancels a job on all its printers
func (c *Client) CancelJob(ctx context.Context, id string) (*JobResult, error) {
	return c.jobAction(ctx, id, "cancel")
}

func (c *Client) jobAction(ctx context.Context, id, action string) (*JobResult, error) {
	var out JobResult
	if err := c.sendJSON(ctx, http.MethodPost, "/api/jobs/"+escape(id)+"/"+action, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetJobProgress records job progress, 0..100
func (c *Client) SetJobProgress(ctx context.Context, id string, progress int) (*models.Job, error) {
	var out models.Job
	if err := c.sendJSON(ctx, http.MethodPost, "/api/jobs/"+escape(id)+"/progress", map[string]int{"progress": progress}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteJob removes a job
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/api/jobs/"+escape(id), nil, nil)
}

// ListUsers returns all users
func (c *Client) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := c.getJSON(ctx, "/api/users", &users)
	return users, err
}

// CreateUser adds a user
func (c *Client) CreateUser(ctx context.Context, u NewUser) (*models.User, error) {
	var out models.User
	if err := c.sendJSON(ctx, http.MethodPost, "/api/users", u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUser patches a user
func (c *Client) UpdateUser(ctx context.Context, id string, patch models.UserPatch) (*models.User, error) {
	var out models.User
	if err := c.sendJSON(ctx, http.MethodPut, "/api/users/"+escape(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteUser removes a user
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/api/users/"+escape(id), nil, nil)
}
