package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/devadigapratham/fleet3d/client"
	"github.com/hashicorp/go-hclog"
)

// ErrMissingFields is returned when a form lacks a required value
var ErrMissingFields = errors.New("fill in the required fields")

// Backend is the part of the fleet API the dashboard drives
type Backend interface {
	StatusSource

	ListPrinters(ctx context.Context) ([]*models.Printer, error)
	AddPrinter(ctx context.Context, p client.NewPrinter) (*models.Printer, error)
	DeletePrinter(ctx context.Context, id string) error
	PrinterFiles(ctx context.Context, id string) ([]models.PrinterFile, error)
	UploadToPrinter(ctx context.Context, id, filename string, content io.Reader) error
	StartPrint(ctx context.Context, id, filename string) error
	PausePrint(ctx context.Context, id string) error
	ResumePrint(ctx context.Context, id string) error
	CancelPrint(ctx context.Context, id string) error
	ToggleLight(ctx context.Context, id string) (int, error)

	ListFiles(ctx context.Context) ([]*models.File, error)
	UploadFile(ctx context.Context, filename, description string, content io.Reader) (*models.File, error)
	DeleteFile(ctx context.Context, id string) error
	DownloadFile(ctx context.Context, id string) (io.ReadCloser, error)

	ListJobs(ctx context.Context) ([]*models.Job, error)
	CreateJob(ctx context.Context, job client.NewJob) (*models.Job, error)
	UpdateJob(ctx context.Context, id string, patch models.JobPatch) (*models.Job, error)
	SetJobProgress(ctx context.Context, id string, progress int) (*models.Job, error)
	StartJob(ctx context.Context, id string) (*client.JobResult, error)
	PauseJob(ctx context.Context, id string) (*client.JobResult, error)
	CancelJob(ctx context.Context, id string) (*client.JobResult, error)
	DeleteJob(ctx context.Context, id string) error

	ListUsers(ctx context.Context) ([]*models.User, error)
	CreateUser(ctx context.Context, u client.NewUser) (*models.User, error)
	UpdateUser(ctx context.Context, id string, patch models.UserPatch) (*models.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// Dispatcher turns operator actions into backend calls and reports every
// outcome as a notification. Failed calls are not retried.
type Dispatcher struct {
	backend  Backend
	ctrl     *Controller
	notifier Notifier
	logger   hclog.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(backend Backend, ctrl *Controller, notifier Notifier, logger hclog.Logger) *Dispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Dispatcher{
		backend:  backend,
		ctrl:     ctrl,
		notifier: notifier,
		logger:   logger.Named("dispatcher"),
	}
}

// errorMessage prefers the message the backend returned over generic
func errorMessage(generic string, err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return generic
}

// report notifies the outcome of one action and passes err through
func (d *Dispatcher) report(err error, success, failure string, kv ...interface{}) error {
	if err != nil {
		d.logger.Warn(failure, append(kv, "error", err)...)
		d.notifier.Notify(Error, errorMessage(failure, err))
		return err
	}
	d.notifier.Notify(Success, success)
	return nil
}

func (d *Dispatcher) missing(message string) error {
	d.notifier.Notify(Error, message)
	return ErrMissingFields
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// AddPrinter registers a printer and shows it immediately
func (d *Dispatcher) AddPrinter(ctx context.Context, p client.NewPrinter) (*models.Printer, error) {
	if blank(p.Name, p.IPAddress) {
		return nil, d.missing("Fill in the required fields")
	}
	created, err := d.backend.AddPrinter(ctx, p)
	if err := d.report(err, "Printer added", "Failed to add printer", "name", p.Name); err != nil {
		return nil, err
	}
	d.ctrl.AddPrinter(created)
	return created, nil
}

// DeletePrinter removes one printer
func (d *Dispatcher) DeletePrinter(ctx context.Context, id string) error {
	name := id
	if p, ok := d.ctrl.Printer(id); ok {
		name = p.Name
	}
	err := d.backend.DeletePrinter(ctx, id)
	if err := d.report(err, fmt.Sprintf("Printer %q deleted", name), "Failed to delete printer", "printer", id); err != nil {
		return err
	}
	d.ctrl.RemovePrinter(id)
	return nil
}

// BulkDelete deletes every selected printer. Only printers whose delete
// succeeded leave the dashboard; the others stay selected.
func (d *Dispatcher) BulkDelete(ctx context.Context) (deleted, failed int) {
	ids := d.ctrl.Selected()
	if len(ids) == 0 {
		d.notifier.Notify(Warning, "No printers selected")
		return 0, 0
	}

	for _, id := range ids {
		if err := d.backend.DeletePrinter(ctx, id); err != nil {
			d.logger.Warn("bulk delete failed", "printer", id, "error", err)
			failed++
			continue
		}
		d.ctrl.RemovePrinter(id)
		deleted++
	}

	if deleted > 0 {
		d.notifier.Notify(Success, fmt.Sprintf("Printers deleted: %d", deleted))
	}
	if failed > 0 {
		d.notifier.Notify(Error, fmt.Sprintf("Failed to delete: %d", failed))
	}
	return deleted, failed
}

// StartPrint starts a file already stored on the printer
func (d *Dispatcher) StartPrint(ctx context.Context, id, filename string) error {
	if blank(filename) {
		return d.missing("Select a file to print")
	}
	err := d.backend.StartPrint(ctx, id, filename)
	return d.report(err, "Print started", "Failed to start print", "printer", id, "file", filename)
}

// PausePrint pauses a printer
func (d *Dispatcher) PausePrint(ctx context.Context, id string) error {
	return d.report(d.backend.PausePrint(ctx, id), "Print paused", "Failed to pause print", "printer", id)
}

// ResumePrint resumes a paused printer
func (d *Dispatcher) ResumePrint(ctx context.Context, id string) error {
	return d.report(d.backend.ResumePrint(ctx, id), "Print resumed", "Failed to resume print", "printer", id)
}

// CancelPrint stops a printer's current print
func (d *Dispatcher) CancelPrint(ctx context.Context, id string) error {
	return d.report(d.backend.CancelPrint(ctx, id), "Print cancelled", "Failed to cancel print", "printer", id)
}

// ToggleLight flips a printer light
func (d *Dispatcher) ToggleLight(ctx context.Context, id string) error {
	state, err := d.backend.ToggleLight(ctx, id)
	msg := "Light turned off"
	if state != 0 {
		msg = "Light turned on"
	}
	return d.report(err, msg, "Failed to toggle light", "printer", id)
}

// UploadToPrinter sends a file straight to a printer's storage
func (d *Dispatcher) UploadToPrinter(ctx context.Context, id, filename string, content io.Reader) error {
	if blank(filename) || content == nil {
		return d.missing("Select a file")
	}
	err := d.backend.UploadToPrinter(ctx, id, filename, content)
	return d.report(err, "File sent to printer", "Failed to send file to printer", "printer", id, "file", filename)
}

// Control runs one card action against a printer
func (d *Dispatcher) Control(ctx context.Context, id string, action Action, filename string) error {
	switch action {
	case ActionStart:
		return d.StartPrint(ctx, id, filename)
	case ActionPause:
		return d.PausePrint(ctx, id)
	case ActionResume:
		return d.ResumePrint(ctx, id)
	case ActionStop:
		return d.CancelPrint(ctx, id)
	case ActionLight:
		return d.ToggleLight(ctx, id)
	case ActionDelete:
		return d.DeletePrinter(ctx, id)
	}
	err := fmt.Errorf("unknown action %q", action)
	d.notifier.Notify(Error, err.Error())
	return err
}

// UploadFile adds a file to the library
func (d *Dispatcher) UploadFile(ctx context.Context, filename, description string, content io.Reader) (*models.File, error) {
	if blank(filename) || content == nil {
		return nil, d.missing("Select a file")
	}
	file, err := d.backend.UploadFile(ctx, filename, description, content)
	if err := d.report(err, "File uploaded", "Failed to upload file", "file", filename); err != nil {
		return nil, err
	}
	return file, nil
}

// DeleteFile removes a library file
func (d *Dispatcher) DeleteFile(ctx context.Context, id string) error {
	return d.report(d.backend.DeleteFile(ctx, id), "File deleted", "Failed to delete file", "file", id)
}

// DownloadFile opens a library file for reading. The caller closes it.
func (d *Dispatcher) DownloadFile(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := d.backend.DownloadFile(ctx, id)
	if err != nil {
		d.logger.Warn("download failed", "file", id, "error", err)
		d.notifier.Notify(Error, errorMessage("Failed to download file", err))
		return nil, err
	}
	return rc, nil
}

// CreateJob creates a pending job
func (d *Dispatcher) CreateJob(ctx context.Context, job client.NewJob) (*models.Job, error) {
	if blank(job.Name, job.Filename) {
		return nil, d.missing("Fill in the required fields")
	}
	created, err := d.backend.CreateJob(ctx, job)
	if err := d.report(err, "Job created", "Failed to create job", "name", job.Name); err != nil {
		return nil, err
	}
	return created, nil
}

// EditJob changes the editable fields of a job
func (d *Dispatcher) EditJob(ctx context.Context, id string, patch models.JobPatch) error {
	if patch.Name != nil && blank(*patch.Name) {
		return d.missing("Job name is required")
	}
	_, err := d.backend.UpdateJob(ctx, id, patch)
	return d.report(err, "Job updated", "Failed to update job", "job", id)
}

// SetJobProgress records how far a job got, 0 to 100
func (d *Dispatcher) SetJobProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 || progress > 100 {
		d.notifier.Notify(Error, "Progress must be between 0 and 100")
		return fmt.Errorf("progress %d out of range", progress)
	}
	_, err := d.backend.SetJobProgress(ctx, id, progress)
	return d.report(err, "Job progress updated", "Failed to update job progress", "job", id)
}

// jobResult notifies the per-printer failures of a job fan-out
func (d *Dispatcher) jobResult(res *client.JobResult) {
	if res == nil || len(res.PrinterErrors) == 0 {
		return
	}
	d.notifier.Notify(Warning, fmt.Sprintf("%d printer(s) did not respond", len(res.PrinterErrors)))
}

// StartJob starts a job on its available printers
func (d *Dispatcher) StartJob(ctx context.Context, id string) error {
	res, err := d.backend.StartJob(ctx, id)
	if err := d.report(err, "Job started", "Failed to start job", "job", id); err != nil {
		return err
	}
	d.jobResult(res)
	return nil
}

// PauseJob pauses a running job
func (d *Dispatcher) PauseJob(ctx context.Context, id string) error {
	res, err := d.backend.PauseJob(ctx, id)
	if err := d.report(err, "Job paused", "Failed to pause job", "job", id); err != nil {
		return err
	}
	d.jobResult(res)
	return nil
}

// CancelJob cancels a job
func (d *Dispatcher) CancelJob(ctx context.Context, id string) error {
	res, err := d.backend.CancelJob(ctx, id)
	if err := d.report(err, "Job cancelled", "Failed to cancel job", "job", id); err != nil {
		return err
	}
	d.jobResult(res)
	return nil
}

// DeleteJob removes a job
func (d *Dispatcher) DeleteJob(ctx context.Context, id string) error {
	return d.report(d.backend.DeleteJob(ctx, id), "Job deleted", "Failed to delete job", "job", id)
}

// CreateUser adds a user
func (d *Dispatcher) CreateUser(ctx context.Context, u client.NewUser) (*models.User, error) {
	if blank(u.Name, u.Email) {
		return nil, d.missing("Fill in the required fields")
	}
	created, err := d.backend.CreateUser(ctx, u)
	if err := d.report(err, "User added", "Failed to add user", "email", u.Email); err != nil {
		return nil, err
	}
	return created, nil
}

// EditUser changes a user's name, email or role
func (d *Dispatcher) EditUser(ctx context.Context, id string, patch models.UserPatch) error {
	if (patch.Name != nil && blank(*patch.Name)) || (patch.Email != nil && blank(*patch.Email)) {
		return d.missing("Fill in the required fields")
	}
	_, err := d.backend.UpdateUser(ctx, id, patch)
	return d.report(err, "User updated", "Failed to update user", "user", id)
}

// DeleteUser removes a user
func (d *Dispatcher) DeleteUser(ctx context.Context, id string) error {
	return d.report(d.backend.DeleteUser(ctx, id), "User deleted", "Failed to delete user", "user", id)
}
