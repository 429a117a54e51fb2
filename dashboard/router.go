package dashboard

import (
	"context"
	"sort"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/hashicorp/go-hclog"
)

// Panel names a dashboard section
type Panel string

const (
	PanelDashboard Panel = "dashboard"
	PanelPrinters  Panel = "printers"
	PanelFiles     Panel = "files"
	PanelJobs      Panel = "jobs"
	PanelUsers     Panel = "users"
	PanelReports   Panel = "reports"
	PanelSettings  Panel = "settings"
)

// Panels lists the navigation entries in menu order
var Panels = []Panel{PanelDashboard, PanelPrinters, PanelFiles, PanelJobs, PanelUsers, PanelReports, PanelSettings}

// ResolvePanel maps a requested panel to the one that is shown. The
// dashboard entry and unknown names show the printers panel.
func ResolvePanel(name string) Panel {
	switch p := Panel(name); p {
	case PanelFiles, PanelJobs, PanelUsers, PanelReports, PanelSettings:
		return p
	}
	return PanelPrinters
}

// Report is the fleet summary shown on the reports panel
type Report struct {
	Printers  int            `json:"printers"`
	Online    int            `json:"online"`
	Printing  int            `json:"printing"`
	Jobs      int            `json:"jobs"`
	JobStatus map[string]int `json:"job_status"`
	Materials []MaterialUse  `json:"materials"`
}

// MaterialUse counts the prints requested per material
type MaterialUse struct {
	Material string `json:"material"`
	Prints   int    `json:"prints"`
}

// PanelData is what a panel needs to render
type PanelData struct {
	Requested string
	Panel     Panel

	Cards    []Card
	Counters Counters
	Filter   Filter
	View     ViewMode
	Selected []string

	Files     []*models.File
	JobFiles  []*models.File
	Jobs      []*models.Job
	Users     []*models.User
	Printers  []*models.Printer
	Report    *Report
	Settings  Settings
	LoadError bool
}

// Router loads the data behind each panel
type Router struct {
	backend  Backend
	ctrl     *Controller
	notifier Notifier
	settings *SettingsStore
	logger   hclog.Logger
}

// NewRouter creates a Router
func NewRouter(backend Backend, ctrl *Controller, notifier Notifier, settings *SettingsStore, logger hclog.Logger) *Router {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Router{
		backend:  backend,
		ctrl:     ctrl,
		notifier: notifier,
		settings: settings,
		logger:   logger.Named("router"),
	}
}

// Open resolves name and loads the panel's data. Load failures are
// reported as notifications and leave the affected lists empty.
func (r *Router) Open(ctx context.Context, name string) *PanelData {
	data := &PanelData{Requested: name, Panel: ResolvePanel(name)}

	var err error
	switch data.Panel {
	case PanelPrinters:
		err = r.LoadPrinters(ctx)
	case PanelFiles:
		data.Files, err = r.backend.ListFiles(ctx)
		r.failed(err, "Failed to load files")
	case PanelJobs:
		data.Jobs, err = r.backend.ListJobs(ctx)
		r.failed(err, "Failed to load jobs")
		if err == nil {
			// Pickers of the create-job form
			var files []*models.File
			files, err = r.backend.ListFiles(ctx)
			r.failed(err, "Failed to load data")
			data.JobFiles = JobFiles(files)
		}
	case PanelUsers:
		data.Users, err = r.backend.ListUsers(ctx)
		r.failed(err, "Failed to load users")
	case PanelReports:
		data.Report, err = r.Report(ctx)
		r.failed(err, "Failed to load reports")
	}
	if r.settings != nil {
		data.Settings = r.settings.Get()
	}
	data.LoadError = err != nil

	data.Cards = r.ctrl.Cards()
	data.Counters = r.ctrl.Counters()
	data.Filter = r.ctrl.Filter()
	data.View = r.ctrl.ViewMode()
	data.Selected = r.ctrl.Selected()
	data.Printers = r.ctrl.Printers()
	return data
}

func (r *Router) failed(err error, message string) {
	if err == nil {
		return
	}
	r.logger.Warn(message, "error", err)
	r.notifier.Notify(Error, errorMessage(message, err))
}

// LoadPrinters replaces the controller's printer list with the backend's
func (r *Router) LoadPrinters(ctx context.Context) error {
	printers, err := r.backend.ListPrinters(ctx)
	if err != nil {
		r.failed(err, "Failed to load printers")
		return err
	}
	r.ctrl.SetPrinters(printers)
	return nil
}

// Report summarises the fleet from the held statuses and the job list
func (r *Router) Report(ctx context.Context) (*Report, error) {
	jobs, err := r.backend.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	rep := &Report{JobStatus: make(map[string]int), Jobs: len(jobs)}
	for _, id := range r.ctrl.PrinterIDs() {
		rep.Printers++
		s := r.ctrl.Status(id)
		if s.IsOnline() {
			rep.Online++
		}
		if s.State() == models.StatePrinting {
			rep.Printing++
		}
	}

	materials := make(map[string]int)
	for _, j := range jobs {
		rep.JobStatus[string(j.Status)]++
		materials[j.Material] += j.Quantity
	}
	for m, n := range materials {
		rep.Materials = append(rep.Materials, MaterialUse{Material: m, Prints: n})
	}
	sort.Slice(rep.Materials, func(i, j int) bool { return rep.Materials[i].Material < rep.Materials[j].Material })
	return rep, nil
}

// PrinterDetail backs the printer page with its start-print picker
type PrinterDetail struct {
	Printer *models.Printer
	Status  *models.PrinterStatus
	Display string
	Files   []models.PrinterFile
}

// PrinterDetail loads one printer and the files it can start
func (r *Router) PrinterDetail(ctx context.Context, id string) (*PrinterDetail, bool) {
	p, ok := r.ctrl.Printer(id)
	if !ok {
		if r.LoadPrinters(ctx) != nil {
			return nil, false
		}
		if p, ok = r.ctrl.Printer(id); !ok {
			return nil, false
		}
	}

	status := r.ctrl.Status(id)
	detail := &PrinterDetail{Printer: p, Status: status, Display: DisplayStatus(status)}
	files, err := r.backend.PrinterFiles(ctx, id)
	if err != nil {
		r.failed(err, "Failed to load files")
		return detail, true
	}
	detail.Files = PrintableFiles(files)
	return detail, true
}
