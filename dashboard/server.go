package dashboard

import (
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/devadigapratham/fleet3d/client"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// Server is the dashboard's web front
type Server struct {
	ctrl       *Controller
	dispatcher *Dispatcher
	router     *Router
	notes      *Notifications
	settings   *SettingsStore
	poller     *Poller
	watch      *Watch
	engine     *gin.Engine
	logger     hclog.Logger
}

// ServerConfig wires the dashboard components into a Server. Poller and
// Watch are optional.
type ServerConfig struct {
	Controller    *Controller
	Dispatcher    *Dispatcher
	Router        *Router
	Notifications *Notifications
	Settings      *SettingsStore
	Poller        *Poller
	Watch         *Watch
	Logger        hclog.Logger
}

// NewServer builds the gin engine serving the dashboard
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{
		ctrl:       cfg.Controller,
		dispatcher: cfg.Dispatcher,
		router:     cfg.Router,
		notes:      cfg.Notifications,
		settings:   cfg.Settings,
		poller:     cfg.Poller,
		watch:      cfg.Watch,
		logger:     logger.Named("web"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.logRequests())
	engine.SetHTMLTemplate(template.Must(template.New("dashboard").Funcs(templateFuncs).Parse(pageTemplates)))
	s.engine = engine
	s.routes()
	return s
}

// Handler returns the HTTP handler of the dashboard
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "latency", time.Since(start))
	}
}

func (s *Server) routes() {
	r := s.engine

	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/panel/printers") })
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "healthy"}) })
	r.GET("/panel/:name", s.showPanel)

	// Printers
	r.POST("/printers", s.addPrinter)
	r.GET("/printers/:id", s.showPrinter)
	r.POST("/printers/:id/:action", s.controlPrinter)
	r.POST("/filter", s.setFilter)
	r.POST("/view", s.setView)
	r.POST("/select", s.selectPrinter)
	r.POST("/select/all", s.selectAll)
	r.POST("/select/clear", s.clearSelection)
	r.POST("/bulk/delete", s.bulkDelete)

	// Files
	r.POST("/files", s.uploadFile)
	r.POST("/files/:id/delete", s.deleteFile)
	r.GET("/files/:id/download", s.downloadFile)

	// Jobs
	r.POST("/jobs", s.createJob)
	r.POST("/jobs/:id/:action", s.jobAction)

	// Users
	r.POST("/users", s.createUser)
	r.POST("/users/:id/edit", s.editUser)
	r.POST("/users/:id/delete", s.deleteUser)

	// Settings
	r.POST("/settings/:section", s.saveSettings)

	// JSON views of the dashboard state
	r.GET("/api/state", s.state)
	r.GET("/api/notifications", func(c *gin.Context) { c.JSON(http.StatusOK, s.notes.Active()) })
}

// back redirects to the panel a form was posted from
func (s *Server) back(c *gin.Context, fallback Panel) {
	panel := c.PostForm("panel")
	if panel == "" {
		panel = string(fallback)
	}
	c.Redirect(http.StatusSeeOther, "/panel/"+url.PathEscape(string(ResolvePanel(panel))))
}

type pageData struct {
	Title         string
	Panels        []Panel
	Data          *PanelData
	Notifications []Notification
	Refresh       int
	Live          bool
	Detail        *PrinterDetail
}

func (s *Server) page(c *gin.Context, data *PanelData, detail *PrinterDetail) {
	settings := s.settings.Get()
	refresh := 0
	if data.Panel == PanelPrinters {
		refresh = settings.General.UpdateInterval
	}
	c.HTML(http.StatusOK, "page", pageData{
		Title:         settings.General.SystemName,
		Panels:        Panels,
		Data:          data,
		Notifications: s.notes.Active(),
		Refresh:       refresh,
		Live:          s.watch != nil && s.watch.Connected(),
		Detail:        detail,
	})
}

func (s *Server) showPanel(c *gin.Context) {
	s.page(c, s.router.Open(c.Request.Context(), c.Param("name")), nil)
}

func (s *Server) showPrinter(c *gin.Context) {
	detail, ok := s.router.PrinterDetail(c.Request.Context(), c.Param("id"))
	if !ok {
		s.notes.Notify(Error, "Printer not found")
		c.Redirect(http.StatusSeeOther, "/panel/printers")
		return
	}
	data := s.router.Open(c.Request.Context(), string(PanelPrinters))
	s.page(c, data, detail)
}

func (s *Server) addPrinter(c *gin.Context) {
	port, _ := strconv.Atoi(c.PostForm("port"))
	s.dispatcher.AddPrinter(c.Request.Context(), client.NewPrinter{
		Name:      strings.TrimSpace(c.PostForm("name")),
		IPAddress: strings.TrimSpace(c.PostForm("ip_address")),
		Port:      port,
		Tags:      splitList(c.PostForm("tags")),
	})
	s.back(c, PanelPrinters)
}

func (s *Server) controlPrinter(c *gin.Context) {
	if c.Param("action") == "upload" {
		s.uploadToPrinter(c)
		return
	}
	s.dispatcher.Control(c.Request.Context(), c.Param("id"), Action(c.Param("action")), c.PostForm("filename"))
	s.back(c, PanelPrinters)
}

func (s *Server) uploadToPrinter(c *gin.Context) {
	id := c.Param("id")
	detail := "/printers/" + url.PathEscape(id)

	header, err := c.FormFile("file")
	if err != nil {
		s.dispatcher.UploadToPrinter(c.Request.Context(), id, "", nil)
		c.Redirect(http.StatusSeeOther, detail)
		return
	}
	f, err := header.Open()
	if err != nil {
		s.notes.Notify(Error, "Failed to send file to printer")
		c.Redirect(http.StatusSeeOther, detail)
		return
	}
	defer f.Close()

	s.dispatcher.UploadToPrinter(c.Request.Context(), id, header.Filename, f)
	c.Redirect(http.StatusSeeOther, detail)
}

func (s *Server) setFilter(c *gin.Context) {
	f, err := ParseFilter(c.PostForm("filter"))
	if err != nil {
		s.notes.Notify(Warning, err.Error())
	} else {
		s.ctrl.SetFilter(f)
	}
	s.back(c, PanelPrinters)
}

func (s *Server) setView(c *gin.Context) {
	s.ctrl.SetViewMode(ViewMode(c.PostForm("mode")))
	s.back(c, PanelPrinters)
}

func (s *Server) selectPrinter(c *gin.Context) {
	id := c.PostForm("id")
	if c.PostForm("checked") == "false" {
		s.ctrl.Deselect(id)
	} else {
		s.ctrl.Select(id)
	}
	s.back(c, PanelPrinters)
}

func (s *Server) selectAll(c *gin.Context) {
	s.ctrl.SelectAll()
	s.back(c, PanelPrinters)
}

func (s *Server) clearSelection(c *gin.Context) {
	s.ctrl.ClearSelection()
	s.back(c, PanelPrinters)
}

func (s *Server) bulkDelete(c *gin.Context) {
	s.dispatcher.BulkDelete(c.Request.Context())
	s.back(c, PanelPrinters)
}

func (s *Server) uploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		s.dispatcher.UploadFile(c.Request.Context(), "", "", nil)
		s.back(c, PanelFiles)
		return
	}
	f, err := header.Open()
	if err != nil {
		s.notes.Notify(Error, "Failed to upload file")
		s.back(c, PanelFiles)
		return
	}
	defer f.Close()

	s.dispatcher.UploadFile(c.Request.Context(), header.Filename, c.PostForm("description"), f)
	s.back(c, PanelFiles)
}

func (s *Server) deleteFile(c *gin.Context) {
	s.dispatcher.DeleteFile(c.Request.Context(), c.Param("id"))
	s.back(c, PanelFiles)
}

func (s *Server) downloadFile(c *gin.Context) {
	body, err := s.dispatcher.DownloadFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Redirect(http.StatusSeeOther, "/panel/files")
		return
	}
	defer body.Close()

	name := c.Query("name")
	if name == "" {
		name = c.Param("id")
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		// Headers are gone, the browser sees a truncated download
		s.logger.Warn("download interrupted", "file", c.Param("id"), "error", err)
	}
}

func (s *Server) createJob(c *gin.Context) {
	qty, _ := strconv.Atoi(c.PostForm("quantity"))
	s.dispatcher.CreateJob(c.Request.Context(), client.NewJob{
		Name:          strings.TrimSpace(c.PostForm("name")),
		Filename:      c.PostForm("filename"),
		Quantity:      qty,
		Priority:      c.PostForm("priority"),
		Material:      c.PostForm("material"),
		Printers:      c.PostFormArray("printers"),
		EstimatedTime: c.PostForm("estimated_time"),
	})
	s.back(c, PanelJobs)
}

func (s *Server) jobAction(c *gin.Context) {
	ctx, id := c.Request.Context(), c.Param("id")
	switch c.Param("action") {
	case "start":
		s.dispatcher.StartJob(ctx, id)
	case "pause":
		s.dispatcher.PauseJob(ctx, id)
	case "cancel":
		s.dispatcher.CancelJob(ctx, id)
	case "delete":
		s.dispatcher.DeleteJob(ctx, id)
	case "edit":
		s.dispatcher.EditJob(ctx, id, jobPatch(c))
	case "progress":
		progress, err := strconv.Atoi(strings.TrimSpace(c.PostForm("progress")))
		if err != nil {
			progress = -1
		}
		s.dispatcher.SetJobProgress(ctx, id, progress)
	default:
		s.notes.Notify(Error, "Unknown job action")
	}
	s.back(c, PanelJobs)
}

// jobPatch collects the job fields present in an edit form
func jobPatch(c *gin.Context) models.JobPatch {
	var patch models.JobPatch
	if v, ok := c.GetPostForm("name"); ok {
		name := strings.TrimSpace(v)
		patch.Name = &name
	}
	if v, err := strconv.Atoi(c.PostForm("quantity")); err == nil {
		patch.Quantity = &v
	}
	if v := c.PostForm("priority"); v != "" {
		patch.Priority = &v
	}
	if v := c.PostForm("material"); v != "" {
		patch.Material = &v
	}
	if v := strings.TrimSpace(c.PostForm("estimated_time")); v != "" {
		patch.EstimatedTime = &v
	}
	return patch
}

func (s *Server) createUser(c *gin.Context) {
	s.dispatcher.CreateUser(c.Request.Context(), client.NewUser{
		Name:  strings.TrimSpace(c.PostForm("name")),
		Email: strings.TrimSpace(c.PostForm("email")),
		Role:  c.PostForm("role"),
	})
	s.back(c, PanelUsers)
}

func (s *Server) editUser(c *gin.Context) {
	var patch models.UserPatch
	if v, ok := c.GetPostForm("name"); ok {
		name := strings.TrimSpace(v)
		patch.Name = &name
	}
	if v, ok := c.GetPostForm("email"); ok {
		email := strings.TrimSpace(v)
		patch.Email = &email
	}
	if v := c.PostForm("role"); v != "" {
		patch.Role = &v
	}
	s.dispatcher.EditUser(c.Request.Context(), c.Param("id"), patch)
	s.back(c, PanelUsers)
}

func (s *Server) deleteUser(c *gin.Context) {
	s.dispatcher.DeleteUser(c.Request.Context(), c.Param("id"))
	s.back(c, PanelUsers)
}

func (s *Server) saveSettings(c *gin.Context) {
	var (
		update  func(*Settings)
		message string
	)
	switch c.Param("section") {
	case "general":
		interval, _ := strconv.Atoi(c.PostForm("update_interval"))
		update = func(st *Settings) {
			st.General.SystemName = c.PostForm("system_name")
			st.General.UpdateInterval = interval
			st.General.Timezone = c.PostForm("timezone")
		}
		message = "Settings saved"
	case "notifications":
		update = func(st *Settings) {
			st.Notifications.Email = c.PostForm("email") == "on"
			st.Notifications.Browser = c.PostForm("browser") == "on"
			st.Notifications.NotificationEmail = c.PostForm("notification_email")
		}
		message = "Notification settings saved"
	case "security":
		timeout, _ := strconv.Atoi(c.PostForm("session_timeout"))
		update = func(st *Settings) {
			st.Security.SessionTimeout = timeout
			st.Security.RequireAuth = c.PostForm("require_auth") == "on"
		}
		message = "Security settings saved"
	default:
		s.notes.Notify(Error, "Unknown settings section")
		s.back(c, PanelSettings)
		return
	}

	saved, err := s.settings.Update(update)
	if err != nil {
		s.logger.Warn("failed to save settings", "error", err)
		s.notes.Notify(Error, err.Error())
	} else {
		s.notes.Notify(Success, message)
		if s.poller != nil {
			s.poller.SetInterval(time.Duration(saved.General.UpdateInterval) * time.Second)
		}
	}
	s.back(c, PanelSettings)
}

func (s *Server) state(c *gin.Context) {
	cards := s.ctrl.Cards()
	printers := make([]gin.H, 0, len(cards))
	for _, card := range cards {
		printers = append(printers, gin.H{
			"id":       card.Printer.ID,
			"name":     card.Printer.Name,
			"display":  card.Display,
			"class":    card.Class,
			"buttons":  card.Buttons,
			"selected": card.Selected,
			"status":   card.Status,
		})
	}
	out := gin.H{
		"filter":   s.ctrl.Filter(),
		"view":     s.ctrl.ViewMode(),
		"counters": s.ctrl.Counters(),
		"selected": s.ctrl.Selected(),
		"printers": printers,
	}
	if s.poller != nil {
		out["poll"] = gin.H{
			"interval":  s.poller.Interval().String(),
			"refreshes": s.poller.Refreshes(),
			"skipped":   s.poller.Skipped(),
		}
	}
	if s.watch != nil {
		out["live"] = gin.H{"connected": s.watch.Connected(), "received": s.watch.Received()}
	}
	c.JSON(http.StatusOK, out)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
