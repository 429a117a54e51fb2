// api/router.go
package api

import (
	"net/http"

	"github.com/devadigapratham/fleet3d/api/handlers"
	"github.com/devadigapratham/fleet3d/raft"
	"github.com/gin-gonic/gin"
)

// RouterConfig holds the router options that come from configuration
type RouterConfig struct {
	CORSOrigins []string
	// MaxUploadSize bounds request bodies, 0 for no limit
	MaxUploadSize int64
}

// SetupRouter sets up the API routes
func SetupRouter(handler *handlers.Handler, transport *raft.Transport, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), Logger(handler.Logger.Named("http")), CORS(cfg.CORSOrigins))

	// API group
	api := router.Group("/api")
	if cfg.MaxUploadSize > 0 {
		api.Use(BodyLimit(cfg.MaxUploadSize))
	}
	api.Use(handler.RaftLeaderMiddleware())
	{
		// Printer endpoints
		api.GET("/printers", handler.GetPrinters)
		api.POST("/printers", handler.CreatePrinter)
		api.DELETE("/printers/:id", handler.DeletePrinter)
		api.GET("/printers/:id/status", handler.GetPrinterStatus)
		api.GET("/printers/:id/files", handler.GetPrinterFiles)
		api.POST("/printers/:id/upload", handler.UploadToPrinter)
		api.POST("/printers/:id/print/start", handler.StartPrint)
		api.POST("/printers/:id/print/pause", handler.PausePrint)
		api.POST("/printers/:id/print/resume", handler.ResumePrint)
		api.POST("/printers/:id/print/cancel", handler.CancelPrint)
		api.POST("/printers/:id/light/toggle", handler.ToggleLight)

		// Library file endpoints
		api.GET("/files", handler.GetFiles)
		api.POST("/files", handler.UploadFile)
		api.DELETE("/files/:id", handler.DeleteFile)
		api.GET("/files/:id/download", handler.DownloadFile)

		// Job endpoints
		api.GET("/jobs", handler.GetJobs)
		api.POST("/jobs", handler.CreateJob)
		api.GET("/jobs/:id", handler.GetJob)
		api.PUT("/jobs/:id", handler.UpdateJob)
		api.DELETE("/jobs/:id", handler.DeleteJob)
		api.POST("/jobs/:id/start", handler.StartJob)
		api.POST("/jobs/:id/pause", handler.PauseJob)
		api.POST("/jobs/:id/cancel", handler.CancelJob)
		api.POST("/jobs/:id/progress", handler.UpdateJobProgress)

		// User endpoints
		api.GET("/users", handler.GetUsers)
		api.POST("/users", handler.CreateUser)
		api.GET("/users/:id", handler.GetUser)
		api.PUT("/users/:id", handler.UpdateUser)
		api.DELETE("/users/:id", handler.DeleteUser)

		// Live status feed
		api.GET("/events", handler.Events)
	}

	// Library bytes are node-local, so every node backs up and restores its
	// own. An archive holds many files and is only limited per file.
	backup := router.Group("/api/backup")
	{
		backup.GET("", handler.Backup)
		backup.POST("/restore", handler.Restore)
	}

	// Raft status and cluster membership
	router.GET("/status", handler.Status)
	router.GET("/health", handler.Health)
	if transport != nil {
		router.Any("/raft/*path", gin.WrapH(http.StripPrefix("/raft", transport.RaftHandler())))
	}

	return router
}
