package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/devadigapratham/fleet3d/api"
	"github.com/devadigapratham/fleet3d/api/handlers"
	"github.com/devadigapratham/fleet3d/config"
	"github.com/devadigapratham/fleet3d/monitor"
	"github.com/devadigapratham/fleet3d/moonraker"
	"github.com/devadigapratham/fleet3d/raft"
	"github.com/devadigapratham/fleet3d/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/kardianos/service"
)

// program runs the server under a service manager
type program struct {
	cfg    *config.Config
	loader *config.Loader
	logger hclog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := run(ctx, p.cfg, p.loader, p.logger); err != nil {
			p.logger.Error("server stopped", "error", err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	<-p.done
	return nil
}

func main() {
	// Parse command line flags
	cfg, loader, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "fleet3d",
		Level: level(cfg.LogLevel),
	})

	prg := &program{cfg: cfg, loader: loader, logger: logger}
	svc, err := service.New(prg, &service.Config{
		Name:        "fleet3d",
		DisplayName: "fleet3d server",
		Description: "3D printer fleet server",
		Arguments:   serviceArgs(os.Args[1:]),
	})
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// Handle service commands
	if cfg.Service != "" {
		if err := service.Control(svc, cfg.Service); err != nil {
			logger.Error("service command failed", "command", cfg.Service, "error", err)
			os.Exit(1)
		}
		logger.Info("service command done", "command", cfg.Service)
		return
	}

	if !service.Interactive() {
		if err := svc.Run(); err != nil {
			logger.Error("service failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Handle shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, loader, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, loader *config.Loader, logger hclog.Logger) error {
	// Create Raft data directory if it doesn't exist
	if err := os.MkdirAll(cfg.RaftDir, 0755); err != nil {
		return fmt.Errorf("failed to create Raft directory: %w", err)
	}

	// Create the library file store
	files, err := storage.NewStore(cfg.UploadFolder, cfg.MaxUploadSize)
	if err != nil {
		return err
	}
	defer files.Close()

	// Create Raft node
	node, err := raft.NewNode(&raft.Config{
		NodeID:    cfg.NodeID,
		RaftAddr:  cfg.RaftAddr,
		RaftDir:   cfg.RaftDir,
		Bootstrap: cfg.Bootstrap,
		Peers:     cfg.Peers,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create Raft node: %w", err)
	}
	defer func() {
		if err := node.Shutdown(); err != nil {
			logger.Warn("error shutting down Raft node", "error", err)
		}
	}()

	pool := moonraker.NewPool(
		moonraker.WithLogger(logger.Named("moonraker")),
		moonraker.WithTimeouts(0, cfg.RequestTimeout, 0),
	)

	hub := monitor.NewHub(logger)
	go hub.Run(ctx)

	mon := monitor.New(node.GetFSM(), pool, hub, monitor.Config{
		Interval:  cfg.StatusInterval,
		Workers:   cfg.Workers,
		Subscribe: cfg.Subscribe,
	}, logger)
	go mon.Run(ctx)

	handler := handlers.NewHandler(node, files, pool, mon, hub, logger)
	if len(cfg.AllowedExtensions) > 0 {
		handler.Extensions = cfg.AllowedExtensions
	}
	handler.MoonrakerPort = cfg.MoonrakerPort
	handler.WebcamPort = cfg.WebcamPort

	transport := raft.NewTransport(node)
	router := api.SetupRouter(handler, transport, api.RouterConfig{
		CORSOrigins:   cfg.CORSOrigins,
		MaxUploadSize: cfg.MaxUploadSize,
	})

	// Start HTTP server
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr, "node", cfg.NodeID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Join the cluster if needed
	if cfg.JoinAddr != "" && !cfg.Bootstrap {
		logger.Info("joining cluster", "addr", cfg.JoinAddr)
		if err := transport.JoinCluster(ctx, cfg.JoinAddr, cfg.NodeID, cfg.RaftAddr); err != nil {
			// Continue anyway, an operator can retry the join
			logger.Warn("failed to join cluster", "error", err)
		}
	}

	go func() {
		if err := node.WaitForLeader(30 * time.Second); err != nil {
			logger.Warn("cluster has no leader yet", "error", err)
			return
		}
		if _, err := node.SeedAdmin(); err != nil {
			logger.Warn("failed to seed administrator", "error", err)
		}
	}()

	loader.Watch(func() {
		next, err := loader.Server()
		if err != nil {
			logger.Warn("ignoring config change", "file", loader.File(), "error", err)
			return
		}
		mon.SetInterval(next.StatusInterval)
		logger.SetLevel(level(next.LogLevel))
		logger.Info("config reloaded", "status_interval", next.StatusInterval, "log_level", next.LogLevel)
	})

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	leaveCluster(shutdownCtx, transport, cfg, logger)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping HTTP server", "error", err)
	}
	return nil
}

// leaveCluster removes a node that joined through JoinAddr from the cluster
func leaveCluster(ctx context.Context, transport *raft.Transport, cfg *config.Config, logger hclog.Logger) bool {
	if cfg.JoinAddr == "" || cfg.Bootstrap {
		return false
	}
	logger.Info("leaving cluster", "addr", cfg.JoinAddr)
	if err := transport.LeaveCluster(ctx, cfg.JoinAddr, cfg.NodeID); err != nil {
		logger.Warn("failed to leave cluster", "error", err)
		return false
	}
	return true
}

func level(s string) hclog.Level {
	if l := hclog.LevelFromString(s); l != hclog.NoLevel {
		return l
	}
	return hclog.Info
}

// serviceArgs drops the service flag so the installed service runs the server
func serviceArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := strings.TrimLeft(args[i], "-")
		switch {
		case a == "service":
			i++
		case strings.HasPrefix(a, "service="):
		default:
			out = append(out, args[i])
		}
	}
	return out
}
