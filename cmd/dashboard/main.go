package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devadigapratham/fleet3d/client"
	"github.com/devadigapratham/fleet3d/config"
	"github.com/devadigapratham/fleet3d/dashboard"
	"github.com/hashicorp/go-hclog"
)

func main() {
	cfg, loader, err := config.ParseDashboardFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "dashboard",
		Level: level(cfg.LogLevel),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, loader, logger); err != nil {
		logger.Error("dashboard stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.DashboardConfig, loader *config.Loader, logger hclog.Logger) error {
	backend := client.New(cfg.BackendURL,
		client.WithTimeout(cfg.RequestTimeout),
		client.WithTransferTimeout(cfg.TransferTimeout),
	)

	settings, err := dashboard.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Saved settings win over the configured default
	interval := cfg.PollInterval
	if n := settings.Get().General.UpdateInterval; n != dashboard.DefaultSettings().General.UpdateInterval {
		interval = time.Duration(n) * time.Second
	}

	ctrl := dashboard.NewController()
	notes := dashboard.NewNotifications(0)
	seq := &dashboard.Sequencer{}
	poller := dashboard.NewPoller(backend, ctrl, seq, interval, logger)
	router := dashboard.NewRouter(backend, ctrl, notes, settings, logger)

	var watch *dashboard.Watch
	if cfg.LiveFeed {
		watch = dashboard.NewWatch(backend.EventsURL(), ctrl, seq, logger)
	}

	srv := dashboard.NewServer(dashboard.ServerConfig{
		Controller:    ctrl,
		Dispatcher:    dashboard.NewDispatcher(backend, ctrl, notes, logger),
		Router:        router,
		Notifications: notes,
		Settings:      settings,
		Poller:        poller,
		Watch:         watch,
		Logger:        logger,
	})

	if err := router.LoadPrinters(ctx); err != nil {
		// The first panel load retries
		logger.Warn("fleet server unreachable", "url", backend.BaseURL(), "error", err)
	}

	go poller.Run(ctx)
	if watch != nil {
		go watch.Run(ctx)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting dashboard", "addr", cfg.ListenAddr, "backend", backend.BaseURL(), "interval", interval)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	loader.Watch(func() {
		next, err := loader.Dashboard()
		if err != nil {
			logger.Warn("ignoring config change", "file", loader.File(), "error", err)
			return
		}
		poller.SetInterval(next.PollInterval)
		logger.SetLevel(level(next.LogLevel))
		logger.Info("config reloaded", "poll_interval", next.PollInterval, "log_level", next.LogLevel)
	})

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func level(s string) hclog.Level {
	if l := hclog.LevelFromString(s); l != hclog.NoLevel {
		return l
	}
	return hclog.Info
}
