package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"training-manager/api/rest/handlers"
	"training-manager/api/rest/routes"
	"training-manager/config"
	"training-manager/core/models"
	"training-manager/core/monitoring"
	"training-manager/core/repository"
	"training-manager/core/runner"
	"training-manager/core/scheduler"
	"training-manager/core/sync"
	"training-manager/core/viz"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Initialize repositories
	jobRepo := repository.NewJobRepository(db)
	eventRepo := repository.NewEventRepository(db)
	syncRepo := repository.NewSyncRepository(db)
	settingsRepo := repository.NewSettingsRepository(db, models.Settings{
		MaxConcurrent:      1,
		VizBasePort:        6006,
		VizMaxInstances:    10,
		DefaultEnvironment: "base",
		WorkingDirectory:   filepath.Join(cfg.DataDir, "workspace"),
		OutputPath:         filepath.Join(cfg.DataDir, "output"),
		SyncTargetPath:     filepath.Join(cfg.DataDir, "workspace"),
		SyncExcludes:       []string{".git", "__pycache__", "*.pyc"},
	})

	// Initialize process launchers
	subprocess := runner.NewSubprocessLauncher(cfg.CondaBin)
	launcher := &runner.EnvironmentLauncher{Subprocess: subprocess}
	if cfg.EnableDocker {
		docker, err := runner.NewDockerLauncher()
		if err != nil {
			slog.Error("failed to initialize docker launcher", "error", err)
			os.Exit(1)
		}
		launcher.Docker = docker
		slog.Info("docker environments enabled")
	}

	// Initialize visualization supervisor
	vizSup := viz.NewSupervisor(subprocess, cfg.VisualizationBin)

	// Initialize code sync
	syncer := sync.NewRsyncSyncer(10 * time.Minute)

	// Initialize scheduler
	sched := scheduler.NewScheduler(jobRepo, settingsRepo, launcher, vizSup, syncer, syncRepo)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Start(ctx)
	defer sched.Stop()

	// Setup routes
	jobHandler := handlers.NewJobHandler(jobRepo, eventRepo, sched, subprocess)
	syncHandler := handlers.NewSyncHandler(syncer, syncRepo, settingsRepo)
	settingsHandler := handlers.NewSettingsHandler(settingsRepo)
	systemHandler := handlers.NewSystemHandler(jobRepo, sched, vizSup, monitoring.NewSampler())

	r := mux.NewRouter()
	routes.SetupRoutes(r, jobHandler, syncHandler, settingsHandler, systemHandler)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		slog.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shut down", "error", err)
	}
	if err := vizSup.Shutdown(shutdownCtx); err != nil {
		slog.Error("visualization shutdown incomplete", "error", err)
	}
	slog.Info("server exited")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
