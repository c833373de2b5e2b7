package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/archibridge/archibridge/internal/api"
	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/config"
	"github.com/archibridge/archibridge/internal/events"
	"github.com/archibridge/archibridge/internal/jobs"
	"github.com/archibridge/archibridge/internal/logging"
	"github.com/archibridge/archibridge/internal/ratelimit"
	"github.com/archibridge/archibridge/internal/store"
	"github.com/archibridge/archibridge/internal/syncer"
	"github.com/archibridge/archibridge/pkg/models"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.Initialize(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Dir:    cfg.LogDir,
	})
	if err != nil {
		slog.Error("failed to initialize logging", "error", err)
		os.Exit(1)
	}
	logger.Info("starting archibridge", "port", cfg.Port, "driver", cfg.Driver)

	db, err := store.New(store.Config{
		Path:          cfg.DatabasePath,
		CredentialKey: cfg.CredentialKey,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	logger.Info("store ready", "path", cfg.DatabasePath)

	if cfg.AdminUsername != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := db.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminDisplayName); err != nil {
			cancel()
			logger.Error("failed to ensure admin user", "error", err)
			os.Exit(1)
		}
		cancel()
	}

	runtime, err := browser.NewRuntime(cfg.Driver, browser.RuntimeConfig{
		Headless:          cfg.Headless,
		Image:             cfg.BrowserImage,
		DataDir:           cfg.DataDir,
		NavigationTimeout: cfg.NavigationTimeout,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create browser runtime", "error", err)
		os.Exit(1)
	}

	pool := browser.NewSessionPool(browser.PoolConfig{
		Runtime:           runtime,
		Credentials:       db,
		Users:             db,
		Artifacts:         db,
		BaseURL:           cfg.BaseURL,
		MaxSessions:       int64(cfg.MaxSessions),
		NavigationTimeout: cfg.NavigationTimeout,
		Logger:            logger,
	})
	logger.Info("session pool ready", "max_sessions", cfg.MaxSessions)

	syncJobs := jobs.New(jobs.Config{
		Pool:    pool,
		Store:   db,
		BaseURL: cfg.BaseURL,
		Logger:  logger,
	})

	typeConfigs, err := loadTypeConfigs(cfg)
	if err != nil {
		logger.Error("failed to load schedule", "error", err)
		os.Exit(1)
	}

	registry := make(map[models.SyncType]syncer.Job, len(models.SyncTypes()))
	for typ, fn := range syncJobs.Registry() {
		registry[typ] = syncer.JobFunc(fn)
	}

	orch := syncer.New(syncer.Config{
		Jobs:        registry,
		Admins:      db,
		TypeConfigs: typeConfigs,
		Logger:      logger,
	})
	logger.Info("sync orchestrator ready")

	hub := events.NewHub(orch, logger)

	// 30 sync triggers per minute per client, bursts of 10
	rateLimiter := ratelimit.NewLimiter(30, 10)

	handler := api.NewHandler(orch, pool, db, logger)
	router := handler.SetupRoutes(hub, rateLimiter)
	logger.Info("http routes configured")

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // smart sync and the event stream hold responses open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	if cfg.AutoSync {
		orch.StartStaggeredAutoSync()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	orch.Close()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down session pool", "error", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}

	logger.Info("server stopped cleanly")
}

// loadTypeConfigs merges schedule-file overrides over the built-in
// defaults. Zero fields in an override keep the default.
func loadTypeConfigs(cfg *config.Config) (map[models.SyncType]syncer.TypeConfig, error) {
	typeConfigs := syncer.DefaultTypeConfigs()
	if cfg.ScheduleFile == "" {
		return typeConfigs, nil
	}

	overrides, err := config.LoadSchedule(cfg.ScheduleFile)
	if err != nil {
		return nil, err
	}
	for typ, ts := range overrides {
		tc := typeConfigs[typ]
		if ts.Priority > 0 {
			tc.Priority = ts.Priority
		}
		if ts.IntervalMinutes > 0 {
			tc.Interval = time.Duration(ts.IntervalMinutes) * time.Minute
		}
		if ts.StaggerMinutes > 0 {
			tc.Stagger = time.Duration(ts.StaggerMinutes) * time.Minute
		}
		typeConfigs[typ] = tc
	}
	return typeConfigs, nil
}
