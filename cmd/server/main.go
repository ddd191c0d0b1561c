package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iconidentify/canvasgrab/internal/api"
	"github.com/iconidentify/canvasgrab/internal/api/handler"
	"github.com/iconidentify/canvasgrab/internal/blob"
	"github.com/iconidentify/canvasgrab/internal/classifier"
	"github.com/iconidentify/canvasgrab/internal/config"
	"github.com/iconidentify/canvasgrab/internal/credentials"
	"github.com/iconidentify/canvasgrab/internal/domain"
	"github.com/iconidentify/canvasgrab/internal/downloader"
	"github.com/iconidentify/canvasgrab/internal/ledger"
	"github.com/iconidentify/canvasgrab/internal/repository"
	"github.com/iconidentify/canvasgrab/internal/service"
	"github.com/iconidentify/canvasgrab/internal/settings"
	"github.com/iconidentify/canvasgrab/internal/storage"
	"github.com/iconidentify/canvasgrab/internal/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("canvasgrab %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting canvasgrab",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Ensure the downloads directory exists
	if err := os.MkdirAll(cfg.Storage.DownloadPath, 0755); err != nil {
		logger.Error("failed to create download directory", "error", err)
		os.Exit(1)
	}

	settingsStore, err := settings.Open(context.Background(), cfg.Storage.SettingsPath, logger)
	if err != nil {
		logger.Error("failed to open settings", "path", cfg.Storage.SettingsPath, "error", err)
		os.Exit(1)
	}

	// Initialize dependencies
	creds := credentials.NewStore()
	dl := downloader.NewHTTPDownloader(cfg.Download, creds)
	dl.SetLogger(logger)
	blobs := blob.NewRegistry(logger)
	store := storage.NewOsDownloadStore(cfg.Storage.DownloadPath)
	led := ledger.New()
	jobRepo := repository.NewInMemoryJobRepository(repository.WithRetention(cfg.Worker.JobRetention))
	events := service.NewEventService(service.EventServiceConfig{
		RingBufferSize: cfg.Events.RingBufferSize,
	}, logger)

	// Initialize services
	downloadSvc := service.NewDownloadService(dl, store, blobs, service.DownloadServiceConfig{
		DefaultExtension: cfg.Download.DefaultExtension,
		BlobTTL:          cfg.Download.BlobTTL,
		MaxFileSize:      cfg.Storage.MaxFileSize,
	}, logger)

	mediaSvc := service.NewMediaService(
		classifier.New(cfg.Detection),
		led,
		jobRepo,
		settingsStore,
		events,
		logger,
	)

	unsubscribe := settingsStore.Subscribe(func(enabled bool) {
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		events.EmitInfo(domain.EventCategorySettings, "settings", "Auto-download "+state,
			domain.EventMetadata{"auto_download": enabled})
	})
	defer unsubscribe()

	// Initialize handlers
	router := api.NewRouter(api.Handlers{
		Extension: handler.NewExtensionHandler(mediaSvc, creds, logger),
		Settings:  handler.NewSettingsHandler(settingsStore, logger),
		Events:    handler.NewEventHandler(events, logger),
		Jobs:      handler.NewJobHandler(jobRepo, logger),
		Health: handler.NewHealthHandler(jobRepo, handler.StatsSources{
			Ledger:   led,
			Blobs:    blobs,
			Events:   events,
			Store:    store,
			Settings: settingsStore,
		}),
	}, cfg.Server.APIKey)

	// Initialize worker pool
	pool := worker.NewPool(
		worker.Config{
			Workers:      cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
		},
		jobRepo,
		downloadSvc,
		events,
		logger,
	)

	// Start worker pool
	pool.Start()

	events.EmitInfo(domain.EventCategorySystem, "server", "Server started", domain.EventMetadata{
		"version":       Version,
		"download_path": cfg.Storage.DownloadPath,
		"auto_download": settingsStore.AutoDownload(),
	})

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// SSE streams never finish on their own
	events.Close()

	// Stop accepting new requests
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Stop workers (allow in-flight jobs to complete)
	if err := pool.Stop(25 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	blobs.RevokeAll()

	if err := settingsStore.Close(); err != nil {
		logger.Error("settings close error", "error", err)
	}

	logger.Info("shutdown complete")
}
