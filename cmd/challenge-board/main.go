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

	"github.com/terra-clan/challenge-board/internal/api"
	"github.com/terra-clan/challenge-board/internal/catalog"
	"github.com/terra-clan/challenge-board/internal/config"
	"github.com/terra-clan/challenge-board/internal/live"
	"github.com/terra-clan/challenge-board/internal/photos"
	"github.com/terra-clan/challenge-board/internal/progress"
	"github.com/terra-clan/challenge-board/internal/reconcile"
	"github.com/terra-clan/challenge-board/internal/storage"
	"github.com/terra-clan/challenge-board/internal/view"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting challenge-board",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Load challenge catalog
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	// Initialize the participant store
	var repo storage.Repository
	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgresRepository(initCtx, storage.PostgresConfig{
			DSN:           cfg.Database.DSN,
			MaxOpenConns:  int32(cfg.Database.MaxOpenConns),
			MaxIdleConns:  int32(cfg.Database.MaxIdleConns),
			MigrationsDir: cfg.Database.MigrationsDir,
		})
		if err != nil {
			slog.Error("failed to create database repository", "error", err)
			os.Exit(1)
		}
		repo = pg
		slog.Info("database connected successfully")
	} else {
		repo = storage.NewMemoryRepository()
		slog.Warn("no database configured, using in-memory store")
	}
	defer repo.Close()

	// Initialize the live subscription hub
	hub := live.NewHub()
	defer hub.Close()

	// Create context with cancellation for background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional cross-instance event relay
	if cfg.Redis.Address != "" {
		relay, err := live.NewRelay(initCtx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel, hub)
		if err != nil {
			slog.Error("failed to create event relay", "error", err)
			os.Exit(1)
		}
		defer relay.Close()
		hub.AttachRelay(relay)
		relay.Start(ctx)
	}

	// Photo storage
	var photoStore photos.Store
	if cfg.Cloudinary.CloudName != "" {
		photoStore, err = photos.NewCloudinaryStore(photos.CloudinaryConfig{
			CloudName: cfg.Cloudinary.CloudName,
			APIKey:    cfg.Cloudinary.APIKey,
			APISecret: cfg.Cloudinary.APISecret,
			Folder:    cfg.Cloudinary.Folder,
		})
		if err != nil {
			slog.Error("failed to create photo store", "error", err)
			os.Exit(1)
		}
		slog.Info("photo storage configured", "folder", cfg.Cloudinary.Folder)
	} else {
		photoStore = photos.Disabled{}
		slog.Warn("photo storage not configured, uploads will fail")
	}

	// Core components
	mutator := progress.NewMutator(repo, photoStore, hub, cat)
	detector := progress.NewDetector(repo, hub, cat)
	leaderboard := view.NewLeaderboard(repo, hub)
	aggregator := view.NewAggregator(repo, hub, cat)
	reconciler := reconcile.NewReconciler(repo, hub, cat, cfg.Reconcile.Interval)

	// Start background workers
	detector.Start(ctx)
	reconciler.Start(ctx)

	// Setup HTTP server. No WriteTimeout: the websocket feeds are
	// long-lived.
	server := api.NewServer(cfg.Server, repo, mutator, leaderboard, aggregator, cat, hub, cfg.Admin.Token)
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("challenge-board stopped")
}
