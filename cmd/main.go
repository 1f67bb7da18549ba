/*
Package main is the entry point for the room chat server.

It loads configuration, initializes logging, opens the selected archive
backend, starts the HTTP and WebSocket server and shuts everything down
gracefully on SIGINT or SIGTERM.
*/
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

	"roomchat/internal/app/chat"
	"roomchat/internal/app/db"
	"roomchat/internal/app/localstore"
	"roomchat/internal/app/storage"
	"roomchat/internal/app/user"
	"roomchat/internal/configs"
	"roomchat/internal/handler"
	"roomchat/internal/pkg/logx"
)

// backend is the archive and device store pair selected by ARCHIVE_BACKEND.
type backend struct {
	archive chat.Archive
	devices user.DeviceStore
	close   func()
}

func openBackend(ctx context.Context, cfg *configs.AppConfig) (*backend, error) {
	switch cfg.ArchiveBackend {
	case configs.BackendMemory:
		logx.Warn("Using the in-memory archive; history is lost on restart.")
		return &backend{
			archive: chat.NewMemoryArchive(),
			devices: user.NewMemoryDevices(),
			close:   func() {},
		}, nil

	case configs.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return &backend{
			archive: db.NewMessageArchive(pool),
			devices: db.NewDeviceStore(pool),
			close:   pool.Close,
		}, nil

	case configs.BackendPebble:
		store, err := localstore.Open(cfg.PebblePath)
		if err != nil {
			return nil, err
		}
		return &backend{
			archive: store,
			devices: store,
			close: func() {
				if err := store.Close(); err != nil {
					logx.Error(err, "Failed to close pebble store")
				}
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
}

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("archive_backend", cfg.ArchiveBackend).
		Int("history_limit", cfg.HistoryLimit).
		Bool("strict_authorship", cfg.StrictAuthorship).
		Bool("storage_enabled", cfg.StorageEnabled()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open archive backend", "backend", cfg.ArchiveBackend)
	}
	defer store.close()

	sessions := user.NewSessions(store.devices, cfg.JWTSecret, cfg.TokenTTL)

	svc := chat.NewService(store.archive, sessions, chat.Options{
		HistoryLimit:     cfg.HistoryLimit,
		RoomIdleTimeout:  cfg.RoomIdleTimeout,
		StrictAuthorship: cfg.StrictAuthorship,
	})

	deps := &handler.AppDeps{
		Chat:     svc,
		Sessions: sessions,
		Config:   cfg,
	}

	if cfg.StorageEnabled() {
		storageService, err := storage.NewStorageService(ctx, storage.ServiceConfig{
			BucketName:      cfg.S3BucketName,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logx.Fatal(err, "Failed to initialize attachment storage")
		}
		deps.StorageService = storageService
	}

	limits := handler.NewLimiters()
	defer limits.Stop()

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           handler.Router(deps, limits),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Room chat server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Hijacked WebSocket connections are not tracked by Shutdown; the chat service closes them.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	svc.Shutdown()

	logx.Info("Server gracefully stopped.")
}
