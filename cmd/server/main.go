package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paperreader/internal/config"
	"paperreader/internal/handler"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}
	// Wiring
	container, err := config.NewContainer()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	cfg := container.Config

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container.Pool.Start(ctx)
	if _, err := container.DocumentService.Recover(ctx); err != nil {
		container.Logger.Error("Failed to recover unfinished conversions", err)
	}

	// Router
	router := handler.NewRouter(
		handler.NewDocumentHandler(container.DocumentService, cfg.GetMaxFileSize(), container.Logger),
		handler.NewHealthHandler(cfg.GetUploadPath(), cfg.GetProcessedPath(), container.Pool),
		cfg.GetAPIPrefix(),
		cfg.GetCORSOrigins(),
		container.Logger,
	)

	// start server
	server := &http.Server{
		Addr:              ":" + cfg.GetServerPort(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run server
	go func() {
		container.Logger.Info("Server listening", "address", server.Addr, "api_prefix", cfg.GetAPIPrefix())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Error("Server failed to start", err)
			os.Exit(1)
		}
	}()
	// Graceful shutdown
	<-ctx.Done()

	container.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("HTTP server shutdown failed", err)
	}
	if err := container.Pool.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Conversion pool did not drain", err)
	}

	container.Logger.Info("Server exited")
}
