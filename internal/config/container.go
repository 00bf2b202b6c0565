package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"paperreader/internal/converter"
	"paperreader/internal/device"
	"paperreader/internal/domain"
	"paperreader/internal/images"
	"paperreader/internal/service"
	"paperreader/internal/store"
	"paperreader/pkg/logger"
)

// Container holds all application dependencies
type Container struct {
	Config          domain.Config
	Logger          domain.Logger
	Store           domain.StateStore
	Images          *images.Dir
	Registry        *converter.Registry
	Orchestrator    *service.Orchestrator
	Pool            *service.Pool
	DocumentService *service.DocumentService
}

// NewContainer creates a new dependency injection container
func NewContainer() (*Container, error) {
	cfg := NewConfig()
	appLogger := logger.NewLoggerWithFormat(cfg.GetLogLevel(), cfg.GetLogFormat(), os.Stdout)
	return NewContainerWith(cfg, appLogger)
}

// NewContainerWith wires the application around an existing config and logger.
func NewContainerWith(cfg domain.Config, appLogger domain.Logger) (*Container, error) {
	if err := os.MkdirAll(cfg.GetUploadPath(), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	fileStore, err := store.NewFileStore(cfg.GetProcessedPath(), appLogger)
	if err != nil {
		return nil, err
	}
	imageDir := images.NewDir(filepath.Join(cfg.GetProcessedPath(), "images"))

	detector := device.NewDetector(cfg.GetDeviceOverride(), appLogger)
	variants := converter.BuiltinVariants(converter.Options{
		MarkerBinary: cfg.GetMarkerBinary(),
		PageTimeout:  time.Duration(cfg.GetPageTimeoutSeconds()) * time.Second,
	}, appLogger)
	registry, err := converter.NewRegistry(variants, cfg.GetDefaultConverter(), detector, appLogger)
	if err != nil {
		return nil, err
	}

	orchestrator := service.NewOrchestrator(
		registry,
		images.NewExtractor(appLogger),
		imageDir,
		fileStore,
		cfg.GetAPIPrefix(),
		appLogger,
	)

	pool := service.NewPool(cfg.GetMaxConcurrentConversions(), func(ctx context.Context, job service.Job) {
		orchestrator.Convert(ctx, job.DocID, job.SourcePath, job.Converter)
	}, appLogger)

	documentService := service.NewDocumentService(
		cfg.GetUploadPath(),
		cfg.GetMaxFileSize(),
		string(registry.Default()),
		fileStore,
		imageDir,
		pool,
		registry,
		appLogger,
	)

	return &Container{
		Config:          cfg,
		Logger:          appLogger,
		Store:           fileStore,
		Images:          imageDir,
		Registry:        registry,
		Orchestrator:    orchestrator,
		Pool:            pool,
		DocumentService: documentService,
	}, nil
}
