package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pcheng/pixsearch/internal/config"
	"github.com/pcheng/pixsearch/internal/logger"
	"github.com/pcheng/pixsearch/internal/repository"
	"github.com/pcheng/pixsearch/internal/service"
	"github.com/pcheng/pixsearch/internal/source"
	"github.com/pcheng/pixsearch/internal/source/localdir"
	"github.com/pcheng/pixsearch/internal/storage"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "pixsearch-ingest",
	})
	logger.SetDefault(appLogger)

	sourceType := flag.String("source", localdir.SourceID, "Data source to ingest from")
	dir := flag.String("dir", "", "Directory to ingest (overrides config)")
	limit := flag.Int("limit", 100, "Maximum number of items to ingest")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *dir == "" {
		*dir = cfg.Ingest.Dir
	}

	appLogger.WithFields(logger.Fields{
		"source": *sourceType,
		"dir":    *dir,
		"limit":  *limit,
	}).Info("Starting ingestion")

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	imageRepo := repository.NewImageRepository(db)

	vectorRepo, err := repository.NewVectorRepository(&repository.VectorConnectionConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize vector repository")
	}
	defer vectorRepo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := vectorRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure vector collection")
	}

	objectStorage, err := storage.NewS3Storage(&storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}

	clipService := service.NewClipService(&service.ClipConfig{
		BaseURL: cfg.Clip.BaseURL,
		Model:   cfg.Clip.Model,
		Workers: cfg.Clip.Workers,
		Timeout: cfg.Clip.Timeout,
	})
	if err := clipService.Load(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to load embedding model")
	}
	defer func() {
		if err := clipService.Unload(context.Background()); err != nil {
			appLogger.WithError(err).Warn("Failed to unload embedding model")
		}
	}()

	ingestService := service.NewIngestService(
		imageRepo,
		vectorRepo,
		objectStorage,
		clipService,
		&service.IngestConfig{
			Workers:   cfg.Ingest.Workers,
			BatchSize: cfg.Ingest.BatchSize,
			Domain:    cfg.Ingest.Domain,
		},
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	var src source.Source
	switch *sourceType {
	case localdir.SourceID:
		src = localdir.NewAdapter(*dir)
	default:
		appLogger.WithField("source", *sourceType).Fatal("Unknown source type")
	}

	stats, err := ingestService.IngestFromSource(ctx, src, *limit)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to ingest from source")
	}
	appLogger.WithFields(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"failed":    stats.FailedItems,
	}).Info("Ingestion completed")
}
