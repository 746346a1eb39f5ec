package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pcheng/pixsearch/internal/api"
	"github.com/pcheng/pixsearch/internal/api/middleware"
	"github.com/pcheng/pixsearch/internal/config"
	"github.com/pcheng/pixsearch/internal/logger"
	"github.com/pcheng/pixsearch/internal/repository"
	"github.com/pcheng/pixsearch/internal/service"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetDefault(logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "pixsearch-api",
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	}))

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
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
		log.Fatalf("Failed to initialize vector repository: %v", err)
	}
	defer vectorRepo.Close()

	ctx := context.Background()
	if err := vectorRepo.EnsureCollection(ctx); err != nil {
		log.Fatalf("Failed to ensure vector collection: %v", err)
	}

	clipService := service.NewClipService(&service.ClipConfig{
		BaseURL: cfg.Clip.BaseURL,
		Model:   cfg.Clip.Model,
		Workers: cfg.Clip.Workers,
		Timeout: cfg.Clip.Timeout,
	})
	if err := clipService.Load(ctx); err != nil {
		log.Fatalf("Failed to load embedding model: %v", err)
	}

	searchService := service.NewSearchService(clipService, vectorRepo, imageRepo, &service.SearchConfig{
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxLimit:        cfg.Search.MaxLimit,
		IncludePartial:  cfg.Search.IncludePartial,
		ExtractTimeout:  cfg.Search.ExtractTimeout,
		QueryTimeout:    cfg.Search.QueryTimeout,
		MetadataTimeout: cfg.Search.MetadataTimeout,
	})

	router := api.SetupRouter(api.RouterDeps{
		SearchService: searchService,
		Metadata:      imageRepo,
		Vectors:       vectorRepo,
		Model:         clipService,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		Mode: cfg.Server.Mode,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown: error=%v", err)
	}
	if err := clipService.Unload(shutdownCtx); err != nil {
		logger.Warn("Failed to unload embedding model: error=%v", err)
	}

	logger.Info("Server exited")
}
